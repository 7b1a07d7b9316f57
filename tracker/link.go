package tracker

import (
	"context"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/juju/errors"
	"github.com/temoto/trackrelay/helpers"
	"github.com/temoto/trackrelay/log2"
)

const (
	DefaultRetryDelay      = 600 * time.Second
	DefaultHandshakeBefore = 5 * time.Second
	DefaultHandshakeAfter  = 2 * time.Second
	DefaultNetworkTimeout  = 30 * time.Second
	DefaultPollTimeout     = time.Millisecond
	DefaultReadLimit       = 4096
)

// Handshake token, terminating NUL included.
var TokenReply = []byte("REPLY\x00")

// Link is relay view of connection to tracker server.
type Link interface {
	// Connect blocks until link is established or ctx is done.
	Connect(ctx context.Context) error
	Disconnect() error
	// Poll returns 0,nil when nothing arrived within poll timeout.
	Poll(buf []byte) (int, error)
	Write(b []byte) error
}

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type LinkOptions struct {
	Host string
	Port int

	RetryDelay      time.Duration
	HandshakeBefore time.Duration
	HandshakeAfter  time.Duration
	NetworkTimeout  time.Duration
	PollTimeout     time.Duration

	Clock clock.Clock
	Dial  DialFunc
	Log   *log2.Log
	Stat  *Stat
}

// TCPLink owns exactly one connection at a time. Not safe for concurrent use.
type TCPLink struct {
	opt  LinkOptions
	conn net.Conn
	r    io.Reader
	w    io.Writer
}

var _ Link = &TCPLink{}

func NewTCPLink(opt LinkOptions) *TCPLink {
	if opt.RetryDelay == 0 {
		opt.RetryDelay = DefaultRetryDelay
	}
	if opt.HandshakeBefore == 0 {
		opt.HandshakeBefore = DefaultHandshakeBefore
	}
	if opt.HandshakeAfter == 0 {
		opt.HandshakeAfter = DefaultHandshakeAfter
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.PollTimeout == 0 {
		opt.PollTimeout = DefaultPollTimeout
	}
	if opt.Clock == nil {
		opt.Clock = clock.New()
	}
	if opt.Stat == nil {
		opt.Stat = &Stat{}
	}
	if opt.Dial == nil {
		dialer := &net.Dialer{Timeout: opt.NetworkTimeout}
		opt.Dial = dialer.DialContext
	}
	return &TCPLink{opt: opt}
}

func (l *TCPLink) Address() string {
	return net.JoinHostPort(l.opt.Host, strconv.Itoa(l.opt.Port))
}

// Connect closes previous connection and retries forever with fixed delay.
// After success writes handshake token exactly once.
func (l *TCPLink) Connect(ctx context.Context) error {
	_ = l.Disconnect()
	l.opt.Log.Debugf("connect server=%s", l.Address())
	for {
		conn, err := l.TcpConnect(ctx, l.opt.Host, l.opt.Port)
		if err == nil {
			l.opt.Log.Infof("connect success server=%s", l.Address())
			l.opt.Stat.Connect.Add(1)
			l.attach(conn)
			break
		}
		l.opt.Stat.ConnectFail.Add(1)
		l.opt.Log.Errorf("connect failed server=%s err=%v sleep=%s", l.Address(), err, l.opt.RetryDelay)
		if err = l.sleep(ctx, l.opt.RetryDelay); err != nil {
			return err
		}
	}

	if err := l.sleep(ctx, l.opt.HandshakeBefore); err != nil {
		_ = l.Disconnect()
		return err
	}
	if err := l.Write(TokenReply); err != nil {
		l.opt.Log.Errorf("handshake err=%v", err)
	} else {
		l.opt.Stat.Handshake.Add(1)
		l.opt.Log.Debugf("written REPLY")
	}
	if err := l.sleep(ctx, l.opt.HandshakeAfter); err != nil {
		_ = l.Disconnect()
		return err
	}
	return nil
}

func (l *TCPLink) Disconnect() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn, l.r, l.w = nil, nil, nil
	return err
}

func (l *TCPLink) Poll(buf []byte) (int, error) {
	if l.conn == nil {
		return 0, nil
	}
	if err := l.conn.SetReadDeadline(time.Now().Add(l.opt.PollTimeout)); err != nil {
		return 0, l.die(errors.Annotate(err, "SetReadDeadline"))
	}
	n, err := l.r.Read(buf)
	if err != nil {
		if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
			err = nil
		} else {
			return n, l.die(errors.Annotate(err, "receive"))
		}
	}
	if n > 0 && n == len(buf) {
		return n, errors.Annotatef(ErrReplyOverflow, "read limit=%d", len(buf))
	}
	return n, err
}

func (l *TCPLink) Write(b []byte) error {
	if l.conn == nil {
		return errors.Annotate(ErrClosed, "write")
	}
	if err := l.conn.SetWriteDeadline(time.Now().Add(l.opt.NetworkTimeout)); err != nil {
		return l.die(errors.Annotate(err, "SetWriteDeadline"))
	}
	if _, err := helpers.WriteAll(l.w, b); err != nil {
		return l.die(errors.Annotate(err, "write"))
	}
	return nil
}

// TcpConnect dials IPv4 TCP and reports socket blocking mode.
// On error no resource is held.
func (l *TCPLink) TcpConnect(ctx context.Context, host string, port int) (net.Conn, error) {
	if port <= 0 || port > 65535 {
		return nil, errors.NotValidf("port=%d", port)
	}
	conn, err := l.opt.Dial(ctx, "tcp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Annotate(err, "dial")
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		// keepalive is application level PING
		_ = tcp.SetKeepAlive(false)
		_ = tcp.SetNoDelay(true)
	}
	switch nonblock, changed, err := socketMode(conn); {
	case err != nil:
		l.opt.Log.Infof("socket mode unknown err=%v", err)
	case changed:
		l.opt.Log.Infof("socket set to non-blocking mode")
	case nonblock:
		l.opt.Log.Infof("socket is in non-blocking mode")
	default:
		l.opt.Log.Infof("socket is in blocking mode")
	}
	return conn, nil
}

func (l *TCPLink) attach(conn net.Conn) {
	l.conn = conn
	l.r = helpers.NewStatReader(conn, &l.opt.Stat.BytesIn)
	l.w = helpers.NewStatWriter(conn, &l.opt.Stat.BytesOut)
}

// die closes broken connection, next Write fails fast and relay reconnects.
func (l *TCPLink) die(e error) error {
	l.opt.Log.Debugf("link die err=%v", e)
	_ = l.Disconnect()
	return e
}

func (l *TCPLink) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := l.opt.Clock.Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
