package tracker

import (
	"bytes"
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/juju/errors"
	"github.com/temoto/trackrelay/log2"
)

var (
	tokenOK   = []byte("OK")
	tokenPing = []byte("PING")
	tokenPong = []byte("PONG")
)

type RelayOptions struct {
	Link   Link
	Source Source
	Clock  clock.Clock
	Log    *log2.Log
	Stat   *Stat

	TickRate  int
	ReadLimit int
	// Foreground prints silence warnings at info level, otherwise debug.
	Foreground bool
}

// Relay delivers at most one unacknowledged message at a time.
// All methods must be called from single goroutine.
type Relay struct {
	opt     RelayOptions
	timeout *Timeout
	buf     []byte
	// pending is payload waiting for ack, nil when awaitingAck=false
	pending []byte
}

func NewRelay(opt RelayOptions) (*Relay, error) {
	if opt.Link == nil {
		return nil, errors.NotValidf("code error relay Link=nil")
	}
	if opt.Source == nil {
		return nil, errors.NotValidf("code error relay Source=nil")
	}
	if opt.TickRate <= 0 {
		opt.TickRate = DefaultTickRate
	}
	if opt.ReadLimit <= 0 {
		opt.ReadLimit = DefaultReadLimit
	}
	if opt.Clock == nil {
		opt.Clock = clock.New()
	}
	if opt.Stat == nil {
		opt.Stat = &Stat{}
	}
	r := &Relay{
		opt:     opt,
		timeout: NewTimeout(opt.TickRate),
		buf:     make([]byte, opt.ReadLimit),
	}
	return r, nil
}

func (r *Relay) AwaitingAck() bool { return r.pending != nil }
func (r *Relay) Pending() []byte   { return r.pending }
func (r *Relay) Stat() *Stat       { return r.opt.Stat }
func (r *Relay) Timeout() *Timeout { return r.timeout }

func (r *Relay) TickPeriod() time.Duration {
	return time.Second / time.Duration(r.opt.TickRate)
}

// Run connects and ticks until ctx is done. Returns ctx.Err() only.
func (r *Relay) Run(ctx context.Context) error {
	r.opt.Log.Debugf("relay loop entered tick=%s", r.TickPeriod())
	defer r.opt.Link.Disconnect()
	if err := r.opt.Link.Connect(ctx); err != nil {
		return err
	}

	ticker := r.opt.Clock.Ticker(r.TickPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			r.opt.Log.Debugf("relay loop stop stat=%s", r.opt.Stat.String())
			return ctx.Err()
		}
		if err := r.Tick(ctx); err != nil {
			return err
		}
	}
}

// Tick performs one cycle: timeout accounting, inbound processing, outbound send.
// Returns error only when ctx is done during reconnect.
func (r *Relay) Tick(ctx context.Context) error {
	r.timeout.Tick()
	if r.timeout.ShouldWarn() {
		r.opt.Stat.Warn.Add(1)
		level := log2.LDebug
		if r.opt.Foreground {
			level = log2.LInfo
		}
		r.opt.Log.Logf(level, "warning: no data received from server for %d seconds", r.timeout.Seconds())
	}
	if r.timeout.ShouldReconnect() {
		r.opt.Stat.Timeout.Add(1)
		r.opt.Log.Errorf("connection timed out after %d seconds, reconnect", r.timeout.Seconds())
		if err := r.reconnect(ctx); err != nil {
			return err
		}
		r.pending = nil
		return nil
	}

	r.receive()

	if r.pending == nil {
		return r.send(ctx)
	}
	return nil
}

func (r *Relay) receive() {
	n, err := r.opt.Link.Poll(r.buf)
	if err != nil {
		if errors.Cause(err) == ErrReplyOverflow {
			r.opt.Stat.Malformed.Add(1)
			r.opt.Log.Errorf("reply discarded err=%v", err)
			return
		}
		r.opt.Log.Debugf("receive err=%v", err)
	}
	if n <= 0 {
		return
	}
	reply := r.buf[:n]
	switch {
	case bytes.HasPrefix(reply, tokenOK):
		r.opt.Stat.Ack.Add(1)
		r.opt.Log.Debugf("ack received")
		r.pending = nil
		r.timeout.Reset()

	case bytes.HasPrefix(reply, tokenPing):
		r.opt.Stat.Ping.Add(1)
		r.opt.Log.Debugf("PING from server received")
		r.timeout.Reset()
		if err := r.opt.Link.Write(tokenPong); err != nil {
			r.opt.Log.Errorf("PONG write err=%v", err)
		}

	default:
		// pending message stays as is, neither resent nor abandoned
		r.opt.Stat.Malformed.Add(1)
		r.opt.Log.Errorf("reply=%q not OK", reply)
	}
}

func (r *Relay) send(ctx context.Context) error {
	payload, err := r.opt.Source.TryReceive()
	switch {
	case err == nil && len(payload) == 0:
		return nil

	case err == nil:
		r.pending = payload
		r.opt.Log.Debugf("sending msg=%q (%d bytes)", payload, len(payload))
		for {
			if err = r.opt.Link.Write(payload); err == nil {
				break
			}
			r.opt.Stat.SendFail.Add(1)
			r.opt.Log.Errorf("can't write to server err=%v", err)
			if err = r.reconnect(ctx); err != nil {
				return err
			}
		}
		r.opt.Stat.Sent.Add(1)
		return nil

	case IsNoMessage(err):
		return nil

	default:
		// treat as handled, otherwise persistent source error would stall loop
		r.opt.Stat.SourceError.Add(1)
		r.opt.Log.Errorf("message source err=%v", err)
		return nil
	}
}

func (r *Relay) reconnect(ctx context.Context) error {
	if err := r.opt.Link.Connect(ctx); err != nil {
		return err
	}
	r.timeout.Reset()
	return nil
}
