// Package trackertest is scripted tracker server for tests and manual runs.
package trackertest

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/trackrelay/log2"
	"github.com/temoto/trackrelay/tracker"
)

type EventKind int

const (
	EventInvalid EventKind = iota
	EventAccept
	EventHandshake
	EventPayload
	EventPong
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventAccept:
		return "accept"
	case EventHandshake:
		return "handshake"
	case EventPayload:
		return "payload"
	case EventPong:
		return "pong"
	case EventClose:
		return "close"
	}
	return fmt.Sprintf("invalid(%d)", int(k))
}

type Event struct {
	Kind EventKind
	Conn int
	Data []byte
}

func (e Event) String() string {
	return fmt.Sprintf("(%s conn=%d data=%q)", e.Kind, e.Conn, e.Data)
}

type ServerOptions struct {
	Log *log2.Log
	// AutoAck replies "OK" to every payload.
	AutoAck bool
	// PingInterval > 0 sends "PING" to each client periodically.
	PingInterval time.Duration
	ReadLimit    int
	// EventBuffer > 0 enables Events() channel.
	EventBuffer int
}

type Server struct {
	alive  *alive.Alive
	ln     net.Listener
	log    *log2.Log
	opt    ServerOptions
	events chan Event

	mu       sync.Mutex
	conns    map[int]net.Conn
	last     int
	received [][]byte
}

var (
	tokenOK   = []byte("OK")
	tokenPing = []byte("PING")
	tokenPong = []byte("PONG")
)

func Listen(addr string, opt ServerOptions) (*Server, error) {
	if opt.ReadLimit == 0 {
		opt.ReadLimit = tracker.DefaultReadLimit
	}
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "listen addr=%s", addr)
	}
	s := &Server{
		alive: alive.NewAlive(),
		ln:    ln,
		log:   opt.Log,
		opt:   opt,
		conns: make(map[int]net.Conn),
	}
	if opt.EventBuffer > 0 {
		s.events = make(chan Event, opt.EventBuffer)
	}
	s.alive.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *Server) Addr() *net.TCPAddr { return s.ln.Addr().(*net.TCPAddr) }
func (s *Server) Events() <-chan Event { return s.events }

func (s *Server) Close() error {
	s.alive.Stop()
	err := s.ln.Close()
	s.CloseConns()
	s.alive.Wait()
	return err
}

// CloseConns drops all clients, like server restart.
func (s *Server) CloseConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
}

// Received returns copy of all payloads in arrival order.
func (s *Server) Received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := make([][]byte, len(s.received))
	copy(r, s.received)
	return r
}

// Send writes raw bytes to most recent client.
func (s *Server) Send(b []byte) error {
	s.mu.Lock()
	conn := s.conns[s.last]
	s.mu.Unlock()
	if conn == nil {
		return errors.Errorf("no client connected")
	}
	_, err := conn.Write(b)
	return err
}

// Expect waits for next event of kind, skipping others.
func (s *Server) Expect(kind EventKind, timeout time.Duration) (Event, error) {
	if s.events == nil {
		return Event{}, errors.Errorf("code error Expect with EventBuffer=0")
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case e := <-s.events:
			if e.Kind == kind {
				return e, nil
			}
		case <-deadline.C:
			return Event{}, errors.Timeoutf("expect event=%s within %s", kind, timeout)
		}
	}
}

func (s *Server) acceptLoop() {
	defer s.alive.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.alive.IsRunning() {
				s.log.Errorf("server: accept err=%v", err)
			}
			return
		}
		if !s.alive.Add(1) {
			_ = conn.Close()
			return
		}
		s.mu.Lock()
		s.last++
		id := s.last
		s.conns[id] = conn
		s.mu.Unlock()
		s.log.Debugf("server: accept conn=%d remote=%s", id, conn.RemoteAddr())
		s.emit(Event{Kind: EventAccept, Conn: id})
		go s.serve(id, conn)
	}
}

func (s *Server) serve(id int, conn net.Conn) {
	defer s.alive.Done()
	stopch := make(chan struct{})
	defer func() {
		close(stopch)
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		s.emit(Event{Kind: EventClose, Conn: id})
	}()
	if s.opt.PingInterval > 0 {
		go s.pinger(conn, stopch)
	}

	buf := make([]byte, s.opt.ReadLimit)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.handle(id, conn, buf[:n])
		}
		if err != nil {
			s.log.Debugf("server: conn=%d read err=%v", id, err)
			return
		}
	}
}

// handle splits coalesced control tokens; remainder is one payload.
func (s *Server) handle(id int, conn net.Conn, b []byte) {
	for len(b) > 0 {
		switch {
		case bytes.HasPrefix(b, tracker.TokenReply):
			s.emit(Event{Kind: EventHandshake, Conn: id})
			b = b[len(tracker.TokenReply):]

		case bytes.HasPrefix(b, tokenPong):
			s.emit(Event{Kind: EventPong, Conn: id})
			b = b[len(tokenPong):]

		default:
			payload := make([]byte, len(b))
			copy(payload, b)
			s.mu.Lock()
			s.received = append(s.received, payload)
			s.mu.Unlock()
			s.log.Debugf("server: conn=%d payload=%q", id, payload)
			s.emit(Event{Kind: EventPayload, Conn: id, Data: payload})
			if s.opt.AutoAck {
				if _, err := conn.Write(tokenOK); err != nil {
					s.log.Errorf("server: conn=%d ack err=%v", id, err)
				}
			}
			return
		}
	}
}

func (s *Server) pinger(conn net.Conn, stopch <-chan struct{}) {
	t := time.NewTicker(s.opt.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if _, err := conn.Write(tokenPing); err != nil {
				return
			}
		case <-stopch:
			return
		case <-s.alive.StopChan():
			return
		}
	}
}

func (s *Server) emit(e Event) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- e:
	case <-s.alive.StopChan():
	}
}
