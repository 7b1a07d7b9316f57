package tracker_test

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/temoto/trackrelay/tracker"
)

// instantClock records every sleep and completes it immediately.
type instantClock struct {
	*clock.Mock
	mu    sync.Mutex
	slept []time.Duration
}

func newInstantClock() *instantClock { return &instantClock{Mock: clock.NewMock()} }

func (c *instantClock) Timer(d time.Duration) *clock.Timer {
	t := c.Mock.Timer(d)
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.mu.Unlock()
	c.Mock.Add(d)
	return t
}

func (c *instantClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := make([]time.Duration, len(c.slept))
	copy(r, c.slept)
	return r
}

// fakeLink scripts inbound replies and records outbound writes.
type fakeLink struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	failWrites  int
	inbound     [][]byte
	writes      [][]byte
	attempts    [][]byte
}

var _ tracker.Link = &fakeLink{}

func (f *fakeLink) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return ctx.Err()
}

func (f *fakeLink) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeLink) Poll(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return 0, nil
	}
	b := f.inbound[0]
	f.inbound = f.inbound[1:]
	n := copy(buf, b)
	if n == len(buf) {
		return n, tracker.ErrReplyOverflow
	}
	return n, nil
}

func (f *fakeLink) Write(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), b...)
	f.attempts = append(f.attempts, cp)
	if f.failWrites > 0 {
		f.failWrites--
		return tracker.ErrClosed
	}
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeLink) reply(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, []byte(s))
}

func (f *fakeLink) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ss := make([]string, len(f.writes))
	for i, w := range f.writes {
		ss[i] = string(w)
	}
	return ss
}

func (f *fakeLink) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// countSource counts polls of wrapped source.
type countSource struct {
	tracker.Source
	mu    sync.Mutex
	calls int
}

func (s *countSource) TryReceive() ([]byte, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.Source.TryReceive()
}

func (s *countSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type errSource struct{ err error }

func (s errSource) TryReceive() ([]byte, error) { return nil, s.err }
