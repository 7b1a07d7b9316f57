package worker

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/trackrelay/log2"
	"github.com/temoto/trackrelay/tracker"
	tracker_config "github.com/temoto/trackrelay/tracker/config"
	"github.com/temoto/trackrelay/tracker/trackertest"
)

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func TestNew(t *testing.T) {
	t.Parallel()
	w, err := New(Options{Config: tracker_config.Config{Mode: tracker_config.ModeThread}})
	require.NoError(t, err)
	assert.Equal(t, "thread", w.ID())
	w, err = New(Options{Config: tracker_config.Config{Mode: tracker_config.ModeProcess}})
	require.NoError(t, err)
	assert.Equal(t, "pid=none", w.ID())
	_, err = New(Options{Config: tracker_config.Config{Mode: "fork"}})
	assert.True(t, errors.IsNotSupported(err))
}

func TestOpenSourceMemory(t *testing.T) {
	t.Parallel()
	c := tracker_config.Default()
	s, err := OpenSource(&c, nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Push([]byte("pos")))
	b, err := s.TryReceive()
	require.NoError(t, err)
	assert.Equal(t, "pos", string(b))
}

func TestOpenSourceSpool(t *testing.T) {
	t.Parallel()
	c := tracker_config.Default()
	c.Source = tracker_config.SourceSpool
	c.SpoolPath = t.TempDir()
	s, err := OpenSource(&c, log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	require.NoError(t, s.Push([]byte("pos")))
	assert.NoError(t, s.Close())
}

func TestThread(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	srv, err := trackertest.Listen("127.0.0.1:0", trackertest.ServerOptions{AutoAck: true, EventBuffer: 32})
	require.NoError(t, err)
	defer srv.Close()

	c := tracker_config.Default()
	c.Port = srv.Addr().Port
	stat := &tracker.Stat{}
	link := tracker.NewTCPLink(tracker.LinkOptions{
		Host:            c.Host,
		Port:            c.Port,
		HandshakeBefore: time.Millisecond,
		HandshakeAfter:  time.Millisecond,
		PollTimeout:     5 * time.Millisecond,
		Log:             log,
		Stat:            stat,
	})
	w := NewThread(Options{Config: c, Log: log, Stat: stat, Link: link})
	assert.Error(t, w.Push([]byte("early")))
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Push([]byte("pos 1 2 3")))
	e, err := srv.Expect(trackertest.EventPayload, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pos 1 2 3", string(e.Data))

	assert.NoError(t, w.Stop())
	select {
	case <-w.Done():
	default:
		t.Fatal("relay goroutine still running after Stop")
	}
	assert.Equal(t, int64(1), stat.Handshake.Value())
}

func TestProcess(t *testing.T) {
	t.Parallel()
	out := &lockedBuffer{}
	p := NewProcess(Options{
		Config:  tracker_config.Config{PayloadLimit: 16},
		Log:     log2.NewTest(t, log2.LDebug),
		Command: []string{"cat"},
	})
	p.stdout = out
	assert.Error(t, p.Push([]byte("early")))
	require.NoError(t, p.Start(context.Background()))
	assert.NotEqual(t, 0, p.Pid())
	assert.Regexp(t, `^pid=\d+$`, p.ID())

	require.NoError(t, p.Push([]byte("pos 1")))
	require.NoError(t, p.Push([]byte("pos 2")))
	assert.True(t, errors.IsNotValid(p.Push([]byte("a\nb"))))
	assert.Equal(t, tracker.ErrPayloadTooLarge, errors.Cause(p.Push(bytes.Repeat([]byte("x"), 17))))

	require.NoError(t, p.Stop())
	assert.Equal(t, "pos 1\npos 2\n", out.String())
	assert.Equal(t, tracker.ErrClosed, errors.Cause(p.Push([]byte("late"))))
	assert.NoError(t, p.Stop(), "second stop")
}

func TestProcessInterrupt(t *testing.T) {
	t.Parallel()
	p := NewProcess(Options{
		Log:     log2.NewTest(t, log2.LDebug),
		Command: []string{"sleep", "30"},
	})
	p.stopGrace = 50 * time.Millisecond
	require.NoError(t, p.Start(context.Background()))
	began := time.Now()
	err := p.Stop()
	assert.Error(t, err, "exit by signal")
	assert.Less(t, time.Since(began), 5*time.Second)
}

func TestProcessContextCancel(t *testing.T) {
	t.Parallel()
	p := NewProcess(Options{Command: []string{"cat"}})
	p.stdout = &lockedBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	cancel()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("child still running after cancel")
	}
}
