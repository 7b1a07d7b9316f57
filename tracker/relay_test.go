package tracker_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/trackrelay/log2"
	"github.com/temoto/trackrelay/tracker"
)

type relayEnv struct {
	link   *fakeLink
	queue  *tracker.MemQueue
	source *countSource
	relay  *tracker.Relay
}

func newRelayEnv(t testing.TB) *relayEnv {
	env := &relayEnv{
		link:  &fakeLink{},
		queue: tracker.NewMemQueue(tracker.DefaultPayloadLimit, 0),
	}
	env.source = &countSource{Source: env.queue}
	var err error
	env.relay, err = tracker.NewRelay(tracker.RelayOptions{
		Link:      env.link,
		Source:    env.source,
		Log:       log2.NewTest(t, log2.LDebug),
		ReadLimit: 64,
	})
	require.NoError(t, err)
	return env
}

func (env *relayEnv) tick(t testing.TB, n int) {
	for i := 0; i < n; i++ {
		require.NoError(t, env.relay.Tick(context.Background()))
	}
}

func TestNewRelayValidate(t *testing.T) {
	t.Parallel()
	_, err := tracker.NewRelay(tracker.RelayOptions{Source: tracker.NewMemQueue(0, 0)})
	assert.Error(t, err)
	_, err = tracker.NewRelay(tracker.RelayOptions{Link: &fakeLink{}})
	assert.Error(t, err)
}

func TestRelayHappyPath(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t)
	env.tick(t, 4)
	assert.Empty(t, env.link.Writes())

	require.NoError(t, env.queue.Push([]byte("HELLO")))
	env.tick(t, 1) // 5
	assert.Equal(t, []string{"HELLO"}, env.link.Writes())
	assert.True(t, env.relay.AwaitingAck())
	assert.Equal(t, "HELLO", string(env.relay.Pending()))

	env.tick(t, 1) // 6
	assert.Equal(t, []string{"HELLO"}, env.link.Writes())

	env.link.reply("OK")
	env.tick(t, 1) // 7
	assert.False(t, env.relay.AwaitingAck())
	assert.Equal(t, int64(1), env.relay.Stat().Ack.Value())
	sub, sec := env.relay.Timeout().Value()
	assert.Equal(t, uint32(1), sub)
	assert.Equal(t, uint32(0), sec)
	assert.Equal(t, []string{"HELLO"}, env.link.Writes())

	require.NoError(t, env.queue.Push([]byte("WORLD")))
	env.tick(t, 1) // 8
	assert.Equal(t, []string{"HELLO", "WORLD"}, env.link.Writes())
	assert.True(t, env.relay.AwaitingAck())
	assert.Equal(t, "WORLD", string(env.relay.Pending()))
}

// Message queued while awaiting is pulled and sent in the same tick the ack arrives.
func TestRelayPullInAckTick(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t)
	require.NoError(t, env.queue.Push([]byte("HELLO")))
	env.tick(t, 1)
	require.True(t, env.relay.AwaitingAck())

	require.NoError(t, env.queue.Push([]byte("WORLD")))
	env.tick(t, 1)
	assert.Equal(t, []string{"HELLO"}, env.link.Writes(), "must not send while awaiting ack")

	env.link.reply("OK")
	calls := env.source.Calls()
	env.tick(t, 1)
	assert.Equal(t, int64(1), env.relay.Stat().Ack.Value())
	assert.Equal(t, calls+1, env.source.Calls())
	assert.Equal(t, []string{"HELLO", "WORLD"}, env.link.Writes())
	assert.True(t, env.relay.AwaitingAck())
	assert.Equal(t, "WORLD", string(env.relay.Pending()))
}

func TestRelayNoPullWhileAwaiting(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t)
	require.NoError(t, env.queue.Push([]byte("pos 1")))
	env.tick(t, 1)
	require.True(t, env.relay.AwaitingAck())
	calls := env.source.Calls()
	env.tick(t, 100)
	assert.Equal(t, calls, env.source.Calls())
	assert.Equal(t, 1, len(env.link.Writes()))
}

func TestRelayAckResetsTimeout(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t)
	require.NoError(t, env.queue.Push([]byte("x")))
	env.tick(t, 200)
	env.link.reply("OK then some")
	env.tick(t, 1)
	sub, sec := env.relay.Timeout().Value()
	assert.Equal(t, uint32(1), sub)
	assert.Equal(t, uint32(0), sec)
	assert.False(t, env.relay.AwaitingAck())
}

func TestRelayPing(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t)
	env.tick(t, 49)
	env.link.reply("PING")
	env.tick(t, 1) // 50
	assert.Equal(t, []string{"PONG"}, env.link.Writes())
	assert.False(t, env.relay.AwaitingAck())
	sub, sec := env.relay.Timeout().Value()
	assert.Equal(t, uint32(1), sub)
	assert.Equal(t, uint32(0), sec)
	assert.Equal(t, int64(1), env.relay.Stat().Ping.Value())
}

func TestRelayPingWhileAwaiting(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t)
	require.NoError(t, env.queue.Push([]byte("HELLO")))
	env.tick(t, 1)
	env.link.reply("PING")
	env.tick(t, 1)
	assert.True(t, env.relay.AwaitingAck())
	assert.Equal(t, []string{"HELLO", "PONG"}, env.link.Writes())
}

func TestRelayMalformedReply(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t)
	require.NoError(t, env.queue.Push([]byte("HELLO")))
	env.tick(t, 1)
	before := env.relay.Timeout().Seconds()
	env.link.reply("FOOBAR")
	env.tick(t, 1)
	assert.True(t, env.relay.AwaitingAck())
	assert.Equal(t, []string{"HELLO"}, env.link.Writes(), "no PONG and no resend")
	assert.Equal(t, int64(1), env.relay.Stat().Malformed.Value())
	assert.GreaterOrEqual(t, env.relay.Timeout().Seconds(), before)
}

func TestRelayReplyOverflow(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t)
	env.link.reply("OK" + strings.Repeat("x", 100))
	env.tick(t, 1)
	assert.Equal(t, int64(1), env.relay.Stat().Malformed.Value())
	assert.Equal(t, int64(0), env.relay.Stat().Ack.Value())
}

func TestRelaySilenceReconnect(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t)
	require.NoError(t, env.queue.Push([]byte("lost")))
	env.tick(t, 300*20-1)
	assert.Equal(t, 0, env.link.Connects())
	assert.True(t, env.relay.AwaitingAck())
	assert.Equal(t, int64(2), env.relay.Stat().Warn.Value(), "warn at 180,240")

	env.tick(t, 1)
	assert.Equal(t, 1, env.link.Connects())
	assert.False(t, env.relay.AwaitingAck(), "pending dropped on forced reconnect")
	assert.Equal(t, int64(1), env.relay.Stat().Timeout.Value())
	assert.Equal(t, int64(3), env.relay.Stat().Warn.Value())
	sub, sec := env.relay.Timeout().Value()
	assert.Equal(t, uint32(1), sub)
	assert.Equal(t, uint32(0), sec)
	assert.Equal(t, []string{"lost"}, env.link.Writes(), "dropped message is not resent")
}

func TestRelaySendRetry(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t)
	env.link.failWrites = 2
	require.NoError(t, env.queue.Push([]byte("pos 1 2 3")))
	env.tick(t, 1)
	assert.Equal(t, 2, env.link.Connects())
	require.Len(t, env.link.attempts, 3)
	for _, a := range env.link.attempts {
		assert.Equal(t, "pos 1 2 3", string(a))
	}
	assert.True(t, env.relay.AwaitingAck())
	assert.Equal(t, int64(2), env.relay.Stat().SendFail.Value())
	assert.Equal(t, int64(1), env.relay.Stat().Sent.Value())
}

func TestRelaySourceError(t *testing.T) {
	t.Parallel()
	link := &fakeLink{}
	src := &countSource{Source: errSource{fmt.Errorf("disk on fire")}}
	r, err := tracker.NewRelay(tracker.RelayOptions{Link: link, Source: src, Log: log2.NewTest(t, log2.LDebug)})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Tick(context.Background()))
	}
	assert.False(t, r.AwaitingAck())
	assert.Equal(t, 3, src.Calls())
	assert.Equal(t, int64(3), r.Stat().SourceError.Value())
	assert.Empty(t, link.Writes())
}

func TestRelayEmptyPayload(t *testing.T) {
	t.Parallel()
	link := &fakeLink{}
	src := emptySource{}
	r, err := tracker.NewRelay(tracker.RelayOptions{Link: link, Source: src})
	require.NoError(t, err)
	require.NoError(t, r.Tick(context.Background()))
	assert.False(t, r.AwaitingAck())
	assert.Empty(t, link.Writes())
}

type emptySource struct{}

func (emptySource) TryReceive() ([]byte, error) { return []byte{}, nil }

func TestRelayRun(t *testing.T) {
	t.Parallel()
	link := &fakeLink{}
	q := tracker.NewMemQueue(0, 0)
	mock := clock.NewMock()
	r, err := tracker.NewRelay(tracker.RelayOptions{
		Link:   link,
		Source: q,
		Clock:  mock,
		Log:    log2.NewTest(t, log2.LDebug),
	})
	require.NoError(t, err)
	require.NoError(t, q.Push([]byte("HELLO")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(link.Writes()) == 0 && time.Now().Before(deadline) {
		mock.Add(r.TickPeriod())
	}
	assert.Equal(t, []string{"HELLO"}, link.Writes())
	assert.Equal(t, 1, link.Connects())

	cancel()
	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	link.mu.Lock()
	assert.Equal(t, 1, link.disconnects)
	link.mu.Unlock()
}
