//go:build !windows

package ipc

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"flood-duel/internal/events"
	"flood-duel/internal/game"
	"flood-duel/internal/replication"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// socketPath returns a short path; unix socket paths are length limited.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "fd")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "duel.sock")
}

func startSink(t *testing.T, path string) *SocketSink {
	t.Helper()
	sink := NewSocketSink(SinkConfig{
		SocketPath: path,
		Hello:      Hello{SessionID: "s-1", TickRate: 30, Materials: []string{"iron", "stone"}},
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, sink.Start())
	return sink
}

func TestSinkReplicatesIntoMirror(t *testing.T) {
	path := socketPath(t)
	sink := startSink(t, path)
	defer sink.Stop()
	ctx := context.Background()

	assert.Equal(t, "ipc", sink.Name())
	require.NoError(t, sink.PushState(ctx, snapshot(1)))

	var (
		mu    sync.Mutex
		hello Hello
	)
	mirror := replication.NewMirror("ipc-test")
	sub := NewSubscriber(path, zaptest.NewLogger(t))
	sub.Follow(mirror)
	sub.OnHello(func(h Hello) {
		mu.Lock()
		hello = h
		mu.Unlock()
	})
	sub.Start()
	defer sub.Stop()

	require.Eventually(t, func() bool { return mirror.Version() == 1 }, 2*time.Second, 10*time.Millisecond,
		"latest state is sent on connect")
	mu.Lock()
	assert.Equal(t, "s-1", hello.SessionID)
	assert.Equal(t, []string{"iron", "stone"}, hello.Materials)
	mu.Unlock()
	assert.Equal(t, 30, sub.Hello().TickRate)
	require.Eventually(t, func() bool { return sink.GetStats().Clients == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, sink.PushState(ctx, snapshot(2)))
	require.NoError(t, sink.PushBroadcast(ctx, events.Event{
		Kind:     events.KindPhaseChanged,
		Sequence: 7,
		Payload:  events.PhaseChanged{From: "countdown", To: "in_progress", Transition: 3},
	}))

	require.Eventually(t, func() bool {
		return mirror.Version() == 2 && len(mirror.Broadcasts()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	e := mirror.Broadcasts()[0]
	assert.Equal(t, uint64(7), e.Sequence)
	assert.Equal(t, events.PhaseChanged{From: "countdown", To: "in_progress", Transition: 3}, e.Payload)

	phase, ok := mirror.Phase()
	require.True(t, ok)
	assert.Equal(t, game.PhaseInProgress, phase)

	stats := sub.GetStats()
	assert.Equal(t, int64(2), stats.States)
	assert.Equal(t, int64(1), stats.Events)
	assert.Zero(t, stats.Errors)
}

func TestSubscriberAnswersPings(t *testing.T) {
	path := socketPath(t)
	sink := startSink(t, path)
	defer sink.Stop()

	sub := NewSubscriber(path, zaptest.NewLogger(t))
	sub.Start()
	defer sub.Stop()

	require.Eventually(t, func() bool { return sink.GetStats().Pongs > 0 }, 3*PingInterval, 20*time.Millisecond)
	assert.True(t, sub.IsConnected())
}

func TestSubscriberReconnectsToNewSink(t *testing.T) {
	path := socketPath(t)
	first := startSink(t, path)

	var (
		mu          sync.Mutex
		connects    int
		disconnects int
	)
	sub := NewSubscriber(path, zaptest.NewLogger(t))
	sub.OnConnect(func() { mu.Lock(); connects++; mu.Unlock() })
	sub.OnDisconnect(func() { mu.Lock(); disconnects++; mu.Unlock() })
	sub.Start()
	defer sub.Stop()

	require.Eventually(t, sub.IsConnected, time.Second, 10*time.Millisecond)
	first.Stop()
	require.Eventually(t, func() bool { return !sub.IsConnected() }, time.Second, 10*time.Millisecond)

	second := startSink(t, path)
	defer second.Stop()
	require.Eventually(t, sub.IsConnected, 3*ReconnectDelay+time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, connects)
	assert.Equal(t, 1, disconnects)
	assert.GreaterOrEqual(t, sub.GetStats().Reconnects, int64(1))
}

func TestSinkIgnoresPushesWhenStopped(t *testing.T) {
	sink := NewSocketSink(SinkConfig{SocketPath: socketPath(t)})
	ctx := context.Background()

	assert.NoError(t, sink.PushState(ctx, snapshot(1)))
	assert.NoError(t, sink.PushState(ctx, nil))
	assert.NoError(t, sink.PushBroadcast(ctx, events.Event{Kind: events.KindWaterRisen}))
	assert.Zero(t, sink.GetStats().Dropped)
	sink.Stop()
}

func TestSinkStateNeverDisplacesEvents(t *testing.T) {
	sink := NewSocketSink(SinkConfig{SocketPath: socketPath(t)})
	// Marked running without loops so nothing drains the queue.
	sink.running.Store(true)
	ctx := context.Background()

	for i := 0; i < cap(sink.frames); i++ {
		require.NoError(t, sink.PushBroadcast(ctx, events.Event{Kind: events.KindWaterRisen}))
	}
	assert.ErrorIs(t, sink.PushBroadcast(ctx, events.Event{Kind: events.KindGameEnded}), ErrSinkBacklogged)

	for v := uint64(1); v <= 3; v++ {
		require.NoError(t, sink.PushState(ctx, snapshot(v)))
	}

	assert.Len(t, sink.frames, cap(sink.frames))
	// One refused broadcast plus two replaced snapshots.
	assert.Equal(t, int64(3), sink.GetStats().Dropped)

	require.Len(t, sink.state, 1)
	frame := <-sink.state
	var snap game.Snapshot
	require.NoError(t, Decode(frame[HeaderSize:], &snap))
	assert.Equal(t, uint64(3), snap.Version)
}
