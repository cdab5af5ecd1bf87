package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestEngine(t *testing.T, tickRate int) *Engine {
	t.Helper()
	cfg := fastConfig()
	session, err := NewSession(&cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return NewEngine(session, tickRate, zaptest.NewLogger(t))
}

func TestNewEngine(t *testing.T) {
	tests := []struct {
		name     string
		tickRate int
		want     int
	}{
		{"standard 30 TPS", 30, 30},
		{"high 60 TPS", 60, 60},
		{"zero falls back", 0, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, tt.tickRate)
			assert.Equal(t, tt.want, e.TickRate())
			require.NotNil(t, e.Snapshot())
			assert.Equal(t, PhaseWaitingForPlayers, e.Snapshot().Phase)
		})
	}
}

// TestEngineStartStop verifies engine can start and stop without panics
func TestEngineStartStop(t *testing.T) {
	e := newTestEngine(t, 60)

	e.Start()
	e.Start()
	assert.True(t, e.Running())
	assert.NoError(t, e.Health())
	time.Sleep(50 * time.Millisecond)

	e.Stop()
	e.Stop()
	assert.False(t, e.Running())
	assert.Positive(t, e.TickCount())
	assert.ErrorIs(t, e.Health(), ErrEngineStopped)

	e.Start()
	assert.False(t, e.Running())
}

func TestEngineDoRequiresRunning(t *testing.T) {
	e := newTestEngine(t, 30)
	err := e.Do(context.Background(), func(*Session) error { return nil })
	assert.ErrorIs(t, err, ErrEngineStopped)
}

func TestEngineCommandsPublishSnapshots(t *testing.T) {
	e := newTestEngine(t, 60)

	var mu sync.Mutex
	var versions []uint64
	e.SetCallbacks(nil, func(s *Snapshot) {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
	})
	e.Start()
	defer e.Stop()

	ctx := context.Background()
	host, err := e.Join(ctx, "Alice", true)
	require.NoError(t, err)
	guest, err := e.Join(ctx, "Bob", false)
	require.NoError(t, err)
	assert.Equal(t, 1, host)
	assert.Equal(t, 2, guest)

	snap := e.Snapshot()
	assert.Equal(t, PhaseStarting, snap.Phase)
	assert.Len(t, snap.Players, 2)

	err = e.Execute(ctx, Command{Kind: CommandBuild, Issuer: host, Material: "stone"})
	assert.ErrorIs(t, err, ErrWrongPhase)

	require.Eventually(t, func() bool {
		return e.Snapshot().Phase == PhaseInProgress
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, e.Execute(ctx, Command{Kind: CommandBuild, Issuer: host, Material: "iron"}))
	p, ok := e.Snapshot().Player(host)
	require.True(t, ok)
	assert.Equal(t, 2.0, p.TotalHeight)

	require.NoError(t, e.Execute(ctx, Command{Kind: CommandSurrender, Issuer: guest}))
	history, err := e.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, host, history[0].WinnerID)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
}

func TestEngineDoHonorsContext(t *testing.T) {
	e := newTestEngine(t, 30)
	e.Start()
	defer e.Stop()

	started := make(chan struct{})
	block := make(chan struct{})
	go e.Do(context.Background(), func(*Session) error {
		close(started)
		<-block
		return nil
	})
	defer close(block)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.Do(ctx, func(*Session) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngineForcePhaseAndReset(t *testing.T) {
	e := newTestEngine(t, 30)
	e.Start()
	defer e.Stop()

	ctx := context.Background()
	require.NoError(t, e.ForcePhase(ctx, PhaseOver))
	assert.Equal(t, PhaseOver, e.Snapshot().Phase)
	require.NoError(t, e.Reset(ctx))
	assert.Equal(t, PhaseWaitingForPlayers, e.Snapshot().Phase)
}

