package replication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"flood-duel/internal/events"
	"flood-duel/internal/game"
	"flood-duel/internal/replication/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"
)

func snapshot(session string, version uint64) *game.Snapshot {
	return &game.Snapshot{
		SessionID:      session,
		Version:        version,
		Phase:          game.PhaseInProgress,
		ElapsedTime:    float64(version),
		WaterLevel:     0.5,
		ConnectedCount: 2,
		WinnerID:       game.NoWinner,
		Players: []game.PlayerSnapshot{
			{ID: 1, Name: "Alice", TotalHeight: 2},
			{ID: 2, Name: "Bob", TotalHeight: 1},
		},
		CapturedAt: time.Date(2025, 4, 5, 10, 0, 0, 0, time.UTC),
	}
}

func TestMirrorDropsStaleSnapshots(t *testing.T) {
	m := NewMirror("")
	assert.Equal(t, "mirror", m.Name())
	_, ok := m.Phase()
	assert.False(t, ok)

	assert.True(t, m.Apply(snapshot("a", 5)))
	assert.False(t, m.Apply(snapshot("a", 5)))
	assert.False(t, m.Apply(snapshot("a", 3)))
	assert.Equal(t, uint64(5), m.Version())
	assert.Equal(t, uint64(2), m.Stale())

	assert.True(t, m.Apply(snapshot("a", 6)))
	assert.True(t, m.Apply(snapshot("b", 1)), "a new session replaces the state")
	assert.Equal(t, uint64(1), m.Version())
	assert.False(t, m.Apply(nil))
}

func TestMirrorAccessors(t *testing.T) {
	m := NewMirror("local")
	require.NoError(t, m.PushState(context.Background(), snapshot("a", 7)))

	phase, ok := m.Phase()
	require.True(t, ok)
	assert.Equal(t, game.PhaseInProgress, phase)
	assert.Equal(t, 0.5, m.WaterLevel())
	assert.Equal(t, 7.0, m.ElapsedTime())
	assert.Equal(t, 2, m.ConnectedCount())

	h, ok := m.TotalHeight(1)
	require.True(t, ok)
	assert.Equal(t, 2.0, h)
	_, ok = m.TotalHeight(9)
	assert.False(t, ok)
}

func TestMirrorBroadcastHistoryIsBounded(t *testing.T) {
	m := NewMirror("local")
	for i := 0; i < MaxMirroredBroadcasts+5; i++ {
		require.NoError(t, m.PushBroadcast(context.Background(), events.Event{Kind: events.KindPhaseChanged, Sequence: uint64(i + 1)}))
	}
	got := m.Broadcasts()
	require.Len(t, got, MaxMirroredBroadcasts)
	assert.Equal(t, uint64(6), got[0].Sequence)
}

func TestPublisherCoalescesAndForwardsBroadcasts(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)

	var mu sync.Mutex
	var versions []uint64
	var kinds []events.Kind
	sink.EXPECT().Name().Return("mock").AnyTimes()
	sink.EXPECT().PushState(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, s *game.Snapshot) error {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
		return nil
	}).AnyTimes()
	sink.EXPECT().PushBroadcast(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e events.Event) error {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
		return nil
	}).AnyTimes()

	bus := events.NewBus(nil, nil)
	p := NewPublisher(zaptest.NewLogger(t), sink)
	p.Attach(bus)

	// Offered before Start: only the newest survives.
	p.OfferState(snapshot("a", 1))
	p.OfferState(snapshot("a", 2))
	p.OfferState(snapshot("a", 3))
	bus.Publish(events.New(events.KindWaterRisen, 0, 0, nil))
	bus.Publish(events.New(events.KindGameEnded, 0, 0, nil))

	p.Start()
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{3}, versions)
	assert.Equal(t, []events.Kind{events.KindGameEnded}, kinds)
	assert.Equal(t, 0, bus.SubscriberCount(events.KindGameEnded))
	assert.Equal(t, uint64(2), p.Stats().Delivered)
}

func TestPublisherDeliversStateBeforeItsBroadcasts(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Name().Return("mock").AnyTimes()

	gomock.InOrder(
		sink.EXPECT().PushState(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, s *game.Snapshot) error {
			assert.Equal(t, uint64(4), s.Version)
			return nil
		}),
		sink.EXPECT().PushBroadcast(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e events.Event) error {
			assert.Equal(t, events.KindGameEnded, e.Kind)
			return nil
		}),
	)

	p := NewPublisher(zaptest.NewLogger(t), sink)
	p.Start()

	// The engine emits during a step and offers the snapshot afterwards.
	require.True(t, p.OfferBroadcast(events.New(events.KindGameEnded, 0, 0, nil)))
	p.OfferState(snapshot("a", 4))
	p.Stop()

	assert.Equal(t, uint64(2), p.Stats().Delivered)
}

func TestPublisherReleasesHeldBroadcastWithoutState(t *testing.T) {
	mirror := NewMirror("local")
	p := NewPublisher(zaptest.NewLogger(t), mirror)
	p.Start()
	defer p.Stop()

	require.True(t, p.OfferBroadcast(events.New(events.KindPhaseChanged, 0, 0, nil)))

	require.Eventually(t, func() bool {
		return len(mirror.Broadcasts()) == 1
	}, 4*MaxBroadcastHold, 10*time.Millisecond)
	assert.Equal(t, uint64(0), mirror.Version())
}

func TestPublisherReportsFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	boom := errors.New("boom")
	sink.EXPECT().Name().Return("flaky").AnyTimes()
	sink.EXPECT().PushState(gomock.Any(), gomock.Any()).Return(boom)

	mirror := NewMirror("local")
	p := NewPublisher(nil, sink, mirror)

	var failed []string
	p.OnFailure(func(name string, err error) {
		assert.ErrorIs(t, err, boom)
		failed = append(failed, name)
	})
	p.OfferState(snapshot("a", 4))
	p.Start()
	p.Stop()

	assert.Equal(t, []string{"flaky"}, failed)
	assert.Equal(t, uint64(4), mirror.Version(), "one failing sink does not starve the others")
	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Equal(t, 2, stats.Sinks)
}

func TestPublisherDropsWhenQueueFull(t *testing.T) {
	p := NewPublisher(nil)
	for i := 0; i < BroadcastBufferSize; i++ {
		require.True(t, p.OfferBroadcast(events.Event{Kind: events.KindGameEnded}))
	}
	assert.False(t, p.OfferBroadcast(events.Event{Kind: events.KindGameEnded}))
	assert.Equal(t, uint64(1), p.Stats().Dropped)
	p.Stop()
}
