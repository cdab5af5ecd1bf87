package game

import (
	"bytes"
	"testing"
	"time"

	"flood-duel/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"
)

func TestJournalWritesEventsAsJSONLines(t *testing.T) {
	bus := events.NewBus(nil, nil)
	j := NewJournal(zaptest.NewLogger(t))
	j.Attach(bus)

	var buf bytes.Buffer
	j.Start(&buf)
	bus.Publish(events.New(events.KindPlayerConnected, 0, 1, events.PlayerChanged{Name: "Alice"}))
	bus.Publish(events.New(events.KindWaterRisen, 61, 0, events.WaterRisen{Level: 0.05}))
	j.Stop()

	out := buf.String()
	assert.Contains(t, out, `"kind":"player_connected"`)
	assert.Contains(t, out, `"kind":"water_risen"`)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))

	stats := j.Stats()
	assert.Equal(t, uint64(2), stats.Total)
	assert.Equal(t, uint64(0), stats.Pending)
	assert.False(t, stats.Running)
	assert.Equal(t, 0, bus.SubscriberCount(events.KindWaterRisen))
}

func TestJournalDropsWhenStopped(t *testing.T) {
	j := NewJournal(nil)
	assert.False(t, j.Emit(events.New(events.KindGameEnded, 0, 0, nil)))
	j.Stop()
}

func TestJournalRingDropsOldest(t *testing.T) {
	j := NewJournal(nil)
	j.globalLimiter = rate.NewLimiter(rate.Inf, 0)
	j.running.Store(true)

	for i := 0; i < JournalBufferSize+10; i++ {
		j.Emit(events.New(events.KindWaterRisen, float64(i), 0, nil))
	}
	stats := j.Stats()
	assert.Equal(t, uint64(JournalBufferSize), stats.Pending)
	assert.Equal(t, uint64(10), stats.Dropped)

	batch := j.collectBatch(nil)
	require.NotEmpty(t, batch)
	assert.Equal(t, 10.0, batch[0].Elapsed)
}

func TestJournalPerPlayerLimit(t *testing.T) {
	j := NewJournal(nil)
	j.running.Store(true)

	accepted := 0
	for i := 0; i < MaxEventsPerPlayer; i++ {
		if j.Emit(events.New(events.KindCommandRejected, 0, 2, nil)) {
			accepted++
		}
	}
	assert.Less(t, accepted, MaxEventsPerPlayer)
	assert.Positive(t, j.Stats().Dropped)

	j.cleanupPlayerLimiters(time.Now().Add(time.Minute))
	_, ok := j.playerLimiters.Load(2)
	assert.False(t, ok)
}
