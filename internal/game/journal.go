package game

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"flood-duel/internal/events"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	JournalBufferSize    = 1024                   // Ring buffer size
	MaxEventsPerSec      = 10000                  // Global rate limit
	MaxEventsPerPlayer   = 100                    // Per-player rate limit per second
	BatchFlushSize       = 64                     // Events per batch write
	BatchFlushInterval   = 100 * time.Millisecond // How often to flush
	PlayerLimiterCleanup = 5 * time.Minute        // Idle time before a player limiter is dropped
)

// Journal appends session events to a writer as newline-delimited JSON.
// Emitting never blocks the engine: events go into a bounded ring and a
// background goroutine writes them in batches. Under overload the oldest
// pending events are dropped.
type Journal struct {
	mu     sync.Mutex
	buffer [JournalBufferSize]events.Event
	head   uint64
	tail   uint64

	globalLimiter  *rate.Limiter
	playerLimiters sync.Map // map[int]*playerLimiterEntry

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	out   io.Writer
	outMu sync.Mutex

	bus *events.Bus
	sub events.Subscription

	dropped atomic.Uint64
	total   atomic.Uint64

	logger *zap.Logger
}

type playerLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64
}

// JournalStats is a point-in-time view of journal throughput.
type JournalStats struct {
	Total   uint64 `json:"total"`
	Dropped uint64 `json:"dropped"`
	Pending uint64 `json:"pending"`
	Running bool   `json:"running"`
}

// NewJournal creates a stopped journal.
func NewJournal(logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		stopChan:      make(chan struct{}),
		logger:        logger.Named("journal"),
	}
}

// Attach records every event published on bus.
func (j *Journal) Attach(bus *events.Bus) {
	j.bus = bus
	j.sub = bus.SubscribeAll(func(e events.Event) error {
		j.Emit(e)
		return nil
	})
}

// StartFile opens path for append and starts writing to it.
func (j *Journal) StartFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	j.Start(f)
	return nil
}

// Start begins the async writer. A nil writer discards events but still
// counts them.
func (j *Journal) Start(w io.Writer) {
	if !j.running.CompareAndSwap(false, true) {
		return
	}
	j.out = w
	j.writerWg.Add(2)
	go j.writerLoop()
	go j.cleanupLoop()
}

// Stop detaches from the bus, flushes pending events and closes the writer
// when it is an io.Closer.
func (j *Journal) Stop() {
	j.stopOnce.Do(func() {
		if j.bus != nil {
			j.bus.Unsubscribe(j.sub)
		}
		wasRunning := j.running.Swap(false)
		close(j.stopChan)
		if !wasRunning {
			return
		}
		j.writerWg.Wait()

		j.outMu.Lock()
		defer j.outMu.Unlock()
		if c, ok := j.out.(io.Closer); ok {
			if err := c.Close(); err != nil {
				j.logger.Warn("close journal", zap.Error(err))
			}
		}
	})
}

// Emit queues an event. Returns false when rate limited or not running.
func (j *Journal) Emit(e events.Event) bool {
	if !j.running.Load() {
		return false
	}

	if !j.globalLimiter.Allow() {
		j.dropped.Add(1)
		return false
	}
	if e.PlayerID != 0 && !j.playerLimiter(e.PlayerID).Allow() {
		j.dropped.Add(1)
		return false
	}

	j.mu.Lock()
	if j.head-j.tail >= JournalBufferSize {
		j.tail++
		j.dropped.Add(1)
	}
	j.buffer[j.head%JournalBufferSize] = e
	j.head++
	j.mu.Unlock()

	j.total.Add(1)
	return true
}

func (j *Journal) playerLimiter(id int) *rate.Limiter {
	now := time.Now().UnixNano()
	if v, ok := j.playerLimiters.Load(id); ok {
		entry := v.(*playerLimiterEntry)
		entry.lastUsed.Store(now)
		return entry.limiter
	}

	entry := &playerLimiterEntry{limiter: rate.NewLimiter(MaxEventsPerPlayer, MaxEventsPerPlayer/10)}
	entry.lastUsed.Store(now)
	actual, _ := j.playerLimiters.LoadOrStore(id, entry)
	return actual.(*playerLimiterEntry).limiter
}

func (j *Journal) writerLoop() {
	defer j.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]events.Event, 0, BatchFlushSize)
	for {
		select {
		case <-j.stopChan:
			for {
				batch = j.collectBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				j.flushBatch(batch)
			}
		case <-ticker.C:
			batch = j.collectBatch(batch[:0])
			if len(batch) > 0 {
				j.flushBatch(batch)
			}
		}
	}
}

func (j *Journal) cleanupLoop() {
	defer j.writerWg.Done()

	ticker := time.NewTicker(PlayerLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopChan:
			return
		case <-ticker.C:
			j.cleanupPlayerLimiters(time.Now().Add(-PlayerLimiterCleanup))
		}
	}
}

func (j *Journal) cleanupPlayerLimiters(cutoff time.Time) {
	j.playerLimiters.Range(func(key, value any) bool {
		if value.(*playerLimiterEntry).lastUsed.Load() < cutoff.UnixNano() {
			j.playerLimiters.Delete(key)
		}
		return true
	})
}

func (j *Journal) collectBatch(batch []events.Event) []events.Event {
	j.mu.Lock()
	defer j.mu.Unlock()

	for j.tail < j.head && len(batch) < BatchFlushSize {
		batch = append(batch, j.buffer[j.tail%JournalBufferSize])
		j.tail++
	}
	return batch
}

func (j *Journal) flushBatch(batch []events.Event) {
	j.outMu.Lock()
	defer j.outMu.Unlock()

	if j.out == nil {
		return
	}
	for _, e := range batch {
		data, err := json.Marshal(e)
		if err != nil {
			j.logger.Warn("encode event", zap.Stringer("kind", e.Kind), zap.Error(err))
			continue
		}
		data = append(data, '\n')
		if _, err := j.out.Write(data); err != nil {
			j.logger.Warn("write event", zap.Error(err))
			return
		}
	}
}

// Stats returns throughput counters.
func (j *Journal) Stats() JournalStats {
	j.mu.Lock()
	pending := j.head - j.tail
	j.mu.Unlock()

	return JournalStats{
		Total:   j.total.Load(),
		Dropped: j.dropped.Load(),
		Pending: pending,
		Running: j.running.Load(),
	}
}
