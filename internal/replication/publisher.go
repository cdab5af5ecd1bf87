package replication

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"flood-duel/internal/events"
	"flood-duel/internal/game"

	"go.uber.org/zap"
)

const (
	BroadcastBufferSize = 256                    // Pending broadcasts before new ones are dropped
	DefaultPushTimeout  = 2 * time.Second        // Per-sink deadline for one push
	MaxBroadcastHold    = 250 * time.Millisecond // Longest a broadcast waits for its snapshot
)

// Publisher fans snapshots and broadcasts out to sinks on its own goroutine.
// Snapshots coalesce: a slow sink only ever sees the newest state. A
// broadcast is held until the next snapshot is offered and is delivered
// after it, so sinks never see an event ahead of the state it produced.
// Broadcasts that no snapshot follows go out after MaxBroadcastHold.
// Pending broadcasts are bounded and new ones are dropped past the bound.
type Publisher struct {
	sinks   []Sink
	timeout time.Duration

	mu        sync.Mutex
	pending   *game.Snapshot
	held      []events.Event // waiting for the next snapshot
	heldSince time.Time
	ready     []events.Event // released, delivered after pending
	wake      chan struct{}

	running  atomic.Bool
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	bus *events.Bus
	sub events.Subscription

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failures  atomic.Uint64

	// onFailure runs on the publisher goroutine for every failed push.
	onFailure func(sink string, err error)

	logger *zap.Logger
}

// NewPublisher creates a stopped publisher for sinks.
func NewPublisher(logger *zap.Logger, sinks ...Sink) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		sinks:    sinks,
		timeout:  DefaultPushTimeout,
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Named("replication"),
	}
}

// AddSink registers another sink. Call before Start.
func (p *Publisher) AddSink(s Sink) { p.sinks = append(p.sinks, s) }

// OnFailure registers a callback for failed pushes. Call before Start.
func (p *Publisher) OnFailure(fn func(sink string, err error)) { p.onFailure = fn }

// SetTimeout changes the per-push deadline. Call before Start.
func (p *Publisher) SetTimeout(d time.Duration) {
	if d > 0 {
		p.timeout = d
	}
}

// Attach forwards every broadcast-class event on bus.
func (p *Publisher) Attach(bus *events.Bus) {
	var kinds []events.Kind
	for _, k := range events.AllKinds() {
		if k.IsBroadcast() {
			kinds = append(kinds, k)
		}
	}
	p.bus = bus
	p.sub = bus.SubscribeMany(kinds, func(e events.Event) error {
		p.OfferBroadcast(e)
		return nil
	})
}

// OfferState replaces the pending snapshot and releases every held
// broadcast behind it. Never blocks.
func (p *Publisher) OfferState(snap *game.Snapshot) {
	if snap == nil {
		return
	}
	p.mu.Lock()
	p.pending = snap
	p.release()
	p.mu.Unlock()

	p.signal()
}

// OfferBroadcast holds e for the next snapshot. Returns false when too
// many broadcasts are already pending.
func (p *Publisher) OfferBroadcast(e events.Event) bool {
	p.mu.Lock()
	if len(p.held)+len(p.ready) >= BroadcastBufferSize {
		p.mu.Unlock()
		p.dropped.Add(1)
		p.logger.Warn("broadcast dropped", zap.Stringer("kind", e.Kind), zap.Uint64("seq", e.Sequence))
		return false
	}
	if len(p.held) == 0 {
		p.heldSince = time.Now()
	}
	p.held = append(p.held, e)
	p.mu.Unlock()
	return true
}

// release moves held broadcasts to the ready batch. Callers hold mu.
func (p *Publisher) release() {
	p.ready = append(p.ready, p.held...)
	p.held = nil
}

func (p *Publisher) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Start begins delivery.
func (p *Publisher) Start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	go p.loop()
}

// Stop detaches from the bus, delivers what is queued and waits for the
// delivery goroutine to exit.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		if p.bus != nil {
			p.bus.Unsubscribe(p.sub)
		}
		close(p.stopChan)
		if p.running.Load() {
			<-p.done
		}
	})
}

func (p *Publisher) loop() {
	defer close(p.done)

	ticker := time.NewTicker(MaxBroadcastHold / 2)
	defer ticker.Stop()

	for {
		select {
		case <-p.wake:
			p.deliver()
		case <-ticker.C:
			p.mu.Lock()
			stale := len(p.held) > 0 && time.Since(p.heldSince) >= MaxBroadcastHold
			if stale {
				p.release()
			}
			p.mu.Unlock()
			if stale {
				p.deliver()
			}
		case <-p.stopChan:
			p.mu.Lock()
			p.release()
			p.mu.Unlock()
			p.deliver()
			return
		}
	}
}

// deliver pushes the pending snapshot, then the ready broadcasts in order.
func (p *Publisher) deliver() {
	p.mu.Lock()
	snap, batch := p.pending, p.ready
	p.pending, p.ready = nil, nil
	p.mu.Unlock()

	if snap != nil {
		p.deliverState(snap)
	}
	for _, e := range batch {
		p.deliverBroadcast(e)
	}
}

func (p *Publisher) deliverState(snap *game.Snapshot) {
	for _, s := range p.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := s.PushState(ctx, snap)
		cancel()
		p.record(s, err)
	}
}

func (p *Publisher) deliverBroadcast(e events.Event) {
	for _, s := range p.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := s.PushBroadcast(ctx, e)
		cancel()
		p.record(s, err)
	}
}

func (p *Publisher) record(s Sink, err error) {
	if err == nil {
		p.delivered.Add(1)
		return
	}
	p.failures.Add(1)
	p.logger.Warn("push failed", zap.String("sink", s.Name()), zap.Error(err))
	if p.onFailure != nil {
		p.onFailure(s.Name(), err)
	}
}

// PublisherStats are delivery counters.
type PublisherStats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Failures  uint64 `json:"failures"`
	Sinks     int    `json:"sinks"`
}

// Stats returns delivery counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Delivered: p.delivered.Load(),
		Dropped:   p.dropped.Load(),
		Failures:  p.failures.Load(),
		Sinks:     len(p.sinks),
	}
}
