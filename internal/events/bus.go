package events

import (
	"fmt"
	"sync"
	"sync/atomic"

	"flood-duel/internal/clock"

	"go.uber.org/zap"
)

// Handler receives a published event. A returned error is logged as a
// SubscriberFault and does not stop delivery to other handlers.
type Handler func(Event) error

// Subscription identifies a registered handler across every kind it listens to.
type Subscription uint64

// SubscriberFault records a handler that returned an error or panicked.
type SubscriberFault struct {
	Kind         Kind
	Subscription Subscription
	Err          error
	Recovered    any
}

func (f *SubscriberFault) Error() string {
	if f.Recovered != nil {
		return fmt.Sprintf("subscriber %d panicked on %s: %v", f.Subscription, f.Kind, f.Recovered)
	}
	return fmt.Sprintf("subscriber %d failed on %s: %v", f.Subscription, f.Kind, f.Err)
}

func (f *SubscriberFault) Unwrap() error {
	return f.Err
}

type subscriber struct {
	id      Subscription
	handler Handler
}

// Bus is a synchronous in-process publish/subscribe hub keyed by Kind.
// Handlers run on the publisher's goroutine in subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Kind][]subscriber
	nextID Subscription

	seq    atomic.Uint64
	faults atomic.Uint64

	onFault func(*SubscriberFault)
	logger  *zap.Logger
	clock   clock.Clock
}

// NewBus creates an empty bus. A nil logger or clock falls back to a no-op
// logger and the system clock.
func NewBus(logger *zap.Logger, clk clock.Clock) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[Kind][]subscriber),
		logger: logger,
		clock:  clock.OrDefault(clk),
	}
}

// OnFault registers a callback invoked after each subscriber fault is logged.
// Must be set before publishing starts.
func (b *Bus) OnFault(fn func(*SubscriberFault)) {
	b.mu.Lock()
	b.onFault = fn
	b.mu.Unlock()
}

// Subscribe registers h for one kind.
func (b *Bus) Subscribe(kind Kind, h Handler) Subscription {
	return b.SubscribeMany([]Kind{kind}, h)
}

// SubscribeMany registers h under several kinds with a single token.
func (b *Bus) SubscribeMany(kinds []Kind, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	for _, k := range kinds {
		b.subs[k] = append(b.subs[k], subscriber{id: id, handler: h})
	}
	return id
}

// SubscribeAll registers h for every kind.
func (b *Bus) SubscribeAll(h Handler) Subscription {
	return b.SubscribeMany(AllKinds(), h)
}

// Unsubscribe removes the handler from every kind it was registered for.
// Returns false when the token is unknown.
func (b *Bus) Unsubscribe(id Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	found := false
	for k, list := range b.subs {
		kept := list[:0:0]
		for _, s := range list {
			if s.id == id {
				found = true
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(b.subs, k)
		} else {
			b.subs[k] = kept
		}
	}
	return found
}

// Clear drops every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.subs = make(map[Kind][]subscriber)
	b.mu.Unlock()
}

// SubscriberCount returns the number of handlers registered for kind.
func (b *Bus) SubscriberCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

// Faults returns the number of subscriber faults seen so far.
func (b *Bus) Faults() uint64 {
	return b.faults.Load()
}

// Publish stamps the event and delivers it to a snapshot of the current
// subscribers. Handlers may subscribe, unsubscribe or publish re-entrantly.
func (b *Bus) Publish(e Event) Event {
	e.Sequence = b.seq.Add(1)
	if e.Timestamp.IsZero() {
		e.Timestamp = b.clock.Now()
	}

	b.mu.RLock()
	list := append([]subscriber(nil), b.subs[e.Kind]...)
	onFault := b.onFault
	b.mu.RUnlock()

	for _, s := range list {
		if fault := b.deliver(s, e); fault != nil {
			b.faults.Add(1)
			b.logger.Warn("subscriber fault",
				zap.String("kind", e.Kind.String()),
				zap.Uint64("subscription", uint64(s.id)),
				zap.Uint64("seq", e.Sequence),
				zap.Error(fault),
			)
			if onFault != nil {
				onFault(fault)
			}
		}
	}
	return e
}

func (b *Bus) deliver(s subscriber, e Event) (fault *SubscriberFault) {
	defer func() {
		if r := recover(); r != nil {
			fault = &SubscriberFault{Kind: e.Kind, Subscription: s.id, Recovered: r}
		}
	}()

	if err := s.handler(e); err != nil {
		return &SubscriberFault{Kind: e.Kind, Subscription: s.id, Err: err}
	}
	return nil
}
