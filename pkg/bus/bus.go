package bus

import (
	"sync"
	"time"

	"github.com/kskip310/luminous/internal/observability"
	"github.com/rs/zerolog"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// Handler receives events in publish order on the subscriber's goroutine.
type Handler func(Event)

// Config configures a Bus.
type Config struct {
	Logger zerolog.Logger
	Buffer int
}

type subscriber struct {
	id   uint64
	ch   chan Event
	done chan struct{}
}

// Bus is an ordered, best-effort publish/subscribe channel.
type Bus struct {
	logger zerolog.Logger
	buffer int

	mu     sync.Mutex
	seq    int64
	nextID uint64
	subs   map[uint64]*subscriber
	closed bool
}

// New creates a Bus.
func New(cfg Config) *Bus {
	observability.EnsureRegistered()
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		logger: cfg.Logger,
		buffer: buffer,
		subs:   make(map[uint64]*subscriber),
	}
}

// Publish stamps ev with the next sequence number and a timestamp and
// offers it to every current subscriber. It never blocks on a slow
// subscriber. The stamped event is returned.
func (b *Bus) Publish(ev Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ev
	}

	b.seq++
	ev.Seq = b.seq
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	observability.RecordBusEvent(string(ev.Kind))

	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			observability.RecordBusDrop(string(ev.Kind))
			b.logger.Warn().
				Uint64("subscriber", sub.id).
				Str("kind", string(ev.Kind)).
				Int64("seq", ev.Seq).
				Msg("Subscriber queue full, event dropped")
		}
	}
	return ev
}

// Subscribe registers h and returns a function that unsubscribes it.
// Events already queued for h are still delivered after unsubscribing.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	sub := &subscriber{
		id:   b.nextID,
		ch:   make(chan Event, b.buffer),
		done: make(chan struct{}),
	}
	b.subs[sub.id] = sub
	observability.SetBusSubscribers(len(b.subs))

	go b.deliver(sub, h)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub.id) })
	}
}

func (b *Bus) deliver(sub *subscriber, h Handler) {
	defer close(sub.done)
	for ev := range sub.ch {
		b.safeCall(sub.id, h, ev)
	}
}

func (b *Bus) safeCall(id uint64, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Uint64("subscriber", id).
				Str("kind", string(ev.Kind)).
				Interface("panic", r).
				Msg("Subscriber panicked")
		}
	}()
	h(ev)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
	observability.SetBusSubscribers(len(b.subs))
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close unsubscribes everyone and waits for queued deliveries to finish.
// Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))
	for id, sub := range b.subs {
		subs = append(subs, sub)
		close(sub.ch)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
	observability.SetBusSubscribers(0)
}
