package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/tinystate/internal/logging"
	"github.com/aretw0/tinystate/pkg/domain"
	"github.com/aretw0/tinystate/pkg/ports"
	"github.com/google/uuid"
)

const defaultBufferSize = 64

// Bus implements ports.Bus in process.
// Each subscription is served by its own goroutine, so a slow or panicking
// handler never delays delivery to the others. Safe for concurrent use.
type Bus struct {
	mu         sync.RWMutex
	subs       map[*subscription]struct{}
	bufferSize int
	logger     *slog.Logger
	closed     bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the per-subscription queue length. Publish blocks while a
// matching subscriber's queue is full.
func WithBufferSize(n int) BusOption {
	return func(b *Bus) {
		b.bufferSize = max(n, 1)
	}
}

// WithLogger sets the logger used to report recovered handler panics.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates an empty in-memory bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:       make(map[*subscription]struct{}),
		bufferSize: defaultBufferSize,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers msg to every subscription whose filter accepts it.
// An empty ID or Timestamp is filled in.
func (b *Bus) Publish(ctx context.Context, msg domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for sub := range b.subs {
		if sub.filter.Match(msg) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.queue <- msg:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers handler. The subscription ends on Unsubscribe or when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, filter ports.Filter, handler ports.Handler) (ports.Subscription, error) {
	sub := &subscription{
		bus:     b,
		filter:  filter,
		handler: handler,
		queue:   make(chan domain.Message, b.bufferSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub, nil
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.loop(ctx)
	return sub, nil
}

// Close ends every subscription. Publishing afterwards is a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		sub.close()
	}
	clear(b.subs)
	return nil
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

type subscription struct {
	bus     *Bus
	filter  ports.Filter
	handler ports.Handler
	queue   chan domain.Message
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) Unsubscribe() error {
	s.bus.remove(s)
	s.close()
	return nil
}

func (s *subscription) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *subscription) loop(ctx context.Context) {
	defer s.bus.remove(s)
	for {
		select {
		case <-ctx.Done():
			s.close()
			return
		case <-s.done:
			return
		case msg := <-s.queue:
			// Unsubscribe wins over a message that was already queued.
			select {
			case <-s.done:
				return
			default:
			}
			s.dispatch(msg)
		}
	}
}

func (s *subscription) dispatch(msg domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.bus.logger.Error("subscriber panicked", "topic", msg.Topic, "id", msg.ID, "panic", r)
		}
	}()
	s.handler(msg)
}
