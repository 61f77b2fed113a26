package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/tinystate/internal/logging"
	"github.com/aretw0/tinystate/pkg/domain"
	"github.com/aretw0/tinystate/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

const defaultPrefix = "tinystate:"

// envelope is the wire form of a domain.Message on a Redis channel.
type envelope struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   any               `json:"payload,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Bus implements ports.Bus on Redis pub/sub. Each topic is published on the
// channel "<prefix><topic>"; subscriptions listen on "<prefix>*" and filter locally.
//
// Payloads travel as JSON, so subscribers receive JSON types (map[string]any,
// float64, ...). Use domain.Message.Decode to map them onto structs.
type Bus struct {
	client *backend.Client
	prefix string
	logger *slog.Logger
}

// Option configures the Bus.
type Option func(*Bus)

// WithChannelPrefix sets the channel namespace (default "tinystate:").
func WithChannelPrefix(prefix string) Option {
	return func(b *Bus) {
		b.prefix = prefix
	}
}

// WithLogger sets the logger for dropped or undecodable messages.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// New creates a Redis bus using an existing client.
func New(client *backend.Client, opts ...Option) *Bus {
	b := &Bus{
		client: client,
		prefix: defaultPrefix,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish sends msg on the topic channel. An empty ID or Timestamp is filled in.
func (b *Bus) Publish(ctx context.Context, msg domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	data, err := json.Marshal(envelope{
		ID:        msg.ID,
		Topic:     msg.Topic,
		Payload:   msg.Payload,
		Headers:   msg.Headers,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
	}

	if err := b.client.Publish(ctx, b.prefix+msg.Topic, data).Err(); err != nil {
		return fmt.Errorf("redis error publishing to %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe listens on every topic of the namespace and hands messages accepted
// by filter to handler. It returns once Redis confirmed the subscription.
func (b *Bus) Subscribe(ctx context.Context, filter ports.Filter, handler ports.Handler) (ports.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	ps := b.client.PSubscribe(subCtx, b.prefix+"*")

	// Wait for confirmation that subscription is created before publishing anything.
	if _, err := ps.Receive(subCtx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, fmt.Errorf("redis error subscribing: %w", err)
	}

	sub := &subscription{
		bus:     b,
		ps:      ps,
		cancel:  cancel,
		filter:  filter,
		handler: handler,
		done:    make(chan struct{}),
	}
	go sub.loop(subCtx, ps.Channel())
	return sub, nil
}

type subscription struct {
	bus     *Bus
	ps      *backend.PubSub
	cancel  context.CancelFunc
	filter  ports.Filter
	handler ports.Handler
	done    chan struct{}
	once    sync.Once
	err     error
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		s.err = s.ps.Close()
	})
	return s.err
}

func (s *subscription) loop(ctx context.Context, ch <-chan *backend.Message) {
	for {
		select {
		case <-ctx.Done():
			_ = s.Unsubscribe()
			return
		case <-s.done:
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			msg, err := s.bus.decode(raw)
			if err != nil {
				s.bus.logger.Warn("dropping undecodable message", "channel", raw.Channel, "err", err)
				continue
			}
			if !s.filter.Match(msg) {
				continue
			}
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

func (b *Bus) decode(raw *backend.Message) (domain.Message, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw.Payload), &env); err != nil {
		return domain.Message{}, err
	}
	if env.Topic == "" {
		env.Topic = strings.TrimPrefix(raw.Channel, b.prefix)
	}
	return domain.Message{
		ID:        env.ID,
		Topic:     env.Topic,
		Payload:   env.Payload,
		Headers:   env.Headers,
		Timestamp: env.Timestamp,
	}, nil
}
