package ports

import (
	"context"

	"github.com/aretw0/tinystate/pkg/domain"
)

// Filter selects the messages a subscription is interested in.
// A nil Filter accepts every message.
type Filter func(msg domain.Message) bool

// Handler receives the messages accepted by a Filter.
// Implementations of Subscriber must recover handler panics so that delivery to
// other subscribers continues.
type Handler func(msg domain.Message)

// Subscription is the cancellation handle returned by Subscribe.
type Subscription interface {
	// Unsubscribe stops delivery. It is idempotent; after it returns the handler
	// receives no further messages.
	Unsubscribe() error
}

// Publisher sends messages to subscribers.
type Publisher interface {
	// Publish delivers msg to every subscriber whose filter accepts it.
	// Delivery is best-effort fan-out: a failing subscriber never aborts delivery to the others.
	Publish(ctx context.Context, msg domain.Message) error
}

// Subscriber registers filtered callbacks.
type Subscriber interface {
	// Subscribe registers handler for messages accepted by filter. The subscription
	// is ready when Subscribe returns and ends when Unsubscribe is called or ctx is done.
	Subscribe(ctx context.Context, filter Filter, handler Handler) (Subscription, error)
}

// Bus is the publish/subscribe facility consumed by command states.
type Bus interface {
	Publisher
	Subscriber
}

// Match returns true when filter is nil or accepts msg.
func (f Filter) Match(msg domain.Message) bool {
	return f == nil || f(msg)
}

// Topic returns a Filter accepting messages with the given topic.
func Topic(topic string) Filter {
	return func(msg domain.Message) bool {
		return msg.Topic == topic
	}
}
