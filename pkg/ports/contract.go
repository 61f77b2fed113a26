package ports

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tinystate/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBusContract runs a suite of tests to verify that a Bus implementation
// adheres to the defined interface contract.
func RunBusContract(t *testing.T, bus Bus) {
	ctx := context.Background()
	const wait = 2 * time.Second

	t.Run("Filtered Delivery", func(t *testing.T) {
		got := make(chan domain.Message, 4)
		sub, err := bus.Subscribe(ctx, Topic("contract.match"), func(msg domain.Message) {
			got <- msg
		})
		require.NoError(t, err)
		defer sub.Unsubscribe()

		require.NoError(t, bus.Publish(ctx, domain.Message{Topic: "contract.other", Payload: "skip"}))
		require.NoError(t, bus.Publish(ctx, domain.Message{Topic: "contract.match", Payload: "hit"}))

		select {
		case msg := <-got:
			assert.Equal(t, "contract.match", msg.Topic)
			assert.Equal(t, "hit", msg.Payload)
			assert.NotEmpty(t, msg.ID, "bus should assign an id")
		case <-time.After(wait):
			t.Fatal("matching message was not delivered")
		}

		select {
		case msg := <-got:
			t.Fatalf("unexpected extra delivery: %+v", msg)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("Panicking Subscriber Does Not Block Others", func(t *testing.T) {
		bad, err := bus.Subscribe(ctx, Topic("contract.fanout"), func(domain.Message) {
			panic("boom")
		})
		require.NoError(t, err)
		defer bad.Unsubscribe()

		var wg sync.WaitGroup
		wg.Add(1)
		good, err := bus.Subscribe(ctx, Topic("contract.fanout"), func(domain.Message) {
			wg.Done()
		})
		require.NoError(t, err)
		defer good.Unsubscribe()

		require.NoError(t, bus.Publish(ctx, domain.Message{Topic: "contract.fanout"}))
		assert.True(t, waitGroup(&wg, wait), "healthy subscriber should still receive the message")
	})

	t.Run("Unsubscribe Stops Delivery", func(t *testing.T) {
		got := make(chan domain.Message, 4)
		sub, err := bus.Subscribe(ctx, Topic("contract.stop"), func(msg domain.Message) {
			got <- msg
		})
		require.NoError(t, err)
		require.NoError(t, sub.Unsubscribe())
		require.NoError(t, sub.Unsubscribe(), "Unsubscribe should be idempotent")

		require.NoError(t, bus.Publish(ctx, domain.Message{Topic: "contract.stop"}))
		select {
		case msg := <-got:
			t.Fatalf("delivery after unsubscribe: %+v", msg)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("Context Cancellation Ends Subscription", func(t *testing.T) {
		subCtx, cancel := context.WithCancel(ctx)
		got := make(chan domain.Message, 4)
		_, err := bus.Subscribe(subCtx, Topic("contract.ctx"), func(msg domain.Message) {
			got <- msg
		})
		require.NoError(t, err)
		cancel()
		time.Sleep(50 * time.Millisecond)

		require.NoError(t, bus.Publish(ctx, domain.Message{Topic: "contract.ctx"}))
		select {
		case msg := <-got:
			t.Fatalf("delivery after context cancellation: %+v", msg)
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func waitGroup(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
