package tinystate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/tinystate/pkg/domain"
	"github.com/aretw0/tinystate/pkg/ports"
)

// commandEvent carries the winner of a command race to the driver goroutine.
type commandEvent[S, O comparable] struct {
	token uint64
	via   domain.Hook
	msg   domain.Message
}

// commandWait owns the subscription and timer of one command state entry.
type commandWait struct {
	cancel context.CancelFunc
	sub    ports.Subscription
	timer  *time.Timer
	once   sync.Once
}

// stop releases the subscription and timer. Safe on a nil receiver and idempotent.
func (w *commandWait) stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		if w.timer != nil {
			w.timer.Stop()
		}
		if w.sub != nil {
			_ = w.sub.Unsubscribe()
		}
		w.cancel()
	})
}

// arm subscribes the command state to the bus and starts its timeout. Both
// callbacks only hand a commandEvent to the driver; the hooks run there.
func (m *Machine[S, O]) arm(ctx context.Context, c *Context[S, O], e *entry[S, O], node CommandState[S, O], a *activation[S, O]) (*commandWait, error) {
	bus := m.settings.bus
	if bus == nil {
		return nil, m.configError(e.id, "command state entered without a bus", domain.ErrNoBus)
	}

	subCtx, cancel := context.WithCancel(ctx)
	w := &commandWait{cancel: cancel}

	sub, err := bus.Subscribe(subCtx, ports.Filter(node.Filter), func(msg domain.Message) {
		m.deliver(ctx, a, commandEvent[S, O]{token: a.token, via: domain.HookMessage, msg: msg})
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("state '%s': failed to subscribe: %w", e.label(), err)
	}
	w.sub = sub

	timeout := e.timeout
	if timeout == 0 {
		timeout = m.settings.defaultTimeout
	}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			m.deliver(ctx, a, commandEvent[S, O]{token: a.token, via: domain.HookTimeout})
		})
	}

	m.logger().Debug("command armed", "run_id", c.runID, "state", e.label(), "timeout", timeout)
	return w, nil
}

// deliver is called from bus and timer goroutines. Only the first callback for
// the still-active activation of a live run gets through; everything else is dropped.
func (m *Machine[S, O]) deliver(ctx context.Context, a *activation[S, O], ev commandEvent[S, O]) {
	m.mu.Lock()
	if m.active != a || a.won || ctx.Err() != nil {
		m.mu.Unlock()
		m.logger().Debug("late command callback ignored", "via", ev.via, "token", ev.token)
		return
	}
	a.won = true
	m.mu.Unlock()

	select {
	case m.events <- ev:
	case <-a.done:
	}
}

// resolveCommand runs OnMessage or OnTimeout for the winning callback.
func (m *Machine[S, O]) resolveCommand(ctx context.Context, c *Context[S, O], e *entry[S, O], node CommandState[S, O], a *activation[S, O], ev commandEvent[S, O]) error {
	m.emitCommand(ctx, c, e, ev.via, ev.msg.Topic)

	var err error
	if ev.via == domain.HookMessage {
		err = m.invoke(ctx, c, e, domain.HookMessage, func() error {
			return node.OnMessage(ctx, c, ev.msg)
		})
	} else {
		err = m.invoke(ctx, c, e, domain.HookTimeout, func() error {
			return node.OnTimeout(ctx, c)
		})
	}
	if err == nil {
		return nil
	}

	outcome, err := m.convert(ctx, c, e, err)
	if err != nil {
		return err
	}
	m.override(a, outcome)
	return nil
}
