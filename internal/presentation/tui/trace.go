package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/tinystate/pkg/domain"
	"github.com/muesli/termenv"
)

// Trace prints engine events as colored lines, indented by sub-machine depth.
type Trace struct {
	mu  sync.Mutex
	w   io.Writer
	out *termenv.Output
}

// NewTrace creates a trace printer writing to w. The color profile is detected
// from w unless set with termenv.WithProfile.
func NewTrace(w io.Writer, opts ...termenv.OutputOption) *Trace {
	return &Trace{w: w, out: termenv.NewOutput(w, opts...)}
}

// Hooks returns lifecycle hooks printing every event.
func (t *Trace) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStateEnter: func(_ context.Context, e *domain.StateEvent) {
			t.line(e.Machine, "→", "#22c55e", fmt.Sprintf("enter %s %s", e.StateID, t.faint("["+string(e.Kind)+"]")))
		},
		OnStateExit: func(_ context.Context, e *domain.StateEvent) {
			t.line(e.Machine, "←", "#64748b", "exit  "+e.StateID)
		},
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			label := e.Outcome
			if e.Default {
				label += " (default)"
			}
			t.line(e.Machine, "⇢", "#818cf8", fmt.Sprintf("%s --%s--> %s", e.From, label, e.To))
		},
		OnCommand: func(_ context.Context, e *domain.CommandEvent) {
			detail := fmt.Sprintf("%s resolved via %s", e.StateID, e.Via)
			if e.Topic != "" {
				detail += " " + t.faint("("+e.Topic+")")
			}
			t.line(e.Machine, "✉", "#38bdf8", detail)
		},
		OnHookFailure: func(_ context.Context, e *domain.HookFailureEvent) {
			detail := fmt.Sprintf("%s %s failed: %v", e.StateID, e.Hook, e.Err)
			if e.Converted {
				detail += " " + t.faint("(converted)")
			}
			t.line(e.Machine, "✗", "#f43f5e", detail)
		},
		OnRunFinished: func(_ context.Context, e *domain.RunEvent) {
			color := "#22c55e"
			if e.Status != domain.StatusTerminal {
				color = "#f43f5e"
			}
			detail := fmt.Sprintf("run %s at %s", e.Status, e.StateID)
			if e.Outcome != "" {
				detail += " with " + e.Outcome
			}
			if e.Err != nil {
				detail += ": " + e.Err.Error()
			}
			detail += " " + t.faint("in "+e.Duration.Round(time.Millisecond).String())
			t.line(e.Machine, "■", color, detail)
		},
	}
}

func (t *Trace) faint(s string) string {
	return t.out.String(s).Faint().String()
}

func (t *Trace) line(machine, marker, color, detail string) {
	indent := strings.Repeat("  ", strings.Count(machine, "/"))
	styled := t.out.String(marker).Foreground(t.out.Color(color)).Bold()

	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "%s%s %s\n", indent, styled, detail)
}
