package http_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/tinystate"
	httpadapter "github.com/aretw0/tinystate/pkg/adapters/http"
	"github.com/aretw0/tinystate/pkg/adapters/memory"
	"github.com/aretw0/tinystate/pkg/domain"
	"github.com/aretw0/tinystate/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingBus struct{}

func (failingBus) Publish(context.Context, domain.Message) error {
	return errors.New("broker unavailable")
}

func newMachine(t *testing.T, opts ...tinystate.Option) *tinystate.Machine[string, string] {
	t.Helper()
	m := tinystate.New[string, string]("orders", opts...)
	require.NoError(t, m.RegisterState("start", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Enter: func(_ context.Context, c *tinystate.Context[string, string]) error {
			return c.NextState("next")
		},
	}), tinystate.Transitions[string, string]{"next": "end"}))
	require.NoError(t, m.RegisterState("end", tinystate.Instance[string, string](&tinystate.Funcs[string, string]{
		Enter: func(_ context.Context, c *tinystate.Context[string, string]) error {
			return c.NextState("done")
		},
	}), nil))
	m.SetInitial("start")
	return m
}

func TestPostMessage_Publishes(t *testing.T) {
	bus := memory.NewBus()
	got := make(chan domain.Message, 1)
	_, err := bus.Subscribe(context.Background(), ports.Topic("payment.approved"), func(msg domain.Message) {
		got <- msg
	})
	require.NoError(t, err)

	handler := httpadapter.NewServer(bus, newMachine(t)).Handler()
	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"topic":"payment.approved","payload":{"order":"A-17"},"headers":{"source":"test"}}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp httpadapter.MessageResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ID)

	select {
	case msg := <-got:
		assert.Equal(t, resp.ID, msg.ID)
		assert.Equal(t, "test", msg.Headers["source"])
		var body struct {
			Order string `mapstructure:"order"`
		}
		require.NoError(t, msg.Decode(&body))
		assert.Equal(t, "A-17", body.Order)
	case <-time.After(time.Second):
		t.Fatal("message was not published")
	}
}

func TestPostMessage_Rejects(t *testing.T) {
	tests := []struct {
		name string
		bus  ports.Publisher
		body string
		code int
	}{
		{name: "malformed json", bus: memory.NewBus(), body: `{"topic":`, code: http.StatusBadRequest},
		{name: "missing topic", bus: memory.NewBus(), body: `{"payload":1}`, code: http.StatusBadRequest},
		{name: "bus failure", bus: failingBus{}, body: `{"topic":"x"}`, code: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := httpadapter.NewServer(tt.bus, newMachine(t)).Handler()
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(tt.body)))
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestGetGraph(t *testing.T) {
	handler := httpadapter.NewServer(memory.NewBus(), newMachine(t)).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/graph", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var g domain.Graph
	require.NoError(t, json.NewDecoder(w.Body).Decode(&g))
	assert.Equal(t, "orders", g.Machine)
	assert.Equal(t, "start", g.Initial)
	require.Len(t, g.States, 2)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/graph?format=yaml", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "machine: orders")

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/graph?format=dot", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndInfo(t *testing.T) {
	handler := httpadapter.NewServer(memory.NewBus(), newMachine(t)).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/info", nil))
	var info map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&info))
	assert.Equal(t, "tinystate-http", info["app"])
	assert.Equal(t, strings.TrimSpace(tinystate.Version), info["version"])
	assert.Equal(t, "orders", info["machine"])
}

func TestSubscribeEvents_StreamsRun(t *testing.T) {
	bus := memory.NewBus()
	srv := httpadapter.NewServer(bus, nil)
	m := newMachine(t, tinystate.WithLifecycleHooks(srv.Hooks()))
	srv.Machine = m

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	require.Equal(t, "event: ping", <-lines)

	res, err := m.Start(context.Background(), nil)
	require.NoError(t, err)

	var events []map[string]any
	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed early")
			data, found := strings.CutPrefix(line, "data: ")
			if !found || data == "connected" {
				continue
			}
			var ev map[string]any
			require.NoError(t, json.Unmarshal([]byte(data), &ev))
			events = append(events, ev)
			if ev["type"] == string(domain.EventRunFinished) {
				assert.Equal(t, res.Context.RunID(), ev["run_id"])
				assert.Equal(t, "end", ev["state_id"])
				// enter, exit, transition, enter, exit, finished
				assert.Len(t, events, 6)
				return
			}
		case <-deadline:
			t.Fatalf("run_finished not streamed, got %v", events)
		}
	}
}

func TestStreamManager_RunFilter(t *testing.T) {
	sm := httpadapter.NewStreamManager()
	all, cancelAll := sm.Subscribe("")
	defer cancelAll()
	one, cancelOne := sm.Subscribe("run-1")

	sm.Broadcast("run-1", "a")
	sm.Broadcast("run-2", "b")

	assert.Equal(t, "a", <-all)
	assert.Equal(t, "b", <-all)
	assert.Equal(t, "a", <-one)
	select {
	case msg := <-one:
		t.Fatalf("unexpected message %q for run-1", msg)
	default:
	}

	cancelOne()
	cancelOne()
	_, open := <-one
	assert.False(t, open)
}
