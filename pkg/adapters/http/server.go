package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/tinystate"
	"github.com/aretw0/tinystate/internal/logging"
	"github.com/aretw0/tinystate/pkg/domain"
	"github.com/aretw0/tinystate/pkg/export"
	"github.com/aretw0/tinystate/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const maxMessageBytes = 1 << 20

// Inspector exposes the registry snapshot of a machine.
type Inspector interface {
	Snapshot() domain.Graph
}

// Server exposes a bus and a machine graph over HTTP.
type Server struct {
	Bus     ports.Publisher
	Machine Inspector
	Streams *StreamManager
	Logger  *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger for request failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// NewServer creates a server publishing to bus and describing machine.
func NewServer(bus ports.Publisher, machine Inspector, opts ...Option) *Server {
	s := &Server{
		Bus:     bus,
		Machine: machine,
		Streams: NewStreamManager(),
		Logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router. Extra routes (like /metrics) can be mounted by the caller.
func (s *Server) Handler() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Post("/messages", s.PostMessage)
	r.Get("/graph", s.GetGraph)
	r.Get("/events", s.SubscribeEvents)
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MessageRequest is the body of POST /messages.
type MessageRequest struct {
	ID      string            `json:"id,omitempty"`
	Topic   string            `json:"topic"`
	Payload any               `json:"payload,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// MessageResponse acknowledges a published message.
type MessageResponse struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
}

// PostMessage handles POST /messages by publishing the body to the bus.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request) {
	var body MessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.Logger.Warn("PostMessage: invalid request body", "err", err)
		return
	}
	if strings.TrimSpace(body.Topic) == "" {
		http.Error(w, "topic is required", http.StatusBadRequest)
		return
	}

	if body.ID == "" {
		body.ID = uuid.NewString()
	}
	msg := domain.Message{
		ID:      body.ID,
		Topic:   body.Topic,
		Payload: body.Payload,
		Headers: body.Headers,
	}
	if err := s.Bus.Publish(r.Context(), msg); err != nil {
		http.Error(w, fmt.Sprintf("Publish error: %v", err), http.StatusBadGateway)
		s.Logger.Error("PostMessage: publish failed", "topic", body.Topic, "err", err)
		return
	}

	writeJSON(w, http.StatusAccepted, MessageResponse{ID: body.ID, Topic: body.Topic}, s.Logger)
}

// GetGraph handles GET /graph. ?format=yaml switches the encoding.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := export.Encode(s.Machine.Snapshot(), format)
	if err != nil {
		http.Error(w, fmt.Sprintf("Export error: %v", err), http.StatusInternalServerError)
		s.Logger.Error("GetGraph: export failed", "err", err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	_, _ = w.Write(data)
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.Logger)
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "tinystate-http",
		"version": strings.TrimSpace(tinystate.Version),
		"machine": s.Machine.Snapshot().Machine,
	}, s.Logger)
}

// Hooks returns lifecycle hooks that forward engine events to /events subscribers.
func (s *Server) Hooks() domain.LifecycleHooks {
	send := func(runID string, event any) {
		data, err := json.Marshal(event)
		if err != nil {
			s.Logger.Warn("Hooks: event encode failed", "err", err)
			return
		}
		s.Streams.Broadcast(runID, string(data))
	}
	return domain.LifecycleHooks{
		OnStateEnter:  func(_ context.Context, e *domain.StateEvent) { send(e.RunID, e) },
		OnStateExit:   func(_ context.Context, e *domain.StateEvent) { send(e.RunID, e) },
		OnTransition:  func(_ context.Context, e *domain.TransitionEvent) { send(e.RunID, e) },
		OnCommand:     func(_ context.Context, e *domain.CommandEvent) { send(e.RunID, e) },
		OnHookFailure: func(_ context.Context, e *domain.HookFailureEvent) { send(e.RunID, e) },
		OnRunFinished: func(_ context.Context, e *domain.RunEvent) { send(e.RunID, e) },
	}
}

// SubscribeEvents handles GET /events (SSE). ?run_id= narrows the stream to one run.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	runID := r.URL.Query().Get("run_id")
	ch, cancel := s.Streams.Subscribe(runID)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("response encode failed", "err", err)
	}
}

// StreamManager fans events out to SSE connections. The empty key receives every run.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan string]struct{}
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan string]struct{}),
	}
}

func (sm *StreamManager) Subscribe(runID string) (<-chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 16)
	if _, ok := sm.subscribers[runID]; !ok {
		sm.subscribers[runID] = make(map[chan string]struct{})
	}
	sm.subscribers[runID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[runID]; ok {
			if _, live := subs[ch]; !live {
				return
			}
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, runID)
			}
		}
	}
}

// Broadcast delivers msg to subscribers of runID and to the catch-all subscribers.
// Slow clients lose messages instead of blocking the engine.
func (sm *StreamManager) Broadcast(runID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	keys := []string{""}
	if runID != "" {
		keys = append(keys, runID)
	}
	for _, key := range keys {
		for ch := range sm.subscribers[key] {
			select {
			case ch <- msg:
			default:
			}
		}
	}
}
