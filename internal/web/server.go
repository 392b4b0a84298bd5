// Package web is the HTTP surface of the orchestrator: job submission and
// inspection, registry listings, scheduled job management and a websocket
// feed of status events.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/chorale-dev/chorale/internal/config"
	"github.com/chorale-dev/chorale/internal/engine"
	"github.com/chorale-dev/chorale/internal/natsbus"
	"github.com/chorale-dev/chorale/internal/registry"
	"github.com/chorale-dev/chorale/internal/store"
)

// JobEngine is the slice of the orchestrator the API needs.
type JobEngine interface {
	Submit(job engine.Job) string
	Cancel(jobID string) bool
	Running() []string
}

type Server struct {
	store     *store.Store
	bus       *natsbus.Bus
	nats      *natsbus.Client
	engine    JobEngine
	registry  *registry.Registry
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time
}

func NewServer(s *store.Store, bus *natsbus.Bus, eng JobEngine, reg *registry.Registry, cfg config.WebConfig, version string) *Server {
	return &Server{
		store:     s,
		bus:       bus,
		engine:    eng,
		registry:  reg,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	s.subscribeEvents()

	mux := http.NewServeMux()
	s.registerAPI(mux)
	mux.HandleFunc("/api/ws", s.handleWebSocket)

	handler := s.withMiddleware(mux)
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		if s.cfg.Auth != "" && r.URL.Path != "/api/health" {
			if !s.checkAuth(r) {
				jsonError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// checkAuth accepts the shared password as a bearer token or as the basic
// auth password.
func (s *Server) checkAuth(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Auth)) == 1
	}
	if _, pass, ok := r.BasicAuth(); ok {
		return subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Auth)) == 1
	}
	return false
}

// subscribeEvents bridges every job event on the bus into the websocket hub.
func (s *Server) subscribeEvents() {
	if s.bus == nil {
		return
	}
	client, err := natsbus.NewClient(s.bus)
	if err != nil {
		slog.Error("web server nats client failed", "error", err)
		return
	}
	s.nats = client

	_, err = client.Subscribe(natsbus.TopicEventsAll, func(msg *nats.Msg) {
		var payload json.RawMessage
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			slog.Warn("invalid event payload on bus", "topic", msg.Subject, "error", err)
			return
		}
		s.hub.Broadcast(Event{Topic: msg.Subject, Payload: payload})
	})
	if err != nil {
		slog.Error("event subscription failed", "error", err)
	}
}
