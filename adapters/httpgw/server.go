// Package httpgw is the HTTP ingress/egress gateway adapter: a thin chi
// server that publishes externally posted Observations onto the Bus and
// exposes the core's introspection surfaces (recent observations, active
// sessions, audit pools).
package httpgw

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gatewright/gatewright/internal/bus"
	"github.com/gatewright/gatewright/internal/obs"
)

// Sessions is the slice of the Session Router + State store the gateway
// reads for GET /api/sessions.
type Sessions interface {
	ListActiveSessions() []string
	SessionCounters(sessionKey string) (processed, errors uint64, ok bool)
}

// Pools exposes the Gate's audit rings for GET /api/pools.
type Pools interface {
	RecentDropped(limit int) []obs.Observation
	RecentSunk(limit int) []obs.Observation
	RecentTool(limit int) []obs.Observation
}

// Server is the gateway HTTP server. It satisfies the adapter contract:
// Start listens in the background, Stop shuts down gracefully.
type Server struct {
	httpServer *http.Server
	bus        *bus.Bus
	sessions   Sessions // may be nil
	pools      Pools    // may be nil
	host       string
	port       int
}

// NewServer creates a gateway server over the given Bus. sessions and pools
// may be nil, in which case their endpoints report 503.
func NewServer(b *bus.Bus, sessions Sessions, pools Pools, host string, port int) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		bus:      b,
		sessions: sessions,
		pools:    pools,
		host:     host,
		port:     port,
	}

	r.Get("/api/health", s.handleHealth)
	r.Post("/api/observe", s.handleObserve)
	r.Get("/api/observations", s.handleObservations)
	r.Get("/api/sessions", s.handleSessions)
	r.Get("/api/pools", s.handlePools)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// Mount attaches an extra handler (e.g. the WS gateway) at pattern.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.httpServer.Handler.(*chi.Mux).Handle(pattern, h)
}

// Name implements the adapter contract.
func (s *Server) Name() string { return "http_gateway" }

// Start implements the adapter contract: it binds the listener synchronously
// (so port conflicts surface as a start error) and serves in the background.
func (s *Server) Start(_ context.Context, _ *bus.Bus) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("gateway listening", "addr", ln.Addr().String())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("gateway serve", "error", err)
		}
	}()
	return nil
}

// Stop implements the adapter contract.
func (s *Server) Stop() error {
	return s.httpServer.Shutdown(context.Background())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleObserve accepts one wire Observation and publishes it non-blocking.
// A full bus is not an HTTP error: the response reports dropped=true and the
// client decides whether to retry.
func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	o, err := obs.DecodeJSON(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res := s.bus.PublishNowait(o)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ok":      res.OK,
		"dropped": res.Dropped,
		"reason":  res.Reason,
		"obs_id":  o.ID,
	})
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	limit := 50
	if limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &limit)
	}

	history := s.bus.History(limit)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.Error(w, "session introspection not available", http.StatusServiceUnavailable)
		return
	}

	type sessionJSON struct {
		SessionKey     string `json:"session_key"`
		ProcessedTotal uint64 `json:"processed_total"`
		ErrorTotal     uint64 `json:"error_total"`
	}

	keys := s.sessions.ListActiveSessions()
	out := make([]sessionJSON, 0, len(keys))
	for _, sk := range keys {
		processed, errors, _ := s.sessions.SessionCounters(sk)
		out = append(out, sessionJSON{SessionKey: sk, ProcessedTotal: processed, ErrorTotal: errors})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	if s.pools == nil {
		http.Error(w, "pool introspection not available", http.StatusServiceUnavailable)
		return
	}

	limitStr := r.URL.Query().Get("limit")
	limit := 20
	if limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &limit)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"drop": s.pools.RecentDropped(limit),
		"sink": s.pools.RecentSunk(limit),
		"tool": s.pools.RecentTool(limit),
	})
}
