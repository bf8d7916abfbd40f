// Package api exposes the HTTP surface: health and stats endpoints plus the
// Twilio inbound webhook when that channel is configured.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/FlowRouter/internal/messaging"
	"github.com/BTreeMap/FlowRouter/internal/models"
	"github.com/BTreeMap/FlowRouter/internal/state"
)

// DefaultAddr is the default listen address.
const DefaultAddr = ":8080"

// Server hosts the HTTP endpoints.
type Server struct {
	addr   string
	states *state.StateStore
	twilio *messaging.TwilioService // nil unless the Twilio channel is active
	httpd  *http.Server
}

// Opts holds server configuration.
type Opts struct {
	Addr   string
	Twilio *messaging.TwilioService
}

// NewServer builds the HTTP server around the state store.
func NewServer(states *state.StateStore, opts Opts) *Server {
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{addr: addr, states: states, twilio: opts.Twilio}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	if s.twilio != nil {
		mux.HandleFunc("/webhook/twilio", s.twilio.WebhookHandler)
	}

	s.httpd = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	slog.Info("HTTP server listening", "addr", s.addr)
	if err := s.httpd.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpd.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.states.Stats()))
}
