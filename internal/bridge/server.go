// Package bridge assembles the audiohook bridge's top-level HTTP server: the
// carrier WebSocket upgrade endpoint, health checks, and the Prometheus
// metrics endpoint, plus the per-connection wiring that hands each accepted
// call off to an internal/session.Controller.
package bridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coraltel/audiohookbridge/internal/audiohook"
	"github.com/coraltel/audiohookbridge/internal/config"
	"github.com/coraltel/audiohookbridge/internal/health"
	"github.com/coraltel/audiohookbridge/internal/mcp"
	"github.com/coraltel/audiohookbridge/internal/observe"
	"github.com/coraltel/audiohookbridge/internal/session"
	"github.com/coraltel/audiohookbridge/pkg/provider/realtime"
)

// Required carrier handshake headers, per the AudioHook protocol's
// connection negotiation.
const (
	headerOrganizationID = "audiohook-organization-id"
	headerCorrelationID  = "audiohook-correlation-id"
	headerSessionID      = "audiohook-session-id"
	headerAPIKey         = "x-api-key"
)

// Deps holds the application-wide singletons the Server wires into every
// accepted connection.
type Deps struct {
	Config   *config.Config
	Provider realtime.Provider
	MCPHost  mcp.Host
	Metrics  *observe.Metrics
}

// Server is the bridge's top-level HTTP server.
type Server struct {
	cfg      *config.Config
	provider realtime.Provider
	mcpHost  mcp.Host
	metrics  *observe.Metrics
	health   *health.Handler

	mux *http.ServeMux

	wg sync.WaitGroup
}

// New builds a Server and registers its routes on a fresh ServeMux.
func New(deps Deps) *Server {
	s := &Server{
		cfg:      deps.Config,
		provider: deps.Provider,
		mcpHost:  deps.MCPHost,
		metrics:  deps.Metrics,
		health:   health.New(),
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.Handle(s.cfg.Carrier.Path, observe.Middleware(s.metrics)(http.HandlerFunc(s.handleAudioHook)))
	s.mux.Handle("/metrics", promhttp.Handler())
	s.health.Register(s.mux)

	return s
}

// ServeHTTP implements http.Handler, delegating to the registered routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleRoot answers the carrier's plain-text reachability check: a GET
// without an Upgrade header returns "OK\n". Anything else on this path is a
// 404, since the only real endpoint is the configured carrier path.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

// handleAudioHook validates the carrier handshake and, once accepted,
// drives the call to completion on an internal/session.Controller.
func (s *Server) handleAudioHook(w http.ResponseWriter, r *http.Request) {
	if err := s.validateHandshake(r); err != nil {
		http.Error(w, err.Error(), err.(*handshakeError).status)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		return
	}

	sessionID := r.Header.Get(headerSessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	conn := audiohook.NewConn(ws, sessionID)

	s.wg.Add(1)
	defer s.wg.Done()

	ctrl := session.New(session.Deps{
		Conn:     conn,
		Provider: s.provider,
		Config:   s.cfg,
		MCPHost:  s.mcpHost,
		Metrics:  s.metrics,
	})

	if err := ctrl.Run(r.Context()); err != nil {
		_ = ws.Close(websocket.StatusInternalError, "session error")
		return
	}
	_ = ws.Close(websocket.StatusNormalClosure, "session ended")
}

// handshakeError pairs a client-facing message with the HTTP status it maps
// to.
type handshakeError struct {
	status  int
	message string
}

func (e *handshakeError) Error() string { return e.message }

// validateHandshake enforces the carrier's required headers and API key
// before the WebSocket upgrade proceeds.
func (s *Server) validateHandshake(r *http.Request) error {
	if r.Header.Get(headerOrganizationID) == "" ||
		r.Header.Get(headerCorrelationID) == "" ||
		r.Header.Get(headerSessionID) == "" {
		return &handshakeError{status: http.StatusBadRequest, message: "missing required AudioHook handshake header"}
	}
	if r.Header.Get(headerAPIKey) != s.cfg.Carrier.APIKey {
		return &handshakeError{status: http.StatusUnauthorized, message: "invalid or missing API key"}
	}
	return nil
}

// Shutdown waits up to timeout for in-flight sessions to finish.
func (s *Server) Shutdown(ctx context.Context, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ctx.Err()
	}
}
