// Package gateway exposes the operator control plane: a WebSocket RPC
// surface for health, status, ad hoc sends, session administration, cron,
// and interactive chat, plus event fan-out from the bus.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketbot/relay/internal/agent"
	"github.com/marketbot/relay/internal/bus"
	"github.com/marketbot/relay/internal/channels"
	"github.com/marketbot/relay/internal/config"
	"github.com/marketbot/relay/internal/cron"
	"github.com/marketbot/relay/internal/pairing"
	"github.com/marketbot/relay/internal/routing"
	"github.com/marketbot/relay/pkg/protocol"
)

// ServerVersion is reported in the connect result and status payloads.
const ServerVersion = "0.3.0"

// Server is the gateway control-plane server.
type Server struct {
	cfg      *config.Config
	eventPub bus.EventPublisher
	msgBus   bus.MessageRouter
	routing  *routing.Router
	manager  *channels.Manager
	cron     *cron.Scheduler
	runner   *agent.Runner
	pairing  *pairing.Store // nil when pairing is not configured
	cfgPath  string         // where wizard-applied config is saved

	router      *MethodRouter
	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter
	startedAt   time.Time

	mu      sync.RWMutex
	clients map[string]*Client
	wizards map[string]*wizardSession

	httpServer *http.Server
	mux        *http.ServeMux
}

// ServerOptions wires the server's collaborators.
type ServerOptions struct {
	Config   *config.Config
	Events   bus.EventPublisher
	Bus      bus.MessageRouter
	Routing  *routing.Router
	Channels *channels.Manager
	Cron     *cron.Scheduler
	Runner   *agent.Runner
	Pairing  *pairing.Store

	// ConfigPath is where the onboarding wizard persists the config.
	// Empty disables saving (wizard changes stay in memory).
	ConfigPath string
}

// NewServer creates a gateway server.
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		cfg:       opts.Config,
		eventPub:  opts.Events,
		msgBus:    opts.Bus,
		routing:   opts.Routing,
		manager:   opts.Channels,
		cron:      opts.Cron,
		runner:    opts.Runner,
		pairing:   opts.Pairing,
		cfgPath:   opts.ConfigPath,
		clients:   make(map[string]*Client),
		wizards:   make(map[string]*wizardSession),
		startedAt: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.rateLimiter = NewRateLimiter(opts.Config.Gateway.RateLimitRPM, 5)
	s.router = NewMethodRouter()
	s.registerCoreMethods()
	return s
}

// Router returns the method router for registering additional handlers.
func (s *Server) Router() *MethodRouter { return s.router }

// checkOrigin validates the Origin header against the configured allowlist.
// No configured origins, or an absent header (CLI and SDK clients), allows
// the connection.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("websocket origin rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.mux = mux
	return mux
}

// Start listens until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	client := NewClient(conn, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()
	client.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

// BroadcastEvent pushes an event frame to every connected client.
func (s *Server) BroadcastEvent(event protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		client.SendEvent(event)
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c

	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		c.SendEvent(*protocol.NewEvent(event.Name, event.Payload))
	})
	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	delete(s.wizards, c.id)
	s.eventPub.Unsubscribe(c.id)
	s.rateLimiter.Forget(c.id)
	slog.Info("client disconnected", "id", c.id)
}

// dispatch routes one request frame. Returns false when the connection
// must close.
func (s *Server) dispatch(ctx context.Context, c *Client, req *protocol.RequestFrame) bool {
	if !s.rateLimiter.Allow(c.id) {
		res := protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, "rate limit exceeded")
		res.Error.RetryAfterMs = 1000
		c.SendResponse(res)
		return true
	}

	if req.Method == protocol.MethodConnect {
		return s.handleConnect(c, req)
	}

	// Connect-first enforcement: nothing else is served before the
	// handshake, and the violation closes the connection.
	if !c.connected {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"connect must be the first request"))
		return false
	}

	s.router.Dispatch(ctx, c, req)
	return true
}

// handleConnect validates the handshake.
func (s *Server) handleConnect(c *Client, req *protocol.RequestFrame) bool {
	if c.connected {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"already connected"))
		return true
	}

	var params protocol.ConnectParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"malformed connect params"))
		return false
	}

	if params.MinProtocol > protocol.ProtocolVersion ||
		(params.MaxProtocol != 0 && params.MaxProtocol < protocol.MinSupportedProtocol) {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			fmt.Sprintf("unsupported protocol range %d-%d", params.MinProtocol, params.MaxProtocol)))
		return false
	}

	if token := s.cfg.Gateway.Token; token != "" && params.Auth.Token != token {
		c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotLinked,
			"gateway token mismatch"))
		return false
	}

	c.connected = true
	c.role = params.Role
	c.scopes = params.Scopes
	c.info = params.Client

	c.SendResponse(protocol.NewOKResponse(req.ID, protocol.ConnectResult{
		Protocol: protocol.ProtocolVersion,
		Server:   "mbrelay",
		Version:  ServerVersion,
	}))
	return true
}

// StartTestServer binds to a random local port and returns the address
// plus a start function. Integration tests use it instead of Start.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}
	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}
	return addr, start
}
