package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kskip310/luminous/internal/observability"
	"github.com/kskip310/luminous/internal/tracing"
	"github.com/kskip310/luminous/pkg/agent"
	"github.com/kskip310/luminous/pkg/bus"
	"github.com/kskip310/luminous/pkg/commandqueue"
	"github.com/kskip310/luminous/pkg/state"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// DefaultMaxUploadBytes bounds file.upload content after decoding.
const DefaultMaxUploadBytes = 4 << 20

// Dispatcher queues commands on the single-writer agent worker.
type Dispatcher interface {
	Submit(ctx context.Context, cmd agent.Command) *commandqueue.Pending
	Do(ctx context.Context, cmd agent.Command) (any, error)
}

// StateReader exposes the live session for read-only requests.
type StateReader interface {
	Identity() string
	State() state.AgentState
	Phase() agent.Phase
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	SharedSecret   string
	Worker         Dispatcher
	Reader         StateReader
	Bus            *bus.Bus
	Limits         Limits
	MaxUploadBytes int
	Audit          *observability.AuditLogger
	Logger         zerolog.Logger
}

// Server is the UI boundary: RPC requests in over /ws, bus events out.
type Server struct {
	addr        string
	server      *http.Server
	listener    net.Listener
	upgrader    websocket.Upgrader
	clients     *Connections
	router      *RPCRouter
	auth        *SecretAuth
	broadcaster *EventBroadcaster
	worker      Dispatcher
	reader      StateReader
	bus         *bus.Bus
	limits      Limits
	maxUpload   int
	audit       *observability.AuditLogger
	logger      zerolog.Logger

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	inFlightReqs   sync.WaitGroup
	unsubscribe    func()
}

// NewServer creates a new Gateway Server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Worker == nil {
		return nil, fmt.Errorf("worker is required")
	}
	if cfg.Reader == nil {
		return nil, fmt.Errorf("state reader is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	observability.EnsureRegistered()

	clients := NewConnections()
	s := &Server{
		addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		clients:     clients,
		router:      NewRPCRouter(),
		auth:        NewSecretAuth(cfg.SharedSecret),
		broadcaster: NewEventBroadcaster(clients, cfg.Logger),
		worker:      cfg.Worker,
		reader:      cfg.Reader,
		bus:         cfg.Bus,
		limits:      cfg.Limits,
		maxUpload:   cfg.MaxUploadBytes,
		audit:       cfg.Audit,
		logger:      cfg.Logger,
		upgrader: websocket.Upgrader{
			// Access is gated by the HMAC handshake, not by origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.registerBuiltinMethods()

	return s, nil
}

// Handler returns the HTTP routes: /ws, /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start listens, begins forwarding bus events and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.unsubscribe = s.bus.Subscribe(s.broadcaster.Forward)

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting Gateway Server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the Gateway Server
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down Gateway Server")
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	s.broadcaster.Broadcast(EventMessage{
		Type:      "event",
		Event:     "server.shutdown",
		Data:      map[string]any{"message": "Server is shutting down"},
		Timestamp: time.Now().UnixMilli(),
	})

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.All(false) {
		client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info().Msg("Gateway Server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"identity": s.reader.Identity(),
		"phase":    s.reader.Phase(),
		"clients":  s.clients.Len(),
	})
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	shuttingDown := s.isShuttingDown
	s.shutdownMu.RUnlock()
	if shuttingDown {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	// base64 inflates uploads by a third; leave room for the envelope.
	conn.SetReadLimit(int64(s.maxUpload)*2 + 64<<10)

	clientID, _ := gonanoid.New()
	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		RateLimiter:  NewClientRateLimiter(s.limits),
		State:        StateConnecting,
	}
	s.clients.Add(client)

	s.logger.Info().Str("client_id", clientID).Str("ip", r.RemoteAddr).Msg("Client connected")

	if err := s.sendAuthChallenge(client); err != nil {
		s.logger.Error().Err(err).Str("client_id", clientID).Msg("Failed to send auth challenge")
		conn.Close()
		s.clients.Remove(clientID)
		return
	}

	go s.handleClient(client)
}

func (s *Server) sendAuthChallenge(client *Client) error {
	challenge, err := s.auth.Challenge()
	if err != nil {
		return err
	}

	client.Challenge = challenge
	client.State = StateAuthenticating

	return client.WriteJSON(AuthChallenge{
		Event:     "auth.challenge",
		Challenge: challenge,
	})
}

// handleClient reads frames until the connection closes. Requests run on
// their own goroutines under a context cancelled at disconnect.
func (s *Server) handleClient(client *Client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("client_id", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.Touch(client.ID)
		if !s.handleMessage(ctx, client, message) {
			return
		}
	}
}

// handleMessage processes one frame and reports whether to keep reading.
func (s *Server) handleMessage(ctx context.Context, client *Client, message []byte) bool {
	var authResp AuthResponse
	if err := json.Unmarshal(message, &authResp); err == nil && authResp.Method == "auth.response" {
		return s.handleAuthMessage(client, authResp)
	}

	if !client.Authenticated {
		s.sendError(client, "", AuthenticationRequired, "Authentication required")
		return true
	}

	req, err := s.router.ParseRequest(message)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			s.sendError(client, "", rpcErr.Code, rpcErr.Message)
		} else {
			s.sendError(client, "", ParseError, err.Error())
		}
		return true
	}

	if allowed, reason := client.RateLimiter.CheckRequestAllowed(); !allowed {
		code := RateLimitExceeded
		if reason == reasonConcurrent {
			code = TooManyConcurrent
		}
		s.sendError(client, req.ID, code, reason)
		return true
	}

	client.RateLimiter.RecordRequestStart()
	s.inFlightReqs.Add(1)

	go func() {
		defer client.RateLimiter.RecordRequestEnd()
		defer s.inFlightReqs.Done()

		reqCtx := tracing.WithTraceID(ctx, tracing.NewTraceID())
		reqCtx = tracing.WithRequestID(reqCtx, req.ID)
		logger := tracing.LoggerFromContext(reqCtx, s.logger)
		logger.Debug().Str("client_id", client.ID).Str("method", req.Method).Msg("Gateway request")

		response := s.router.RouteRequest(reqCtx, req)
		var callErr error
		if response.Error != nil {
			callErr = response.Error
			logger.Warn().Str("method", req.Method).Str("error", response.Error.Message).Msg("Gateway request failed")
		}
		if auditedMethods[req.Method] {
			s.audit.RecordCommand(reqCtx, req.Method, s.reader.Identity(), callErr, map[string]any{"client_id": client.ID, "request_id": req.ID})
		}
		if err := client.WriteJSON(response); err != nil {
			logger.Error().Err(err).Str("client_id", client.ID).Msg("Failed to send response")
		}
	}()
	return true
}

// handleAuthMessage answers an auth.response. On success the client gets
// the full live state, since the bus does not replay earlier events.
func (s *Server) handleAuthMessage(client *Client, authResp AuthResponse) bool {
	var result AuthResult
	s.clients.Update(client, func(c *Client) {
		result = s.auth.Answer(c, authResp.Signature)
	})

	s.audit.RecordSecurity(context.Background(), "auth", client.ID, result.Success, map[string]any{"attempts": client.AuthAttempts})

	if err := client.WriteJSON(result); err != nil {
		s.logger.Error().Err(err).Str("client_id", client.ID).Msg("Failed to send auth result")
		return false
	}

	if !result.Success {
		s.logger.Warn().Str("client_id", client.ID).Str("reason", result.Message).Msg("Authentication failed")
		return client.AuthAttempts < MaxAuthAttempts
	}

	s.logger.Info().Str("client_id", client.ID).Msg("Client authenticated")
	initial := Frame(bus.ReplaceEvent(s.reader.Identity(), s.reader.State()))
	if err := s.broadcaster.Send(client, initial); err != nil {
		s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("Failed to send initial state")
	}
	return true
}

func (s *Server) sendError(client *Client, requestID string, code int, message string) {
	if err := client.WriteJSON(errorResponse(requestID, &RPCError{Code: code, Message: message})); err != nil {
		s.logger.Error().Err(err).Str("client_id", client.ID).Msg("Failed to send error response")
	}
}

// RegisterMethod registers an RPC method handler
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// Clients returns information about all connected clients
func (s *Server) Clients() []ClientInfo {
	return s.clients.Infos()
}
