package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"fxpanel/internal/domain"
	"fxpanel/internal/infra/config"
	"fxpanel/internal/infra/middleware"
)

// RPCHandler handles a single RPC method call received over the WebSocket.
type RPCHandler func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error)

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	info      *ClientInfo
	ws        *websocket.Conn
	sendCh    chan Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

// Server is the control gateway: an HTTP JSON API plus a WebSocket that
// forwards domain events and accepts RPC requests.
type Server struct {
	bus        domain.EventBus
	clients    sync.Map // connID (uint64) -> *clientConn
	auth       Authenticator
	cfg        config.GatewayConfig
	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler
	logger     *slog.Logger
	httpSrv    *http.Server
	bound      atomic.Value // string
	nextID     atomic.Uint64
	unsubAll   func()
	httpRoutes []httpRoute
}

type httpRoute struct {
	pattern string
	handler http.HandlerFunc
	public  bool
}

// NewServer creates a gateway server.
func NewServer(bus domain.EventBus, auth Authenticator, cfg config.GatewayConfig, logger *slog.Logger) *Server {
	return &Server{
		bus:      bus,
		auth:     auth,
		cfg:      cfg,
		handlers: make(map[string]RPCHandler),
		logger:   logger,
	}
}

// RegisterHandler adds an RPC handler for the given method name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// RegisterHTTPRoute adds an authenticated HTTP handler. Patterns use the
// net/http method and wildcard syntax. Must be called before Handler or Start.
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// RegisterPublicRoute adds an HTTP handler that skips token auth. The handler
// authenticates the caller itself.
func (s *Server) RegisterPublicRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler, public: true})
}

// Handler builds the middleware-wrapped mux and starts forwarding bus events
// to WebSocket clients. The rate limiter cleanup stops with ctx.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleUpgrade)
	for _, route := range s.httpRoutes {
		if route.public {
			mux.Handle(route.pattern, route.handler)
			continue
		}
		mux.Handle(route.pattern, s.authenticate(route.handler))
	}

	if s.unsubAll == nil {
		s.unsubAll = s.bus.SubscribeAll(s.forward)
	}

	return middleware.Chain(mux,
		middleware.SecurityHeaders,
		middleware.RequestLog(s.logger),
		middleware.RateLimit(ctx, s.cfg.RateLimit),
	)
}

// Start begins serving. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.bound.Store(listener.Addr().String())
	s.logger.Info("gateway started", "addr", s.BoundAddr())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubAll != nil {
		s.unsubAll()
	}

	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.closeOnce.Do(func() { close(cc.done) })
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	addr, _ := s.bound.Load().(string)
	return addr
}

// forward fans an event out to every connected client, dropping it for
// clients whose queue is full.
func (s *Server) forward(_ context.Context, event domain.Event) {
	frame := eventFrame(event)
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- frame:
		default:
			s.logger.Warn("gateway: dropped event for slow client", "type", event.Type)
		}
		return true
	})
}

// authenticate resolves the request token and attaches the client and the
// audit actor to the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, err := s.auth.Authenticate(requestToken(r))
		if err != nil {
			writeAlert(w, http.StatusUnauthorized, alertDanger, "unauthorized")
			return
		}
		ctx := withClient(r.Context(), client)
		ctx = domain.WithAuditActor(ctx, domain.AuditSourceOperator, client.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	clientInfo, err := s.auth.Authenticate(requestToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		info:   clientInfo,
		ws:     ws,
		sendCh: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)

	s.logger.Info("gateway client connected", "conn_id", connID, "client", clientInfo.Name)

	go s.writeLoop(cc)

	ctx := withClient(r.Context(), clientInfo)
	ctx = domain.WithAuditActor(ctx, domain.AuditSourceOperator, clientInfo.Name)
	s.readLoop(ctx, cc)

	cc.closeOnce.Do(func() { close(cc.done) })
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		go s.dispatchRPC(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.sendResponse(cc, req.ID, nil, fmt.Errorf("unknown method %q", req.Method))
		return
	}

	result, err := handler(ctx, cc.info, req.Payload)
	s.sendResponse(cc, req.ID, result, err)
}

func (s *Server) sendResponse(cc *clientConn, id uint64, result json.RawMessage, err error) {
	resp := responseFrame(id, result, err)
	select {
	case cc.sendCh <- resp:
	default:
		s.logger.Warn("gateway: dropped RPC response for slow client", "frame_id", id)
	}
}
