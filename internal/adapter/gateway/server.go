// Package gateway exposes the dispatcher over WebSocket: clients call RPC
// methods and receive dispatch and worker events as they are published.
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

	"switchboard/internal/domain"
)

const (
	sendQueueSize   = 64
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// RPCHandler handles a single RPC method call.
type RPCHandler func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error)

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	info      *ClientInfo
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) close() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// Server is the WebSocket gateway that exposes RPC methods and forwards events.
type Server struct {
	bus        domain.EventBus
	clients    sync.Map // connID (uint64) -> *clientConn
	auth       Authenticator
	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler
	logger     *slog.Logger
	addr       string
	httpSrv    *http.Server
	boundAddr  atomic.Value // string
	nextID     atomic.Uint64
	unsubAll   func()
	httpRoutes []httpRoute
	middleware []func(http.Handler) http.Handler
	origins    []string
}

type httpRoute struct {
	pattern string
	handler http.HandlerFunc
}

// Option configures a Server.
type Option func(*Server)

// WithMiddleware wraps every HTTP route, including the upgrade endpoint.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.middleware = append(s.middleware, mw...) }
}

// WithOriginPatterns replaces the accepted WebSocket origins.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// NewServer creates a gateway server.
func NewServer(bus domain.EventBus, auth Authenticator, addr string, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		bus:      bus,
		auth:     auth,
		handlers: make(map[string]RPCHandler),
		logger:   logger,
		addr:     addr,
		origins: []string{
			"localhost", "localhost:*",
			"127.0.0.1", "127.0.0.1:*",
			"[::1]", "[::1]:*",
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RegisterHandler adds an RPC handler for the given method name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// RegisterHTTPRoute adds an HTTP handler to the gateway's mux.
// Must be called before Start.
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleUpgrade)
	for _, route := range s.httpRoutes {
		mux.HandleFunc(route.pattern, route.handler)
	}
	var h http.Handler = mux
	for i := len(s.middleware) - 1; i >= 0; i-- {
		h = s.middleware[i](h)
	}
	return h
}

// Start begins accepting WebSocket connections. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())
	s.httpSrv = &http.Server{Handler: s.handler(), ReadHeaderTimeout: 10 * time.Second}

	s.unsubAll = s.bus.SubscribeAll(s.broadcast)
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

// broadcast forwards a bus event to every connected client.
func (s *Server) broadcast(_ context.Context, event domain.Event) {
	frame, err := eventFrame(event)
	if err != nil {
		return
	}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- frame:
		default:
			s.logger.Warn("gateway: dropped event for slow client", "client", cc.info.Name, "event", string(event.Type))
		}
		return true
	})
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubAll != nil {
		s.unsubAll()
	}

	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.close()
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the address the server bound to, or "" before Start.
func (s *Server) BoundAddr() string {
	addr, _ := s.boundAddr.Load().(string)
	return addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	n := 0
	s.clients.Range(func(_, _ any) bool { n++; return true })
	return n
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	clientInfo, err := s.auth.Authenticate(tokenFromRequest(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		info:   clientInfo,
		ws:     ws,
		sendCh: make(chan Frame, sendQueueSize),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.logger.Info("gateway client connected", "conn_id", connID, "client", clientInfo.Name)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.close()
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
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
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
		s.send(cc, responseFrame(req.ID, nil, domain.ErrRPCMethodNotFound))
		return
	}

	ctx = withPush(ctx, func(f Frame) bool {
		select {
		case cc.sendCh <- f:
			return true
		case <-cc.done:
			return false
		}
	})
	result, err := handler(ctx, cc.info, req.Payload)
	if err != nil {
		s.logger.Debug("gateway rpc failed", "method", req.Method, "client", cc.info.Name, "error", err)
	}
	s.send(cc, responseFrame(req.ID, result, err))
}

func (s *Server) send(cc *clientConn, f Frame) {
	select {
	case cc.sendCh <- f:
	default:
		s.logger.Warn("gateway: dropped RPC response for slow client", "frame_id", f.ID)
	}
}
