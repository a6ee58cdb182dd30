package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/servermanager/pkg/accesslog"
	"github.com/vango-dev/servermanager/pkg/broadcast"
	"github.com/vango-dev/servermanager/pkg/dispatch"
	"github.com/vango-dev/servermanager/pkg/metrics"
	"github.com/vango-dev/servermanager/pkg/session"
)

// Server is the network-facing worker. It serves static files, the POST
// envelope endpoint and WebSocket connections from one listener.
type Server struct {
	config     *Config
	dispatcher *dispatch.Dispatcher
	sessions   *session.Registry
	broadcasts *broadcast.Registry
	access     *accesslog.Logger
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
	proxies    *proxyMatcher
	upgrader   websocket.Upgrader
	router     chi.Router
	started    time.Time

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	conns      map[*wsConn]struct{}
	closed     bool
}

// Option configures a Server.
type Option func(*Server)

// WithAccessLog records one entry per HTTP request and per WebSocket
// connection event.
func WithAccessLog(l *accesslog.Logger) Option {
	return func(s *Server) {
		s.access = l
	}
}

// WithMetrics records HTTP response codes on m and serves gatherer at
// Config.MetricsPath.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server. A nil config uses DefaultConfig.
func New(config *Config, dispatcher *dispatch.Dispatcher, sessions *session.Registry, broadcasts *broadcast.Registry, opts ...Option) *Server {
	config = config.withDefaults()

	s := &Server{
		config:     config,
		dispatcher: dispatcher,
		sessions:   sessions,
		broadcasts: broadcasts,
		logger:     slog.Default(),
		started:    time.Now(),
		conns:      make(map[*wsConn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	if s.access == nil {
		s.access = accesslog.New(nil)
	}
	s.proxies = newProxyMatcher(config.TrustedProxies, s.logger)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	if s.gatherer != nil && s.config.MetricsPath != "" {
		r.Method(http.MethodGet, s.config.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.config.EnableWebSocket {
		r.Get(s.config.WebSocketPath, s.handleWebSocket)
	}
	if !s.config.DisablePost {
		r.Post("/", s.handlePost)
	}
	r.Get("/*", s.handleStatic)

	notAllowed := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
	r.MethodNotAllowed(notAllowed)
	r.NotFound(notAllowed)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Config returns the effective configuration.
func (s *Server) Config() *Config {
	return s.config
}

// Listen binds the configured address. The server accepts connections once
// Serve is called.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.listener != nil {
		return ErrAlreadyListening
	}

	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}
	s.logger.Info("server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln, srv := s.listener, s.httpServer
	s.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes WebSocket connections and gracefully stops the HTTP
// server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.httpServer
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.logger.Info("shutting down server", "websockets", len(conns))
	for _, c := range conns {
		c.Close()
	}

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown error", "error", err)
		return err
	}
	s.logger.Info("server shutdown complete")
	return nil
}

// requestInfo collects what handlers learn about a request for the access
// log written by observe.
type requestInfo struct {
	protocol string
	remote   string
	action   string
	input    int
	err      string
	skip     bool
}

type requestInfoKey struct{}

func infoFrom(ctx context.Context) *requestInfo {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return info
	}
	return &requestInfo{}
}

// observe records the response code metric and one access-log entry per
// request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{
			protocol: s.protocol(r),
			remote:   s.clientIP(r),
			action:   r.URL.Path,
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			if info.skip {
				return
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			s.metrics.RecordHTTPResponse(status)
			s.access.Record(r.Context(), accesslog.Entry{
				Protocol:   info.protocol,
				Status:     strconv.Itoa(status),
				Duration:   time.Since(start),
				Action:     info.action,
				Method:     r.Method,
				RemoteAddr: info.remote,
				Input:      info.input,
				Output:     ww.BytesWritten(),
				Error:      info.err,
			})
		}()

		next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))
	})
}

// abort writes status and closes the connection after the response.
func abort(w http.ResponseWriter, status int) {
	w.Header().Set("Connection", "close")
	w.WriteHeader(status)
}
