package manager

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/servermanager/internal/config"
	smerrors "github.com/vango-dev/servermanager/internal/errors"
	"github.com/vango-dev/servermanager/internal/watch"
	"github.com/vango-dev/servermanager/pkg/accesslog"
	"github.com/vango-dev/servermanager/pkg/broadcast"
	"github.com/vango-dev/servermanager/pkg/cache"
	"github.com/vango-dev/servermanager/pkg/dispatch"
	"github.com/vango-dev/servermanager/pkg/future"
	"github.com/vango-dev/servermanager/pkg/metrics"
	"github.com/vango-dev/servermanager/pkg/server"
	"github.com/vango-dev/servermanager/pkg/session"

	_ "modernc.org/sqlite"
)

// Application is the hosted business logic.
type Application interface {
	// Start runs once the manager is loaded, and again on every reload. It
	// typically calls SetListener and InitCache.
	Start(m *Manager) error
}

// AppFunc adapts a function to Application.
type AppFunc func(m *Manager) error

// Start calls f(m).
func (f AppFunc) Start(m *Manager) error {
	return f(m)
}

// CacheSaver is implemented by applications that update the cache right
// before every flush.
type CacheSaver interface {
	SaveCache()
}

// Watched is implemented by applications that name extra files whose
// changes trigger a reload.
type Watched interface {
	WatchedFiles() []string
}

// Manager brings up the backends and transports in readiness order and
// exposes the runtime to the application.
type Manager struct {
	config *config.Config
	app    Application
	logger *slog.Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics
	tracer   trace.TracerProvider

	dispatcher *dispatch.Dispatcher
	sessions   *session.Registry
	broadcasts *broadcast.Registry
	store      *cache.Store
	backend    cache.Backend
	access     *accesslog.Logger

	mu      sync.Mutex
	server  *server.Server
	watcher *watch.Watcher

	db        *sql.DB
	ownsDB    bool
	objects   cache.ObjectAPI
	address   string
	watchTick time.Duration

	ready    readiness
	started  *future.Future[*Manager]
	start    sync.Once
	serveErr chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reloadMu    sync.Mutex
	reloadTimer *time.Timer

	shutdown sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithDB supplies the database/sql handle used by sql backends. The caller
// keeps ownership; the manager does not close it.
func WithDB(db *sql.DB) Option {
	return func(m *Manager) {
		m.db = db
	}
}

// WithObjectAPI supplies the object storage client used by document
// backends instead of one built from the config.
func WithObjectAPI(api cache.ObjectAPI) Option {
	return func(m *Manager) {
		m.objects = api
	}
}

// WithRegistry registers metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Manager) {
		m.registry = reg
	}
}

// WithTracerProvider sets the tracer provider for action spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) {
		m.tracer = tp
	}
}

// WithAddress overrides the listen address built from web.host and
// web.port.
func WithAddress(addr string) Option {
	return func(m *Manager) {
		m.address = addr
	}
}

// WithWatchInterval sets the polling interval of the reload watcher.
func WithWatchInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.watchTick = d
	}
}

// New validates cfg and constructs every component. Nothing touches the
// network or the backends until Start.
func New(cfg *config.Config, app Application, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		config:   cfg,
		app:      app,
		logger:   slog.Default(),
		started:  future.New[*Manager](),
		serveErr: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "manager")
	if m.address == "" {
		m.address = cfg.Address()
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m.metrics = metrics.New(metrics.WithRegistry(m.registry))

	if err := m.openBackends(); err != nil {
		return nil, err
	}

	m.sessions = session.NewRegistry(
		session.WithTTL(cfg.SessionTTL()),
		session.WithLogger(m.logger),
	)
	m.sessions.SetOnChange(func(kind session.Kind, n int) {
		m.metrics.SetSessions(kind.String(), n)
	})
	m.broadcasts = broadcast.New(m.sessions,
		broadcast.WithLogger(m.logger),
		broadcast.WithMetrics(m.metrics),
	)

	dispatchOpts := []dispatch.Option{
		dispatch.WithLogger(m.logger),
		dispatch.WithMetrics(m.metrics),
		dispatch.WithObserver(func(o dispatch.Outcome) {
			m.access.Record(context.Background(), accesslog.FromOutcome(o))
		}),
	}
	if m.tracer != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithTracerProvider(m.tracer))
	}
	m.dispatcher = dispatch.New(dispatchOpts...)
	m.store = cache.NewStore()

	m.ready.onEnter = m.enter
	m.ready.onLoaded = m.loaded
	return m, nil
}

// openBackends builds the database handle, object client, cache backend and
// access-log sink from configuration.
func (m *Manager) openBackends() error {
	cfg := m.config
	dialect := cache.ParseDialect(cfg.SQL.Driver)

	if cfg.UsesSQL() && m.db == nil {
		db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return smerrors.New("SM201").WithDetail(cfg.SQL.Driver).Wrap(err)
		}
		m.db = db
		m.ownsDB = true
	}
	if cfg.UsesDocument() && m.objects == nil {
		m.objects = cache.NewS3Client(cache.S3Options{
			Region:          cfg.Document.Region,
			Endpoint:        cfg.Document.Endpoint,
			AccessKeyID:     cfg.Document.AccessKeyID,
			SecretAccessKey: cfg.Document.SecretAccessKey,
			UsePathStyle:    cfg.Document.UsePathStyle,
		})
	}

	switch cfg.Cache.Format {
	case config.CacheFile:
		m.backend = cache.NewFileBackend(cfg.Cache.File)
	case config.CacheSQL:
		m.backend = cache.NewSQLBackend(m.db,
			cache.WithSQLTableName(cfg.Cache.Table),
			cache.WithSQLDialect(dialect))
	case config.CacheDocument:
		m.backend = cache.NewDocumentBackend(m.objects, cfg.Document.Bucket,
			cache.WithDocumentPrefix(cfg.Document.Prefix))
	}

	var sink accesslog.Sink
	switch cfg.Log.Format {
	case config.LogStdout:
		sink = accesslog.NewStdoutSink()
	case config.LogFile:
		sink = accesslog.NewFileSink(cfg.Log.Path)
	case config.LogSQL:
		sink = accesslog.NewSQLSink(m.db,
			accesslog.WithSQLTableName(cfg.Log.Table),
			accesslog.WithSQLDialect(dialect))
	default:
		sink = accesslog.Discard{}
	}
	m.access = accesslog.New(sink,
		accesslog.WithSlowThreshold(cfg.SlowThreshold()),
		accesslog.WithLogger(m.logger))
	return nil
}

// Start begins bringing the manager up. The returned future resolves once
// every readiness signal arrived and the application started, or is
// rejected with the first fatal error. Later calls return the same future.
func (m *Manager) Start(ctx context.Context) *future.Future[*Manager] {
	m.start.Do(func() {
		m.logger.Info("starting",
			"database", m.config.Server.Database,
			"cache", m.config.Cache.Format,
			"log", m.config.Log.Format)
		go m.initData(ctx)
		go m.initCache(ctx)
		go m.initLog(ctx)
	})
	return m.started
}

// fail rejects the start future. Errors after a successful start go to Run.
func (m *Manager) fail(err error) {
	if m.started.Reject(err) {
		m.logger.Error("startup failed", "error", err)
		return
	}
	select {
	case m.serveErr <- err:
	default:
	}
}

func (m *Manager) initData(ctx context.Context) {
	switch m.config.Server.Database {
	case config.DatabaseSQL:
		if err := m.db.PingContext(ctx); err != nil {
			m.fail(smerrors.New("SM201").WithDetail(m.config.SQL.Driver).Wrap(err))
			return
		}
		m.logger.Info("database connected", "driver", m.config.SQL.Driver)
	case config.DatabaseDocument:
		_, err := m.objects.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(m.config.Document.Bucket),
		})
		if err != nil {
			m.fail(smerrors.New("SM201").WithDetail(m.config.Document.Bucket).Wrap(err))
			return
		}
		m.logger.Info("object storage connected", "bucket", m.config.Document.Bucket)
	}
	m.ready.signal(StateData)
}

func (m *Manager) initCache(ctx context.Context) {
	if m.backend == nil {
		m.logger.Info("no cache backup")
		m.ready.signal(StateCache)
		return
	}
	if err := m.backend.VerifySchema(ctx); err != nil {
		m.fail(smerrors.New("SM202").WithDetail(m.config.Cache.Format).Wrap(err))
		return
	}
	sections, err := m.backend.ReadAll(ctx)
	if err != nil {
		m.fail(smerrors.New("SM203").WithDetail(m.config.Cache.Format).Wrap(err))
		return
	}
	m.store.Load(sections)
	m.logger.Info("cache loaded", "format", m.config.Cache.Format, "sections", len(sections))
	m.ready.signal(StateCache)
}

func (m *Manager) initLog(ctx context.Context) {
	if err := m.access.Verify(ctx); err != nil {
		m.fail(smerrors.New("SM204").WithDetail(m.config.Log.Format).Wrap(err))
		return
	}
	m.ready.signal(StateLog)
}

// enter runs the side effects of a newly set readiness flag.
func (m *Manager) enter(flag State) {
	m.logger.Debug("readiness", "signal", flag.String(), "state", m.ready.current().String())

	switch flag {
	case StateCache:
		if m.backend != nil && m.ctx.Err() == nil {
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.store.FlushLoop(m.ctx, m.backend, m.config.CacheInterval(), m.saveHook, m.recordFlush)
			}()
		}
	case StateLog:
		if err := m.startWeb(); err != nil {
			m.fail(err)
			return
		}
		m.ready.signal(StateWeb)
	}
}

// startWeb builds the transports and binds the listener.
func (m *Manager) startWeb() error {
	web := m.config.Web
	srvConfig := server.DefaultConfig()
	srvConfig.Address = m.address
	srvConfig.Root = web.Root
	srvConfig.DefaultFile = web.DefaultFile
	srvConfig.Aliases = web.Aliases
	srvConfig.MessageSizeLimit = web.MessageSizeLimit
	srvConfig.DisablePost = web.DisablePost
	srvConfig.EnableWebSocket = web.WebSocket
	srvConfig.WebSocketPath = web.WebSocketPath
	srvConfig.TrustedProxies = web.TrustedProxies
	srvConfig.ShutdownTimeout = m.config.ShutdownTimeout()
	srvConfig.MetricsPath = ""
	if m.config.Metrics.Enabled {
		srvConfig.MetricsPath = m.config.Metrics.Path
	}

	srv := server.New(srvConfig, m.dispatcher, m.sessions, m.broadcasts,
		server.WithAccessLog(m.access),
		server.WithMetrics(m.metrics, m.registry),
		server.WithLogger(m.logger))
	m.broadcasts.SetPusher(srv.Push)

	if err := srv.Listen(); err != nil {
		return smerrors.New("SM301").WithDetail(m.address).Wrap(err)
	}
	m.mu.Lock()
	m.server = srv
	m.mu.Unlock()

	go func() {
		if err := srv.Serve(); err != nil {
			m.fail(smerrors.New("SM302").Wrap(err))
		}
	}()
	return nil
}

// loaded starts the application on its own goroutine and then resolves the
// start future.
func (m *Manager) loaded() {
	go func() {
		if err := m.runApp(); err != nil {
			m.fail(err)
			return
		}
		m.startWatcher()
		m.logger.Info("the application has started", "address", m.Addr())
		m.started.Resolve(m)
	}()
}

// runApp invokes the application's Start with panic recovery.
func (m *Manager) runApp() (err error) {
	if m.app == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("application start panic", "panic", r, "stack", string(debug.Stack()))
			err = smerrors.New("SM402").WithDetailf("%v", r)
		}
	}()
	if err := m.app.Start(m); err != nil {
		return smerrors.New("SM401").Wrap(err)
	}
	return nil
}

func (m *Manager) saveHook() {
	if saver, ok := m.app.(CacheSaver); ok {
		saver.SaveCache()
	}
}

func (m *Manager) recordFlush(wrote bool, err error) {
	m.metrics.RecordFlush(wrote, err)
	if err != nil {
		m.logger.Error("cache flush failed", "format", m.config.Cache.Format, "error", err)
		return
	}
	if wrote {
		m.logger.Debug("cache flushed", "format", m.config.Cache.Format)
	}
}

// Flush writes the cache to its backend now. It reports whether anything
// was written.
func (m *Manager) Flush(ctx context.Context) (bool, error) {
	wrote, err := m.store.Flush(ctx, m.backend, m.saveHook)
	m.recordFlush(wrote, err)
	return wrote, err
}

// Run starts the manager and blocks until SIGINT/SIGTERM, ctx cancellation
// or a fatal transport error, then shuts down.
func (m *Manager) Run(ctx context.Context) error {
	if _, err := m.Start(ctx).Await(ctx); err != nil {
		m.Shutdown(context.Background())
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		m.logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
	case runErr = <-m.serveErr:
		m.logger.Error("server error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), m.config.ShutdownTimeout())
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown stops the watcher and the flush loop, writes the cache a last
// time, stops the transports and closes the backends.
func (m *Manager) Shutdown(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.shutdown.Do(func() {
		m.logger.Info("shutting down")
		m.mu.Lock()
		srv, watcher := m.server, m.watcher
		m.mu.Unlock()
		if watcher != nil {
			watcher.Stop()
		}
		m.reloadMu.Lock()
		if m.reloadTimer != nil {
			m.reloadTimer.Stop()
		}
		m.reloadMu.Unlock()

		m.cancel()
		m.wg.Wait()

		if m.ready.current().Has(StateCache) {
			if _, err := m.Flush(ctx); err != nil {
				keep(fmt.Errorf("final cache flush: %w", err))
			}
		}
		if srv != nil {
			keep(srv.Shutdown(ctx))
		}
		m.sessions.Close()

		if m.backend != nil {
			keep(m.backend.Close())
		}
		keep(m.access.Close())
		if m.ownsDB && m.db != nil {
			keep(m.db.Close())
		}
		m.logger.Info("shutdown complete")
	})
	return firstErr
}
