// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"golang.org/x/sync/errgroup"

	"github.com/kycdesk/kycdesk/internal/auth"
	"github.com/kycdesk/kycdesk/internal/circuitbreaker"
	"github.com/kycdesk/kycdesk/internal/compliance"
	"github.com/kycdesk/kycdesk/internal/config"
	"github.com/kycdesk/kycdesk/internal/health"
	"github.com/kycdesk/kycdesk/internal/idgen"
	"github.com/kycdesk/kycdesk/internal/intake"
	"github.com/kycdesk/kycdesk/internal/logging"
	"github.com/kycdesk/kycdesk/internal/metrics"
	"github.com/kycdesk/kycdesk/internal/ratelimit"
	"github.com/kycdesk/kycdesk/internal/realtime"
	"github.com/kycdesk/kycdesk/internal/reconciliation"
	"github.com/kycdesk/kycdesk/internal/review"
	"github.com/kycdesk/kycdesk/internal/risk"
	"github.com/kycdesk/kycdesk/internal/security"
	"github.com/kycdesk/kycdesk/internal/stats"
	"github.com/kycdesk/kycdesk/internal/traces"
	"github.com/kycdesk/kycdesk/internal/validation"
	"github.com/kycdesk/kycdesk/internal/verification"
	"github.com/kycdesk/kycdesk/internal/webhooks"
	"github.com/kycdesk/kycdesk/migrations"
)

// Version is reported by /health.
var Version = "dev"

const (
	defaultDrainDelay   = 5 * time.Second
	shutdownTimeout     = 30 * time.Second
	rateLimitSweepEvery = time.Minute
	uploadPath          = "/v1/records/upload"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	records    *verification.Service
	engine     *compliance.Engine
	controller *review.Controller
	uploader   *intake.Uploader // nil when no extractor is configured
	extractor  *circuitbreaker.Breaker
	stats      *stats.Service
	sampler    *stats.Sampler
	hub        *realtime.Hub
	reconciler *reconciliation.Runner
	reconTimer *reconciliation.Timer
	webhooks   *webhooks.Dispatcher
	hookStore  webhooks.Store
	health     *health.Registry

	rateLimiter   *ratelimit.Limiter
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	traceShutdown func(context.Context) error
	drainDelay    time.Duration
	shutdownOnce  sync.Once
	shutdownErr   error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// sending traffic before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: defaultDrainDelay,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdown, err := traces.Init(ctx, traces.Options{
		Endpoint:    cfg.OTLPEndpoint,
		Version:     Version,
		Environment: cfg.Env,
		SampleRatio: cfg.TraceSampleRatio,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.traceShutdown = shutdown

	classifier := risk.NewClassifier()
	if cfg.RiskPolicyFile != "" {
		policy, err := risk.LoadPolicy(cfg.RiskPolicyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load risk policy: %w", err)
		}
		if classifier, err = risk.NewClassifierWithPolicy(policy); err != nil {
			return nil, fmt.Errorf("invalid risk policy: %w", err)
		}
		s.logger.Info("risk policy loaded", "file", cfg.RiskPolicyFile)
	}

	minSeverity, err := compliance.ParseSeverity(cfg.AlertMinSeverity)
	if err != nil {
		return nil, err
	}

	s.health = health.NewRegistry()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		recordStore verification.Store
		alertStore  compliance.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}

		if err := metrics.RegisterDB(db); err != nil {
			// A second server in the same process keeps the first collector.
			s.logger.Warn("db stats collector not registered", "error", err)
		}
		s.db = db
		pgRecords := verification.NewPostgresStore(db)
		recordStore = pgRecords
		alertStore = compliance.NewPostgresStore(db)
		s.hookStore = webhooks.NewPostgresStore(db)
		s.health.Register("database", health.PingChecker("database", pgRecords))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		recordStore = verification.NewMemoryStore()
		alertStore = compliance.NewMemoryStore()
		s.hookStore = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage")
	}

	// Realtime hub for the live dashboard feed
	s.hub = realtime.NewHub(s.logger, realtime.WithAllowedOrigins(cfg.CORSAllowedOrigins))

	// Outbound webhook delivery
	s.webhooks = webhooks.NewDispatcher(s.hookStore).WithLogger(s.logger)
	emitter := webhooks.NewEmitter(s.webhooks)

	s.engine = compliance.NewEngine(alertStore).
		WithMinSeverity(minSeverity).
		WithNotifier(compliance.Notifiers{s.hub, emitter}).
		WithLogger(s.logger)

	s.records = verification.NewService(recordStore, classifier).
		WithAlertSync(s.engine).
		WithObserver(verification.Observers{s.hub, emitter}).
		WithMaxReopens(cfg.MaxReopens).
		WithLogger(s.logger)

	s.controller = review.NewController(s.records).
		WithListener(review.Listeners{s.hub, emitter}).
		WithLogger(s.logger)

	if cfg.ExtractorURL != "" {
		s.extractor = circuitbreaker.New("extractor", 5, 30*time.Second)
		extractor := intake.NewHTTPExtractor(cfg.ExtractorURL).WithBreaker(s.extractor)
		s.uploader = intake.NewUploader(s.records, extractor).WithLogger(s.logger)
		s.health.Register("extractor", health.FuncChecker("extractor", s.extractorCheck))
		s.logger.Info("document upload enabled", "extractor", cfg.ExtractorURL)
	} else {
		s.logger.Info("document upload disabled (no EXTRACTOR_URL set)")
	}

	s.reconciler = reconciliation.NewRunner(s.records, s.engine, s.logger)
	if cfg.ReconcileInterval > 0 {
		s.reconTimer = reconciliation.NewTimer(s.reconciler, cfg.ReconcileInterval, s.logger)
	}

	s.stats = stats.NewService(s.records, s.engine)
	s.sampler = stats.NewSampler(s.stats, cfg.StatsSampleInterval, s.logger)

	if cfg.AdminSecret == "" {
		s.logger.Warn("ADMIN_SECRET not set, admin routes are open")
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) extractorCheck(context.Context) error {
	if s.extractor.State() == circuitbreaker.StateOpen {
		return circuitbreaker.ErrOpen
	}
	return nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Request ID first so every later log line carries it
	s.router.Use(s.requestIDMiddleware())

	s.router.Use(security.HeadersMiddleware(security.HeadersOptions{HSTS: s.cfg.IsProduction()}))
	s.router.Use(security.CORSMiddleware(s.cfg.CORSAllowedOrigins))

	// JSON bodies are capped at 1MB; uploads carry their own larger limit.
	s.router.Use(s.bodyLimitMiddleware())

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig(s.cfg.RateLimitRPS))
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) bodyLimitMiddleware() gin.HandlerFunc {
	limit := validation.RequestSizeMiddleware(validation.MaxRequestSize)
	return func(c *gin.Context) {
		if c.Request.URL.Path == uploadPath {
			c.Next()
			return
		}
		limit(c)
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
		}

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for the live dashboard feed
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")

	recordHandler := verification.NewHandler(s.records)
	alertHandler := compliance.NewHandler(s.engine)

	recordHandler.RegisterRoutes(v1)
	alertHandler.RegisterRoutes(v1)
	stats.NewHandler(s.stats).RegisterRoutes(v1)
	if s.uploader != nil {
		intake.NewHandler(s.uploader).RegisterRoutes(v1)
	}

	admin := v1.Group("/admin", auth.RequireAdmin(s.cfg.AdminSecret))
	recordHandler.RegisterAdminRoutes(admin)
	alertHandler.RegisterAdminRoutes(admin)
	review.NewHandler(s.controller).RegisterAdminRoutes(admin)
	webhooks.NewHandler(s.hookStore, s.webhooks).RegisterAdminRoutes(admin)
	reconciliation.NewHandler(s.reconciler).RegisterAdminRoutes(admin)
	admin.GET("/realtime", s.realtimeStatsHandler)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No route for " + c.Request.Method + " " + c.Request.URL.Path,
		})
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if healthy, checks := s.health.CheckAll(c.Request.Context()); !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background workers, and blocks until ctx is
// cancelled, a termination signal arrives, or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		s.sampler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		s.rateLimiter.Run(gctx, rateLimitSweepEvery)
		return nil
	})
	if s.reconTimer != nil {
		g.Go(func() error {
			s.reconTimer.Start(gctx)
			return nil
		})
	}

	s.ready.Store(true)
	s.logger.Info("server ready")

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutdown requested")
		return s.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully stops the server. It is safe to call more than once.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown()
	})
	return s.shutdownErr
}

func (s *Server) shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	if s.drainDelay > 0 {
		time.Sleep(s.drainDelay)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	s.sampler.Stop()
	if s.reconTimer != nil {
		s.reconTimer.Stop()
	}

	// Let in-flight webhook deliveries finish before the store goes away
	if err := s.webhooks.Wait(ctx); err != nil {
		s.logger.Warn("webhook deliveries still in flight at shutdown", "error", err)
	}

	if err := s.traceShutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		} else {
			s.logger.Info("database connection closed")
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("shutdown error", "error", err)
	} else {
		s.logger.Info("server stopped")
	}
	return err
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
