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
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/dealdesk/internal/admin"
	"github.com/mbd888/dealdesk/internal/auth"
	"github.com/mbd888/dealdesk/internal/broker"
	"github.com/mbd888/dealdesk/internal/catalog"
	"github.com/mbd888/dealdesk/internal/config"
	"github.com/mbd888/dealdesk/internal/dispute"
	"github.com/mbd888/dealdesk/internal/escrow"
	"github.com/mbd888/dealdesk/internal/events"
	"github.com/mbd888/dealdesk/internal/health"
	"github.com/mbd888/dealdesk/internal/idgen"
	"github.com/mbd888/dealdesk/internal/ledger"
	"github.com/mbd888/dealdesk/internal/logging"
	"github.com/mbd888/dealdesk/internal/metrics"
	"github.com/mbd888/dealdesk/internal/payments"
	"github.com/mbd888/dealdesk/internal/ratelimit"
	"github.com/mbd888/dealdesk/internal/realtime"
	"github.com/mbd888/dealdesk/internal/reconciliation"
	"github.com/mbd888/dealdesk/internal/security"
	"github.com/mbd888/dealdesk/internal/store"
	"github.com/mbd888/dealdesk/internal/validation"
)

// Version is reported by /health and the tracer resource.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	store       store.Store
	db          *sql.DB // nil if using in-memory
	ledger      *ledger.Service
	catalog     *catalog.Catalog
	engine      *escrow.Engine
	disputes    *dispute.Log
	payments    *payments.Gateway
	admin       *admin.Service
	recon       *reconciliation.Service
	reconTimer  *reconciliation.Timer
	realtimeHub *realtime.Hub
	publisher   *broker.Publisher
	dialer      broker.Dialer
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	drainDelay  time.Duration

	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

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

// WithStore injects a store instead of building one from DATABASE_URL.
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithBrokerDialer publishes events through dial even when AMQP_URL is unset.
func WithBrokerDialer(dial broker.Dialer) Option {
	return func(s *Server) {
		s.dialer = dial
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	if s.store == nil {
		if cfg.DatabaseURL != "" {
			db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolConfig())
			if err != nil {
				return nil, err
			}
			if err := store.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, err
			}
			s.db = db
			s.store = store.NewPostgres(db)
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
		} else {
			s.store = store.NewMemory()
			s.logger.Info("using in-memory storage (data will not persist)")
		}
	}

	// Event delivery: websocket hub and log always, RabbitMQ when configured
	s.realtimeHub = realtime.NewHub(s.logger, cfg.AdminID)
	notifiers := events.Fanout{s.realtimeHub, events.NewLogNotifier(s.logger)}
	if s.dialer == nil && cfg.AMQPURL != "" {
		s.dialer = broker.Dial(cfg.AMQPURL)
	}
	if s.dialer != nil {
		s.publisher = broker.NewPublisher(s.dialer, cfg.AMQPExchange, s.logger)
		notifiers = append(notifiers, s.publisher)
		s.logger.Info("event publishing enabled", "exchange", cfg.AMQPExchange)
	}

	// Core services
	s.ledger = ledger.NewService(store.Ledger(s.store), cfg.AdminID).
		WithNotifier(notifiers).WithLogger(s.logger)
	s.catalog = catalog.New(store.Catalog(s.store)).WithLogger(s.logger)
	engine, err := escrow.NewEngine(store.Escrow(s.store), escrow.Config{
		AdminID:               cfg.AdminID,
		CommissionRecipientID: cfg.CommissionRecipientID,
		CommissionRate:        cfg.CommissionRate,
	})
	if err != nil {
		return nil, err
	}
	s.engine = engine.WithNotifier(notifiers).WithLogger(s.logger)
	s.disputes = dispute.NewLog(store.Disputes(s.store))
	s.payments = payments.NewGateway(store.Payments(s.store)).
		WithNotifier(notifiers).WithLogger(s.logger)
	s.recon = reconciliation.NewService(store.Reconciliation(s.store), s.logger)
	s.reconTimer = reconciliation.NewTimer(s.recon, cfg.ReconcileInterval, s.logger)
	s.admin = admin.NewService(s.engine, s.ledger, s.disputes).
		WithReconciler(s.recon).WithLogger(s.logger)

	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}

	s.health = health.NewRegistry()
	s.health.Register("store", health.Store(s.store))
	s.health.Register("reconciliation", health.Reconciliation(s.reconTimer))
	if s.publisher != nil {
		s.health.Register("events", health.Backlog("events", s.publisher.Pending, broker.DefaultBuffer*3/4))
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

// bootstrap opens the admin and commission accounts so commission always
// has somewhere to land.
func (s *Server) bootstrap(ctx context.Context) error {
	for _, id := range []string{s.cfg.AdminID, s.cfg.CommissionRecipientID} {
		if id == "" {
			continue
		}
		if _, created, err := s.ledger.OpenAccount(ctx, id, id); err != nil {
			return fmt.Errorf("failed to open %s account: %w", id, err)
		} else if created {
			s.logger.Info("opened platform account", "account_id", id)
		}
	}
	return nil
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

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = idgen.Hex(16)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
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
		if actor := auth.ActorID(c); actor != "" {
			attrs = append(attrs, "actor_id", actor)
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

	keyring := auth.ParseKeyring(s.cfg.APIKeys)
	if keyring.Empty() {
		s.logger.Warn("API_KEY not set: every request is treated as authenticated")
	}

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())

	// WebSocket for realtime events; the subscriber is the acting account
	streaming := s.router.Group("", auth.Middleware(keyring), auth.RequireAuth(), auth.RequireActor())
	s.realtimeHub.RegisterRoutes(streaming)

	v1 := s.router.Group("/v1", auth.Middleware(keyring), s.rateLimiter.Middleware())
	v1.GET("/info", s.infoHandler)

	// Payment provider callbacks authenticate with their own signature
	if s.cfg.StripeWebhookSecret != "" {
		payments.NewStripeHandler(s.payments, s.cfg.StripeWebhookSecret).RegisterRoutes(v1)
		s.logger.Info("stripe webhook enabled")
	}

	protected := v1.Group("", auth.RequireAuth(), auth.RequireActor())
	ledger.NewHandler(s.ledger).RegisterProtectedRoutes(protected)
	catalog.NewHandler(s.catalog).RegisterProtectedRoutes(protected)
	escrow.NewHandler(s.engine).RegisterProtectedRoutes(protected)
	admin.NewHandler(s.admin).RegisterRoutes(protected)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for the aggregate health endpoint
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
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":           "dealdesk",
		"version":        Version,
		"adminId":        s.cfg.AdminID,
		"commissionRate": s.engine.Config().CommissionRate.String(),
		"realtime":       s.realtimeHub.Stats(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "admin_id", s.cfg.AdminID)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.startBackground(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// startBackground launches the hub, publisher, reconciliation timer and
// pool stats collector. They all stop when ctx is cancelled.
func (s *Server) startBackground(ctx context.Context) {
	go s.realtimeHub.Run(ctx)

	if s.publisher != nil {
		go s.publisher.Run(ctx)
	}

	go s.reconTimer.Start(ctx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(ctx, s.db, 15*time.Second)
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Cancel the context for background goroutines (hub, publisher, timer)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	s.reconTimer.Stop()

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("store close error", "error", err)
	} else if s.db != nil {
		s.logger.Info("database connection closed")
	}

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
