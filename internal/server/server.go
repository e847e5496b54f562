// Package server wires the HTTP API, the decisioning pipeline, and their
// backing stores together.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/riskflow/internal/config"
	"github.com/mbd888/riskflow/internal/emitter"
	"github.com/mbd888/riskflow/internal/enrich"
	"github.com/mbd888/riskflow/internal/events"
	"github.com/mbd888/riskflow/internal/health"
	"github.com/mbd888/riskflow/internal/idgen"
	"github.com/mbd888/riskflow/internal/logging"
	"github.com/mbd888/riskflow/internal/metrics"
	"github.com/mbd888/riskflow/internal/network"
	"github.com/mbd888/riskflow/internal/pipeline"
	"github.com/mbd888/riskflow/internal/profile"
	"github.com/mbd888/riskflow/internal/ratelimit"
	"github.com/mbd888/riskflow/internal/rules"
	"github.com/mbd888/riskflow/internal/scoring"
	"github.com/mbd888/riskflow/internal/security"
	"github.com/mbd888/riskflow/internal/traces"
	"github.com/mbd888/riskflow/internal/validation"
	"github.com/mbd888/riskflow/internal/velocity"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and the pipeline it fronts.
type Server struct {
	cfg            *config.Config
	db             *sql.DB // nil if using in-memory stores
	redis          *redis.Client
	natsConn       *nats.Conn
	publisher      emitter.Publisher
	scorer         scoring.Scorer
	velocityStore  *velocity.Store
	janitor        *velocity.Janitor
	scoringSvc     *scoring.Service
	pipeline       *pipeline.Pipeline
	ruleSet        []rules.Rule
	healthReg      *health.Registry
	rateLimiter    *ratelimit.Limiter
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	tracesShutdown func(context.Context) error

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

// WithScorer sets a custom scorer backend (for testing)
func WithScorer(sc scoring.Scorer) Option {
	return func(s *Server) {
		s.scorer = sc
	}
}

// WithPublisher sets a custom event publisher (for testing)
func WithPublisher(pub emitter.Publisher) Option {
	return func(s *Server) {
		s.publisher = pub
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	// Apply options first (may set scorer/publisher/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Database: PostgreSQL when configured, in-memory otherwise
	var (
		profiles   enrich.ProfileStore
		scoreStore scoring.Store
		dlqStore   pipeline.DeadLetterStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.db = db
		s.logger.Info("connected to PostgreSQL", "dsn", maskDSN(cfg.DatabaseURL))

		pgScores := scoring.NewPostgresStore(db)
		if err := pgScores.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("score store migration failed: %w", err)
		}
		pgDLQ := pipeline.NewPostgresDeadLetterStore(db)
		if err := pgDLQ.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("dead letter store migration failed: %w", err)
		}

		profiles = profile.NewPostgresStore(db)
		scoreStore = pgScores
		dlqStore = pgDLQ

		s.healthReg.Register("postgres", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "postgres", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "postgres", Healthy: true}
		})
	} else {
		s.logger.Info("DATABASE_URL not set, using in-memory stores")
		profiles = profile.NewMemoryStore()
		scoreStore = scoring.NewMemoryStore(func() string { return idgen.WithPrefix("score_") }, time.Now)
		dlqStore = pipeline.NewMemoryDeadLetterStore()
	}

	// Score cache: Redis when configured, in-memory otherwise
	var cache scoring.Cache
	if cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(ropts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		s.logger.Info("connected to Redis", "addr", ropts.Addr)
		cache = scoring.NewRedisCache(s.redis, cfg.ScoreCacheTTL)

		s.healthReg.Register("redis", func(ctx context.Context) health.Status {
			if err := s.redis.Ping(ctx).Err(); err != nil {
				return health.Status{Name: "redis", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "redis", Healthy: true}
		})
	} else {
		s.logger.Info("REDIS_URL not set, using in-memory score cache")
		cache = scoring.NewMemoryCache(cfg.ScoreCacheTTL)
	}

	// Event bus: NATS when configured, in-memory otherwise
	if s.publisher == nil {
		if cfg.NATSURL != "" {
			conn, err := emitter.ConnectNATS(cfg.NATSURL)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to NATS: %w", err)
			}
			s.natsConn = conn
			s.publisher = emitter.NewNATSPublisher(conn)
			s.logger.Info("connected to NATS", "url", cfg.NATSURL)

			s.healthReg.Register("nats", func(ctx context.Context) health.Status {
				if !conn.IsConnected() {
					return health.Status{Name: "nats", Healthy: false, Detail: "disconnected"}
				}
				return health.Status{Name: "nats", Healthy: true}
			})
		} else {
			s.logger.Info("NATS_URL not set, using in-memory publisher")
			s.publisher = emitter.NewMemoryPublisher()
		}
	}

	// Scorer backend: external endpoint when configured, fallback-only otherwise
	if s.scorer == nil {
		if cfg.ScorerURL != "" {
			if cfg.IsProduction() {
				if err := security.ValidateEndpointURL(cfg.ScorerURL); err != nil {
					return nil, fmt.Errorf("unsafe SCORER_URL: %w", err)
				}
			}
			s.scorer = scoring.NewHTTPScorer(cfg.ScorerURL, cfg.ScorerTimeout)
			s.logger.Info("external scorer configured", "url", cfg.ScorerURL)
		} else {
			s.logger.Info("SCORER_URL not set, scoring via deterministic fallback only")
			s.scorer = scoring.UnavailableScorer{}
		}
	}

	s.scoringSvc = scoring.NewService(s.scorer, cache,
		scoring.WithStore(scoreStore),
		scoring.WithFeatureSource(scoring.NewStaticFeatureSource()),
		scoring.WithScorerTimeout(cfg.ScorerTimeout),
		scoring.WithBatchLimits(cfg.BatchMax, cfg.BatchConcurrency),
		scoring.WithLogger(s.logger),
	)

	ruleSet, err := rules.LoadOrDefault(cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	s.ruleSet = ruleSet
	s.logger.Info("rule set loaded", "rules", len(ruleSet), "path", cfg.RulesPath)

	s.velocityStore = velocity.NewStore()
	if cfg.VelocityDecayInterval > 0 {
		s.janitor = velocity.NewJanitor(s.velocityStore, cfg.VelocityDecayInterval, cfg.VelocityDecayFactor, s.logger)
	}

	enricher := enrich.New(s.velocityStore, profiles, network.NewMemoryLookup())

	s.pipeline = pipeline.New(
		pipeline.Config{
			Partitions:   cfg.Partitions,
			QueueSize:    cfg.QueueSize,
			EventTimeout: cfg.EventTimeout,
		},
		s.velocityStore,
		enricher,
		s.scoringSvc,
		ruleSet,
		emitter.New(s.publisher, emitter.WithLogger(s.logger)),
		pipeline.WithDeadLetterStore(dlqStore),
		pipeline.WithLogger(s.logger),
	)

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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
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

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/api/v1")

	// Event ingestion into the pipeline
	v1.POST("/events", s.ingestEvent)

	// Scoring facade (compute, cached read, batch, history)
	scoring.NewHandler(s.scoringSvc).RegisterRoutes(v1)

	// Operational read endpoints
	v1.GET("/velocity/:customer_id", s.velocityHandler)
	v1.GET("/rules", s.rulesHandler)
}

// ingestEvent accepts a raw transaction event and submits it to the pipeline.
// Accepted means queued, not decisioned: the outcome arrives on the event
// streams, never in this response.
func (s *Server) ingestEvent(c *gin.Context) {
	var ev events.TransactionEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be a valid transaction event",
		})
		return
	}
	ev.Geo.City = validation.SanitizeString(ev.Geo.City, 128)
	if err := ev.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_event",
			"message": err.Error(),
		})
		return
	}

	if err := s.pipeline.Submit(&ev); err != nil {
		switch {
		case errors.Is(err, pipeline.ErrQueueFull):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "queue_full",
				"message": "Pipeline is at capacity, retry later",
			})
		case errors.Is(err, pipeline.ErrClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "shutting_down",
				"message": "Server is shutting down",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to submit event",
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":      "accepted",
		"txn_id":      ev.TxnID,
		"customer_id": ev.CustomerID,
	})
}

// velocityHandler returns the current rolling counters for a customer.
func (s *Server) velocityHandler(c *gin.Context) {
	customerID := c.Param("customer_id")
	rec := s.velocityStore.Get(customerID)
	c.JSON(http.StatusOK, gin.H{
		"customer_id": customerID,
		"velocity":    velocity.Features(rec),
	})
}

// rulesHandler returns the active rule set.
func (s *Server) rulesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"count": len(s.ruleSet),
		"rules": s.ruleSet,
	})
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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
		"name":        "riskflow",
		"description": "Real-time transaction risk decisioning pipeline",
		"version":     "0.1.0",
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

	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	s.tracesShutdown = shutdown

	s.pipeline.Start()

	if s.janitor != nil {
		go s.janitor.Start(runCtx)
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"partitions", s.cfg.Partitions,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server. Intake stops first so the pipeline
// can drain queued events while the broker connection is still up.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
	}

	// Drain queued events before tearing anything down
	if err := s.pipeline.Close(ctx); err != nil {
		s.logger.Error("pipeline drain error", "error", err)
	} else {
		s.logger.Info("pipeline drained")
	}

	// Cancel the context for remaining background goroutines (janitor, stats)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

	// Close broker and store connections last
	if s.natsConn != nil {
		s.natsConn.Close()
		s.logger.Info("NATS connection closed")
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Pipeline returns the pipeline for testing
func (s *Server) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
