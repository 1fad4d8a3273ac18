// Package server wires the payment gateway together and runs the HTTP server.
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

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/audit"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/chain"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/config"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/escroworder"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/events"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/idmap"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/intent"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/ledger"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/logging"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/metrics"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/scheduler"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/settlement"
)

// Server wraps the HTTP server, the scheduler runner, and all services.
type Server struct {
	cfg        *config.Config
	ledger     *ledger.Engine
	intents    *intent.Service
	escrow     *escroworder.Service
	settlement *settlement.Orchestrator
	runner     *scheduler.Runner
	chain      chain.Adapter
	bus        *events.Bus
	db         *sql.DB // nil if using in-memory
	router     *gin.Engine
	httpSrv    *http.Server
	logger     *slog.Logger

	cancelRunCtx context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithChain injects a chain adapter (for testing).
func WithChain(a chain.Adapter) Option {
	return func(s *Server) {
		s.chain = a
	}
}

// New creates a new server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		bus:    events.NewBus(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		ledgerStore ledger.Store
		intentStore intent.Store
		escrowStore escroworder.Store
		queue       scheduler.Queue
		mapper      idmap.Mapper
		auditStore  audit.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		ledgerStore = ledger.NewPostgresStore(db)
		intentStore = intent.NewPostgresStore(db)
		escrowStore = escroworder.NewPostgresStore(db)
		queue = scheduler.NewPostgresQueue(db)
		mapper = idmap.NewPostgresMapper(db)
		auditStore = audit.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		ledgerStore = ledger.NewMemoryStore()
		intentStore = intent.NewMemoryStore()
		escrowStore = escroworder.NewMemoryStore()
		queue = scheduler.NewMemoryQueue()
		mapper = idmap.NewMemoryMapper()
		auditStore = audit.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	sink := audit.NewSink(auditStore, s.logger)

	// Chain adapter (mock unless a contract is configured)
	if s.chain == nil {
		if cfg.ChainMock {
			s.chain = chain.NewMockAdapter()
			s.logger.Info("chain adapter: mock")
		} else {
			adapter, err := chain.NewEthAdapter(chain.EthConfig{
				RPCURL:     cfg.RPCURL,
				ChainID:    cfg.ChainID,
				Contract:   cfg.EscrowContract,
				PrivateKey: cfg.PrivateKey,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create chain adapter: %w", err)
			}
			s.chain = adapter
			s.logger.Info("chain adapter: eth", "contract", cfg.EscrowContract, "chain_id", cfg.ChainID)
		}
	}

	// Off-ramp provider
	var provider settlement.Provider
	if cfg.SettlementMock {
		provider = settlement.NewMockProvider()
		s.logger.Info("settlement provider: mock")
	} else {
		provider = settlement.NewStripeProvider(cfg.StripeAPIKey)
		s.logger.Info("settlement provider: stripe")
	}

	// Services
	s.ledger = ledger.New(ledgerStore).WithAudit(sink)
	s.runner = scheduler.NewRunner(queue, cfg.SchedulerWorkers, cfg.SchedulerPoll, s.logger)

	s.escrow = escroworder.NewService(escrowStore, s.ledger, s.runner, s.chain, mapper, s.logger).
		WithEvents(s.bus).
		WithAudit(sink)

	s.intents = intent.NewService(intentStore, s.ledger, s.runner, s.chain, s.logger).
		WithEscrow(&escrowCreatorAdapter{s.escrow}).
		WithEvents(s.bus).
		WithAudit(sink)

	s.settlement = settlement.NewOrchestrator(
		s.intents, s.escrow, s.ledger, s.chain, provider, s.runner, s.logger).
		WithEvents(s.bus).
		WithAudit(sink)
	s.escrow.WithSettler(s.settlement)

	// Job handlers
	s.intents.RegisterJobs(s.runner)
	s.escrow.RegisterJobs(s.runner)
	s.settlement.RegisterJobs(s.runner)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// escrowCreatorAdapter adapts escroworder.Service to intent.EscrowCreator.
type escrowCreatorAdapter struct {
	escrow *escroworder.Service
}

func (a *escrowCreatorAdapter) CreateFromIntent(ctx context.Context, it *intent.Intent) error {
	if it.Escrow == nil {
		return errors.New("intent has no escrow parameters")
	}
	_, err := a.escrow.CreateOrder(ctx, escroworder.CreateOrderParams{
		IntentID:           it.ID,
		MerchantID:         it.MerchantID,
		Buyer:              it.Escrow.Buyer,
		Token:              it.Escrow.Token,
		Amount:             it.Amount,
		Currency:           it.Currency,
		ReleaseType:        escroworder.ReleaseType(it.Escrow.ReleaseType),
		AutoReleaseOnProof: it.Escrow.AutoReleaseOnProof,
		TimeLockUntil:      it.Escrow.TimeLockUntil,
		DeliveryDeadline:   it.Escrow.DeliveryDeadline,
		DisputeWindowSecs:  it.Escrow.DisputeWindowSecs,
	})
	return err
}

// maskDSN hides the password in a connection string for logging.
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

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
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
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1")

	intent.NewHandler(s.intents).RegisterRoutes(v1)
	escroworder.NewHandler(s.escrow).RegisterRoutes(v1)
	ledger.NewHandler(s.ledger).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
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
		"name":        "Paygate",
		"description": "Programmable payment gateway with escrow and internal ledger",
		"version":     "0.1.0",
		"chainId":     s.cfg.ChainID,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and the scheduler runner, blocking until a
// shutdown signal arrives.
func (s *Server) Run(ctx context.Context) error {
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
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.runner.Start(runCtx)

	// Pool stats for the metrics endpoint
	if s.db != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					metrics.CollectDBStats(s.db)
				case <-runCtx.Done():
					return
				}
			}
		}()
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

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

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	s.runner.Stop()
	s.logger.Info("scheduler stopped")

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

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// EventBus returns the domain event bus for subscribers.
func (s *Server) EventBus() *events.Bus {
	return s.bus
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
