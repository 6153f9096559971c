package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kkkkikiki/couponbook/internal/clock"
	"github.com/kkkkikiki/couponbook/internal/codegen"
	"github.com/kkkkikiki/couponbook/internal/config"
	"github.com/kkkkikiki/couponbook/internal/coupon"
	"github.com/kkkkikiki/couponbook/internal/couponrpc"
	"github.com/kkkkikiki/couponbook/internal/database"
	"github.com/kkkkikiki/couponbook/internal/lockmgr"
	"github.com/kkkkikiki/couponbook/internal/logging"
	"github.com/kkkkikiki/couponbook/internal/repository"
	"github.com/kkkkikiki/couponbook/internal/scheduler"
	"github.com/kkkkikiki/couponbook/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.App.Environment, cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		zap.S().Fatalw("coupon service failed", "error", err)
	}
	zap.S().Info("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	zap.S().Infow("Starting coupon book service", "environment", cfg.App.Environment)

	// Initialize database connections
	db, err := database.NewDB(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			zap.S().Errorw("Error closing database connections", "error", err)
		}
	}()

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	var locks lockmgr.Manager
	switch cfg.Lock.Backend {
	case config.LockBackendMemory:
		locks = lockmgr.NewTable(0)
	default:
		advisory := lockmgr.NewAdvisory(db.Locks, cfg.Lock.MaxConns, logger)
		defer func() {
			if err := advisory.Close(context.Background()); err != nil {
				zap.S().Errorw("Error releasing advisory locks", "error", err)
			}
		}()
		locks = advisory
	}
	zap.S().Infow("Coupon lock backend ready", "backend", cfg.Lock.Backend)

	store := repository.NewPostgresStore(db.Postgres)
	clk := clock.Real{}

	catalog := coupon.NewCatalog(store, codegen.New(cfg.Code.Charset), clk, logger, cfg.Code.DefaultLength)
	coordinator := coupon.NewCoordinator(store, locks, clk, logger)
	assigner := coupon.NewAssigner(store, logger)
	couponService := service.NewCouponServer(catalog, coordinator, assigner, cfg.Lock.LockDuration(), logger)

	// Create HTTP mux
	mux := http.NewServeMux()

	// Register coupon service handler
	path, handler := couponrpc.NewCouponServiceHandler(couponService)
	mux.Handle(path, handler)

	// Add health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		hostname, _ := os.Hostname()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","service":"coupon-book","hostname":%q}`, hostname)
	})

	// Add database health check endpoint
	mux.HandleFunc("/health/db", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Postgres.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","message":"postgres unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","postgres":"connected"}`))
	})

	// Add Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		// Use h2c so we can serve HTTP/2 without TLS
		Handler: h2c.NewHandler(mux, &http2.Server{
			MaxConcurrentStreams: 1000,
		}),
	}

	sched := scheduler.New(coordinator, locks, logger, cfg.Lock.SweepBatch)
	if err := sched.Start(cfg.Lock.SweepSchedule); err != nil {
		return err
	}
	defer sched.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.S().Infow("Starting coupon service", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.S().Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
