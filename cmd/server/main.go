package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/ordergate/internal/cache"
	"github.com/GoPolymarket/ordergate/internal/config"
	"github.com/GoPolymarket/ordergate/internal/handler"
	"github.com/GoPolymarket/ordergate/internal/pkg/logger"
	"github.com/GoPolymarket/ordergate/internal/ratelimit"
	"github.com/GoPolymarket/ordergate/internal/repository"
	"github.com/GoPolymarket/ordergate/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ledgerBackend is the full system-of-record contract the gateway needs.
type ledgerBackend interface {
	service.Ledger
	service.OrderExecutor
	service.MarketReader
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Server.LogLevel)
	if cfg.Server.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. Distributed state (Redis > Memory)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = repository.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Error("Redis unavailable at startup, serving from memory until it recovers", "error", err)
		} else {
			logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)
		}
	}

	ttl := cache.TTLPolicyFromMillis(cfg.Cache.TTLMs)
	store := cache.NewMemoryStore(ttl)
	var windows ratelimit.WindowStore = ratelimit.NewMemoryStore()
	if rdb != nil {
		store = cache.NewStore(rdb, cfg.Redis.KeyPrefix, cache.StoreOptions{
			OpTimeout:     cfg.Redis.OpTimeout(),
			ProbeInterval: seconds(cfg.Cache.HealthIntervalSeconds),
			TTL:           ttl,
		})
		if cfg.RateLimit.Backend == "redis" {
			windows = ratelimit.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
		}
	}
	limiter := ratelimit.New(windows, ratelimit.PoliciesFromConfig(cfg.RateLimit), seconds(cfg.RateLimit.MaxAgeSeconds))

	// 3. System of record (Postgres > Memory)
	var (
		ledger    ledgerBackend
		auditRepo service.AuditRepo
		actorRepo service.ActorRepo
	)
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		logger.Info("Connected to PostgreSQL")
		gormLedger := repository.NewGormLedger(db)
		ledger = gormLedger
		actorRepo = gormLedger
		auditRepo = repository.NewGormAuditRepo(db)
	} else {
		logger.Warn("No database configured, using in-memory ledger; audit queries served from buffer")
		ledger = service.NewMemoryLedger()
	}

	// 4. Core services
	auditSvc, err := service.NewAuditService(cfg.Audit, auditRepo)
	if err != nil {
		log.Fatalf("Failed to initialize audit service: %v", err)
	}
	gatewaySvc := service.NewGatewayService(
		limiter,
		service.NewValidator(cfg.Validation, ledger),
		store,
		auditSvc,
		ledger,
		ledger,
		service.GatewayOptions{LargeOrderValue: decimal.NewFromFloat(cfg.Audit.LargeOrderValue)},
	)
	registry := service.NewActorRegistry(cfg.Auth, actorRepo)

	janitor := service.NewJanitor(limiter, store, auditSvc, service.JanitorOptions{
		ReclaimInterval: seconds(cfg.RateLimit.ReclaimIntervalSeconds),
		SweepInterval:   seconds(cfg.Cache.SweepIntervalSeconds),
		HealthInterval:  seconds(cfg.Cache.HealthIntervalSeconds),
		CleanupInterval: time.Duration(cfg.Database.CleanupIntervalMinutes) * time.Minute,
		AuditRetention:  time.Duration(cfg.Database.AuditRetentionDays) * 24 * time.Hour,
	})
	janitor.Start()

	// 5. Router
	r := handler.NewRouter(handler.RouterDeps{
		Config:       cfg,
		Gateway:      gatewaySvc,
		Audit:        auditSvc,
		Limiter:      limiter,
		Registry:     registry,
		CacheBackend: store.Backend,
	})

	// 6. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("OrderGate started", "port", cfg.Server.Port, "cache", store.Backend())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	janitor.Stop()
	auditSvc.Close()
	if rdb != nil {
		_ = rdb.Close()
	}

	logger.Info("Server exiting")
}
