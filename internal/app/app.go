package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/maverickbet/deposit-gateway/internal/api"
	"github.com/maverickbet/deposit-gateway/internal/api/middleware"
	"github.com/maverickbet/deposit-gateway/internal/config"
	"github.com/maverickbet/deposit-gateway/internal/db"
	"github.com/maverickbet/deposit-gateway/internal/domain"
	"github.com/maverickbet/deposit-gateway/internal/explorer"
	"github.com/maverickbet/deposit-gateway/internal/idempotency"
	"github.com/maverickbet/deposit-gateway/internal/ledger"
	"github.com/maverickbet/deposit-gateway/internal/models"
	"github.com/maverickbet/deposit-gateway/internal/observability"
	"github.com/maverickbet/deposit-gateway/internal/registry"
	"github.com/maverickbet/deposit-gateway/internal/repository"
	"github.com/maverickbet/deposit-gateway/internal/service"
	"github.com/maverickbet/deposit-gateway/internal/worker"
)

// Run bootstraps the HTTP server and reconciliation workers, blocking until
// shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	var redisClient redis.Cmdable
	if cfg.RedisURL != "" {
		client, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		redisClient = client
	}

	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	store := repository.NewStore(pool)

	registryClient, err := newRegistryClient(cfg)
	if err != nil {
		return err
	}
	ledgerClient := newLedgerClient(cfg, logger)

	scanner := explorer.NewMultiChainScanner(
		explorer.NewTronClient(cfg.TronAPIURL, cfg.TronUSDTContract, cfg.ScanPageSize),
		explorer.NewEtherscanClient(cfg.EtherscanAPIURL, cfg.EtherscanAPIKey, cfg.ERC20USDTContract, cfg.ScanPageSize),
	)

	orderSvc := service.NewOrderService(store, registryClient, cfg.DepositWindow)
	settlementSvc := service.NewSettlementService(store, ledgerClient)
	reconciliationSvc := service.NewReconciliationService(store, scanner, settlementSvc, cfg.ScanSafetySkew)

	reconciliationWorker := worker.NewReconciliationWorker(reconciliationSvc).
		WithInterval(cfg.ReconcileInterval).
		WithCycleTimeout(cfg.ReconcileTimeout)
	creditRepairWorker := worker.NewCreditRepairWorker(settlementSvc).
		WithInterval(cfg.CreditRepairInterval)

	stopReconciliation := reconciliationWorker.Run(ctx)
	stopCreditRepair := creditRepairWorker.Run(ctx)
	logger.Info("workers started",
		zap.Duration("reconcile_interval", cfg.ReconcileInterval),
		zap.Duration("credit_repair_interval", cfg.CreditRepairInterval),
	)

	router := api.NewRouter(pool, redisClient, idemStore, orderSvc, logger, cfg.PublicRateLimitRPS, cfg.AuthRateLimitRPS)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopReconciliation()
	stopCreditRepair()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// newRegistryClient prefers the remote payment method registry; without one it
// serves the statically configured addresses and rate.
func newRegistryClient(cfg *config.Config) (registry.Client, error) {
	if cfg.RegistryURL != "" {
		return registry.NewHTTPClient(cfg.RegistryURL), nil
	}

	rate, err := decimal.NewFromString(cfg.USDTRate)
	if err != nil {
		return nil, fmt.Errorf("invalid USDT_RATE: %w", err)
	}
	var methods []models.PaymentMethod
	if cfg.TRC20ReceiveAddress != "" {
		methods = append(methods, models.PaymentMethod{
			Chain:          domain.ChainTRC20,
			ReceiveAddress: cfg.TRC20ReceiveAddress,
			Rate:           rate,
		})
	}
	if cfg.ERC20ReceiveAddress != "" {
		methods = append(methods, models.PaymentMethod{
			Chain:          domain.ChainERC20,
			ReceiveAddress: cfg.ERC20ReceiveAddress,
			Rate:           rate,
		})
	}
	return registry.NewStaticClient(methods), nil
}

func newLedgerClient(cfg *config.Config, logger *zap.Logger) ledger.Client {
	if cfg.LedgerURL != "" {
		return ledger.NewHTTPClient(cfg.LedgerURL)
	}
	logger.Warn("LEDGER_URL not configured, using in-memory ledger client")
	return ledger.NewMockClient()
}
