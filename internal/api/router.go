package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/maverickbet/deposit-gateway/internal/api/handler"
	"github.com/maverickbet/deposit-gateway/internal/api/middleware"
	"github.com/maverickbet/deposit-gateway/internal/idempotency"
	"github.com/maverickbet/deposit-gateway/internal/service"
)

type Router struct {
	db        *pgxpool.Pool
	redis     redis.Cmdable
	idemStore *idempotency.Store
	orderSvc  *service.OrderService
	logger    *zap.Logger
	publicRPS int
	authRPS   int
}

func NewRouter(db *pgxpool.Pool, redisClient redis.Cmdable, idemStore *idempotency.Store, orderSvc *service.OrderService, logger *zap.Logger, publicRPS, authRPS int) *Router {
	if publicRPS <= 0 {
		publicRPS = 20
	}
	if authRPS <= 0 {
		authRPS = 10
	}
	return &Router{
		db:        db,
		redis:     redisClient,
		idemStore: idemStore,
		orderSvc:  orderSvc,
		logger:    logger,
		publicRPS: publicRPS,
		authRPS:   authRPS,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	depositHandler := handler.NewDepositHandler(api.orderSvc)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.publicRPS))
		r.Get("/healthz", healthHandler.Live)
		r.Get("/readyz", healthHandler.Ready)
	})
	r.Handle("/metrics", promhttp.Handler())

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.authRPS))

		r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).
			Post("/v1/deposits", depositHandler.CreateDeposit)
		r.Get("/v1/deposits/{id}", depositHandler.GetDeposit)
		r.Post("/v1/deposits/{id}/cancel", depositHandler.CancelDeposit)
	})

	return r
}
