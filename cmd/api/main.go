package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/op17/storefront-api/internal/di"
	"github.com/op17/storefront-api/internal/handlers"
	"github.com/op17/storefront-api/internal/platform/auth"
	"github.com/op17/storefront-api/internal/platform/config"
	"github.com/op17/storefront-api/internal/platform/idempotency"
	"github.com/op17/storefront-api/internal/platform/observability"
)

const (
	serviceName       = "storefront-api"
	fxRefreshTimeout  = 30 * time.Second
	cleanupRunTimeout = time.Minute
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", validation.Fields())
		} else {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		}
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api").With(zap.String("environment", cfg.Environment))
	ctx = observability.WithLogger(ctx, logger)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	container, err := di.NewContainer(ctx, cfg, logger, nil)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	cleanupLogger := logger.Named("idempotency")
	runPeriodic(workerCtx, &workers, cfg.Idempotency.CleanupInterval, func(ctx context.Context) {
		runCtx, cancel := context.WithTimeout(ctx, cleanupRunTimeout)
		defer cancel()
		removed, err := container.Idempotency.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
		if err != nil {
			cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
			return
		}
		if removed > 0 {
			cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
		}
	})

	fxLogger := logger.Named("fx")
	runPeriodic(workerCtx, &workers, cfg.FX.RefreshInterval, func(ctx context.Context) {
		runCtx, cancel := context.WithTimeout(observability.WithLogger(ctx, fxLogger), fxRefreshTimeout)
		defer cancel()
		rates, err := container.Services.Fx.Refresh(runCtx)
		if err != nil {
			fxLogger.Warn("scheduled fx refresh failed", zap.Error(err))
			return
		}
		fxLogger.Info("scheduled fx refresh stored rates", zap.Int("count", len(rates)))
	})

	router := newRouter(cfg, container, logger)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening", zap.String("version", container.Build.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	workerCancel()
	workers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newRouter(cfg config.Config, container *di.Container, logger *zap.Logger) chi.Router {
	svc := container.Services
	authenticator := auth.NewAuthenticator(auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience))

	idempotencyOpts := []idempotency.MiddlewareOption{
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	}
	checkoutIdempotency := idempotency.Middleware(container.Idempotency, append(idempotencyOpts,
		idempotency.WithOptionalKey(),
		idempotency.WithScope(handlers.CartSessionScope),
	)...)
	refundIdempotency := idempotency.Middleware(container.Idempotency, idempotencyOpts...)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(serviceName),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}
	if len(cfg.CORS.AllowedOrigins) > 0 {
		middlewares = append(middlewares, cors.New(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", cfg.Idempotency.Header},
			ExposedHeaders:   []string{"Location", observability.TraceIDHeader},
			AllowCredentials: true,
			MaxAge:           600,
		}).Handler)
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(container.Build),
		handlers.WithHealthSystemService(svc.System),
	)
	cartHandlers := handlers.NewCartHandlers(svc.Cart, handlers.WithSecureCartCookie(cfg.Environment != "local"))
	checkoutHandlers := handlers.NewCheckoutHandlers(svc.Cart, svc.Checkout)
	orderHandlers := handlers.NewOrderHandlers(svc.Orders)
	paymentHandlers := handlers.NewPaymentHandlers(svc.Payments)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Payments)
	adminHandlers := handlers.NewAdminOrderHandlers(svc.Orders, svc.Refunds,
		handlers.WithRefundCreateMiddlewares(refundIdempotency),
	)
	fxHandlers := handlers.NewFxHandlers(svc.Fx)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(func(r chi.Router) {
			r.Route("/fx", fxHandlers.Routes)
		}),
		handlers.WithStorefrontMiddlewares(
			authenticator.OptionalAuth(),
			observability.ActorMiddleware,
			handlers.RateLimitMiddleware(cfg.RateLimits.DefaultPerMinute),
		),
		handlers.WithCheckoutMiddlewares(checkoutIdempotency),
		handlers.WithAdminMiddlewares(
			authenticator.RequireAuth(auth.RoleAdmin),
			observability.ActorMiddleware,
			handlers.RateLimitMiddleware(cfg.RateLimits.AuthenticatedPerMinute),
		),
		handlers.WithWebhookMiddlewares(handlers.RateLimitMiddleware(cfg.RateLimits.WebhookBurst)),
		handlers.WithInternalMiddlewares(auth.RequireSharedSecret(cfg.FX.SecretHeader, cfg.FX.Secret)),
	}
	return handlers.NewRouter(opts...)
}

// runPeriodic invokes fn every interval until ctx is cancelled. A non-positive interval disables it.
func runPeriodic(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}
