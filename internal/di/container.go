package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/fx"
	"github.com/op17/storefront-api/internal/payments"
	"github.com/op17/storefront-api/internal/platform/config"
	"github.com/op17/storefront-api/internal/platform/idempotency"
	"github.com/op17/storefront-api/internal/platform/observability"
	ppostgres "github.com/op17/storefront-api/internal/platform/postgres"
	"github.com/op17/storefront-api/internal/repositories"
	"github.com/op17/storefront-api/internal/repositories/memory"
	pgrepo "github.com/op17/storefront-api/internal/repositories/postgres"
	"github.com/op17/storefront-api/internal/services"
)

const (
	meterName         = "github.com/op17/storefront-api"
	probeTimeout      = 2 * time.Second
	redisKeyPrefix    = "op17:idempotency:"
	postgresCheckName = "postgres"
	redisCheckName    = "redis"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart     services.CartService
	Checkout services.CheckoutService
	Orders   services.OrderService
	Payments services.PaymentService
	Refunds  services.RefundService
	Fx       services.FxService
	System   services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Build        services.BuildInfo
	Repositories repositories.Registry
	Services     Services
	Idempotency  idempotency.Store

	logger *zap.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
}

// NewContainer constructs the runtime dependencies. A nil reg selects the store named by
// cfg.Database.Driver; tests can supply an in-memory registry directly.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, reg repositories.Registry) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Container{
		Config: cfg,
		logger: logger,
		Build: services.BuildInfo{
			Version:     cfg.Build.Version,
			CommitSHA:   cfg.Build.CommitSHA,
			Environment: cfg.Environment,
			StartedAt:   time.Now().UTC(),
		},
	}

	var checks []repositories.DependencyCheck
	if cfg.Redis.Addr != "" {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.Idempotency = idempotency.NewRedisStore(c.redis, redisKeyPrefix)
		client := c.redis
		checks = append(checks, repositories.DependencyCheck{
			Name:  redisCheckName,
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	} else {
		c.Idempotency = idempotency.NewMemoryStore()
	}

	if reg == nil {
		built, err := c.openRegistry(ctx, checks)
		if err != nil {
			_ = c.closeClients()
			return nil, err
		}
		reg = built
	}
	c.Repositories = reg

	svc, err := buildServices(reg, cfg, c.Build, observability.NewEventLogger(logger.Named("services")))
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Services = svc
	return c, nil
}

func (c *Container) openRegistry(ctx context.Context, checks []repositories.DependencyCheck) (repositories.Registry, error) {
	switch c.Config.Database.Driver {
	case config.DriverMemory:
		c.logger.Warn("using in-memory order store; data is lost on restart")
		return memory.NewStore(), nil
	case config.DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", c.Config.Database.Driver)
	}

	pool, err := ppostgres.Open(ctx, ppostgres.PoolConfig{
		URL:      c.Config.Database.URL,
		MaxConns: c.Config.Database.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	c.pool = pool
	if err := pgrepo.EnsureSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	checks = append([]repositories.DependencyCheck{{
		Name:  postgresCheckName,
		Check: pool.Ping,
	}}, checks...)
	health, err := repositories.NewDependencyHealthRepository(checks, repositories.WithProbeTimeout(probeTimeout))
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}
	return pgrepo.NewRegistry(ppostgres.NewDB(pool), health)
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.closeClients(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Container) closeClients() error {
	var err error
	if c.redis != nil {
		err = c.redis.Close()
		c.redis = nil
	}
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
	return err
}

func buildServices(reg repositories.Registry, cfg config.Config, build services.BuildInfo, logger observability.EventLogger) (Services, error) {
	var svc Services
	meter := otel.Meter(meterName)

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:      reg.Carts(),
		Catalog:    reg.Catalog(),
		UnitOfWork: reg,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Repositories:         reg,
		Clock:                time.Now,
		Logger:               logger,
		OrderNumberGenerator: domain.NewOrderNumber,
		Meter:                meter,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Repositories: reg,
		Clock:        time.Now,
		Logger:       logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	providers, err := buildPaymentProviders(cfg.Payments, payments.Logger(logger))
	if err != nil {
		return Services{}, err
	}
	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Repositories: reg,
		Providers:    providers,
		Clock:        time.Now,
		Logger:       logger,
		Meter:        meter,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	refundSvc, err := services.NewRefundService(services.RefundServiceDeps{
		Repositories: reg,
		Clock:        time.Now,
		Logger:       logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build refund service: %w", err)
	}
	svc.Refunds = refundSvc

	fxSvc, err := services.NewFxService(services.FxServiceDeps{
		Rates: reg.FxRates(),
		Fetcher: fx.NewECBClient(fx.ECBConfig{
			URL:     cfg.FX.ECBURL,
			Timeout: cfg.FX.Timeout,
		}),
		Clock:  time.Now,
		Logger: logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fx service: %w", err)
	}
	svc.Fx = fxSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// buildPaymentProviders registers every configured provider. Providers without usable credentials
// stay known to the registry but report misconfiguration instead of being silently unsupported.
func buildPaymentProviders(cfg config.PaymentsConfig, logger payments.Logger) (*payments.Registry, error) {
	var list []payments.Provider
	disabled := make(map[domain.PaymentProvider]error)
	notConfigured := fmt.Errorf("%w: credentials not configured", payments.ErrProviderMisconfigured)

	if cfg.LiqPay.Configured() {
		liqpay, err := payments.NewLiqPayProvider(payments.LiqPayProviderConfig{
			PublicKey:  cfg.LiqPay.PublicKey,
			PrivateKey: cfg.LiqPay.PrivateKey,
			ServerURL:  cfg.LiqPay.ServerURL,
			ResultURL:  cfg.LiqPay.ResultURL,
			Sandbox:    cfg.LiqPay.Sandbox,
			Logger:     logger,
		})
		if err != nil {
			disabled[domain.ProviderLiqPay] = err
		} else {
			list = append(list, liqpay)
		}
	} else {
		disabled[domain.ProviderLiqPay] = notConfigured
	}

	if cfg.Monobank.Configured() {
		monobank, err := payments.NewMonobankProvider(payments.MonobankProviderConfig{
			Token:       cfg.Monobank.Token,
			PublicKey:   cfg.Monobank.PublicKey,
			BaseURL:     cfg.Monobank.BaseURL,
			RedirectURL: cfg.Monobank.RedirectURL,
			WebhookURL:  cfg.Monobank.WebhookURL,
			Timeout:     cfg.Monobank.Timeout,
			Logger:      logger,
		})
		if err != nil {
			disabled[domain.ProviderMonobank] = err
		} else {
			list = append(list, monobank)
		}
	} else {
		disabled[domain.ProviderMonobank] = notConfigured
	}

	registry, err := payments.NewRegistry(list...)
	if err != nil {
		return nil, fmt.Errorf("build payment registry: %w", err)
	}
	for name, reason := range disabled {
		registry.Disable(name, reason)
		logger(context.Background(), "payments.provider.disabled", map[string]any{
			"provider": string(name),
			"reason":   reason.Error(),
		})
	}
	return registry, nil
}
