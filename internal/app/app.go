// Package app wires the API server together.
package app

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bytekart/internal/domain/account"
	"github.com/xenking/bytekart/internal/domain/discount"
	"github.com/xenking/bytekart/internal/domain/notification"
	"github.com/xenking/bytekart/internal/domain/order"
	"github.com/xenking/bytekart/internal/domain/payment"
	"github.com/xenking/bytekart/internal/gateway/razorpay"
	"github.com/xenking/bytekart/internal/gateway/sandbox"
	"github.com/xenking/bytekart/internal/handler"
	"github.com/xenking/bytekart/internal/idempotency"
	"github.com/xenking/bytekart/internal/identity"
	"github.com/xenking/bytekart/internal/messaging/kafka"
	"github.com/xenking/bytekart/internal/storage/postgres"
	"github.com/xenking/bytekart/pkg/health"
	"github.com/xenking/bytekart/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the unpaid order
// sweeper, and shuts both down when ctx is cancelled.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("gateway", cfg.Gateway.Mode),
	)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New(lg.Named("health"))
	healthSvc.Readiness("postgres", health.PingCheck(pool), health.WithTimeout(5*time.Second))
	healthSvc.Liveness("goroutines", health.GoroutineCountCheck(10000))

	rdb, err := newRedis(cfg.Redis)
	if err != nil {
		return errors.Wrap(err, "create redis client")
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		healthSvc.Readiness("redis", health.RedisCheck(rdb))
	}

	// Repositories.
	accounts := postgres.NewAccountRepository(pool)
	carts := postgres.NewCartRepository(pool)
	orderStore := postgres.NewOrderStore(pool)
	discounts := discount.NewService(postgres.NewDiscountRepository(pool))

	gateway, sandboxPayer, err := newGateway(cfg.Gateway, m)
	if err != nil {
		return errors.Wrap(err, "create payment gateway")
	}

	var notifier notification.Notifier = notification.NewLogNotifier(lg.Named("notify"))
	if len(cfg.Notify.Brokers) > 0 {
		publisher, err := kafka.NewPublisher(cfg.Notify.Topic, cfg.Notify.Brokers...)
		if err != nil {
			return errors.Wrap(err, "create kafka publisher")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				lg.Error("Close kafka publisher", zap.Error(err))
			}
		}()
		notifier = publisher
	}
	dispatcher := notification.NewDispatcher(notifier, cfg.Notify.Timeout)
	// Deferred after the publisher so pending events drain before it closes.
	defer dispatcher.Wait()

	orders, err := order.NewService(order.Deps{
		Store:          orderStore,
		Carts:          carts,
		Codes:          discounts,
		Accounts:       accounts,
		Gateway:        gateway,
		Notifications:  dispatcher,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	}, order.Config{
		Currency:          cfg.Gateway.Currency,
		ReturnWindowDays:  cfg.Orders.ReturnWindowDays,
		GatewayTimeout:    cfg.Gateway.Timeout,
		StrictTransitions: cfg.Orders.StrictTransitions,
		AdminRecipients:   cfg.Notify.AdminRecipients,
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	sweeper := order.NewSweeper(orderStore, gateway, order.SweeperConfig{
		PendingTTL: cfg.Orders.PendingTTL,
		Interval:   cfg.Orders.SweepInterval,
	})

	auth, err := newAuthenticator(cfg.Auth, accounts, m)
	if err != nil {
		return errors.Wrap(err, "create authenticator")
	}

	var (
		idem    idempotency.Store = idempotency.NewMemoryStore()
		limiter httpmiddleware.Limiter
		memory  *httpmiddleware.MemoryLimiter
	)
	limitCfg := httpmiddleware.RateLimitConfig{Max: cfg.RateLimit.Max, Window: cfg.RateLimit.Window}
	if rdb != nil {
		idem = idempotency.NewRedisStore(rdb)
		limiter = httpmiddleware.NewRedisLimiter(rdb, limitCfg)
	} else {
		memory = httpmiddleware.NewMemoryLimiter(limitCfg)
		limiter = memory
	}

	h := handler.New(handler.Deps{
		Orders:         orders,
		Discounts:      discounts,
		Carts:          carts,
		Accounts:       accounts,
		Gateway:        gateway,
		Auth:           auth,
		Sandbox:        sandboxPayer,
		Idempotency:    idem,
		IdempotencyTTL: cfg.Redis.IdempotencyTTL,
	})

	r := chi.NewRouter()
	r.Use(
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.Instrument("bytekart-api", m.TracerProvider(), m.MeterProvider()),
		httpmiddleware.LogRequests(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", idempotency.HeaderKey, httpmiddleware.HeaderRequestID},
			ExposeHeaders:    []string{idempotency.HeaderReplay, httpmiddleware.HeaderRequestID, "Retry-After"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(limitCfg, limiter),
	)
	healthSvc.Mount(r)
	h.Mount(r)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Checkout waits on the gateway.
		WriteTimeout:   cfg.Gateway.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler:        r,
		BaseContext:    func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	healthSvc.Start(ctx, 10*time.Second)
	defer healthSvc.Stop()
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	if memory != nil {
		g.Go(func() error {
			memory.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	return g.Wait()
}

// newRedis returns nil when no address is configured.
func newRedis(cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	if strings.Contains(cfg.Addr, "://") {
		opts, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.Addr}), nil
}

// newGateway returns the configured gateway and, in sandbox mode, the payer
// behind the sandbox pay route.
func newGateway(cfg GatewayConfig, m *app.Telemetry) (payment.Gateway, handler.SandboxPayer, error) {
	if cfg.Mode == GatewayRazorpay {
		client, err := razorpay.New(razorpay.Config{
			BaseURL:        cfg.BaseURL,
			KeyID:          cfg.KeyID,
			KeySecret:      cfg.KeySecret,
			Timeout:        cfg.Timeout,
			TracerProvider: m.TracerProvider(),
		})
		if err != nil {
			return nil, nil, err
		}
		return client, nil, nil
	}
	gw, err := sandbox.New(cfg.KeySecret)
	if err != nil {
		return nil, nil, err
	}
	return gw, gw, nil
}

func newAuthenticator(cfg AuthConfig, accounts account.Repository, m *app.Telemetry) (*identity.Authenticator, error) {
	idCfg := identity.Config{
		HMACSecret: cfg.HMACSecret,
		Issuer:     cfg.Issuer,
		Leeway:     cfg.Leeway,
	}
	if cfg.JWKSURL != "" {
		client := &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport, otelhttp.WithTracerProvider(m.TracerProvider())),
		}
		idCfg.KeySet = identity.NewKeySet(cfg.JWKSURL, client)
	}
	v, err := identity.NewVerifier(idCfg)
	if err != nil {
		return nil, err
	}
	return identity.NewAuthenticator(v, accounts), nil
}
