package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-fulfillment/internal/domain/auth"
	"github.com/xenking/storefront-fulfillment/internal/domain/cart"
	"github.com/xenking/storefront-fulfillment/internal/domain/compensation"
	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/domain/payment"
	"github.com/xenking/storefront-fulfillment/internal/domain/pricing"
	"github.com/xenking/storefront-fulfillment/internal/gateway/paystack"
	"github.com/xenking/storefront-fulfillment/internal/handler"
	"github.com/xenking/storefront-fulfillment/internal/lock"
	"github.com/xenking/storefront-fulfillment/internal/notify"
	"github.com/xenking/storefront-fulfillment/internal/repository"
	"github.com/xenking/storefront-fulfillment/pkg/health"
	"github.com/xenking/storefront-fulfillment/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the background
// workers, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	policy, err := cfg.Shop.Policy()
	if err != nil {
		return err
	}

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.Ping(pool))
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	tx := repository.NewTxManager(pool)
	catalogRepo := repository.NewCatalogRepository(pool)
	stockRepo := repository.NewStockRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool)
	identityRepo := repository.NewIdentityRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	// Optional infrastructure.
	var locker compensation.Locker = compensation.NopLocker{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		healthSvc.Add(health.Readiness, "redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		locker = lock.New(rdb)
	}

	var notifier notify.Notifier = notify.LogNotifier{}
	if len(cfg.Kafka.Brokers) > 0 {
		kn := notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer func() {
			if err := kn.Close(); err != nil {
				lg.Warn("Close kafka writer", zap.Error(err))
			}
		}()
		healthSvc.Add(health.Readiness, "kafka", 2*time.Second, func(ctx context.Context) error {
			conn, err := kafka.DialContext(ctx, "tcp", cfg.Kafka.Brokers[0])
			if err != nil {
				return err
			}
			return conn.Close()
		})
		notifier = kn
	}

	// Domain services.
	cartService := cart.NewService(tx, cartRepo, catalogRepo, stockRepo, policy)
	orderService, err := order.NewService(order.Deps{
		Tx:        tx,
		Directory: identityRepo,
		Carts:     cartRepo,
		Pricer:    pricing.NewValidator(catalogRepo, policy),
		Catalog:   catalogRepo,
		Ledger:    stockRepo,
		Orders:    orderRepo,
		Outbox:    outboxRepo,
		Tracer:    m.TracerProvider(),
		Meter:     m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	gateway := paystack.New(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey,
		paystack.WithHTTPClient(&http.Client{Timeout: cfg.Gateway.Timeout}),
	)
	reconciler, err := payment.NewReconciler(payment.Deps{
		Tx:        tx,
		Orders:    orderRepo,
		Directory: identityRepo,
		Carts:     cartRepo,
		Ledger:    stockRepo,
		Outbox:    outboxRepo,
		Gateway:   gateway,
		Callbacks: payment.Callbacks{
			Payment:     cfg.Gateway.PaymentCallback,
			DeliveryFee: cfg.Gateway.DeliveryFeeCallback,
		},
		Tracer: m.TracerProvider(),
		Meter:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create reconciler")
	}

	scheduler, err := compensation.NewScheduler(compensation.Deps{
		Tx:     tx,
		Orders: orderRepo,
		Carts:  cartRepo,
		Ledger: stockRepo,
		Locker: locker,
		Meter:  m.MeterProvider(),
	}, compensation.Config{
		Grace:     cfg.Shop.Grace,
		Interval:  cfg.Scheduler.Interval,
		BatchSize: cfg.Scheduler.BatchSize,
		LockTTL:   cfg.Redis.LockTTL,
	})
	if err != nil {
		return errors.Wrap(err, "create scheduler")
	}

	worker, err := notify.NewWorker(notify.WorkerDeps{
		Tx:        tx,
		Events:    outboxRepo,
		Orders:    orderRepo,
		Directory: identityRepo,
		Notifier:  notifier,
		Meter:     m.MeterProvider(),
	}, notify.WorkerConfig{
		Interval:    cfg.Outbox.Interval,
		Lease:       cfg.Outbox.Lease,
		BatchSize:   cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return errors.Wrap(err, "create notification worker")
	}

	// HTTP handlers.
	h := handler.New(handler.Config{
		WebhookSecret:   []byte(cfg.Gateway.SecretKey),
		SignatureHeader: cfg.Gateway.SignatureHeader,
	}, handler.Deps{
		Carts:    cartService,
		Orders:   orderService,
		Payments: reconciler,
		Sweeper:  scheduler,
		Admins:   auth.NewAuthenticator(apikeyRepo, []byte(cfg.Admin.APIKeyPepper)),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.Live)
	mux.HandleFunc("/readyz", healthSvc.ReadyHandler)
	mux.Handle("/", h.Router())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Gateway.Timeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", httpmiddleware.UserIDHeader, handler.APIKeyHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("storefront-api", m.TracerProvider(), m.MeterProvider()),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return healthSvc.Run(gctx, 10*time.Second)
	})
	g.Go(func() error {
		wctx := zctx.Base(gctx, lg.Named("outbox"))
		return errors.Wrap(worker.Run(wctx), "notification worker")
	})
	g.Go(func() error {
		sctx := zctx.Base(gctx, lg.Named("compensation"))
		return errors.Wrap(scheduler.Run(sctx), "compensation scheduler")
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}
