package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/bookwell/bookwell/libs/config"
	"github.com/bookwell/bookwell/libs/db"
	"github.com/bookwell/bookwell/libs/grpcx"
	"github.com/bookwell/bookwell/libs/httpx"
	"github.com/bookwell/bookwell/libs/kafkax"
	"github.com/bookwell/bookwell/libs/mail"
	otelx "github.com/bookwell/bookwell/libs/otel"
	"github.com/bookwell/bookwell/libs/otp"
	"github.com/bookwell/bookwell/libs/outbox"
	"github.com/bookwell/bookwell/libs/runtime"
	"github.com/bookwell/bookwell/services/booking-service/internal/billing"
	"github.com/bookwell/bookwell/services/booking-service/internal/booking"
	"github.com/bookwell/bookwell/services/booking-service/internal/cache"
	"github.com/bookwell/bookwell/services/booking-service/internal/customers"
	"github.com/bookwell/bookwell/services/booking-service/internal/grpcapi"
	"github.com/bookwell/bookwell/services/booking-service/internal/handlers"
	"github.com/bookwell/bookwell/services/booking-service/internal/metrics"
	"github.com/bookwell/bookwell/services/booking-service/internal/notify"
	"github.com/bookwell/bookwell/services/booking-service/internal/onboarding"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(config.String("ENV_FILE", ".env")); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	logger := runtime.NewLogger(service)

	if err := run(logger, service); err != nil {
		logger.Error("booking-service exited", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, service string) error {
	port, err := config.Port("PORT", "8083")
	if err != nil {
		return err
	}
	grpcPort, err := config.Port("GRPC_PORT", "9083")
	if err != nil {
		return err
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	store, closeStore, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: store.Ping},
		{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	}

	var (
		slotCache booking.SlotCache
		limiter   httpx.Limiter
	)
	codesPerHour, err := config.Int("OTP_REQUESTS_PER_HOUR", 5)
	if err != nil {
		return err
	}
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		redisDB, err := config.Int("REDIS_DB", 0)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		defer func() { _ = rdb.Close() }()

		ttl, err := config.Duration("SLOT_CACHE_TTL", 30*time.Second)
		if err != nil {
			return err
		}
		sc := cache.NewSlotCache(rdb, ttl, logger)
		slotCache = sc
		limiter = httpx.NewRedisLimiter(rdb, codesPerHour, time.Hour, "otp")
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: sc.Ping})
		logger.Info("redis enabled", "addr", addr, "slot_cache_ttl", ttl)
	} else {
		limiter = httpx.NewMemoryLimiter(codesPerHour, time.Hour)
		logger.Info("redis not configured; slot cache disabled, otp throttling in-memory")
	}

	sender := mail.FromConfig(mail.SMTPConfig{
		Host:     config.String("SMTP_HOST", ""),
		Port:     config.String("SMTP_PORT", "1025"),
		Username: config.String("SMTP_USERNAME", ""),
		Password: config.String("SMTP_PASSWORD", ""),
		From:     config.String("SMTP_FROM", "no-reply@bookwell.local"),
	}, logger)
	mailer := notify.NewMailer(sender)
	m := metrics.New(prometheus.DefaultRegisterer)

	emailTimeout, err := config.Duration("EMAIL_TIMEOUT", 10*time.Second)
	if err != nil {
		return err
	}
	freeLimit, err := config.Int("FREE_TIER_MONTHLY_LIMIT", 200)
	if err != nil {
		return err
	}
	engine := booking.NewEngine(store, slotCache, mailer, m, logger, booking.Config{
		EmailTimeout:     emailTimeout,
		FreeMonthlyLimit: freeLimit,
	})

	policy := otp.DefaultPolicy()
	if policy.TTL, err = config.Duration("OTP_TTL", policy.TTL); err != nil {
		return err
	}
	if policy.MaxAttempts, err = config.Int("OTP_MAX_ATTEMPTS", policy.MaxAttempts); err != nil {
		return err
	}
	sessionTTL, err := config.Duration("CUSTOMER_SESSION_TTL", 30*24*time.Hour)
	if err != nil {
		return err
	}
	identity := customers.NewService(store, mailer, limiter, logger, customers.Config{
		Policy:     policy,
		SessionTTL: sessionTTL,
	})

	tolerance, err := config.Duration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute)
	if err != nil {
		return err
	}
	webhooks := billing.NewWebhooks(store, logger, billing.Config{
		Secret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		Tolerance:        tolerance,
		FreeMonthlyLimit: freeLimit,
	})

	api := handlers.New(handlers.Deps{
		Store:        store,
		Engine:       engine,
		Customers:    identity,
		Onboarding:   onboarding.NewService(store),
		Billing:      webhooks,
		Metrics:      m,
		Logger:       logger,
		CookieSecure: config.Bool("SESSION_COOKIE_SECURE", false),
	})

	var writer outbox.Writer
	if brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", "")); len(brokers) > 0 {
		kw := kafkax.NewWriter(brokers)
		defer func() { _ = kw.Close() }()
		writer = kw
	}
	publisher := outbox.NewPublisher(store, writer, logger, outbox.PublisherConfig{
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/api/", api.Routes())
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(mux, "booking"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpcx.NewServer(logger)
	grpcapi.Register(grpcServer, store, engine, logger)
	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		return err
	}

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	grpcServer.GracefulStop()
	logger.Info("servers stopped")
	return nil
}

// openStore picks the backing database from STORE_DRIVER.
func openStore(ctx context.Context, logger *slog.Logger) (*storage.SQLStore, func(), error) {
	switch driver := strings.ToLower(config.String("STORE_DRIVER", "postgres")); driver {
	case "postgres":
		dbURL, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return nil, nil, err
		}
		pool, err := db.Open(ctx, dbURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("store opened", "driver", driver)
		return storage.OpenPostgres(pool), pool.Close, nil
	case "sqlite":
		path := config.String("SQLITE_PATH", "bookwell.db")
		store, err := storage.OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("store opened", "driver", driver, "path", path)
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, errors.New("STORE_DRIVER must be postgres or sqlite")
	}
}
