package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bookwell/bookwell/libs/auth"
	"github.com/bookwell/bookwell/libs/config"
	"github.com/bookwell/bookwell/libs/db"
	"github.com/bookwell/bookwell/libs/httpx"
	"github.com/bookwell/bookwell/libs/kafkax"
	"github.com/bookwell/bookwell/libs/mail"
	otelx "github.com/bookwell/bookwell/libs/otel"
	"github.com/bookwell/bookwell/libs/otp"
	"github.com/bookwell/bookwell/libs/outbox"
	"github.com/bookwell/bookwell/libs/runtime"
	"github.com/bookwell/bookwell/services/auth-service/internal/handlers"
	"github.com/bookwell/bookwell/services/auth-service/internal/staff"
	"github.com/bookwell/bookwell/services/auth-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(config.String("ENV_FILE", ".env")); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "auth-service")
	logger := runtime.NewLogger(service)
	if err := run(logger, service); err != nil {
		logger.Error("auth-service exited", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, service string) error {
	port, err := config.Port("PORT", "8081")
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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	repo := storage.NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	secret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		return err
	}
	accessTTL, err := config.Duration("ACCESS_TOKEN_TTL", 15*time.Minute)
	if err != nil {
		return err
	}
	refreshTTL, err := config.Duration("REFRESH_TOKEN_TTL", 30*24*time.Hour)
	if err != nil {
		return err
	}
	policy := otp.DefaultPolicy()
	if policy.TTL, err = config.Duration("OTP_TTL", policy.TTL); err != nil {
		return err
	}
	if policy.MaxAttempts, err = config.Int("OTP_MAX_ATTEMPTS", policy.MaxAttempts); err != nil {
		return err
	}
	codesPerHour, err := config.Int("OTP_REQUESTS_PER_HOUR", 5)
	if err != nil {
		return err
	}

	var limiter httpx.Limiter = httpx.NewMemoryLimiter(codesPerHour, time.Hour)
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
		limiter = httpx.NewRedisLimiter(rdb, codesPerHour, time.Hour, "otp")
	}

	sender := mail.FromConfig(mail.SMTPConfig{
		Host:     config.String("SMTP_HOST", ""),
		Port:     config.String("SMTP_PORT", "1025"),
		Username: config.String("SMTP_USERNAME", ""),
		Password: config.String("SMTP_PASSWORD", ""),
		From:     config.String("SMTP_FROM", "no-reply@bookwell.local"),
	}, logger)

	signer := auth.NewHS256(secret, config.String("JWT_ISSUER", "bookwell"), accessTTL)
	svc := staff.NewService(repo, signer, sender, limiter, logger, staff.Config{
		Policy:     policy,
		RefreshTTL: refreshTTL,
	})

	var writer outbox.Writer
	if brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", "")); len(brokers) > 0 {
		kw := kafkax.NewWriter(brokers)
		defer func() { _ = kw.Close() }()
		writer = kw
	}
	go outbox.NewPublisher(repo, writer, logger, outbox.PublisherConfig{
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	}).Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handlers.NewAuthHandler(svc, logger).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(64<<10),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(handler, "auth"),
		ReadHeaderTimeout: 5 * time.Second,
	}

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
	logger.Info("http server stopped")
	return nil
}
