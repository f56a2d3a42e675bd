package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bookwell/bookwell/libs/bookingapi"
	"github.com/bookwell/bookwell/libs/config"
	"github.com/bookwell/bookwell/libs/db"
	"github.com/bookwell/bookwell/libs/grpcx"
	"github.com/bookwell/bookwell/libs/httpx"
	"github.com/bookwell/bookwell/libs/kafkax"
	"github.com/bookwell/bookwell/libs/mail"
	otelx "github.com/bookwell/bookwell/libs/otel"
	"github.com/bookwell/bookwell/libs/runtime"
	"github.com/bookwell/bookwell/services/notification-service/internal/alerts"
	"github.com/bookwell/bookwell/services/notification-service/internal/consumer"
	"github.com/bookwell/bookwell/services/notification-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(config.String("ENV_FILE", ".env")); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "notification-service")
	logger := runtime.NewLogger(service)

	if err := run(logger, service); err != nil {
		logger.Error("notification-service exited", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, service string) error {
	port, err := config.Port("PORT", "8085")
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

	conn, err := grpcx.Dial(config.String("BOOKING_GRPC_ADDR", "localhost:9083"), grpcx.DialOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	sender := mail.FromConfig(mail.SMTPConfig{
		Host:     config.String("SMTP_HOST", ""),
		Port:     config.String("SMTP_PORT", "1025"),
		Username: config.String("SMTP_USERNAME", ""),
		Password: config.String("SMTP_PASSWORD", ""),
		From:     config.String("SMTP_FROM", "no-reply@bookwell.local"),
	}, logger)

	retryEvery, err := config.Duration("RETRY_INTERVAL", 30*time.Second)
	if err != nil {
		return err
	}
	backoff, err := config.Duration("RETRY_BACKOFF", time.Minute)
	if err != nil {
		return err
	}
	maxAttempts, err := config.Int("RETRY_MAX_ATTEMPTS", 5)
	if err != nil {
		return err
	}
	lease, err := config.Duration("RETRY_LEASE", time.Minute)
	if err != nil {
		return err
	}
	svc := alerts.NewService(repo, bookingapi.NewClient(conn), sender, logger, alerts.Config{
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		Lease:       lease,
	})
	go svc.RunRetries(ctx, retryEvery)

	brokers := config.String("KAFKA_BROKERS", "")
	if len(kafkax.SplitBrokers(brokers)) > 0 {
		c := consumer.New(logger, repo, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
			Topics:  alerts.Topics,
		}, svc.HandleMessage)
		go c.Run(ctx)
	} else {
		logger.Warn("kafka brokers not configured; owner alerts disabled")
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: repo.Ping},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(handler, "notification"),
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
