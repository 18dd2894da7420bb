package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/onlinebank/onlinebank/internal/config"
	"github.com/onlinebank/onlinebank/internal/infra"
	"github.com/onlinebank/onlinebank/internal/logging"
	"github.com/onlinebank/onlinebank/internal/notification"
	"github.com/onlinebank/onlinebank/internal/routes"
	"github.com/onlinebank/onlinebank/internal/server"
	"github.com/onlinebank/onlinebank/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	tel := telemetry.New(logger, nil, nil)

	if err := run(cfg, tel); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, tel telemetry.Handle) error {
	logger := tel.Logger
	ctx := context.Background()
	deps := routes.Deps{Cfg: cfg, Tel: tel}

	if cfg.DatabaseURL != "" {
		if err := infra.Migrate(cfg.DatabaseURL, cfg.MigrationsPath, logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		db, err := infra.NewPostgresPool(ctx, infra.PostgresOptions{
			URL:     cfg.DatabaseURL,
			AppName: cfg.AppName,
			Pool:    cfg.DB,
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer db.Close()
		deps.DB = db
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, infra.RedisOptions{
			URL:        cfg.RedisURL,
			ClientName: cfg.AppName,
			Pool:       cfg.Redis,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", slog.Any("error", err))
			}
		}()
		deps.Cache = cache
	}

	var notifier notification.Notifier = notification.NewLoggerNotifier(logger)
	if cfg.AMQPURL != "" {
		conn, ch, err := infra.NewAMQPChannel(cfg.AMQPURL)
		if err != nil {
			return fmt.Errorf("connect amqp: %w", err)
		}
		defer conn.Close()
		amqpNotifier, err := notification.NewAMQPNotifier(ch, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		notifier = amqpNotifier
	}
	deps.Dispatcher = notification.NewDispatcher(notifier, cfg.NotifyTimeout, tel)

	srv, err := server.New(deps)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-srvErrCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
