package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/congo-pay/ledger/internal/config"
	"github.com/congo-pay/ledger/internal/infra"
	"github.com/congo-pay/ledger/internal/logging"
	"github.com/congo-pay/ledger/internal/notification"
	"github.com/congo-pay/ledger/internal/reconcile"
	"github.com/congo-pay/ledger/internal/routes"
	"github.com/congo-pay/ledger/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	deps := routes.Deps{Cfg: cfg, Logger: logger}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		deps.DB = db
	case config.DriverSQLite, config.DriverMySQL:
		db, err := infra.NewGormDB(ctx, cfg.StoreDriver, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect database", "driver", cfg.StoreDriver, "error", err)
			os.Exit(1)
		}
		defer infra.CloseGormDB(db)
		deps.Gorm = db
	default:
		logger.Warn("using in-memory ledger; data is lost on restart")
	}

	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		deps.Cache = cache
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafkaNotifier := notification.NewKafkaNotifier(notification.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger))
		defer func() {
			if err := kafkaNotifier.Close(); err != nil {
				logger.Warn("close kafka writer", "error", err)
			}
		}()
		deps.Notifier = kafkaNotifier
	}

	srv, err := server.New(deps)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	services := srv.Services()
	if cfg.IsDev() {
		if err := migrate(ctx, services.Store, services.Users); err != nil {
			logger.Error("migrate", "error", err)
			os.Exit(1)
		}
	}

	reconciler := reconcile.New(services.Store, services.Funding, cfg.PendingTTL, cfg.ReconcileInterval,
		reconcile.WithLogger(logger))
	reconcileDone := make(chan struct{})
	go func() {
		defer close(reconcileDone)
		reconciler.Run(ctx)
	}()

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		stop()
		<-reconcileDone
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	stop()
	<-reconcileDone

	logger.Info("server exited cleanly")
}

// migrate prepares the schema of backends that support it. The in-memory
// store needs none.
func migrate(ctx context.Context, backends ...any) error {
	for _, b := range backends {
		if m, ok := b.(interface{ Migrate(context.Context) error }); ok {
			if err := m.Migrate(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}
