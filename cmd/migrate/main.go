// Command migrate creates the ledger and identity tables for the configured
// STORE_DRIVER.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/congo-pay/ledger/internal/config"
	"github.com/congo-pay/ledger/internal/identity"
	"github.com/congo-pay/ledger/internal/infra"
	"github.com/congo-pay/ledger/internal/ledger"
	"github.com/congo-pay/ledger/internal/logging"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var steps []migrator
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		steps = []migrator{ledger.NewPostgresStore(db), identity.NewPostgresRepository(db)}
	case config.DriverSQLite, config.DriverMySQL:
		db, err := infra.NewGormDB(ctx, cfg.StoreDriver, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect database", "driver", cfg.StoreDriver, "error", err)
			os.Exit(1)
		}
		defer infra.CloseGormDB(db)
		steps = []migrator{ledger.NewGormStore(db), identity.NewGormRepository(db)}
	default:
		logger.Info("nothing to migrate", "driver", cfg.StoreDriver)
		return
	}

	for _, m := range steps {
		if err := m.Migrate(ctx); err != nil {
			logger.Error("migrate", "driver", cfg.StoreDriver, "error", err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied", "driver", cfg.StoreDriver)
}
