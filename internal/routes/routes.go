package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/congo-pay/ledger/internal/auth"
	"github.com/congo-pay/ledger/internal/config"
	"github.com/congo-pay/ledger/internal/funding"
	"github.com/congo-pay/ledger/internal/identity"
	"github.com/congo-pay/ledger/internal/ledger"
	"github.com/congo-pay/ledger/internal/logging"
	"github.com/congo-pay/ledger/internal/middleware"
	"github.com/congo-pay/ledger/internal/notification"
	"github.com/congo-pay/ledger/internal/payments"
	"github.com/congo-pay/ledger/internal/stats"
	"github.com/congo-pay/ledger/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes. DB is set for
// the postgres driver and Gorm for sqlite and mysql; with neither the ledger
// lives in memory.
type Deps struct {
	Cfg       config.Config
	DB        *pgxpool.Pool
	Gorm      *gorm.DB
	Cache     *redis.Client
	Notifier  notification.Notifier
	Processor funding.Processor
	Logger    *slog.Logger
}

// Services holds the wired application services.
type Services struct {
	Store    ledger.Store
	Users    identity.Repository
	Ledger   *ledger.Ledger
	Identity *identity.Service
	Auth     *auth.Service
	Tokens   *auth.Tokens
	Wallet   *wallet.Service
	Funding  *funding.Service
	Payments *payments.Service
	Stats    *stats.Aggregator
}

// NewServices picks the storage backend for the configured driver and builds
// every service on top of it.
func NewServices(d Deps) (*Services, error) {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if !d.Cfg.IsDev() && d.Cache == nil {
		return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	var (
		store ledger.Store
		users identity.Repository
	)
	switch {
	case d.DB != nil:
		store = ledger.NewPostgresStore(d.DB)
		users = identity.NewPostgresRepository(d.DB)
	case d.Gorm != nil:
		store = ledger.NewGormStore(d.Gorm)
		users = identity.NewGormRepository(d.Gorm)
	case d.Cfg.IsDev():
		store = ledger.NewInMemory()
		users = identity.NewMemoryRepository()
	default:
		return nil, fmt.Errorf("a database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}

	l := ledger.New(store, ledger.WithMaxAttempts(d.Cfg.LedgerMaxAttempts), ledger.WithLogger(d.Logger))
	aggregator := stats.NewAggregator(store,
		stats.WithCache(d.Cache, d.Cfg.StatsCacheTTL),
		stats.WithMonths(d.Cfg.StatsMonths),
		stats.WithLogger(d.Logger),
	)
	ids := identity.NewService(users, identity.WithWallets(store), identity.WithLogger(d.Logger))
	tokens := auth.NewTokens(d.Cfg.JWTSecret, d.Cfg.AccessTokenTTL, d.Cfg.AppName)

	return &Services{
		Store:    store,
		Users:    users,
		Ledger:   l,
		Identity: ids,
		Auth:     auth.NewService(ids, tokens),
		Tokens:   tokens,
		Wallet:   wallet.NewService(store),
		Funding: funding.NewService(l, d.Processor,
			funding.WithNotifier(notifier),
			funding.WithCache(aggregator),
			funding.WithLogger(d.Logger),
		),
		Payments: payments.NewService(l, ids,
			payments.WithNotifier(notifier),
			payments.WithCache(aggregator),
			payments.WithLogger(d.Logger),
		),
		Stats: aggregator,
	}, nil
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps, s *Services) {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	scale := d.Cfg.CurrencyScale
	fundingHandler := funding.NewHandler(s.Funding, funding.NewAdapter(s.Funding), d.Cfg.WebhookSecret, scale)
	app.Post("/webhooks/payments", fundingHandler.Webhook)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.GetRequestID(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterIdentityRoutes(api, identity.NewHandler(s.Identity))
	RegisterAuthRoutes(api, auth.NewHandler(s.Auth), middleware.LoginRateLimit(d.Cache, d.Cfg.LoginPerMinute, d.Logger))

	protected := api.Group("", middleware.JWTAuth(s.Tokens))
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterWalletRoutes(protected,
		wallet.NewHandler(s.Wallet, d.Cfg.Currency, scale),
		stats.NewHandler(s.Stats),
		fundingHandler,
		payments.NewHandler(s.Payments, scale),
	)
}
