package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/onlinebank/onlinebank/internal/account"
	"github.com/onlinebank/onlinebank/internal/config"
	"github.com/onlinebank/onlinebank/internal/credential"
	"github.com/onlinebank/onlinebank/internal/funding"
	"github.com/onlinebank/onlinebank/internal/ledger"
	"github.com/onlinebank/onlinebank/internal/lock"
	"github.com/onlinebank/onlinebank/internal/middleware"
	"github.com/onlinebank/onlinebank/internal/notification"
	"github.com/onlinebank/onlinebank/internal/processor"
	"github.com/onlinebank/onlinebank/internal/statement"
	"github.com/onlinebank/onlinebank/internal/telemetry"
	"github.com/onlinebank/onlinebank/internal/transfer"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg        config.Config
	DB         *pgxpool.Pool
	Cache      *redis.Client
	Tel        telemetry.Handle
	Dispatcher *notification.Dispatcher
	// Store overrides the store selected from DB. Used by tests.
	Store ledger.Store
	// Acquirer overrides the card acquirer.
	Acquirer funding.Acquirer
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	log := d.Tel.Logger

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.LogFormat == "text" {
		// Plain text access log: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	} else {
		app.Use(middleware.Audit(log))
	}

	RegisterHealthRoutes(app, d)

	store, err := buildStore(d)
	if err != nil {
		return err
	}
	node, err := snowflake.NewNode(d.Cfg.NodeID)
	if err != nil {
		return fmt.Errorf("transfer id generator: %w", err)
	}

	accountSvc := account.NewService(store, nil, d.Tel)
	credentialSvc := credential.NewService(store, d.Cfg.BcryptCost, d.Tel)
	proc := processor.New(store, d.Tel)
	transferSvc := transfer.NewService(store, proc, d.Dispatcher, node, d.Tel)
	fundingSvc := funding.NewService(store, proc, d.Acquirer, d.Dispatcher, d.Tel)
	statementSvc := statement.NewService(store, d.Tel)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals(middleware.RequestIDLocal).(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	protected := api.Group("", middleware.Authenticate([]byte(d.Cfg.JWTSecret), log))
	protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, log))

	RegisterAccountRoutes(protected, AccountHandlers{
		Accounts:    account.NewHandler(accountSvc),
		Credentials: credential.NewHandler(credentialSvc),
		Funding:     funding.NewHandler(fundingSvc, credentialSvc),
		Transfers:   transfer.NewHandler(transferSvc, credentialSvc),
		Statements:  statement.NewHandler(statementSvc),
		PINLimit:    middleware.PINAttemptLimit(d.Cache, d.Cfg.PINAttempts, log),
	})

	log.Info("routes registered", slog.String("store", storeName(store)))
	return nil
}

// buildStore picks Postgres when a pool is configured and the in-memory store
// otherwise.
func buildStore(d Deps) (ledger.Store, error) {
	if d.Store != nil {
		return d.Store, nil
	}

	var locks lock.Manager
	if d.Cfg.LockBackend == config.LockBackendRedis {
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when LOCK_BACKEND=redis")
		}
		locks = lock.NewRedis(d.Cache, lock.RedisOptions{
			Expiry:  d.Cfg.LockExpiry,
			Timeout: d.Cfg.LockTimeout,
		}, d.Tel.Logger)
	}

	if d.DB != nil {
		return ledger.NewPostgresStore(d.DB, locks, ledger.PostgresOptions{
			LockTimeout:    d.Cfg.LockTimeout,
			AcquireTimeout: d.Cfg.DB.AcquireTimeout,
		}), nil
	}
	if locks == nil {
		locks = lock.NewLocal(d.Cfg.LockTimeout)
	}
	return ledger.NewInMemory(locks), nil
}

func storeName(s ledger.Store) string {
	switch s.(type) {
	case *ledger.PostgresStore:
		return "postgres"
	case *ledger.InMemory:
		return "memory"
	default:
		return fmt.Sprintf("%T", s)
	}
}
