package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName        = "OnlineBank"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultMigrations     = "migrations"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultLockTimeout    = 5 * time.Second
	defaultLockExpiry     = 8 * time.Second
	defaultNotifyTimeout  = 5 * time.Second
	defaultAMQPExchange   = "bank.notifications"
	defaultPINAttempts    = 5
	defaultBcryptCost     = 10

	defaultDBMaxConns       = 10
	defaultDBAcquireTimeout = 3 * time.Second
	defaultDBConnLifetime   = 30 * time.Minute
	defaultRedisPoolSize    = 10
	defaultRedisDialTimeout = 5 * time.Second
	defaultRedisIOTimeout   = 3 * time.Second
	defaultRedisPoolTimeout = 4 * time.Second

	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	AMQPURL        string
	AMQPExchange   string
	MigrationsPath string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	// LockTimeout bounds the wait for an account lock before failing busy.
	LockTimeout time.Duration
	LockBackend string
	// LockExpiry is the lease of a Redis-held lock.
	LockExpiry    time.Duration
	NotifyTimeout time.Duration
	JWTSecret     string
	PINAttempts   int
	BcryptCost    int
	NodeID        int64

	DB    DBPool
	Redis RedisPool
}

// DBPool sizes the Postgres connection pool. AcquireTimeout bounds the wait
// for a free connection so a saturated pool fails busy instead of hanging.
type DBPool struct {
	MaxConns       int
	MinConns       int
	AcquireTimeout time.Duration
	ConnLifetime   time.Duration
}

// RedisPool tunes the Redis client.
type RedisPool struct {
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		AMQPURL:        os.Getenv("AMQP_URL"),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", defaultAMQPExchange),
		MigrationsPath: getEnv("MIGRATIONS_PATH", defaultMigrations),
		LockBackend:    strings.ToLower(getEnv("LOCK_BACKEND", LockBackendLocal)),
		JWTSecret:      os.Getenv("JWT_SECRET"),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.LockTimeout, err = durationEnv("LOCK_TIMEOUT", defaultLockTimeout); err != nil {
		return Config{}, err
	}
	if cfg.LockExpiry, err = durationEnv("LOCK_EXPIRY", defaultLockExpiry); err != nil {
		return Config{}, err
	}
	if cfg.NotifyTimeout, err = durationEnv("NOTIFY_TIMEOUT", defaultNotifyTimeout); err != nil {
		return Config{}, err
	}
	if cfg.PINAttempts, err = intEnv("PIN_ATTEMPTS_PER_MINUTE", defaultPINAttempts); err != nil {
		return Config{}, err
	}
	if cfg.BcryptCost, err = intEnv("BCRYPT_COST", defaultBcryptCost); err != nil {
		return Config{}, err
	}
	nodeID, err := intEnv("NODE_ID", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.NodeID = int64(nodeID)

	if cfg.DB, err = loadDBPool(); err != nil {
		return Config{}, err
	}
	if cfg.Redis, err = loadRedisPool(); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive")
	}
	switch c.LockBackend {
	case LockBackendLocal, LockBackendRedis:
	default:
		return fmt.Errorf("LOCK_BACKEND must be %q or %q, got %q", LockBackendLocal, LockBackendRedis, c.LockBackend)
	}
	if c.LockBackend == LockBackendRedis && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set when LOCK_BACKEND=redis")
	}
	if c.LockExpiry <= c.LockTimeout {
		return fmt.Errorf("LOCK_EXPIRY must exceed LOCK_TIMEOUT")
	}
	if c.DB.MaxConns < 2 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 2")
	}
	if c.DB.MinConns < 0 || c.DB.MinConns > c.DB.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS")
	}
	if c.DB.AcquireTimeout <= 0 {
		return fmt.Errorf("DB_ACQUIRE_TIMEOUT must be positive")
	}
	if c.Redis.PoolSize <= 0 {
		return fmt.Errorf("REDIS_POOL_SIZE must be positive")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("NODE_ID must be between 0 and 1023")
	}

	if c.IsDev() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	return nil
}

// IsDev reports whether the app runs in a development environment, where
// Postgres and Redis are optional.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func loadDBPool() (DBPool, error) {
	var (
		p   DBPool
		err error
	)
	if p.MaxConns, err = intEnv("DB_MAX_CONNS", defaultDBMaxConns); err != nil {
		return DBPool{}, err
	}
	if p.MinConns, err = intEnv("DB_MIN_CONNS", 0); err != nil {
		return DBPool{}, err
	}
	if p.AcquireTimeout, err = durationEnv("DB_ACQUIRE_TIMEOUT", defaultDBAcquireTimeout); err != nil {
		return DBPool{}, err
	}
	if p.ConnLifetime, err = durationEnv("DB_CONN_LIFETIME", defaultDBConnLifetime); err != nil {
		return DBPool{}, err
	}
	return p, nil
}

func loadRedisPool() (RedisPool, error) {
	var (
		p   RedisPool
		err error
	)
	if p.PoolSize, err = intEnv("REDIS_POOL_SIZE", defaultRedisPoolSize); err != nil {
		return RedisPool{}, err
	}
	if p.MinIdleConns, err = intEnv("REDIS_MIN_IDLE_CONNS", 0); err != nil {
		return RedisPool{}, err
	}
	if p.DialTimeout, err = durationEnv("REDIS_DIAL_TIMEOUT", defaultRedisDialTimeout); err != nil {
		return RedisPool{}, err
	}
	if p.ReadTimeout, err = durationEnv("REDIS_READ_TIMEOUT", defaultRedisIOTimeout); err != nil {
		return RedisPool{}, err
	}
	if p.WriteTimeout, err = durationEnv("REDIS_WRITE_TIMEOUT", defaultRedisIOTimeout); err != nil {
		return RedisPool{}, err
	}
	if p.PoolTimeout, err = durationEnv("REDIS_POOL_TIMEOUT", defaultRedisPoolTimeout); err != nil {
		return RedisPool{}, err
	}
	return p, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv reads <key>_SECONDS as whole seconds, falling back to <key> as a
// Go duration string.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
