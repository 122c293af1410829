package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	StoreDriver   string `env:"STORE_DRIVER,default=mongo"`
	MongoURI      string `env:"MONGO_URI,default=mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE,default=push"`
	DatabaseDSN   string `env:"DATABASE_DSN"`
	SQLitePath    string `env:"SQLITE_PATH,default=push.db"`

	DBMaxOpenConns       int `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns       int `env:"DB_MAX_IDLE_CONNS,default=5"`
	DBConnMaxLifetimeSec int `env:"DB_CONN_MAX_LIFETIME_SECONDS,default=3600"`

	RedisURL    string `env:"REDIS_URL"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	JWTSecret string `env:"JWT_SECRET,required=true"`
	JWTIssuer string `env:"JWT_ISSUER,default=push-engine"`

	VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY"`
	VAPIDSubject    string `env:"VAPID_SUBJECT,default=mailto:admin@example.com"`
	PushTTLSeconds  int    `env:"PUSH_TTL_SECONDS,default=86400"`
	PushUrgency     string `env:"PUSH_URGENCY,default=normal"`

	PushRateLimitPerSec int `env:"PUSH_RATE_LIMIT_PER_SEC,default=200"`
	DispatchConcurrency int `env:"DISPATCH_CONCURRENCY,default=16"`
	WorkerConcurrency   int `env:"WORKER_CONCURRENCY,default=2"`
	WorkerPrefetch      int `env:"WORKER_PREFETCH,default=4"`
	SweepIntervalSec    int `env:"PENDING_SWEEP_INTERVAL_SECONDS,default=60"`
	SweepBatchSize      int `env:"PENDING_SWEEP_BATCH_SIZE,default=100"`

	APIPort    int    `env:"API_PORT,default=8080"`
	WorkerPort int    `env:"WORKER_PORT,default=8081"`
	LogLevel   string `env:"LOG_LEVEL,default=info"`
	LogFormat  string `env:"LOG_FORMAT,default=json"`
	SentryDSN  string `env:"SENTRY_DSN"`
	AppEnv     string `env:"APP_ENV,default=development"`
}

// Load reads an optional .env file and then the process environment. Real environment
// variables win over .env entries.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo store")
		}
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("DATABASE_DSN is required for the postgres store")
		}
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}
	if c.PushTTLSeconds <= 0 {
		return fmt.Errorf("PUSH_TTL_SECONDS must be positive")
	}
	if c.DispatchConcurrency <= 0 || c.WorkerConcurrency <= 0 || c.WorkerPrefetch <= 0 {
		return fmt.Errorf("concurrency settings must be positive")
	}
	return nil
}

func (c *Config) PushTTL() time.Duration {
	return time.Duration(c.PushTTLSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// ConsoleLogs reports whether LOG_FORMAT asks for the development console encoder.
func (c *Config) ConsoleLogs() bool {
	return strings.EqualFold(strings.TrimSpace(c.LogFormat), "console")
}

// AsyncDispatchEnabled reports whether a broker is configured.
func (c *Config) AsyncDispatchEnabled() bool {
	return strings.TrimSpace(c.RabbitMQURL) != ""
}
