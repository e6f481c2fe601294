// Package config loads the authcore server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvDevelopment is the only environment that tolerates built-in secrets
const EnvDevelopment = "development"

// MinSecretLength applies to both JWT secrets outside development
const MinSecretLength = 32

// Development-only secrets used when none are configured
const (
	devAccessSecret  = "authcore-development-access-secret-0001"
	devRefreshSecret = "authcore-development-refresh-secret-0002"
)

// Store drivers
const (
	StoreFS        = "fs"
	StoreSQLite    = "sqlite"
	StorePostgres  = "postgres"
	StoreDatastore = "datastore"
)

// Delivery drivers
const (
	DeliveryLog   = "log"
	DeliveryKafka = "kafka"
	DeliveryRedis = "redis"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"authcore"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	JWTSecret            string        `env:"JWT_SECRET"`
	JWTExpiration        time.Duration `env:"JWT_EXPIRATION" envDefault:"15m"`
	JWTRefreshSecret     string        `env:"JWT_REFRESH_SECRET"`
	JWTRefreshExpiration time.Duration `env:"JWT_REFRESH_EXPIRATION" envDefault:"168h"`
	JWTIssuer            string        `env:"JWT_ISSUER"`
	BcryptCost           int           `env:"BCRYPT_COST" envDefault:"12"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`
	AppleClientID      string `env:"APPLE_CLIENT_ID"`

	FederatedTimeout        time.Duration `env:"FEDERATED_TIMEOUT" envDefault:"10s"`
	RequireLinkConfirmation bool          `env:"REQUIRE_LINK_CONFIRMATION" envDefault:"false"`
	SessionLifetime         time.Duration `env:"SESSION_LIFETIME" envDefault:"10m"`

	StoreDriver        string `env:"STORE_DRIVER" envDefault:"fs"`
	FSStoragePath      string `env:"FS_STORAGE_PATH" envDefault:"./data"`
	SQLitePath         string `env:"SQLITE_PATH" envDefault:"authcore.db"`
	PostgresURL        string `env:"POSTGRES_URL"`
	DatastoreProject   string `env:"DATASTORE_PROJECT"`
	DatastoreNamespace string `env:"DATASTORE_NAMESPACE"`

	DeliveryDriver string   `env:"DELIVERY_DRIVER" envDefault:"log"`
	KafkaBrokers   []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaTopic     string   `env:"KAFKA_TOPIC" envDefault:"authcore.codes"`
	RedisAddr      string   `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisStream    string   `env:"REDIS_STREAM" envDefault:"authcore:codes"`
}

// Load parses the environment, fills development secrets and validates
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	cfg.DeliveryDriver = strings.ToLower(cfg.DeliveryDriver)

	if cfg.IsDevelopment() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = devAccessSecret
		}
		if cfg.JWTRefreshSecret == "" {
			cfg.JWTRefreshSecret = devRefreshSecret
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsDevelopment reports whether APP_ENV is development
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// TrustedRegistration enables the unverified registration route
func (c *Config) TrustedRegistration() bool {
	return c.IsDevelopment()
}

// GoogleEnabled reports whether Google sign-in is configured
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

// GoogleRedirectFlowEnabled reports whether the authorization-code flow can run
func (c *Config) GoogleRedirectFlowEnabled() bool {
	return c.GoogleEnabled() && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// Validate checks secrets, lifetimes and driver settings. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" || c.JWTRefreshSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET and JWT_REFRESH_SECRET are required"))
	} else if c.JWTSecret == c.JWTRefreshSecret {
		errs = append(errs, errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ"))
	}
	if !c.IsDevelopment() {
		if n := len(c.JWTSecret); n > 0 && n < MinSecretLength {
			errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters long, got %d", MinSecretLength, n))
		}
		if n := len(c.JWTRefreshSecret); n > 0 && n < MinSecretLength {
			errs = append(errs, fmt.Errorf("JWT_REFRESH_SECRET must be at least %d characters long, got %d", MinSecretLength, n))
		}
		if c.JWTSecret == devAccessSecret || c.JWTRefreshSecret == devRefreshSecret {
			errs = append(errs, fmt.Errorf("development JWT secrets cannot be used in %q", c.AppEnv))
		}
	}

	if c.JWTExpiration <= 0 || c.JWTRefreshExpiration <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	} else if c.JWTRefreshExpiration <= c.JWTExpiration {
		errs = append(errs, errors.New("JWT_REFRESH_EXPIRATION must exceed JWT_EXPIRATION"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost))
	}

	switch c.StoreDriver {
	case StoreFS, StoreSQLite:
	case StorePostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("POSTGRES_URL is required for the postgres store"))
		}
	case StoreDatastore:
		if c.DatastoreProject == "" {
			errs = append(errs, errors.New("DATASTORE_PROJECT is required for the datastore store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.DeliveryDriver {
	case DeliveryLog:
	case DeliveryKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for kafka delivery"))
		}
	case DeliveryRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for redis delivery"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DELIVERY_DRIVER %q", c.DeliveryDriver))
	}

	if c.GoogleClientSecret != "" && c.GoogleClientID == "" {
		errs = append(errs, errors.New("GOOGLE_CLIENT_SECRET is set without GOOGLE_CLIENT_ID"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
