// Package config loads server configuration.
//
// Precedence, lowest first: built-in defaults, the optional YAML file, a .env
// file in the working directory, then the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	strutil "replate/pkg/platform/strings"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr" validate:"required"`
	LogLevel        string        `yaml:"logLevel" validate:"oneof=debug info warn error"`
	LogFormat       string        `yaml:"logFormat" validate:"oneof=json text"`
	RequestTimeout  time.Duration `yaml:"requestTimeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" validate:"gt=0"`
	BootstrapAdmin  string        `yaml:"bootstrapAdmin" validate:"omitempty,uuid"`

	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Payment   PaymentConfig   `yaml:"payment"`
	Media     MediaConfig     `yaml:"media"`
	Donation  DonationConfig  `yaml:"donation"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	JWTSigningKey string        `yaml:"jwtSigningKey" validate:"required,min=16"`
	JWTIssuer     string        `yaml:"jwtIssuer" validate:"required"`
	TokenTTL      time.Duration `yaml:"tokenTTL" validate:"gt=0"`
}

// DatabaseConfig selects PostgreSQL when URL is set; the in-memory stores are
// used otherwise.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	// Driver is the database/sql driver name: "pgx" or "postgres" (lib/pq).
	Driver          string        `yaml:"driver" validate:"oneof=pgx postgres"`
	MaxOpenConns    int           `yaml:"maxOpenConns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"maxIdleConns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// RedisConfig enables the donation read cache when URL is set.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"poolSize" validate:"gte=0"`
	MinIdleConns int           `yaml:"minIdleConns" validate:"gte=0"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// KafkaConfig enables the audit outbox relay when Brokers is non-empty.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic" validate:"required"`
	PollInterval time.Duration `yaml:"pollInterval" validate:"gt=0"`
	BatchSize    int           `yaml:"batchSize" validate:"gt=0"`
}

// PaymentConfig points at the payment processor. An empty URL selects the
// in-process fake processor, which confirms every intent as paid; with a
// non-zero fee that needs AllowFake.
type PaymentConfig struct {
	BaseURL        string `yaml:"baseURL" validate:"omitempty,url"`
	SecretKey      string `yaml:"secretKey"`
	CharityRoleFee int64  `yaml:"charityRoleFee" validate:"gte=0"`
	Currency       string `yaml:"currency" validate:"required,len=3"`
	AllowFake      bool   `yaml:"allowFake"`
}

// MediaConfig points at the image host. An empty URL selects the fake host.
type MediaConfig struct {
	UploadURL string `yaml:"uploadURL" validate:"omitempty,url"`
	APIKey    string `yaml:"apiKey"`
}

// DonationConfig tunes the donation module.
type DonationConfig struct {
	CacheTTL         time.Duration `yaml:"cacheTTL" validate:"gte=0"`
	TxTimeout        time.Duration `yaml:"txTimeout" validate:"gt=0"`
	LatestRequestCap int           `yaml:"latestRequestCap" validate:"gt=0"`
}

// RateLimitConfig bounds writes per caller. Writes of 0 disables limiting.
type RateLimitConfig struct {
	Writes int           `yaml:"writes" validate:"gte=0"`
	Window time.Duration `yaml:"window" validate:"gt=0"`
}

// Default returns a configuration suitable for local development.
func Default() Server {
	return Server{
		Addr:            ":8080",
		LogLevel:        "info",
		LogFormat:       "json",
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Auth: AuthConfig{
			JWTSigningKey: "dev-secret-key-change-in-production",
			JWTIssuer:     "replate",
			TokenTTL:      24 * time.Hour,
		},
		Database: DatabaseConfig{
			Driver:          "pgx",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:        "replate.audit",
			PollInterval: 2 * time.Second,
			BatchSize:    100,
		},
		Payment: PaymentConfig{
			CharityRoleFee: 2500,
			Currency:       "usd",
		},
		Donation: DonationConfig{
			CacheTTL:         5 * time.Minute,
			TxTimeout:        5 * time.Second,
			LatestRequestCap: 6,
		},
		RateLimit: RateLimitConfig{
			Writes: 60,
			Window: time.Minute,
		},
	}
}

var validate = validator.New()

// Load builds the configuration. path may be empty.
func Load(path string) (Server, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Server{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Server{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Server{}, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Server{}, err
	}

	if err := Validate(&cfg); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate runs struct validation on cfg.
func Validate(cfg *Server) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func applyEnv(cfg *Server) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	count := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	num := func(key string, dst *int64) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("REPLATE_ADDR", &cfg.Addr)
	str("REPLATE_LOG_LEVEL", &cfg.LogLevel)
	str("REPLATE_LOG_FORMAT", &cfg.LogFormat)
	dur("REPLATE_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	str("REPLATE_BOOTSTRAP_ADMIN", &cfg.BootstrapAdmin)

	str("JWT_SIGNING_KEY", &cfg.Auth.JWTSigningKey)
	str("JWT_ISSUER", &cfg.Auth.JWTIssuer)
	dur("JWT_TOKEN_TTL", &cfg.Auth.TokenTTL)

	str("DATABASE_URL", &cfg.Database.URL)
	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("REDIS_URL", &cfg.Redis.URL)

	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = strutil.SplitList(v)
	}
	str("KAFKA_AUDIT_TOPIC", &cfg.Kafka.Topic)

	str("PAYMENT_BASE_URL", &cfg.Payment.BaseURL)
	str("PAYMENT_SECRET_KEY", &cfg.Payment.SecretKey)
	num("PAYMENT_CHARITY_ROLE_FEE", &cfg.Payment.CharityRoleFee)
	flag("PAYMENT_ALLOW_FAKE", &cfg.Payment.AllowFake)

	str("MEDIA_UPLOAD_URL", &cfg.Media.UploadURL)
	str("MEDIA_API_KEY", &cfg.Media.APIKey)

	dur("DONATION_CACHE_TTL", &cfg.Donation.CacheTTL)
	dur("DONATION_TX_TIMEOUT", &cfg.Donation.TxTimeout)
	count("DONATION_LATEST_REQUEST_CAP", &cfg.Donation.LatestRequestCap)

	count("RATE_LIMIT_WRITES", &cfg.RateLimit.Writes)
	dur("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)

	return errors.Join(errs...)
}
