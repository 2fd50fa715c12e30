package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Stripe
	StripeSecretKey                 string        `yaml:"stripe_secret_key"`
	StripeWebhookSecret             string        `yaml:"stripe_webhook_secret"`
	StripeConnectWebhookSecret      string        `yaml:"stripe_connect_webhook_secret"`
	StripeSubscriptionWebhookSecret string        `yaml:"stripe_subscription_webhook_secret"`
	StripeWebhookTolerance          time.Duration `yaml:"stripe_webhook_tolerance"`
	StripeSubscriptionPriceID       string        `yaml:"stripe_subscription_price_id"`
	PlatformFeePercent              int64         `yaml:"platform_fee_percent"`

	// Supabase
	SupabaseURL           string `yaml:"supabase_url"`
	SupabaseServiceKey    string `yaml:"supabase_service_key"`
	SupabaseJWTSecret     string `yaml:"supabase_jwt_secret"`
	SupabaseArchiveBucket string `yaml:"supabase_archive_bucket"`

	// Database
	DatabaseURL string `yaml:"database_url"`

	// Notifications
	NotifyURL     string `yaml:"notify_url"`
	NotifyAPIKey  string `yaml:"notify_api_key"`
	NotifyWorkers int    `yaml:"notify_workers"`
	AMQPURL       string `yaml:"amqp_url"`

	// Redis (optional, event dedup)
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	DedupTTL      time.Duration `yaml:"dedup_ttl"`

	// Server
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	BaseURL     string `yaml:"base_url"`
}

// Load builds the configuration from defaults, an optional YAML file named by
// MILESTAGE_CONFIG, and the environment, in increasing precedence.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("MILESTAGE_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	overrideFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		StripeWebhookTolerance: 5 * time.Minute,
		SupabaseArchiveBucket:  "webhook-events",
		NotifyWorkers:          4,
		DedupTTL:               24 * time.Hour,
		Port:                   "8080",
		Environment:            "development",
		LogLevel:               "info",
		BaseURL:                "http://localhost:8080",
	}
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

func overrideFromEnv(c *Config) {
	c.StripeSecretKey = getEnv("STRIPE_SECRET_KEY", c.StripeSecretKey)
	c.StripeWebhookSecret = getEnv("STRIPE_WEBHOOK_SECRET", c.StripeWebhookSecret)
	c.StripeConnectWebhookSecret = getEnv("STRIPE_CONNECT_WEBHOOK_SECRET", c.StripeConnectWebhookSecret)
	c.StripeSubscriptionWebhookSecret = getEnv("STRIPE_SUBSCRIPTION_WEBHOOK_SECRET", c.StripeSubscriptionWebhookSecret)
	c.StripeWebhookTolerance = getEnvDuration("STRIPE_WEBHOOK_TOLERANCE", c.StripeWebhookTolerance)
	c.StripeSubscriptionPriceID = getEnv("STRIPE_SUBSCRIPTION_PRICE_ID", c.StripeSubscriptionPriceID)
	c.PlatformFeePercent = int64(getEnvInt("PLATFORM_FEE_PERCENT", int(c.PlatformFeePercent)))

	c.SupabaseURL = getEnv("SUPABASE_URL", c.SupabaseURL)
	c.SupabaseServiceKey = getEnv("SUPABASE_SERVICE_ROLE_KEY", c.SupabaseServiceKey)
	c.SupabaseJWTSecret = getEnv("SUPABASE_JWT_SECRET", c.SupabaseJWTSecret)
	c.SupabaseArchiveBucket = getEnv("SUPABASE_ARCHIVE_BUCKET", c.SupabaseArchiveBucket)

	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)

	c.NotifyURL = getEnv("NOTIFY_URL", c.NotifyURL)
	c.NotifyAPIKey = getEnv("NOTIFY_API_KEY", c.NotifyAPIKey)
	c.NotifyWorkers = getEnvInt("NOTIFY_WORKERS", c.NotifyWorkers)
	c.AMQPURL = getEnv("AMQP_URL", c.AMQPURL)

	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.DedupTTL = getEnvDuration("DEDUP_TTL", c.DedupTTL)

	c.Port = getEnv("PORT", c.Port)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.BaseURL = getEnv("BASE_URL", c.BaseURL)
}

func (c *Config) Validate() error {
	if c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY is required")
	}
	if c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}
	if c.StripeWebhookTolerance <= 0 {
		return fmt.Errorf("STRIPE_WEBHOOK_TOLERANCE must be positive")
	}
	if c.NotifyWorkers < 1 {
		return fmt.Errorf("NOTIFY_WORKERS must be at least 1")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
