package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	CronSecret string

	StripeAPIKey        string
	StripeWebhookSecret string

	RelaySigningKey     string
	RelayNextSigningKey string

	Payout PayoutConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
}

// PayoutConfig carries the settlement knobs. Amounts are minor currency units.
type PayoutConfig struct {
	Currency        string
	DaysAfterEvent  int
	MinimumAmount   int64
	MaxEventsPerRun int
	MaxConcurrency  int
	FeeBasisPoints  int64
	DryRun          bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "eventpay"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		CronSecret: strings.TrimSpace(getenv("CRON_SECRET", "")),

		StripeAPIKey:        strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
		StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),

		RelaySigningKey:     strings.TrimSpace(getenv("RELAY_CURRENT_SIGNING_KEY", "")),
		RelayNextSigningKey: strings.TrimSpace(getenv("RELAY_NEXT_SIGNING_KEY", "")),

		Payout: PayoutConfig{
			Currency:        strings.ToLower(getenv("PAYOUT_CURRENCY", "jpy")),
			DaysAfterEvent:  getenvInt("PAYOUT_DAYS_AFTER_EVENT", 5),
			MinimumAmount:   getenvInt64("PAYOUT_MINIMUM_AMOUNT", 100),
			MaxEventsPerRun: getenvInt("PAYOUT_MAX_EVENTS_PER_RUN", 100),
			MaxConcurrency:  getenvInt("PAYOUT_MAX_CONCURRENCY", 3),
			FeeBasisPoints:  getenvInt64("PAYOUT_FEE_BASIS_POINTS", 1000),
			DryRun:          getenvBool("PAYOUT_DRY_RUN", false),
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "eventpay"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
	}

	return cfg
}

func (c PayoutConfig) WithDefaults() PayoutConfig {
	if strings.TrimSpace(c.Currency) == "" {
		c.Currency = "jpy"
	}
	if c.DaysAfterEvent <= 0 {
		c.DaysAfterEvent = 5
	}
	if c.MinimumAmount <= 0 {
		c.MinimumAmount = 100
	}
	if c.MaxEventsPerRun <= 0 {
		c.MaxEventsPerRun = 100
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 3
	}
	if c.FeeBasisPoints <= 0 {
		c.FeeBasisPoints = 1000
	}
	return c
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}
