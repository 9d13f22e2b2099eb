package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPlanQuotaHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	AuthJWTSecret  string
	AuthJWTIssuer  string
	InternalToken  string
	DefaultTZ      string
	PlansConfigDir string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Stripe StripeConfig

	RateLimit RateLimitConfig

	ReconcileCron    string
	ReconcileEnabled bool
}

type StripeConfig struct {
	SecretKey           string
	WebhookSecret       string
	EphemeralKeyVersion string
	// PriceIDs maps a catalog code (plan or top-up) to its external price id.
	PriceIDs map[string]string
}

type RateLimitConfig struct {
	Enabled     bool
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	DebitRate   float64
	DebitBurst  int
	FailOpen    bool
	KeyPrefix   string
	BucketTTLMs int64

	// ArtifactLockTTLMs bounds how long one debit may hold its transcript artifact.
	ArtifactLockTTLMs int64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:        getenv("APP_SERVICE", "luisterslim-billing"),
		AppVersion:     getenv("APP_VERSION", "0.1.0"),
		Environment:    getenv("ENVIRONMENT", "development"),
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		NodeID:         getenvInt64("NODE_ID", 1),
		AuthJWTSecret:  strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AuthJWTIssuer:  strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "")),
		InternalToken:  strings.TrimSpace(getenv("INTERNAL_API_TOKEN", "")),
		DefaultTZ:      getenv("DEFAULT_TIMEZONE", "Europe/Amsterdam"),
		PlansConfigDir: getenv("PLANS_CONFIG_DIR", "/etc/luisterslim"),
		OTLPEndpoint:   getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "luisterslim"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "luisterslim.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),

		Stripe: StripeConfig{
			SecretKey:           strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:       strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			EphemeralKeyVersion: getenv("STRIPE_EPHEMERAL_KEY_VERSION", "2024-06-20"),
			PriceIDs:            loadPriceIDs(os.Environ()),
		},

		RateLimit: RateLimitConfig{
			Enabled:     getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),
			RedisPass:   getenv("REDIS_PASSWORD", ""),
			RedisDB:     int(getenvInt64("REDIS_DB", 0)),
			DebitRate:   getenvFloat("RATE_LIMIT_DEBIT_RATE", 2),
			DebitBurst:  int(getenvInt64("RATE_LIMIT_DEBIT_BURST", 10)),
			FailOpen:    getenvBool("RATE_LIMIT_FAIL_OPEN", true),
			KeyPrefix:   getenv("RATE_LIMIT_KEY_PREFIX", "rl:debit:"),
			BucketTTLMs: getenvInt64("RATE_LIMIT_BUCKET_TTL_MS", 60_000),

			ArtifactLockTTLMs: getenvInt64("RATE_LIMIT_ARTIFACT_LOCK_TTL_MS", 30_000),
		},

		ReconcileCron:    getenv("RECONCILE_CRON", "@every 15m"),
		ReconcileEnabled: getenvBool("RECONCILE_ENABLED", true),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

const pricePrefix = "STRIPE_PRICE_"

// loadPriceIDs collects STRIPE_PRICE_<CODE>=price_... pairs, keyed by lower-cased code.
func loadPriceIDs(environ []string) map[string]string {
	out := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, pricePrefix) {
			continue
		}
		code := strings.ToLower(strings.TrimPrefix(key, pricePrefix))
		value = strings.TrimSpace(value)
		if code == "" || value == "" {
			continue
		}
		out[code] = value
	}
	return out
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

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
