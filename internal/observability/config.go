package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/luisterslim/billing/internal/config"
)

// Config is the telemetry view of the billing service: what its logs, query
// logs, traces and meters are tagged with and where they are exported.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	// SQLLogLevel and SlowQuery drive the ledger query logger.
	SQLLogLevel string
	SlowQuery   time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

const (
	defaultServiceName = "luisterslim-billing"
	// debits are high volume; one in ten is enough to follow a slow quota path
	defaultSamplingRatio = 0.1
	defaultSlowQuery     = 250 * time.Millisecond
)

// LoadConfig starts from the application config and applies the standard
// OTEL_* and logging overrides from the environment.
func LoadConfig(cfg config.Config) Config {
	out := Config{
		ServiceName:          strings.TrimSpace(cfg.AppName),
		Environment:          env("DEPLOYMENT_ENV", cfg.Environment),
		Version:              env("SERVICE_VERSION", cfg.AppVersion),
		LogLevel:             strings.ToLower(env("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(env("LOG_FORMAT", "json")),
		SQLLogLevel:          strings.ToLower(env("SQL_LOG_LEVEL", "warn")),
		SlowQuery:            defaultSlowQuery,
		OtelExporterEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(env("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", env("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
		OtelSamplingRatio:    defaultSamplingRatio,
	}
	if out.ServiceName == "" {
		out.ServiceName = defaultServiceName
	}
	if ms, err := strconv.Atoi(env("SQL_SLOW_QUERY_MS", "")); err == nil && ms > 0 {
		out.SlowQuery = time.Duration(ms) * time.Millisecond
	}
	if ratio, err := strconv.ParseFloat(env("OTEL_SAMPLING_RATIO", ""), 64); err == nil && ratio >= 0 && ratio <= 1 {
		out.OtelSamplingRatio = ratio
	}
	out.OtelEnabled = out.OtelExporterEndpoint != ""
	if enabled, err := strconv.ParseBool(env("OTEL_ENABLED", "")); err == nil {
		out.OtelEnabled = enabled
	}
	return out
}

// Debug turns on verbose logging for debug level and for non-production
// environments.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func env(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(def)
}
