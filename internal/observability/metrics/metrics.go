package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Outcome label values shared by the domain counters.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeReplayed = "replayed"
	OutcomeFailed   = "failed"
	OutcomeIgnored  = "ignored"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	usageDebits       metric.Int64Counter
	usageDebitedMs    metric.Int64Counter
	topUpCredits      metric.Int64Counter
	topUpCreditedMs   metric.Int64Counter
	subscriptionSyncs metric.Int64Counter
	webhookEvents     metric.Int64Counter
	rateLimitAllowed  metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled || strings.TrimSpace(cfg.ExporterEndpoint) == "" {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "luisterslim-billing"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.usageDebits, "billing_usage_debits_total", "Usage debit attempts by outcome."},
		{&m.usageDebitedMs, "billing_usage_debited_ms_total", "Milliseconds debited from usage periods."},
		{&m.topUpCredits, "billing_topup_credits_total", "Top-up credit attempts by outcome."},
		{&m.topUpCreditedMs, "billing_topup_credited_ms_total", "Milliseconds granted by top-ups and referrals."},
		{&m.subscriptionSyncs, "billing_subscription_syncs_total", "Subscription sync attempts by outcome."},
		{&m.webhookEvents, "billing_webhook_events_total", "Billing provider webhook deliveries."},
		{&m.rateLimitAllowed, "billing_rate_limit_allowed_total", "Requests admitted by the rate limiter."},
		{&m.rateLimitDenied, "billing_rate_limit_denied_total", "Requests denied by the rate limiter."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

// NewNoop returns instruments backed by a no-op provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordUsageDebit counts a debit attempt and, when accepted, the debited milliseconds.
func (m *Metrics) RecordUsageDebit(ctx context.Context, planCode, outcome string, deltaMs int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("plan_code", strings.TrimSpace(planCode)),
		attribute.String("outcome", outcome),
	)
	m.usageDebits.Add(ctx, 1, metric.WithAttributes(attrs...))
	if outcome == OutcomeAccepted && deltaMs > 0 {
		m.usageDebitedMs.Add(ctx, deltaMs, metric.WithAttributes(attrs...))
	}
}

// RecordTopUpCredit counts a top-up or referral credit attempt.
func (m *Metrics) RecordTopUpCredit(ctx context.Context, source, outcome string, msGranted int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("outcome", outcome),
	)
	m.topUpCredits.Add(ctx, 1, metric.WithAttributes(attrs...))
	if outcome == OutcomeAccepted && msGranted > 0 {
		m.topUpCreditedMs.Add(ctx, msGranted, metric.WithAttributes(attrs...))
	}
}

// RecordSubscriptionSync counts a subscription sync by resulting plan and outcome.
func (m *Metrics) RecordSubscriptionSync(ctx context.Context, planCode, status, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("plan_code", strings.TrimSpace(planCode)),
		attribute.String("status", strings.TrimSpace(status)),
		attribute.String("outcome", outcome),
	)
	m.subscriptionSyncs.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookEvent increments webhook delivery counts.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", outcome),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// account and event identifiers never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"plan_code":   {},
	"outcome":     {},
	"source":      {},
	"status":      {},
	"endpoint":    {},
	"status_code": {},
	"provider":    {},
	"event_type":  {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
