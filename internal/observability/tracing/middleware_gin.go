package tracing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/luisterslim/billing/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	attrAccountRef    = attribute.Key("billing.account_ref")
	attrPeriodID      = attribute.Key("billing.period_id")
	attrPlanCode      = attribute.Key("billing.plan_code")
	attrQuotaExceeded = attribute.Key("billing.quota_exceeded")
	attrRateLimited   = attribute.Key("billing.rate_limited")

	rateLimitedHeader = "X-Rate-Limited-Reason"
)

// AnnotateQuota tags the active span with the plan and usage period a request
// resolved to.
func AnnotateQuota(ctx context.Context, planCode, periodID string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(attrPlanCode.String(planCode), attrPeriodID.String(periodID))
}

// AccountRef is a stable, non-reversible handle for an account so spans of one
// account can be grouped without carrying its id.
func AccountRef(accountID string) string {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(accountID))
	return hex.EncodeToString(sum[:8])
}

// GinMiddleware opens the server span for a billing API call. After the
// handler runs the span is named by route and carries the account ref, the
// period and whether the quota or the debit limiter turned the call away.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("luisterslim-billing/http")
	return func(c *gin.Context) {
		method := strings.ToUpper(c.Request.Method)
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		ctx = withRequestBaggage(ctx, span)
		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + method + " " + route)
		span.SetAttributes(SafeAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		)...)
		span.SetAttributes(billingAttributes(c, status)...)

		if status >= http.StatusInternalServerError {
			if last := c.Errors.Last(); last != nil {
				span.RecordError(SafeError(last.Err))
			}
			span.SetStatus(codes.Error, "request error")
		}
	}
}

func withRequestBaggage(ctx context.Context, span trace.Span) context.Context {
	requestID := obscontext.RequestIDFromContext(ctx)
	if requestID == "" {
		return ctx
	}
	span.SetAttributes(attribute.String("request_id", requestID))
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

// billingAttributes reads what the auth middleware and handlers left on the
// request. A 402 is an expected refusal and never marks the span as failed.
func billingAttributes(c *gin.Context, status int) []attribute.KeyValue {
	ctx := c.Request.Context()
	var attrs []attribute.KeyValue
	if ref := AccountRef(obscontext.AccountIDFromContext(ctx)); ref != "" {
		attrs = append(attrs, attrAccountRef.String(ref))
	}
	if periodID := obscontext.PeriodIDFromContext(ctx); periodID != "" {
		attrs = append(attrs, attrPeriodID.String(periodID))
	}
	if status == http.StatusPaymentRequired {
		attrs = append(attrs, attrQuotaExceeded.Bool(true))
	}
	if reason := c.Writer.Header().Get(rateLimitedHeader); reason != "" {
		attrs = append(attrs, attrRateLimited.String(reason))
	}
	return attrs
}
