package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/luisterslim/billing/internal/account/domain"
	auditdomain "github.com/luisterslim/billing/internal/audit/domain"
	authdomain "github.com/luisterslim/billing/internal/auth/domain"
	billingdomain "github.com/luisterslim/billing/internal/providers/billing/domain"
	quotadomain "github.com/luisterslim/billing/internal/quota/domain"
	retentiondomain "github.com/luisterslim/billing/internal/retention/domain"
	subscriptiondomain "github.com/luisterslim/billing/internal/subscription/domain"
	topupdomain "github.com/luisterslim/billing/internal/topup/domain"
	usagedomain "github.com/luisterslim/billing/internal/usage/domain"
	webhookdomain "github.com/luisterslim/billing/internal/webhook/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`

	// Set for quota_exceeded only.
	RemainingMs *int64 `json:"remaining_ms,omitempty"`
	QuotaMs     *int64 `json:"quota_ms,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var exceeded *quotadomain.QuotaExceededError
	if errors.As(err, &exceeded) {
		remaining := exceeded.RemainingMs()
		quotaMs := exceeded.QuotaMs
		return http.StatusPaymentRequired, errorPayload{
			Type:        "quota_exceeded",
			Message:     "usage quota exceeded",
			RemainingMs: &remaining,
			QuotaMs:     &quotaMs,
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrUnauthorized),
		errors.Is(err, authdomain.ErrNotConfigured):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, retentiondomain.ErrOptionLocked):
		return http.StatusForbidden, errorPayload{
			Type:    "retention_option_locked",
			Message: "retention option is not available on the current plan",
		}
	case errors.Is(err, quotadomain.ErrQuotaExceeded):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "quota_exceeded",
			Message: "usage quota exceeded",
		}
	case errors.Is(err, accountdomain.ErrAccountNotProvisioned):
		return http.StatusConflict, errorPayload{
			Type:    "account_not_provisioned",
			Message: "account not provisioned",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, topupdomain.ErrInvoiceConflict),
		errors.Is(err, usagedomain.ErrEventIDConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, billingdomain.ErrVerificationRejected),
		errors.Is(err, subscriptiondomain.ErrUnknownPrice),
		errors.Is(err, webhookdomain.ErrUnresolvedAccount):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "verification_failed",
			Message: "billing provider did not confirm the request",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		billingdomain.IsRetryable(err),
		errors.Is(err, billingdomain.ErrNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationSentinels = []error{
	ErrInvalidRequest,
	accountdomain.ErrInvalidAccount,
	accountdomain.ErrInvalidPlanCode,
	accountdomain.ErrInvalidQuota,
	auditdomain.ErrInvalidAccount,
	quotadomain.ErrInvalidAccount,
	usagedomain.ErrInvalidAccount,
	usagedomain.ErrInvalidPeriod,
	usagedomain.ErrInvalidDelta,
	usagedomain.ErrInvalidQuota,
	usagedomain.ErrInvalidEventID,
	usagedomain.ErrInvalidArtifact,
	topupdomain.ErrInvalidAccount,
	topupdomain.ErrInvalidInvoice,
	topupdomain.ErrInvalidTopUp,
	topupdomain.ErrInvalidMinutes,
	topupdomain.ErrInvalidPeriod,
	topupdomain.ErrInvalidPayment,
	topupdomain.ErrInvalidReferral,
	topupdomain.ErrUnknownTopUp,
	subscriptiondomain.ErrInvalidAccount,
	subscriptiondomain.ErrInvalidPlanCode,
	subscriptiondomain.ErrInvalidSubscriptionID,
	retentiondomain.ErrInvalidAccount,
	retentiondomain.ErrInvalidOption,
	webhookdomain.ErrInvalidEvent,
	billingdomain.ErrInvalidSignature,
}

func isValidationError(err error) bool {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, retentiondomain.ErrSettingNotFound),
		errors.Is(err, usagedomain.ErrPeriodNotFound),
		errors.Is(err, accountdomain.ErrCustomerNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "invalid_request"
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	if strings.HasPrefix(code, "unknown_") {
		return strings.TrimPrefix(code, "unknown_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_webhook_signature":
		return "signature verification failed"
	default:
		return "invalid value"
	}
}
