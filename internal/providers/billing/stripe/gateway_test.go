package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	billingdomain "github.com/luisterslim/billing/internal/providers/billing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripego.GetBackendWithConfig(stripego.APIBackend, &stripego.BackendConfig{
		URL:               stripego.String(srv.URL),
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelNull},
	})
	return New(Config{
		SecretKey:           "sk_test_123",
		WebhookSecret:       "whsec_test",
		EphemeralKeyVersion: "2024-06-20",
		Backends:            &stripego.Backends{API: backend, Connect: backend, Uploads: backend},
	}, zap.NewNop())
}

func TestGetSubscription(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/subscriptions/sub_123", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "sub_123",
			"object": "subscription",
			"customer": "cus_1",
			"status": "active",
			"items": {"object": "list", "data": [
				{"id": "si_1", "current_period_end": 1717200000, "price": {"id": "price_pro"}}
			]}
		}`))
	})

	sub, err := gw.GetSubscription(context.Background(), "sub_123")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, "price_pro", sub.PriceID)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, int64(1717200000), sub.CurrentPeriodEnd.Unix())
}

func TestErrorsAreClassified(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
		want   error
	}{
		"missing": {http.StatusNotFound, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such payment_intent"}}`, billingdomain.ErrNotFound},
		"outage":  {http.StatusInternalServerError, `{"error":{"type":"api_error","message":"boom"}}`, billingdomain.ErrUnavailable},
		"bad":     {http.StatusBadRequest, `{"error":{"type":"invalid_request_error","message":"nope"}}`, billingdomain.ErrRejected},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := gw.GetPaymentIntent(context.Background(), "pi_1")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateEphemeralKey(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ephemeral_keys", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ephkey_1","object":"ephemeral_key","secret":"ek_test","expires":1717200000}`))
	})

	key, err := gw.CreateEphemeralKey(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "ek_test", key.Secret)
	assert.Equal(t, "cus_1", key.CustomerID)
}

func TestUnconfiguredGateway(t *testing.T) {
	gw := New(Config{}, zap.NewNop())

	_, err := gw.GetSubscription(context.Background(), "sub_1")
	assert.ErrorIs(t, err, billingdomain.ErrNotConfigured)
	_, err = gw.ConstructEvent([]byte(`{}`), "t=1,v1=abc")
	assert.ErrorIs(t, err, billingdomain.ErrNotConfigured)
}

func TestConstructEvent(t *testing.T) {
	gw := New(Config{WebhookSecret: "whsec_test"}, zap.NewNop())
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.paid","created":1717200000,"data":{"object":{"id":"in_1","object":"invoice"}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	event, err := gw.ConstructEvent(payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, "invoice.paid", event.Type)
	assert.JSONEq(t, `{"id":"in_1","object":"invoice"}`, string(event.Object))

	_, err = gw.ConstructEvent(payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, billingdomain.ErrInvalidSignature)
}
