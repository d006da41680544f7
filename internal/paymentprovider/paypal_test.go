package paymentprovider

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/billing-panel/internal/models"
)

func newTestPayPal(t *testing.T, status string) (*PayPal, *int) {
	t.Helper()
	verifyCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		verifyCalls++
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req verifyRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "WH-1", req.WebhookID)
		assert.Equal(t, "sig", req.TransmissionSig)
		assert.NotEmpty(t, req.WebhookEvent)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"verification_status":"` + status + `"}`))
	})
	mux.HandleFunc("GET /v1/billing/subscriptions/I-SUB1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"I-SUB1","status":"ACTIVE","custom_id":"u1",
			"subscriber":{"email_address":"buyer@example.com"},
			"billing_info":{"next_billing_time":"2026-12-17T10:00:00Z"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewPayPal(srv.URL, "client", "secret", "WH-1", 5*time.Second), &verifyCalls
}

func paypalHeaders() http.Header {
	h := http.Header{}
	h.Set(HeaderAuthAlgo, "SHA256withRSA")
	h.Set(HeaderCertURL, "https://api.paypal.com/cert")
	h.Set(HeaderTransmissionID, "tx-1")
	h.Set(HeaderTransmissionSig, "sig")
	h.Set(HeaderTransmissionTime, "2026-10-17T10:00:00Z")
	return h
}

func TestPayPal_ParseWebhook_Activated(t *testing.T) {
	p, calls := newTestPayPal(t, "SUCCESS")
	payload := []byte(`{"id":"WH-EVT-1","event_type":"BILLING.SUBSCRIPTION.ACTIVATED",
		"resource":{"id":"I-SUB1","status":"ACTIVE","custom_id":"u1",
		"subscriber":{"email_address":"buyer@example.com"},
		"billing_info":{"next_billing_time":"2026-11-17T10:00:00Z"}}}`)

	ev, err := p.ParseWebhook(t.Context(), payload, paypalHeaders())
	require.NoError(t, err)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, EventActivated, ev.Kind)
	assert.Equal(t, models.ProviderPayPal, ev.Provider)
	assert.Equal(t, "I-SUB1", ev.ExternalID)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, "buyer@example.com", ev.Email)
	require.NotNil(t, ev.PeriodEnd)
	assert.Equal(t, time.Date(2026, 11, 17, 10, 0, 0, 0, time.UTC), ev.PeriodEnd.UTC())
}

func TestPayPal_ParseWebhook_EndedStatuses(t *testing.T) {
	tests := map[string]string{
		"BILLING.SUBSCRIPTION.CANCELLED": models.ProviderSubscriptionCanceled,
		"BILLING.SUBSCRIPTION.EXPIRED":   models.ProviderSubscriptionExpired,
		"BILLING.SUBSCRIPTION.SUSPENDED": models.ProviderSubscriptionSuspended,
	}
	p, _ := newTestPayPal(t, "SUCCESS")
	for eventType, status := range tests {
		t.Run(eventType, func(t *testing.T) {
			payload := []byte(`{"id":"WH-EVT","event_type":"` + eventType + `","resource":{"id":"I-SUB1"}}`)
			ev, err := p.ParseWebhook(t.Context(), payload, paypalHeaders())
			require.NoError(t, err)
			assert.Equal(t, EventEnded, ev.Kind)
			assert.Equal(t, status, ev.Status)
		})
	}
}

func TestPayPal_ParseWebhook_Renewed(t *testing.T) {
	p, _ := newTestPayPal(t, "SUCCESS")
	payload := []byte(`{"id":"WH-EVT-2","event_type":"BILLING.SUBSCRIPTION.RENEWED",
		"resource":{"id":"I-SUB1","status":"ACTIVE","custom_id":"u1",
		"billing_info":{"next_billing_time":"2026-12-17T10:00:00Z"}}}`)

	ev, err := p.ParseWebhook(t.Context(), payload, paypalHeaders())
	require.NoError(t, err)
	assert.Equal(t, EventUpdated, ev.Kind)
	assert.Equal(t, models.ProviderSubscriptionActive, ev.Status)
	assert.Equal(t, "I-SUB1", ev.ExternalID)
	require.NotNil(t, ev.PeriodEnd)
	assert.Equal(t, time.Date(2026, 12, 17, 10, 0, 0, 0, time.UTC), ev.PeriodEnd.UTC())
}

func TestPayPal_ParseWebhook_RecurringSaleLoadsSubscription(t *testing.T) {
	p, _ := newTestPayPal(t, "SUCCESS")
	payload := []byte(`{"id":"WH-EVT-3","event_type":"PAYMENT.SALE.COMPLETED",
		"resource":{"id":"S-1","billing_agreement_id":"I-SUB1"}}`)

	ev, err := p.ParseWebhook(t.Context(), payload, paypalHeaders())
	require.NoError(t, err)
	assert.Equal(t, EventUpdated, ev.Kind)
	assert.Equal(t, models.ProviderSubscriptionActive, ev.Status)
	assert.Equal(t, "I-SUB1", ev.ExternalID)
	assert.Equal(t, "u1", ev.UserID)
	require.NotNil(t, ev.PeriodEnd)
	assert.Equal(t, time.Date(2026, 12, 17, 10, 0, 0, 0, time.UTC), ev.PeriodEnd.UTC())
}

func TestPayPal_ParseWebhook_UpdatedPendingIgnored(t *testing.T) {
	p, _ := newTestPayPal(t, "SUCCESS")
	payload := []byte(`{"id":"WH-EVT","event_type":"BILLING.SUBSCRIPTION.UPDATED",
		"resource":{"id":"I-SUB1","status":"APPROVAL_PENDING"}}`)

	ev, err := p.ParseWebhook(t.Context(), payload, paypalHeaders())
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, ev.Kind)
}

func TestPayPal_ParseWebhook_InvalidJSON(t *testing.T) {
	p, calls := newTestPayPal(t, "SUCCESS")

	_, err := p.ParseWebhook(t.Context(), []byte(`{"id":`), paypalHeaders())
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.NotErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, 0, *calls)
}

func TestPayPal_ParseWebhook_OneTimeSaleIgnored(t *testing.T) {
	p, _ := newTestPayPal(t, "SUCCESS")
	payload := []byte(`{"id":"WH-EVT","event_type":"PAYMENT.SALE.COMPLETED","resource":{"id":"S-1"}}`)

	ev, err := p.ParseWebhook(t.Context(), payload, paypalHeaders())
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, ev.Kind)
}

func TestPayPal_ParseWebhook_VerificationFailed(t *testing.T) {
	p, _ := newTestPayPal(t, "FAILURE")
	payload := []byte(`{"id":"WH-EVT","event_type":"BILLING.SUBSCRIPTION.ACTIVATED","resource":{"id":"I-SUB1"}}`)

	_, err := p.ParseWebhook(t.Context(), payload, paypalHeaders())
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestPayPal_ParseWebhook_MissingSignature(t *testing.T) {
	p, calls := newTestPayPal(t, "SUCCESS")
	payload := []byte(`{"id":"WH-EVT","event_type":"BILLING.SUBSCRIPTION.ACTIVATED","resource":{"id":"I-SUB1"}}`)

	_, err := p.ParseWebhook(t.Context(), payload, http.Header{})
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, 0, *calls)
}
