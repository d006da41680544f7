package paypalwebhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/billing-panel/internal/metrics"
	"github.com/magabrotheeeer/billing-panel/internal/models"
	"github.com/magabrotheeeer/billing-panel/internal/paymentprovider"
)

type ParserMock struct{ mock.Mock }

func (m *ParserMock) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*paymentprovider.WebhookEvent, error) {
	args := m.Called(ctx, payload, header)
	ev, _ := args.Get(0).(*paymentprovider.WebhookEvent)
	return ev, args.Error(1)
}

type RecorderMock struct{ mock.Mock }

func (m *RecorderMock) RecordWebhook(ctx context.Context, ev *paymentprovider.WebhookEvent) error {
	return m.Called(ctx, ev).Error(0)
}

const payload = `{"id":"WH-1","event_type":"BILLING.SUBSCRIPTION.ACTIVATED","resource":{"id":"I-SUB1"}}`

func serve(h http.Handler) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paypal", strings.NewReader(payload))
	req.Header.Set(paymentprovider.HeaderTransmissionSig, "sig")
	h.ServeHTTP(rr, req)
	return rr
}

func TestPayPalWebhook(t *testing.T) {
	activated := &paymentprovider.WebhookEvent{
		ID:         "WH-1",
		Kind:       paymentprovider.EventActivated,
		Provider:   models.ProviderPayPal,
		ExternalID: "I-SUB1",
	}

	tests := []struct {
		name        string
		parseErr    error
		recordErr   error
		wantStatus  int
		wantRecord  bool
		wantOutcome string
	}{
		{name: "activated", wantStatus: http.StatusOK, wantRecord: true, wantOutcome: "activated"},
		{name: "bad signature", parseErr: fmt.Errorf("verify: %w", paymentprovider.ErrInvalidSignature), wantStatus: http.StatusBadRequest, wantOutcome: "invalid_signature"},
		{name: "malformed payload", parseErr: fmt.Errorf("parse: %w", paymentprovider.ErrInvalidPayload), wantStatus: http.StatusBadRequest, wantOutcome: "bad_request"},
		{name: "paypal unavailable", parseErr: errors.New("dial tcp: timeout"), wantStatus: http.StatusInternalServerError, wantOutcome: "error"},
		{name: "record failure", recordErr: errors.New("db down"), wantStatus: http.StatusInternalServerError, wantRecord: true, wantOutcome: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := new(ParserMock)
			recorder := new(RecorderMock)
			m := metrics.NewNop()

			if tt.parseErr != nil {
				parser.On("ParseWebhook", mock.Anything, []byte(payload), mock.Anything).Return(nil, tt.parseErr)
			} else {
				parser.On("ParseWebhook", mock.Anything, []byte(payload), mock.Anything).Return(activated, nil)
			}
			recorder.On("RecordWebhook", mock.Anything, activated).Return(tt.recordErr)

			rr := serve(New(slog.New(slog.NewTextHandler(io.Discard, nil)), parser, recorder, m))

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantRecord {
				recorder.AssertCalled(t, "RecordWebhook", mock.Anything, activated)
			} else {
				recorder.AssertNotCalled(t, "RecordWebhook", mock.Anything, mock.Anything)
			}
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Webhooks.WithLabelValues("paypal", tt.wantOutcome)))
		})
	}
}
