// Package paypalwebhook принимает вебхуки PayPal POST /api/webhooks/paypal.
// Подпись проверяется через PayPal API, поэтому разбор требует контекста запроса.
package paypalwebhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/billing-panel/internal/lib/sl"
	"github.com/magabrotheeeer/billing-panel/internal/metrics"
	"github.com/magabrotheeeer/billing-panel/internal/paymentprovider"
)

const maxBodyBytes = 64 << 10

type Parser interface {
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*paymentprovider.WebhookEvent, error)
}

type Recorder interface {
	RecordWebhook(ctx context.Context, ev *paymentprovider.WebhookEvent) error
}

type Handler struct {
	log      *slog.Logger
	parser   Parser
	recorder Recorder
	metrics  *metrics.Metrics
}

func New(log *slog.Logger, parser Parser, recorder Recorder, m *metrics.Metrics) *Handler {
	return &Handler{
		log:      log,
		parser:   parser,
		recorder: recorder,
		metrics:  m,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.paypalwebhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		h.count("bad_request")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ev, err := h.parser.ParseWebhook(r.Context(), payload, r.Header)
	if err != nil {
		if errors.Is(err, paymentprovider.ErrInvalidSignature) {
			log.Warn("invalid webhook signature", sl.Err(err))
			h.count("invalid_signature")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if errors.Is(err, paymentprovider.ErrInvalidPayload) {
			log.Warn("malformed webhook payload", sl.Err(err))
			h.count("bad_request")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		// PayPal повторит доставку, если проверка подписи недоступна.
		log.Error("failed to verify webhook", sl.Err(err))
		h.count("error")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if err := h.recorder.RecordWebhook(r.Context(), ev); err != nil {
		log.Error("failed to process webhook event", sl.Err(err))
		h.count("error")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.count(string(ev.Kind))
	log.Info("webhook processed", slog.String("event", ev.Type), slog.String("event_id", ev.ID))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) count(outcome string) {
	h.metrics.Webhooks.WithLabelValues("paypal", outcome).Inc()
}
