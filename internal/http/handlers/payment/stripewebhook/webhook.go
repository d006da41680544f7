// Package stripewebhook принимает вебхуки Stripe POST /api/webhooks/stripe.
package stripewebhook

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

// MaxBodyBytes ограничивает размер тела вебхука.
const MaxBodyBytes = 64 << 10

// Parser проверяет подпись и разбирает событие Stripe.
type Parser interface {
	ParseWebhook(payload []byte, signature string) (*paymentprovider.WebhookEvent, error)
}

// Recorder сохраняет изменения подписки.
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
	const op = "handlers.payment.stripewebhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		h.count("bad_request")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ev, err := h.parser.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, paymentprovider.ErrInvalidSignature) {
			log.Warn("invalid webhook signature", sl.Err(err))
			h.count("invalid_signature")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		log.Error("failed to parse webhook", sl.Err(err))
		h.count("bad_request")
		w.WriteHeader(http.StatusBadRequest)
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
	h.metrics.Webhooks.WithLabelValues("stripe", outcome).Inc()
}
