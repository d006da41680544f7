// Package page реализует страницу биллинга GET /billing.
//
// Гость получает пустую оболочку страницы. После возврата с оплаты
// (stripeCheckoutId или paypalCheckoutId в запросе) страница один раз
// отправляет подтверждение подписки и перезагружается.
package page

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/billing-panel/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-panel/internal/http/view"
	"github.com/magabrotheeeer/billing-panel/internal/lib/sl"
	"github.com/magabrotheeeer/billing-panel/internal/metrics"
	"github.com/magabrotheeeer/billing-panel/internal/models"
	"github.com/magabrotheeeer/billing-panel/internal/services/billing"
)

// ReloadNotice показывается после возврата с оплаты.
const ReloadNotice = "Alright! Will reload in a couple of seconds..."

// PanelService выбирает вид панели подписки.
type PanelService interface {
	Panel(user *models.User, now time.Time) billing.Panel
}

// Confirmer отправляет подтверждение оплаты.
type Confirmer interface {
	Confirm(ctx context.Context, userID, sessionID string, provider models.Provider) error
}

// Handler обслуживает страницу биллинга.
type Handler struct {
	log         *slog.Logger
	panel       PanelService
	confirmer   Confirmer
	metrics     *metrics.Metrics
	reloadDelay time.Duration
	now         func() time.Time
}

// New создает Handler.
func New(log *slog.Logger, panel PanelService, confirmer Confirmer, m *metrics.Metrics, reloadDelay time.Duration) *Handler {
	return &Handler{
		log:         log,
		panel:       panel,
		confirmer:   confirmer,
		metrics:     m,
		reloadDelay: reloadDelay,
		now:         time.Now,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.page"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	user, ok := middlewarectx.UserFromContext(r.Context())
	if !ok {
		h.render(w, log, view.Page{})
		return
	}

	if provider, ok := billing.ConfirmationProvider(r.URL.Query()); ok {
		h.confirm(r, log, user, provider)
		err := view.RedirectAfter(w, r, h.reloadDelay, "/billing", view.Page{
			LoggedIn: true,
			Notice:   &view.Notice{Kind: view.NoticeSuccess, Text: ReloadNotice},
		})
		if err != nil {
			log.Error("failed to render page", sl.Err(err))
		}
		return
	}

	p := h.panel.Panel(user, h.now())
	h.render(w, log, view.Page{LoggedIn: true, Panel: &p})
}

func (h *Handler) confirm(r *http.Request, log *slog.Logger, user *models.User, provider models.Provider) {
	sess, ok := middlewarectx.SessionFromContext(r.Context())
	if !ok {
		log.Warn("checkout return without session")
		return
	}

	err := h.confirmer.Confirm(r.Context(), user.ID, sess.ID, provider)
	h.metrics.ConfirmCalls.WithLabelValues(string(provider), strconv.FormatBool(err == nil)).Inc()
	if err != nil {
		log.Warn("subscription confirmation failed", sl.Err(err), slog.String("provider", string(provider)))
		return
	}
	log.Info("subscription confirmation sent", slog.String("provider", string(provider)))
}

func (h *Handler) render(w http.ResponseWriter, log *slog.Logger, p view.Page) {
	if err := view.Render(w, http.StatusOK, p); err != nil {
		log.Error("failed to render page", sl.Err(err))
	}
}
