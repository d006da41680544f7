// Package subscribe реализует действия подписки GET|POST /billing/subscribe/{period}.
package subscribe

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/billing-panel/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-panel/internal/http/view"
	"github.com/magabrotheeeer/billing-panel/internal/lib/sl"
	"github.com/magabrotheeeer/billing-panel/internal/metrics"
	"github.com/magabrotheeeer/billing-panel/internal/models"
	"github.com/magabrotheeeer/billing-panel/internal/services/billing"
)

const (
	// LoginRequiredNotice показывается гостю, пытающемуся оформить подписку.
	LoginRequiredNotice = "You need to signup or login before subscribing!"
	// CheckoutUnavailableNotice показывается, если ссылка на оплату не настроена.
	CheckoutUnavailableNotice = "Checkout is not available right now, please try again later."
)

// CheckoutService возвращает ссылку на оплату.
type CheckoutService interface {
	CheckoutURL(provider models.Provider, period models.Period, user *models.User) (string, error)
}

// Handler перенаправляет пользователя на оплату выбранного провайдера.
type Handler struct {
	log        *slog.Logger
	checkout   CheckoutService
	metrics    *metrics.Metrics
	loginDelay time.Duration
}

// New создает Handler.
func New(log *slog.Logger, checkout CheckoutService, m *metrics.Metrics, loginDelay time.Duration) *Handler {
	return &Handler{
		log:        log,
		checkout:   checkout,
		metrics:    m,
		loginDelay: loginDelay,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.subscribe"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	period, ok := models.ParsePeriod(chi.URLParam(r, "period"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	user, ok := middlewarectx.UserFromContext(r.Context())
	if !ok {
		log.Info("subscribe attempt without session")
		err := view.RedirectAfter(w, r, h.loginDelay, "/", view.Page{
			Notice: &view.Notice{Kind: view.NoticeError, Text: LoginRequiredNotice},
		})
		if err != nil {
			log.Error("failed to render page", sl.Err(err))
		}
		return
	}

	choice := r.FormValue("provider")
	if choice == "" {
		err := view.Render(w, http.StatusOK, view.Page{
			LoggedIn: true,
			Chooser:  &view.Chooser{Period: period, Action: r.URL.Path},
		})
		if err != nil {
			log.Error("failed to render page", sl.Err(err))
		}
		return
	}

	provider, ok := models.ParseProvider(choice)
	if !ok {
		http.Redirect(w, r, "/billing", http.StatusSeeOther)
		return
	}

	target, err := h.checkout.CheckoutURL(provider, period, user)
	if err != nil {
		log.Error("failed to resolve checkout url", sl.Err(err))
		status := http.StatusInternalServerError
		if errors.Is(err, billing.ErrCheckoutNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		err = view.Render(w, status, view.Page{
			LoggedIn: true,
			Notice:   &view.Notice{Kind: view.NoticeError, Text: CheckoutUnavailableNotice},
		})
		if err != nil {
			log.Error("failed to render page", sl.Err(err))
		}
		return
	}

	h.metrics.CheckoutRedirects.WithLabelValues(string(provider), string(period)).Inc()
	log.Info("redirecting to checkout",
		slog.String("user_id", user.ID),
		slog.String("provider", string(provider)),
		slog.String("period", string(period)))
	http.Redirect(w, r, target, http.StatusSeeOther)
}
