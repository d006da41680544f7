// Package billingpanel собирает HTTP-маршруты и зависимости панели биллинга.
package billingpanel

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/billing-panel/internal/http/handlers/billing/page"
	"github.com/magabrotheeeer/billing-panel/internal/http/handlers/billing/subscribe"
	"github.com/magabrotheeeer/billing-panel/internal/http/handlers/payment/paypalwebhook"
	"github.com/magabrotheeeer/billing-panel/internal/http/handlers/payment/stripewebhook"
	"github.com/magabrotheeeer/billing-panel/internal/http/handlers/subscription/confirm"
	"github.com/magabrotheeeer/billing-panel/internal/http/handlers/subscription/health"
	"github.com/magabrotheeeer/billing-panel/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-panel/internal/metrics"
	"github.com/magabrotheeeer/billing-panel/internal/paymentprovider"
	"github.com/magabrotheeeer/billing-panel/internal/services/billing"
)

// Sessions проверяет сессию из cookie и из тела запроса подтверждения.
type Sessions interface {
	middlewarectx.SessionChecker
	confirm.SessionValidator
}

// Subscriptions подтверждает подписки и записывает вебхуки.
type Subscriptions interface {
	confirm.Service
	RecordWebhook(ctx context.Context, ev *paymentprovider.WebhookEvent) error
}

// Deps — зависимости маршрутов.
type Deps struct {
	Log                *slog.Logger
	Sessions           Sessions
	Billing            *billing.Service
	Confirmer          page.Confirmer
	Subscriptions      Subscriptions
	Stripe             stripewebhook.Parser
	PayPal             paypalwebhook.Parser
	DB                 health.Pinger
	Metrics            *metrics.Metrics
	Gatherer           prometheus.Gatherer
	ReloadDelay        time.Duration
	LoginRedirectDelay time.Duration
	RateLimit          float64
	RateBurst          int
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, d Deps) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/billing", http.StatusSeeOther)
	})

	// Страницы панели
	r.Group(func(r chi.Router) {
		r.Use(middlewarectx.SessionMiddleware(d.Sessions, d.Log))
		r.Get("/billing", page.New(d.Log, d.Billing, d.Confirmer, d.Metrics, d.ReloadDelay).ServeHTTP)

		subscribeHandler := subscribe.New(d.Log, d.Billing, d.Metrics, d.LoginRedirectDelay)
		r.Get("/billing/subscribe/{period}", subscribeHandler.ServeHTTP)
		r.Post("/billing/subscribe/{period}", subscribeHandler.ServeHTTP)
	})

	r.Route("/api", func(r chi.Router) {
		r.With(middlewarectx.RateLimitMiddleware(d.Log, d.RateLimit, d.RateBurst, middlewarectx.UserIDOrIP)).
			Post("/subscription", confirm.New(d.Log, d.Sessions, d.Subscriptions, d.Metrics).ServeHTTP)

		// Вебхуки провайдеров (без сессии, проверяются подписью)
		if d.Stripe != nil {
			r.Post("/webhooks/stripe", stripewebhook.New(d.Log, d.Stripe, d.Subscriptions, d.Metrics).ServeHTTP)
		}
		if d.PayPal != nil {
			r.Post("/webhooks/paypal", paypalwebhook.New(d.Log, d.PayPal, d.Subscriptions, d.Metrics).ServeHTTP)
		}
	})

	r.Get("/health", health.New(d.Log, d.DB).ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
