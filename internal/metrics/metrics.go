// Package metrics содержит счётчики Prometheus панели биллинга.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Результаты подтверждения подписки.
const (
	ResultActivated     = "activated"
	ResultAlreadyActive = "already_active"
	ResultNoCheckout    = "no_checkout"
	ResultUnauthorized  = "unauthorized"
	ResultError         = "error"
)

// Metrics хранит счётчики панели биллинга.
type Metrics struct {
	CheckoutRedirects *prometheus.CounterVec
	Confirmations     *prometheus.CounterVec
	Webhooks          *prometheus.CounterVec
	ConfirmCalls      *prometheus.CounterVec
}

// New создает и регистрирует метрики в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CheckoutRedirects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_checkout_redirects_total",
				Help: "Redirects to provider checkout pages",
			},
			[]string{"provider", "period"},
		),
		Confirmations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_subscription_confirmations_total",
				Help: "Subscription confirmation requests by result",
			},
			[]string{"provider", "result"},
		),
		Webhooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhooks_total",
				Help: "Provider webhooks by outcome",
			},
			[]string{"provider", "outcome"},
		),
		ConfirmCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_panel_confirm_calls_total",
				Help: "Confirmation calls sent by the billing page after checkout return",
			},
			[]string{"provider", "ok"},
		),
	}
	reg.MustRegister(m.CheckoutRedirects, m.Confirmations, m.Webhooks, m.ConfirmCalls)
	return m
}

// NewNop создает метрики без регистрации, для тестов и утилит.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
