// Package billing содержит логику панели подписки: выбор шаблона
// (действующая подписка или пробный период), расчёт оставшихся дней
// и выбор внешней ссылки на оплату.
package billing

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/magabrotheeeer/billing-panel/internal/config"
	"github.com/magabrotheeeer/billing-panel/internal/lib/trial"
	"github.com/magabrotheeeer/billing-panel/internal/models"
)

var (
	// ErrUnknownPlan — неизвестная комбинация провайдера и периода.
	ErrUnknownPlan = errors.New("unknown provider or period")
	// ErrCheckoutNotConfigured — ссылка на оплату не задана в конфиге.
	ErrCheckoutNotConfigured = errors.New("checkout url is not configured")
)

const (
	// QueryStripeCheckout — параметр, с которым Stripe возвращает пользователя после оплаты.
	QueryStripeCheckout = "stripeCheckoutId"
	// QueryPayPalCheckout — параметр, с которым PayPal возвращает пользователя после оплаты.
	QueryPayPalCheckout = "paypalCheckoutId"
)

// Kind — вариант шаблона панели.
type Kind string

const (
	KindValid Kind = "valid-subscription"
	KindTrial Kind = "trial-subscription"
)

// Panel — данные для отрисовки блока subscription-info.
type Panel struct {
	Kind           Kind
	TrialDaysLeft  int
	ExpirationText string
}

// Service собирает панель и ссылки на оплату.
type Service struct {
	checkout config.Checkout
}

// NewService создает Service с внешними ссылками на оплату.
func NewService(checkout config.Checkout) *Service {
	return &Service{checkout: checkout}
}

// Panel выбирает шаблон для пользователя на момент now.
func (s *Service) Panel(user *models.User, now time.Time) Panel {
	if user.IsActive() {
		return Panel{Kind: KindValid}
	}

	var expiresAt *time.Time
	if user != nil {
		expiresAt = user.Subscription.ExpiresAt
	}
	daysLeft := trial.DaysLeft(now, expiresAt)
	p := Panel{
		Kind:           KindTrial,
		ExpirationText: trial.ExpirationMessage(daysLeft),
	}
	if daysLeft > 0 {
		p.TrialDaysLeft = daysLeft
	}
	return p
}

// ConfirmationProvider определяет провайдера по параметрам возврата с оплаты.
// Если присутствуют оба параметра, выбирается PayPal.
func ConfirmationProvider(query url.Values) (models.Provider, bool) {
	if query.Get(QueryPayPalCheckout) != "" {
		return models.ProviderPayPal, true
	}
	if query.Get(QueryStripeCheckout) != "" {
		return models.ProviderStripe, true
	}
	return "", false
}

// CheckoutURL возвращает ссылку на оплату для провайдера и периода.
// К ссылкам Stripe добавляются client_reference_id и prefilled_email,
// чтобы вебхук мог связать оплату с пользователем.
func (s *Service) CheckoutURL(provider models.Provider, period models.Period, user *models.User) (string, error) {
	const op = "billing.CheckoutURL"

	var raw string
	switch {
	case provider == models.ProviderStripe && period == models.PeriodMonthly:
		raw = s.checkout.StripeMonthlyURL
	case provider == models.ProviderStripe && period == models.PeriodYearly:
		raw = s.checkout.StripeYearlyURL
	case provider == models.ProviderPayPal && period == models.PeriodMonthly:
		raw = s.checkout.PayPalMonthlyURL
	case provider == models.ProviderPayPal && period == models.PeriodYearly:
		raw = s.checkout.PayPalYearlyURL
	default:
		return "", fmt.Errorf("%s: %w", op, ErrUnknownPlan)
	}
	if raw == "" {
		return "", fmt.Errorf("%s: %s %s: %w", op, provider, period, ErrCheckoutNotConfigured)
	}
	if provider != models.ProviderStripe || user == nil {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	q := u.Query()
	q.Set("client_reference_id", user.ID)
	if user.Email != "" {
		q.Set("prefilled_email", user.Email)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
