package models

import "time"

// Provider — платёжный провайдер, через которого оформлена подписка.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
)

// ParseProvider возвращает провайдера по строке и признак того, что он известен.
func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderStripe, ProviderPayPal:
		return Provider(s), true
	default:
		return "", false
	}
}

// Period — период оплаты подписки.
type Period string

const (
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
)

// ParsePeriod возвращает период по строке и признак того, что он известен.
func ParsePeriod(s string) (Period, bool) {
	switch Period(s) {
	case PeriodMonthly, PeriodYearly:
		return Period(s), true
	default:
		return "", false
	}
}

const (
	ProviderSubscriptionActive    = "active"
	ProviderSubscriptionCanceled  = "canceled"
	ProviderSubscriptionExpired   = "expired"
	ProviderSubscriptionSuspended = "suspended"
)

// ProviderSubscription — запись о подписке у внешнего провайдера,
// получаемая из вебхуков или прямого запроса к API провайдера.
type ProviderSubscription struct {
	ID         int        `json:"id"`
	Provider   Provider   `json:"provider"`
	ExternalID string     `json:"external_id"`
	UserID     string     `json:"user_id"`
	Status     string     `json:"status"`
	PeriodEnd  *time.Time `json:"period_end,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
