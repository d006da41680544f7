package paymentprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/magabrotheeeer/billing-panel/internal/models"
)

// Stripe ищет подписки через Stripe API и проверяет вебхуки Stripe.
type Stripe struct {
	sc            *client.API
	webhookSecret string
}

// NewStripe создаёт клиент Stripe с секретным ключом и секретом вебхука.
func NewStripe(secretKey, webhookSecret string) *Stripe {
	return NewStripeWithBackends(secretKey, webhookSecret, nil)
}

// NewStripeWithBackends позволяет подменить адрес API, например в тестах.
func NewStripeWithBackends(secretKey, webhookSecret string, backends *stripe.Backends) *Stripe {
	sc := &client.API{}
	sc.Init(secretKey, backends)
	return &Stripe{sc: sc, webhookSecret: webhookSecret}
}

// LookupActive находит активную подписку покупателя с почтой пользователя.
// Используется, когда вебхук об оплате ещё не пришёл.
func (s *Stripe) LookupActive(ctx context.Context, user *models.User) (*models.ProviderSubscription, error) {
	const op = "paymentprovider.Stripe.LookupActive"
	if user.Email == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSubscription)
	}

	customers := &stripe.CustomerListParams{Email: stripe.String(user.Email)}
	customers.Context = ctx
	it := s.sc.Customers.List(customers)
	for it.Next() {
		cus := it.Customer()

		subs := &stripe.SubscriptionListParams{
			Customer: stripe.String(cus.ID),
			Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
		}
		subs.Context = ctx
		subIt := s.sc.Subscriptions.List(subs)
		for subIt.Next() {
			sub := subIt.Subscription()
			return &models.ProviderSubscription{
				Provider:   models.ProviderStripe,
				ExternalID: sub.ID,
				UserID:     user.ID,
				Status:     models.ProviderSubscriptionActive,
				PeriodEnd:  periodEnd(sub),
			}, nil
		}
		if err := subIt.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return nil, fmt.Errorf("%s: %w", op, ErrNoSubscription)
}

// ParseWebhook проверяет подпись Stripe-Signature и переводит событие в WebhookEvent.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	const op = "paymentprovider.Stripe.ParseWebhook"

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidSignature, err)
	}

	ev := &WebhookEvent{
		ID:       event.ID,
		Type:     string(event.Type),
		Kind:     EventIgnored,
		Provider: models.ProviderStripe,
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidPayload, err)
		}
		if cs.Subscription == nil || cs.Subscription.ID == "" {
			return ev, nil
		}
		ev.Kind = EventActivated
		ev.ExternalID = cs.Subscription.ID
		ev.UserID = cs.ClientReferenceID
		ev.Email = cs.CustomerEmail
		if cs.CustomerDetails != nil && cs.CustomerDetails.Email != "" {
			ev.Email = cs.CustomerDetails.Email
		}
		ev.Status = models.ProviderSubscriptionActive

	case stripe.EventTypeCustomerSubscriptionUpdated, stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidPayload, err)
		}
		ev.ExternalID = sub.ID
		ev.PeriodEnd = periodEnd(&sub)
		ev.Status = stripeStatus(sub.Status)
		ev.Kind = EventUpdated
		if event.Type == stripe.EventTypeCustomerSubscriptionDeleted {
			ev.Kind = EventEnded
			ev.Status = models.ProviderSubscriptionCanceled
		}
	}
	return ev, nil
}

func stripeStatus(status stripe.SubscriptionStatus) string {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return models.ProviderSubscriptionActive
	case stripe.SubscriptionStatusCanceled:
		return models.ProviderSubscriptionCanceled
	case stripe.SubscriptionStatusPaused:
		return models.ProviderSubscriptionSuspended
	default:
		return models.ProviderSubscriptionExpired
	}
}

// periodEnd берёт наибольший конец периода среди позиций подписки.
func periodEnd(sub *stripe.Subscription) *time.Time {
	if sub == nil || sub.Items == nil {
		return nil
	}
	var end int64
	for _, item := range sub.Items.Data {
		if item != nil && item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
	}
	if end == 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}
