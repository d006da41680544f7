// Package paymentprovider содержит интеграции с Stripe и PayPal:
// поиск активной подписки пользователя и разбор проверенных вебхуков.
package paymentprovider

import (
	"errors"
	"time"

	"github.com/magabrotheeeer/billing-panel/internal/models"
)

var (
	// ErrNoSubscription — у провайдера нет активной подписки пользователя.
	ErrNoSubscription = errors.New("no active subscription at provider")
	// ErrInvalidSignature — подпись вебхука не прошла проверку.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidPayload — тело вебхука не удалось разобрать.
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// EventKind — что произошло с подпиской у провайдера.
type EventKind string

const (
	EventActivated EventKind = "activated"
	EventUpdated   EventKind = "updated"
	EventEnded     EventKind = "ended"
	EventIgnored   EventKind = "ignored"
)

// WebhookEvent — провайдеро-независимое представление вебхука.
// UserID может быть пустым, тогда пользователь ищется по Email.
type WebhookEvent struct {
	ID         string
	Type       string
	Kind       EventKind
	Provider   models.Provider
	ExternalID string
	UserID     string
	Email      string
	Status     string
	PeriodEnd  *time.Time
}
