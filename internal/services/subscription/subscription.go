// Package subscription подтверждает оплату подписки после возврата с чекаута
// и сохраняет состояние подписок, приходящее из вебхуков провайдеров.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/billing-panel/internal/cache"
	"github.com/magabrotheeeer/billing-panel/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/billing-panel/internal/lib/sl"
	"github.com/magabrotheeeer/billing-panel/internal/models"
	"github.com/magabrotheeeer/billing-panel/internal/paymentprovider"
	"github.com/magabrotheeeer/billing-panel/internal/storage/repository"
)

var (
	// ErrNoCheckout — у провайдера нет завершённой оплаты пользователя.
	ErrNoCheckout = errors.New("no completed checkout found")
	// ErrUserNotFound — пользователь из запроса не существует.
	ErrUserNotFound = errors.New("user not found")
)

// Repository описывает хранилище пользователей и подписок у провайдеров.
type Repository interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ActivateUser(ctx context.Context, userID string, provider models.Provider, expiresAt *time.Time) (int, error)
	FindActiveProviderSubscription(ctx context.Context, provider models.Provider, userID string) (*models.ProviderSubscription, error)
	UpsertProviderSubscription(ctx context.Context, ps models.ProviderSubscription) (int, error)
	UpdateProviderSubscription(ctx context.Context, provider models.Provider, externalID, status string, periodEnd *time.Time) (int, error)
	ExtendUser(ctx context.Context, provider models.Provider, externalID string, expiresAt time.Time) (string, error)
}

// Cache описывает сброс закэшированных пользователей.
type Cache interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Publisher публикует события в брокер.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, message any) error
}

// StripeLookup ищет активную подписку напрямую в Stripe.
type StripeLookup interface {
	LookupActive(ctx context.Context, user *models.User) (*models.ProviderSubscription, error)
}

// Service реализует подтверждение подписки.
type Service struct {
	repo      Repository
	cache     Cache
	publisher Publisher
	stripe    StripeLookup
	log       *slog.Logger
}

// NewService создает Service. stripe может быть nil, тогда подтверждение
// опирается только на сохранённые вебхуки.
func NewService(repo Repository, c Cache, publisher Publisher, stripe StripeLookup, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		cache:     c,
		publisher: publisher,
		stripe:    stripe,
		log:       log,
	}
}

// Confirm активирует подписку пользователя, если у провайдера есть завершённая оплата.
// Второй флаг false, если пользователь уже был активен: событие повторно не публикуется.
func (s *Service) Confirm(ctx context.Context, userID string, provider models.Provider) (*models.User, bool, error) {
	const op = "services.subscription.Confirm"
	log := s.log.With(slog.String("op", op), slog.String("user_id", userID), slog.String("provider", string(provider)))

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if user.IsActive() {
		log.Info("subscription already active")
		return user, false, nil
	}

	ps, err := s.findCheckout(ctx, user, provider)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.repo.ActivateUser(ctx, user.ID, provider, ps.PeriodEnd); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	user.Status = models.StatusActive
	user.Subscription = models.Subscription{Provider: provider, ExpiresAt: ps.PeriodEnd}
	log.Info("subscription activated", slog.String("external_id", ps.ExternalID))

	if err := s.cache.Invalidate(ctx, cache.UserKey(user.ID)); err != nil {
		log.Warn("failed to invalidate cached user", sl.Err(err))
	}

	event := models.SubscriptionEvent{
		ID:       uuid.NewString(),
		Type:     rabbitmq.RoutingSubscriptionActivated,
		UserID:   user.ID,
		Email:    user.Email,
		Provider: string(provider),
	}
	if ps.PeriodEnd != nil {
		event.ExpiresAt = ps.PeriodEnd.UTC().Format(time.RFC3339)
	}
	if err := s.publisher.Publish(ctx, rabbitmq.RoutingSubscriptionActivated, event); err != nil {
		log.Warn("failed to publish activation event", sl.Err(err))
	}

	return user, true, nil
}

func (s *Service) findCheckout(ctx context.Context, user *models.User, provider models.Provider) (*models.ProviderSubscription, error) {
	ps, err := s.repo.FindActiveProviderSubscription(ctx, provider, user.ID)
	if err == nil {
		return ps, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if provider != models.ProviderStripe || s.stripe == nil {
		return nil, ErrNoCheckout
	}

	ps, err = s.stripe.LookupActive(ctx, user)
	if err != nil {
		if errors.Is(err, paymentprovider.ErrNoSubscription) {
			return nil, ErrNoCheckout
		}
		return nil, err
	}
	if _, err := s.repo.UpsertProviderSubscription(ctx, *ps); err != nil {
		s.log.Warn("failed to store stripe subscription", sl.Err(err), slog.String("external_id", ps.ExternalID))
	}
	return ps, nil
}

// RecordWebhook сохраняет изменение подписки, пришедшее из проверенного вебхука.
// Продление активной подписки переносит вперёд и дату окончания у пользователя.
// События по неизвестным пользователям подтверждаются провайдеру и только логируются.
func (s *Service) RecordWebhook(ctx context.Context, ev *paymentprovider.WebhookEvent) error {
	const op = "services.subscription.RecordWebhook"
	log := s.log.With(
		slog.String("op", op),
		slog.String("provider", string(ev.Provider)),
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
	)

	switch ev.Kind {
	case paymentprovider.EventActivated:
		if _, err := s.recordActive(ctx, log, ev); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

	case paymentprovider.EventUpdated, paymentprovider.EventEnded:
		n, err := s.repo.UpdateProviderSubscription(ctx, ev.Provider, ev.ExternalID, ev.Status, ev.PeriodEnd)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		renewal := ev.Kind == paymentprovider.EventUpdated && ev.Status == models.ProviderSubscriptionActive
		if n == 0 {
			if !renewal {
				log.Info("webhook for unknown subscription", slog.String("external_id", ev.ExternalID))
				return nil
			}
			recorded, err := s.recordActive(ctx, log, ev)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			if !recorded {
				return nil
			}
		} else {
			log.Info("provider subscription updated", slog.String("status", ev.Status))
		}
		if renewal && ev.PeriodEnd != nil {
			if err := s.extendUser(ctx, log, ev); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}

	default:
		log.Debug("webhook ignored")
	}
	return nil
}

// recordActive сохраняет активную подписку провайдера за пользователем из события.
// false означает, что пользователь не найден и событие пропущено.
func (s *Service) recordActive(ctx context.Context, log *slog.Logger, ev *paymentprovider.WebhookEvent) (bool, error) {
	user, err := s.resolveUser(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			log.Warn("webhook for unknown user", slog.String("external_id", ev.ExternalID))
			return false, nil
		}
		return false, err
	}
	_, err = s.repo.UpsertProviderSubscription(ctx, models.ProviderSubscription{
		Provider:   ev.Provider,
		ExternalID: ev.ExternalID,
		UserID:     user.ID,
		Status:     models.ProviderSubscriptionActive,
		PeriodEnd:  ev.PeriodEnd,
	})
	if err != nil {
		return false, err
	}
	log.Info("provider subscription recorded", slog.String("user_id", user.ID))
	return true, nil
}

func (s *Service) extendUser(ctx context.Context, log *slog.Logger, ev *paymentprovider.WebhookEvent) error {
	userID, err := s.repo.ExtendUser(ctx, ev.Provider, ev.ExternalID, *ev.PeriodEnd)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Debug("user expiry already up to date", slog.String("external_id", ev.ExternalID))
			return nil
		}
		return err
	}
	if err := s.cache.Invalidate(ctx, cache.UserKey(userID)); err != nil {
		log.Warn("failed to invalidate cached user", sl.Err(err))
	}
	log.Info("subscription extended",
		slog.String("user_id", userID),
		slog.String("expires_at", ev.PeriodEnd.UTC().Format(time.RFC3339)),
	)
	return nil
}

func (s *Service) resolveUser(ctx context.Context, ev *paymentprovider.WebhookEvent) (*models.User, error) {
	if uuid.Validate(ev.UserID) == nil {
		user, err := s.repo.GetUser(ctx, ev.UserID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	if ev.Email != "" {
		user, err := s.repo.GetUserByEmail(ctx, ev.Email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrUserNotFound
}
