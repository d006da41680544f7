// Package scheduler запускает фоновые задачи по расписанию cron.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/magabrotheeeer/billing-panel/internal/cache"
	"github.com/magabrotheeeer/billing-panel/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/billing-panel/internal/lib/sl"
	"github.com/magabrotheeeer/billing-panel/internal/models"
)

// TrialNoticeWindow — за сколько до конца пробного периода отправляется уведомление.
const TrialNoticeWindow = 24 * time.Hour

type Repository interface {
	ExpireSubscriptions(ctx context.Context, now time.Time) ([]string, error)
	FindTrialsExpiringBetween(ctx context.Context, from, to time.Time) ([]*models.User, error)
}

type Cache interface {
	Invalidate(ctx context.Context, keys ...string) error
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, message any) error
}

// Scheduler переводит просроченные подписки в inactive
// и публикует уведомления о заканчивающемся пробном периоде.
type Scheduler struct {
	repo      Repository
	cache     Cache
	publisher Publisher
	cron      *cron.Cron
	log       *slog.Logger
	now       func() time.Time
}

// New создает Scheduler.
func New(repo Repository, c Cache, publisher Publisher, log *slog.Logger) *Scheduler {
	return &Scheduler{
		repo:      repo,
		cache:     c,
		publisher: publisher,
		cron:      cron.New(),
		log:       log,
		now:       time.Now,
	}
}

// Start регистрирует задачи и запускает cron.
func (s *Scheduler) Start(ctx context.Context, expireSpec, trialNoticeSpec string) error {
	const op = "services.scheduler.Start"

	if _, err := s.cron.AddFunc(expireSpec, func() { s.ExpireSubscriptions(ctx) }); err != nil {
		return fmt.Errorf("%s: expire job: %w", op, err)
	}
	if _, err := s.cron.AddFunc(trialNoticeSpec, func() { s.PublishTrialNotices(ctx) }); err != nil {
		return fmt.Errorf("%s: trial notice job: %w", op, err)
	}
	s.cron.Start()
	s.log.Info("scheduler started",
		slog.String("expire_spec", expireSpec),
		slog.String("trial_notice_spec", trialNoticeSpec))
	return nil
}

// Stop останавливает cron и ждёт завершения запущенных задач или отмены ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
}

// ExpireSubscriptions переводит в inactive подписки, срок которых истёк.
func (s *Scheduler) ExpireSubscriptions(ctx context.Context) {
	s.log.Info("starting expiration of stale subscriptions")
	ids, err := s.repo.ExpireSubscriptions(ctx, s.now())
	if err != nil {
		s.log.Error("failed to expire subscriptions", sl.Err(err))
		return
	}
	if len(ids) == 0 {
		s.log.Info("no expired subscriptions found")
		return
	}
	s.log.Info("expired subscriptions", "count", len(ids))

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, cache.UserKey(id))
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.log.Warn("failed to invalidate cached users", sl.Err(err))
	}
}

// PublishTrialNotices публикует уведомления пользователям,
// чей пробный период заканчивается в ближайшие сутки.
func (s *Scheduler) PublishTrialNotices(ctx context.Context) {
	s.log.Info("starting search for expiring trials")
	now := s.now()
	users, err := s.repo.FindTrialsExpiringBetween(ctx, now, now.Add(TrialNoticeWindow))
	if err != nil {
		s.log.Error("failed to find expiring trials", sl.Err(err))
		return
	}
	if len(users) == 0 {
		s.log.Info("no expiring trials found")
		return
	}
	s.log.Info("found expiring trials", "count", len(users))

	for _, u := range users {
		event := models.SubscriptionEvent{
			ID:     uuid.NewString(),
			Type:   rabbitmq.RoutingTrialExpiring,
			UserID: u.ID,
			Email:  u.Email,
		}
		if u.Subscription.ExpiresAt != nil {
			event.ExpiresAt = u.Subscription.ExpiresAt.UTC().Format(time.RFC3339)
		}
		if err := s.publisher.Publish(ctx, rabbitmq.RoutingTrialExpiring, event); err != nil {
			s.log.Error("failed to publish message", sl.Err(err), slog.String("user_id", u.ID))
		}
	}
}
