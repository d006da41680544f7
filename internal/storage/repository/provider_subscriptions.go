package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/magabrotheeeer/billing-panel/internal/models"
)

// UpsertProviderSubscription сохраняет запись о подписке у провайдера.
// Повторный вебхук с тем же (provider, external_id) обновляет статус и дату окончания.
func (s *Storage) UpsertProviderSubscription(ctx context.Context, ps models.ProviderSubscription) (int, error) {
	const op = "storage.UpsertProviderSubscription"
	if err := ctxDone(ctx, op); err != nil {
		return 0, err
	}

	query := `INSERT INTO provider_subscriptions (provider, external_id, user_id, status, period_end)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (provider, external_id) DO UPDATE
			  SET user_id = EXCLUDED.user_id,
			      status = EXCLUDED.status,
			      period_end = COALESCE(EXCLUDED.period_end, provider_subscriptions.period_end),
			      updated_at = now()
			  RETURNING id`
	var id int
	err := s.DB.QueryRowContext(ctx, query,
		string(ps.Provider), ps.ExternalID, ps.UserID, ps.Status, ps.PeriodEnd).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// UpdateProviderSubscription меняет статус и, если передана, дату окончания подписки.
// Возвращает количество изменённых строк.
func (s *Storage) UpdateProviderSubscription(ctx context.Context, provider models.Provider, externalID, status string, periodEnd *time.Time) (int, error) {
	const op = "storage.UpdateProviderSubscription"
	if err := ctxDone(ctx, op); err != nil {
		return 0, err
	}

	query := `UPDATE provider_subscriptions
			  SET status = $1, period_end = COALESCE($2, period_end), updated_at = now()
			  WHERE provider = $3 AND external_id = $4`
	result, err := s.DB.ExecContext(ctx, query, status, periodEnd, string(provider), externalID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rows), nil
}

// FindActiveProviderSubscription возвращает последнюю активную подписку пользователя у провайдера.
func (s *Storage) FindActiveProviderSubscription(ctx context.Context, provider models.Provider, userID string) (*models.ProviderSubscription, error) {
	const op = "storage.FindActiveProviderSubscription"
	if err := ctxDone(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT id, provider, external_id, user_id, status, period_end, updated_at
			  FROM provider_subscriptions
			  WHERE provider = $1 AND user_id = $2 AND status = $3
			  ORDER BY updated_at DESC
			  LIMIT 1`
	var (
		ps        models.ProviderSubscription
		prov      string
		periodEnd sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx, query, string(provider), userID, models.ProviderSubscriptionActive).
		Scan(&ps.ID, &prov, &ps.ExternalID, &ps.UserID, &ps.Status, &periodEnd, &ps.UpdatedAt)
	if err != nil {
		return nil, notFound(op, err)
	}
	ps.Provider = models.Provider(prov)
	if periodEnd.Valid {
		t := periodEnd.Time
		ps.PeriodEnd = &t
	}
	return &ps, nil
}
