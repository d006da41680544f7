package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/magabrotheeeer/billing-panel/internal/models"
)

const userColumns = `id, email, status, subscription_provider, subscription_expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u         models.User
		provider  sql.NullString
		expiresAt sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Status, &provider, &expiresAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if provider.Valid {
		u.Subscription.Provider = models.Provider(provider.String)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		u.Subscription.ExpiresAt = &t
	}
	return &u, nil
}

// GetUser возвращает пользователя по его ID.
func (s *Storage) GetUser(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.GetUser"
	if err := ctxDone(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, notFound(op, err)
	}
	return u, nil
}

// GetUserByEmail возвращает пользователя по адресу почты без учёта регистра.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.GetUserByEmail"
	if err := ctxDone(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, email))
	if err != nil {
		return nil, notFound(op, err)
	}
	return u, nil
}

// ActivateUser переводит пользователя в статус active и возвращает количество изменённых строк.
func (s *Storage) ActivateUser(ctx context.Context, userID string, provider models.Provider, expiresAt *time.Time) (int, error) {
	const op = "storage.ActivateUser"
	if err := ctxDone(ctx, op); err != nil {
		return 0, err
	}

	query := `UPDATE users
			  SET status = $1, subscription_provider = $2, subscription_expires_at = $3, updated_at = now()
			  WHERE id = $4`
	result, err := s.DB.ExecContext(ctx, query, models.StatusActive, string(provider), expiresAt, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rows), nil
}

// ExtendUser продлевает подписку владельца записи (provider, external_id) до expiresAt
// и возвращает ID пользователя. Дата окончания только сдвигается вперёд,
// пользователь, уже переведённый в inactive, снова становится active.
// Если продлевать нечего, возвращается ErrNotFound.
func (s *Storage) ExtendUser(ctx context.Context, provider models.Provider, externalID string, expiresAt time.Time) (string, error) {
	const op = "storage.ExtendUser"
	if err := ctxDone(ctx, op); err != nil {
		return "", err
	}

	query := `UPDATE users u
			  SET status = $1, subscription_provider = $2, subscription_expires_at = $3, updated_at = now()
			  FROM provider_subscriptions ps
			  WHERE ps.provider = $2 AND ps.external_id = $4 AND ps.user_id = u.id
			    AND (u.status <> $1 OR u.subscription_expires_at IS NULL OR u.subscription_expires_at < $3)
			  RETURNING u.id`
	var userID string
	err := s.DB.QueryRowContext(ctx, query, models.StatusActive, string(provider), expiresAt, externalID).Scan(&userID)
	if err != nil {
		return "", notFound(op, err)
	}
	return userID, nil
}

// ExpireSubscriptions переводит в inactive активные подписки, истёкшие к моменту now,
// и возвращает ID затронутых пользователей.
func (s *Storage) ExpireSubscriptions(ctx context.Context, now time.Time) ([]string, error) {
	const op = "storage.ExpireSubscriptions"
	if err := ctxDone(ctx, op); err != nil {
		return nil, err
	}

	query := `UPDATE users
			  SET status = $1, updated_at = now()
			  WHERE status = $2 AND subscription_expires_at IS NOT NULL AND subscription_expires_at < $3
			  RETURNING id`
	rows, err := s.DB.QueryContext(ctx, query, models.StatusInactive, models.StatusActive, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}

// FindTrialsExpiringBetween возвращает пользователей в пробном периоде,
// который заканчивается в интервале [from, to).
func (s *Storage) FindTrialsExpiringBetween(ctx context.Context, from, to time.Time) ([]*models.User, error) {
	const op = "storage.FindTrialsExpiringBetween"
	if err := ctxDone(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE status = $1 AND subscription_expires_at >= $2 AND subscription_expires_at < $3
			  ORDER BY subscription_expires_at`
	rows, err := s.DB.QueryContext(ctx, query, models.StatusTrial, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
