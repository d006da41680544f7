package repository

import (
	"context"

	"github.com/magabrotheeeer/billing-panel/internal/models"
)

// GetSession возвращает сессию по её ID.
func (s *Storage) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	const op = "storage.GetSession"
	if err := ctxDone(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT id, user_id, expires_at, created_at FROM sessions WHERE id = $1`
	var sess models.Session
	err := s.DB.QueryRowContext(ctx, query, sessionID).
		Scan(&sess.ID, &sess.UserID, &sess.ExpiresAt, &sess.CreatedAt)
	if err != nil {
		return nil, notFound(op, err)
	}
	return &sess, nil
}
