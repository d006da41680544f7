// Package middlewarectx содержит HTTP middleware панели биллинга.
//
// SessionMiddleware загружает сессию и пользователя по cookie и кладёт их в контекст.
// Отсутствие сессии не считается ошибкой: обработчик сам решает, что показать гостю.
package middlewarectx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/billing-panel/internal/lib/sl"
	"github.com/magabrotheeeer/billing-panel/internal/models"
	"github.com/magabrotheeeer/billing-panel/internal/session"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// User — ключ для текущего пользователя в контексте
	User Key = "user"
	// Session — ключ для текущей сессии в контексте
	Session Key = "session"
)

// SessionChecker проверяет сессию запроса.
type SessionChecker interface {
	Check(ctx context.Context, r *http.Request) (*models.Session, *models.User, error)
}

// SessionMiddleware возвращает middleware, загружающий сессию и пользователя.
func SessionMiddleware(checker SessionChecker, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.SessionMiddleware"

			sess, user, err := checker.Check(r.Context(), r)
			if err != nil {
				if !errors.Is(err, session.ErrNoSession) && !errors.Is(err, session.ErrSessionMismatch) {
					log.With(
						slog.String("op", op),
						slog.String("request_id", middleware.GetReqID(r.Context())),
					).Error("failed to check session", sl.Err(err))
				}
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), sess, user)))
		})
	}
}

// UserFromContext возвращает пользователя, загруженного SessionMiddleware.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(User).(*models.User)
	return u, ok && u != nil
}

// SessionFromContext возвращает сессию, загруженную SessionMiddleware.
func SessionFromContext(ctx context.Context) (*models.Session, bool) {
	s, ok := ctx.Value(Session).(*models.Session)
	return s, ok && s != nil
}

// WithUser кладёт в контекст сессию и пользователя.
func WithUser(ctx context.Context, sess *models.Session, user *models.User) context.Context {
	ctx = context.WithValue(ctx, User, user)
	return context.WithValue(ctx, Session, sess)
}
