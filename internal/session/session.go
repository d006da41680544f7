// Package session проверяет сессию пользователя по cookie:
// разбирает токен, находит сессию и загружает пользователя.
// Сессии и пользователи кэшируются в Redis.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/magabrotheeeer/billing-panel/internal/cache"
	"github.com/magabrotheeeer/billing-panel/internal/lib/jwt"
	"github.com/magabrotheeeer/billing-panel/internal/lib/sl"
	"github.com/magabrotheeeer/billing-panel/internal/models"
	"github.com/magabrotheeeer/billing-panel/internal/storage/repository"
)

var (
	// ErrNoSession — cookie отсутствует, токен недействителен или сессия не найдена.
	ErrNoSession = errors.New("no valid session")
	// ErrSessionMismatch — сессия принадлежит другому пользователю.
	ErrSessionMismatch = errors.New("session does not belong to user")
)

// Repository описывает чтение сессий и пользователей из хранилища.
type Repository interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// Cache описывает кэш сессий и пользователей.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// Checker проверяет сессию текущего запроса.
type Checker struct {
	cookieName string
	tokens     jwt.Maker
	repo       Repository
	cache      Cache
	cacheTTL   time.Duration
	log        *slog.Logger
	now        func() time.Time
}

// NewChecker создает Checker.
func NewChecker(cookieName string, tokens jwt.Maker, repo Repository, c Cache, cacheTTL time.Duration, log *slog.Logger) *Checker {
	return &Checker{
		cookieName: cookieName,
		tokens:     tokens,
		repo:       repo,
		cache:      c,
		cacheTTL:   cacheTTL,
		log:        log,
		now:        time.Now,
	}
}

// Check возвращает сессию и пользователя запроса или ErrNoSession.
func (c *Checker) Check(ctx context.Context, r *http.Request) (*models.Session, *models.User, error) {
	const op = "session.Check"

	cookie, err := r.Cookie(c.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	claims, err := c.tokens.ParseToken(cookie.Value)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w: %w", op, ErrNoSession, err)
	}

	sess, err := c.Validate(ctx, claims.UserID, claims.SessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := c.User(ctx, sess.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return sess, user, nil
}

// Validate проверяет, что сессия существует, не истекла и принадлежит userID.
func (c *Checker) Validate(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	const op = "session.Validate"

	sess, err := c.session(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sess.Expired(c.now()) {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("%s: %w", op, ErrSessionMismatch)
	}
	return sess, nil
}

// User возвращает пользователя из кэша или из хранилища.
func (c *Checker) User(ctx context.Context, userID string) (*models.User, error) {
	const op = "session.User"

	var user models.User
	key := cache.UserKey(userID)
	if found, err := c.cache.Get(ctx, key, &user); err != nil {
		c.log.Warn("failed to read user from cache", slog.String("key", key), sl.Err(err))
	} else if found {
		return &user, nil
	}

	u, err := c.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := c.cache.Set(ctx, key, u, c.cacheTTL); err != nil {
		c.log.Warn("failed to cache user", slog.String("key", key), sl.Err(err))
	}
	return u, nil
}

func (c *Checker) session(ctx context.Context, sessionID string) (*models.Session, error) {
	var sess models.Session
	key := cache.SessionKey(sessionID)
	if found, err := c.cache.Get(ctx, key, &sess); err != nil {
		c.log.Warn("failed to read session from cache", slog.String("key", key), sl.Err(err))
	} else if found {
		return &sess, nil
	}

	s, err := c.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ttl := c.cacheTTL
	if left := s.ExpiresAt.Sub(c.now()); left < ttl {
		ttl = left
	}
	if ttl > 0 {
		if err := c.cache.Set(ctx, key, s, ttl); err != nil {
			c.log.Warn("failed to cache session", slog.String("key", key), sl.Err(err))
		}
	}
	return s, nil
}
