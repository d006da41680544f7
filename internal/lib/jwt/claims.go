// Package jwt реализует генерацию и парсинг сессионных JWT токенов.
//
// Токен хранится в cookie и содержит идентификаторы пользователя и сессии.
package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims описывает данные сессии, хранящиеся в JWT.
type SessionClaims struct {
	UserID               string `json:"user_id"`
	SessionID            string `json:"session_id"`
	jwt.RegisteredClaims        // ExpiresAt, IssuedAt и пр.
}

// Maker описывает генерацию и разбор сессионных токенов.
type Maker interface {
	GenerateToken(userID, sessionID string) (string, error)
	ParseToken(tokenStr string) (*SessionClaims, error)
}

// MakerImpl реализует Maker с HMAC-подписью.
type MakerImpl struct {
	secretKey string
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewJWTMaker создаёт MakerImpl на основе секретного ключа и TTL.
func NewJWTMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
		now:       time.Now,
	}
}
