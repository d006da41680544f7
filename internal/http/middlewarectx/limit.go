package middlewarectx

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/billing-panel/internal/http/response"
)

const (
	// limiterIdleTTL — через сколько простоя лимитер ключа удаляется.
	limiterIdleTTL  = 3 * time.Minute
	maxKeyBodyBytes = 64 << 10
)

// KeyFunc возвращает ключ, по которому считается лимит запроса.
type KeyFunc func(r *http.Request) string

// RateLimitMiddleware ограничивает частоту запросов отдельно для каждого ключа.
func RateLimitMiddleware(log *slog.Logger, limit float64, burst int, key KeyFunc) func(http.Handler) http.Handler {
	store := newLimiterStore(rate.Limit(limit), burst, limiterIdleTTL, time.Now)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if !store.allow(k) {
				log.Warn("too many requests", slog.String("path", r.URL.Path), slog.String("key", k))
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, response.Error("too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP — ключ по адресу клиента.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// UserIDOrIP — ключ по полю user_id из JSON-тела, без него по адресу клиента.
// Тело после чтения возвращается в запрос без изменений.
func UserIDOrIP(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ClientIP(r)
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, maxKeyBodyBytes))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	if err != nil {
		return ClientIP(r)
	}

	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(head, &body); err != nil || body.UserID == "" {
		return ClientIP(r)
	}
	return "user:" + body.UserID
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterStore struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	now       func() time.Time
	visitors  map[string]*visitor
	lastSweep time.Time
}

func newLimiterStore(limit rate.Limit, burst int, ttl time.Duration, now func() time.Time) *limiterStore {
	return &limiterStore{
		limit:     limit,
		burst:     burst,
		ttl:       ttl,
		now:       now,
		visitors:  make(map[string]*visitor),
		lastSweep: now(),
	}
}

func (s *limiterStore) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) > s.ttl {
		for k, v := range s.visitors {
			if now.Sub(v.lastSeen) > s.ttl {
				delete(s.visitors, k)
			}
		}
		s.lastSweep = now
	}

	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}
