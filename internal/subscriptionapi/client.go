// Package subscriptionapi — HTTP-клиент API подтверждения подписки.
// Панель биллинга вызывает его после возврата пользователя с оплаты.
package subscriptionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/magabrotheeeer/billing-panel/internal/models"
)

// ConfirmPath — путь эндпоинта подтверждения подписки.
const ConfirmPath = "/api/subscription"

// Client отправляет запросы в API подписок.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для baseURL с таймаутом timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// StatusError — ответ API с неуспешным статусом.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Confirm отправляет POST /api/subscription с {user_id, session_id, provider}.
func (c *Client) Confirm(ctx context.Context, userID, sessionID string, provider models.Provider) error {
	const op = "subscriptionapi.Confirm"

	req, err := c.newRequest(ctx, http.MethodPost, ConfirmPath, models.ConfirmRequest{
		UserID:    userID,
		SessionID: sessionID,
		Provider:  string(provider),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: %w", op, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))})
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
