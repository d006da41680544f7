// Package confirm реализует POST /api/subscription: подтверждение оплаты
// после возврата пользователя с чекаута.
//
// Запрос валидируется, сессия должна существовать и принадлежать пользователю.
// Повторное подтверждение активной подписки возвращает 200 без повторного события.
package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/billing-panel/internal/http/response"
	"github.com/magabrotheeeer/billing-panel/internal/lib/sl"
	"github.com/magabrotheeeer/billing-panel/internal/metrics"
	"github.com/magabrotheeeer/billing-panel/internal/models"
	"github.com/magabrotheeeer/billing-panel/internal/services/subscription"
	"github.com/magabrotheeeer/billing-panel/internal/session"
)

// SessionValidator проверяет принадлежность сессии пользователю.
type SessionValidator interface {
	Validate(ctx context.Context, userID, sessionID string) (*models.Session, error)
}

// Service подтверждает подписку.
type Service interface {
	Confirm(ctx context.Context, userID string, provider models.Provider) (*models.User, bool, error)
}

// Handler обрабатывает подтверждение подписки.
type Handler struct {
	log      *slog.Logger
	sessions SessionValidator
	service  Service
	metrics  *metrics.Metrics
	validate *validator.Validate
}

// New создает Handler.
func New(log *slog.Logger, sessions SessionValidator, service Service, m *metrics.Metrics) *Handler {
	return &Handler{
		log:      log,
		sessions: sessions,
		service:  service,
		metrics:  m,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Подтвердить подписку
// @Description Активирует подписку пользователя, если у провайдера есть завершённая оплата.
// @Tags Subscription
// @Accept  json
// @Produce  json
// @Param request body models.ConfirmRequest true "Пользователь, сессия и провайдер"
// @Success 200 {object} response.Response "Подписка активна"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Сессия недействительна"
// @Failure 404 {object} response.ErrorResponse "Оплата не найдена"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 429 {object} response.ErrorResponse "Слишком много запросов"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка"
// @Router /api/subscription [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.confirm"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("invalid request body"))
			return
		}
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(verrs))
		return
	}
	provider := models.Provider(req.Provider)
	log = log.With(slog.String("user_id", req.UserID), slog.String("provider", req.Provider))

	if _, err := h.sessions.Validate(r.Context(), req.UserID, req.SessionID); err != nil {
		if errors.Is(err, session.ErrNoSession) || errors.Is(err, session.ErrSessionMismatch) {
			log.Warn("session rejected", sl.Err(err))
			h.count(provider, metrics.ResultUnauthorized)
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Error("invalid session"))
			return
		}
		log.Error("failed to validate session", sl.Err(err))
		h.count(provider, metrics.ResultError)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal server error"))
		return
	}

	user, activated, err := h.service.Confirm(r.Context(), req.UserID, provider)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrNoCheckout):
			log.Info("no completed checkout")
			h.count(provider, metrics.ResultNoCheckout)
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error(subscription.ErrNoCheckout.Error()))
		case errors.Is(err, subscription.ErrUserNotFound):
			log.Warn("user not found")
			h.count(provider, metrics.ResultUnauthorized)
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Error("invalid session"))
		default:
			log.Error("failed to confirm subscription", sl.Err(err))
			h.count(provider, metrics.ResultError)
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not confirm subscription"))
		}
		return
	}

	result := metrics.ResultAlreadyActive
	if activated {
		result = metrics.ResultActivated
	}
	h.count(provider, result)
	log.Info("subscription confirmed", slog.String("result", result))
	render.JSON(w, r, response.StatusOKWithData(user))
}

func (h *Handler) count(provider models.Provider, result string) {
	h.metrics.Confirmations.WithLabelValues(string(provider), result).Inc()
}
