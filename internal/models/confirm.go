package models

// ConfirmRequest — тело запроса POST /api/subscription,
// отправляемого после возврата пользователя с оплаты.
type ConfirmRequest struct {
	UserID    string `json:"user_id" validate:"required,uuid"`
	SessionID string `json:"session_id" validate:"required,uuid"`
	Provider  string `json:"provider" validate:"required,oneof=stripe paypal"`
}

// SubscriptionEvent публикуется в брокер при активации подписки
// и при приближении окончания пробного периода.
type SubscriptionEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Provider  string `json:"provider,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}
