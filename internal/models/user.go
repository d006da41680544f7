// Package models содержит доменные структуры сервиса биллинга:
// пользователя с состоянием подписки, сессию и записи платёжных провайдеров.
package models

import "time"

const (
	// StatusTrial — пробный период, подписка ещё не оплачена.
	StatusTrial = "trial"
	// StatusActive — оплаченная действующая подписка.
	StatusActive = "active"
	// StatusInactive — подписка истекла или была отменена.
	StatusInactive = "inactive"
)

// User представляет пользователя и состояние его подписки.
type User struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	Status       string       `json:"status"` // trial, active или inactive
	Subscription Subscription `json:"subscription"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Subscription описывает текущую подписку пользователя.
// ExpiresAt == nil означает, что дата окончания неизвестна.
type Subscription struct {
	Provider  Provider   `json:"provider,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// IsActive сообщает, оплачена ли подписка пользователя.
func (u *User) IsActive() bool {
	return u != nil && u.Status == StatusActive
}
