// Package model содержит доменные сущности сервиса доставки воды.
package model

import "time"

// User представляет зарегистрированного клиента, заказывающего доставку воды.
type User struct {
	ID        int64
	IIN       string
	Address   string
	Phone     string
	District  string
	CreatedAt time.Time
}

// Courier представляет зарегистрированного курьера.
type Courier struct {
	TelegramID int64
	FullName   string
	IIN        string
	Phone      string
	Address    string
	Email      string
	District   string
	CreatedAt  time.Time
}

// Residents описывает данные о проживающих по адресу клиента.
type Residents struct {
	UserID   int64
	Adults   int
	Children int
	Renters  int
}

// OrderStatus описывает статус заказа на доставку.
type OrderStatus string

const (
	OrderStatusNew  OrderStatus = "new"
	OrderStatusDone OrderStatus = "done"
)

// Order описывает заказ клиента, закреплённый за курьером.
type Order struct {
	ID          int64
	ClientID    int64
	CourierID   int64
	Description string
	Status      OrderStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RedemptionCode описывает одноразовый код подтверждения доставки,
// привязанный к паре (клиент, заказ).
type RedemptionCode struct {
	Code      string
	UserID    int64
	OrderID   int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RegistrationStatus описывает результат проверки роли при регистрации.
type RegistrationStatus int

const (
	// RegistrationEligible означает, что идентификатор свободен для регистрации.
	RegistrationEligible RegistrationStatus = iota
	// RegistrationAlreadyClient означает, что идентификатор уже занят клиентом.
	RegistrationAlreadyClient
	// RegistrationAlreadyCourier означает, что идентификатор уже занят курьером.
	RegistrationAlreadyCourier
)
