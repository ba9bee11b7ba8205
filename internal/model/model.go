// Package model содержит доменные сущности SMM-панели.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account представляет пользователя панели с кошельком.
type Account struct {
	ID                 int64
	UID                string
	InstagramUsername  string
	Password           string
	WalletBalance      decimal.Decimal
	BonusClaimed       bool
	HasClaimedDiscount bool
	CreatedAt          time.Time
}

// Service описывает позицию каталога платных услуг.
type Service struct {
	ID           int64
	Name         string
	Category     string
	Rate         decimal.Decimal
	MinOrder     int
	MaxOrder     int
	DeliveryTime string
	Active       bool
}

// OrderStatus описывает статус обработки заказа.
type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusCompleted  OrderStatus = "Completed"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

// Order описывает оплаченный заказ на продвижение.
// Название услуги и цена фиксируются на момент создания.
type Order struct {
	ID                int64
	OrderID           string
	UserID            int64
	ServiceName       string
	InstagramUsername string
	Quantity          int
	Price             decimal.Decimal
	Status            OrderStatus
	CreatedAt         time.Time
}

// PaymentStatus описывает статус заявки на пополнение кошелька.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "Pending"
	PaymentStatusApproved PaymentStatus = "Approved"
	PaymentStatusDeclined PaymentStatus = "Declined"
)

// Payment описывает заявку на пополнение через UPI-перевод.
// ActionToken — непрозрачный токен для кнопок подтверждения в Telegram.
type Payment struct {
	ID            int64
	UserID        int64
	Amount        decimal.Decimal
	UTRNumber     string
	PaymentMethod string
	ActionToken   string
	Status        PaymentStatus
	CreatedAt     time.Time
}

// Referral описывает реферальную запись. Первичная запись (ReferredUserID == nil)
// хранит код аккаунта; завершённая запись фиксирует одно приглашение.
type Referral struct {
	ID             int64
	UserID         int64
	ReferralCode   string
	ReferredUserID *int64
	IsCompleted    bool
	CreatedAt      time.Time
}

// ReferralStatus содержит сводку реферальной программы аккаунта.
type ReferralStatus struct {
	ReferralCode  string
	ReferralCount int
	Eligible      bool
	HasClaimed    bool
}

// LoginLog фиксирует факт входа пользователя.
type LoginLog struct {
	ID                int64
	UserID            int64
	InstagramUsername string
	LoginCount        int
	CreatedAt         time.Time
}
