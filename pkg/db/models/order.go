package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/novamart/novamart-backend/pkg/enums"
)

// Order is the durable record created exactly once per paid checkout
// session; the unique index on checkout_session_id enforces the 1:1.
type Order struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	CheckoutSessionID uuid.UUID         `gorm:"column:checkout_session_id;type:uuid;not null;uniqueIndex:ux_orders_checkout_session"`
	UserID            uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	Status            enums.OrderStatus `gorm:"column:status;type:text;not null;default:'awaiting_payment'"`
	SubtotalCents     int               `gorm:"column:subtotal_cents;not null"`
	DiscountCents     int               `gorm:"column:discount_cents;not null;default:0"`
	TotalCents        int               `gorm:"column:total_cents;not null"`
	CouponID          *uuid.UUID        `gorm:"column:coupon_id;type:uuid"`
	Items             []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Shipment          *Shipment         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	DeliveredAt       *time.Time        `gorm:"column:delivered_at"`
	CancelledAt       *time.Time        `gorm:"column:cancelled_at"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
