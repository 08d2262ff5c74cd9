package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/novamart/novamart-backend/pkg/enums"
)

// CheckoutSession is an immutable price/quantity snapshot of the cart with a
// bounded lifetime. Status is monotonic: pending is the only non-terminal
// state and no session moves between terminal states.
type CheckoutSession struct {
	ID            uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	UserID        uuid.UUID                   `gorm:"column:user_id;type:uuid;not null;index"`
	Status        enums.CheckoutSessionStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	SubtotalCents int                         `gorm:"column:subtotal_cents;not null"`
	DiscountCents int                         `gorm:"column:discount_cents;not null;default:0"`
	TotalCents    int                         `gorm:"column:total_cents;not null"`
	CouponID      *uuid.UUID                  `gorm:"column:coupon_id;type:uuid"`
	Items         []CheckoutSessionItem       `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time                   `gorm:"column:created_at;autoCreateTime"`
	ExpiresAt     time.Time                   `gorm:"column:expires_at;not null;index"`
	ClosedAt      *time.Time                  `gorm:"column:closed_at"`
}
