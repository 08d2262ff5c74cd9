package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/novamart/novamart-backend/pkg/enums"
)

// Payment tracks one gateway payment order. GatewayOrderID carries a
// unique index so a replayed gateway notification maps back to the same
// row instead of creating a second one.
type Payment struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	CheckoutSessionID uuid.UUID           `gorm:"column:checkout_session_id;type:uuid;not null;index"`
	OrderID           *uuid.UUID          `gorm:"column:order_id;type:uuid;index"`
	GatewayOrderID    string              `gorm:"column:gateway_order_id;not null;uniqueIndex:ux_payments_gateway_order"`
	Status            enums.PaymentStatus `gorm:"column:status;not null;default:'initiated'"`
	AmountCents       int                 `gorm:"column:amount_cents;not null"`
	Currency          string              `gorm:"column:currency;not null;default:'USD'"`
	PaymentLink       string              `gorm:"column:payment_link"`
	FailureReason     string              `gorm:"column:failure_reason"`
	VerifiedAt        *time.Time          `gorm:"column:verified_at"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
