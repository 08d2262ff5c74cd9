package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/novamart/novamart-backend/pkg/enums"
)

// Refund records one refund per order. RefundID is derived
// deterministically from the order id, so a retried cancellation cannot
// mint a second gateway refund.
type Refund struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	PaymentID     uuid.UUID          `gorm:"column:payment_id;type:uuid;not null"`
	RefundID      string             `gorm:"column:refund_id;not null;uniqueIndex:ux_refunds_refund_id"`
	AmountCents   int                `gorm:"column:amount_cents;not null"`
	Reason        string             `gorm:"column:reason"`
	Status        enums.RefundStatus `gorm:"column:status;not null;default:'pending'"`
	FailureReason string             `gorm:"column:failure_reason"`
	CompletedAt   *time.Time         `gorm:"column:completed_at"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
