package models

import (
	"time"

	"github.com/google/uuid"
)

// StockReservation is a time-bounded hold on a variant's stock tied to a
// checkout session. Rows exist only while the session is pending; commit
// converts them into a stock deduction, release/sweep deletes them.
type StockReservation struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID         uuid.UUID `gorm:"column:product_id;type:uuid;not null;index:idx_stock_reservations_variant"`
	ColorID           uuid.UUID `gorm:"column:color_id;type:uuid;not null;index:idx_stock_reservations_variant"`
	SizeID            uuid.UUID `gorm:"column:size_id;type:uuid;not null;index:idx_stock_reservations_variant"`
	Qty               int       `gorm:"column:qty;not null"`
	CheckoutSessionID uuid.UUID `gorm:"column:checkout_session_id;type:uuid;not null;index"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	ExpiresAt         time.Time `gorm:"column:expires_at;not null;index"`
}
