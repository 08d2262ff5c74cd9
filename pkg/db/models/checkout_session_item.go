package models

import (
	"time"

	"github.com/google/uuid"
)

// CheckoutSessionItem is one snapshotted cart line. Unit price and title are
// copied at session creation and never re-read from the catalog.
type CheckoutSessionItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	SessionID      uuid.UUID `gorm:"column:session_id;type:uuid;not null;index"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	ColorID        uuid.UUID `gorm:"column:color_id;type:uuid;not null"`
	SizeID         uuid.UUID `gorm:"column:size_id;type:uuid;not null"`
	Title          string    `gorm:"column:title;not null"`
	UnitPriceCents int       `gorm:"column:unit_price_cents;not null"`
	Qty            int       `gorm:"column:qty;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
