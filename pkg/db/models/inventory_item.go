package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem tracks stock and reserved counts per product variant.
// Available stock for a variant is stock_qty minus reserved_qty; committed
// orders deduct stock_qty directly.
type InventoryItem struct {
	ProductID   uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	ColorID     uuid.UUID `gorm:"column:color_id;type:uuid;primaryKey"`
	SizeID      uuid.UUID `gorm:"column:size_id;type:uuid;primaryKey"`
	StockQty    int       `gorm:"column:stock_qty;not null;default:0"`
	ReservedQty int       `gorm:"column:reserved_qty;not null;default:0"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
