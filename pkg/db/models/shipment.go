package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/novamart/novamart-backend/pkg/enums"
	"github.com/novamart/novamart-backend/pkg/types"
)

// Shipment mirrors the courier side of an order. Status only ever moves
// forward by provider rank; stale webhook updates leave the row alone.
type Shipment struct {
	ID                 uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID            uuid.UUID            `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_shipments_order"`
	ProviderShipmentID string               `gorm:"column:provider_shipment_id;index"`
	AWBCode            string               `gorm:"column:awb_code"`
	CourierName        string               `gorm:"column:courier_name"`
	Status             enums.ShipmentStatus `gorm:"column:status;not null;default:'created'"`
	TrackingEvents     types.TrackingEvents `gorm:"column:tracking_events;type:jsonb;serializer:json"`
	PickupLocation     string               `gorm:"column:pickup_location"`
	DeliveredAt        *time.Time           `gorm:"column:delivered_at"`
	CreatedAt          time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
