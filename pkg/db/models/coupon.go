package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/novamart/novamart-backend/pkg/enums"
)

type Coupon struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Code       string           `gorm:"column:code;not null;uniqueIndex:ux_coupons_code"`
	Type       enums.CouponType `gorm:"column:type;not null"`
	Amount     decimal.Decimal  `gorm:"column:amount;type:numeric(12,2);not null"`
	Active     *bool            `gorm:"column:active;not null;default:true"`
	ValidFrom  *time.Time       `gorm:"column:valid_from"`
	ValidUntil *time.Time       `gorm:"column:valid_until"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// Usable reports whether the coupon may be applied at the given time.
func (c *Coupon) Usable(now time.Time) bool {
	if c.Active == nil || !*c.Active {
		return false
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return false
	}
	return true
}
