package coupons

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/novamart/novamart-backend/pkg/db/models"
	"github.com/novamart/novamart-backend/pkg/enums"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
)

// Repository reads coupon rows. Coupon CRUD lives elsewhere; checkout only
// validates and prices against them.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*models.Coupon, error)
	WithTx(tx *gorm.DB) Repository
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&coupon).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
	}
	return &coupon, nil
}

// Service validates coupon codes at snapshot time.
type Service struct {
	repo Repository
}

func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("coupon repository required")
	}
	return &Service{repo: repo}, nil
}

// Validate resolves a code to a usable coupon or a validation error.
func (s *Service) Validate(ctx context.Context, tx *gorm.DB, code string, now time.Time) (*models.Coupon, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code required")
	}
	coupon, err := s.repo.WithTx(tx).FindByCode(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	if !coupon.Usable(now) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon is not active")
	}
	return coupon, nil
}

// Discount computes the discount in cents for a subtotal. Fixed coupons
// carry currency units, percentage coupons a rate out of 100; either way
// the result never exceeds the subtotal.
func Discount(coupon *models.Coupon, subtotalCents int) (int, error) {
	if coupon == nil || subtotalCents <= 0 {
		return 0, nil
	}

	subtotal := decimal.NewFromInt(int64(subtotalCents))
	var discount decimal.Decimal
	switch coupon.Type {
	case enums.CouponTypeFixed:
		discount = coupon.Amount.Mul(decimal.NewFromInt(100))
	case enums.CouponTypePercentage:
		discount = subtotal.Mul(coupon.Amount).Div(decimal.NewFromInt(100))
	default:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown coupon type %q", coupon.Type))
	}

	discount = discount.Round(0)
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "coupon amount is negative")
	}
	return int(discount.IntPart()), nil
}
