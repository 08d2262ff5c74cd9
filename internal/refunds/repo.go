package refunds

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/novamart/novamart-backend/pkg/db/models"
	"github.com/novamart/novamart-backend/pkg/enums"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
)

// Repository persists refunds.
type Repository interface {
	Create(ctx context.Context, refund *models.Refund) (*models.Refund, error)
	FindByRefundID(ctx context.Context, refundID string) (*models.Refund, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Refund, error)
	// TransitionPending settles a pending refund and reports whether
	// this call won. Terminal rows never match.
	TransitionPending(ctx context.Context, id uuid.UUID, target enums.RefundStatus, failureReason string, completedAt *time.Time) (bool, error)
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

func (r *repository) Create(ctx context.Context, refund *models.Refund) (*models.Refund, error) {
	if err := r.db.WithContext(ctx).Create(refund).Error; err != nil {
		return nil, err
	}
	return refund, nil
}

func (r *repository) FindByRefundID(ctx context.Context, refundID string) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).First(&refund, "refund_id = ?", refundID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund")
	}
	return &refund, nil
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).First(&refund, "order_id = ?", orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund not found for order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund by order")
	}
	return &refund, nil
}

func (r *repository) TransitionPending(ctx context.Context, id uuid.UUID, target enums.RefundStatus, failureReason string, completedAt *time.Time) (bool, error) {
	updates := map[string]any{"status": target}
	if failureReason != "" {
		updates["failure_reason"] = failureReason
	}
	if completedAt != nil {
		updates["completed_at"] = completedAt
	}
	res := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ? AND status = ?", id, enums.RefundStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "transition refund")
	}
	return res.RowsAffected == 1, nil
}
