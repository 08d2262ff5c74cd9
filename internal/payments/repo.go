package payments

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

// Repository persists payments.
type Repository interface {
	Create(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error)
	FindOpenBySessionID(ctx context.Context, sessionID uuid.UUID) (*models.Payment, error)
	FindCompletedByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	// TransitionOpen advances an open payment to target and reports
	// whether this call won. Terminal rows never match, so a replayed
	// notification falls through as a loss rather than a double apply.
	TransitionOpen(ctx context.Context, id uuid.UUID, target enums.PaymentStatus, failureReason string, verifiedAt *time.Time) (bool, error)
	SetOrderID(ctx context.Context, id uuid.UUID, orderID uuid.UUID) error
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

func (r *repository) Create(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}
	return payment, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).First(&payment, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return &payment, nil
}

func (r *repository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).First(&payment, "gateway_order_id = ?", gatewayOrderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found for gateway order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment by gateway order")
	}
	return &payment, nil
}

func (r *repository) FindOpenBySessionID(ctx context.Context, sessionID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("checkout_session_id = ? AND status IN ?", sessionID,
			[]enums.PaymentStatus{enums.PaymentStatusInitiated, enums.PaymentStatusPending}).
		Order("created_at DESC").
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no open payment for session")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open payment")
	}
	return &payment, nil
}

func (r *repository) FindCompletedByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentStatusCompleted).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no completed payment for order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load completed payment")
	}
	return &payment, nil
}

func (r *repository) TransitionOpen(ctx context.Context, id uuid.UUID, target enums.PaymentStatus, failureReason string, verifiedAt *time.Time) (bool, error) {
	updates := map[string]any{"status": target}
	if failureReason != "" {
		updates["failure_reason"] = failureReason
	}
	if verifiedAt != nil {
		updates["verified_at"] = verifiedAt
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status IN ?", id,
			[]enums.PaymentStatus{enums.PaymentStatusInitiated, enums.PaymentStatusPending}).
		Updates(updates)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "transition payment")
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetOrderID(ctx context.Context, id uuid.UUID, orderID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Update("order_id", orderID).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link payment to order")
	}
	return nil
}
