package checkout

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

// Repository persists checkout sessions and their snapshot items.
type Repository interface {
	Create(ctx context.Context, session *models.CheckoutSession) (*models.CheckoutSession, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
	// TransitionFromPending applies pending -> target and reports whether
	// this call won the transition. The guarded update is the idempotency
	// seam: a session already out of pending is left untouched.
	TransitionFromPending(ctx context.Context, id uuid.UUID, target enums.CheckoutSessionStatus, closedAt time.Time) (bool, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.CheckoutSession, error)
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

func (r *repository) Create(ctx context.Context, session *models.CheckoutSession) (*models.CheckoutSession, error) {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}
	return session, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := r.db.WithContext(ctx).Preload("Items").First(&session, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
	}
	return &session, nil
}

func (r *repository) TransitionFromPending(ctx context.Context, id uuid.UUID, target enums.CheckoutSessionStatus, closedAt time.Time) (bool, error) {
	if !target.IsTerminal() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "target status must be terminal")
	}
	res := r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("id = ? AND status = ?", id, enums.CheckoutSessionStatusPending).
		Updates(map[string]any{
			"status":    target,
			"closed_at": closedAt,
		})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "transition checkout session")
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.CheckoutSession, error) {
	var sessions []models.CheckoutSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", enums.CheckoutSessionStatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired sessions")
	}
	return sessions, nil
}
