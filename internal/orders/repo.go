package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/novamart/novamart-backend/pkg/db/models"
	"github.com/novamart/novamart-backend/pkg/enums"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
	"github.com/novamart/novamart-backend/pkg/pagination"
	"github.com/novamart/novamart-backend/pkg/types"
)

// Repository persists orders and their shipments.
type Repository interface {
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindBySessionID(ctx context.Context, sessionID uuid.UUID) (*models.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Order, string, error)
	// TransitionStatus applies from -> to and reports whether this call won.
	// The guarded update serializes racing transitions on one order row.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error)
	SetDeliveredAt(ctx context.Context, id uuid.UUID, at time.Time) error
	SetCancelledAt(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateShipment(ctx context.Context, shipment *models.Shipment) (*models.Shipment, error)
	FindShipmentByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
	FindShipmentByProviderID(ctx context.Context, providerShipmentID string) (*models.Shipment, error)
	// TransitionShipment advances a shipment only when the new status
	// outranks the stored one, appending the tracking event on success.
	TransitionShipment(ctx context.Context, id uuid.UUID, current, next enums.ShipmentStatus, event *types.TrackingEvent) (bool, error)
	SaveTrackingEvents(ctx context.Context, id uuid.UUID, events types.TrackingEvents) error

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

func (r *repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Shipment").
		First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return &order, nil
}

func (r *repository) FindBySessionID(ctx context.Context, sessionID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		First(&order, "checkout_session_id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found for session")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by session")
	}
	return &order, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Order, string, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit + 1)
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var orders []models.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	next := ""
	if len(orders) > limit {
		orders = orders[:limit]
		last := orders[len(orders)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return orders, next, nil
}

func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict,
			"illegal order transition "+from.String()+" -> "+to.String())
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "transition order")
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetDeliveredAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Update("delivered_at", at).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set delivered at")
	}
	return nil
}

func (r *repository) SetCancelledAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Update("cancelled_at", at).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set cancelled at")
	}
	return nil
}

func (r *repository) CreateShipment(ctx context.Context, shipment *models.Shipment) (*models.Shipment, error) {
	if err := r.db.WithContext(ctx).Create(shipment).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create shipment")
	}
	return shipment, nil
}

func (r *repository) FindShipmentByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).First(&shipment, "order_id = ?", orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
	}
	return &shipment, nil
}

func (r *repository) FindShipmentByProviderID(ctx context.Context, providerShipmentID string) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).First(&shipment, "provider_shipment_id = ?", providerShipmentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found for provider id")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment by provider id")
	}
	return &shipment, nil
}

func (r *repository) TransitionShipment(ctx context.Context, id uuid.UUID, current, next enums.ShipmentStatus, event *types.TrackingEvent) (bool, error) {
	if next.Rank() <= current.Rank() {
		return false, nil
	}

	var shipment models.Shipment
	if err := r.db.WithContext(ctx).First(&shipment, "id = ?", id).Error; err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload shipment")
	}
	events := shipment.TrackingEvents
	if event != nil {
		events = append(events, *event)
	}

	// Struct-based updates so the tracking_events serializer applies;
	// a map update would bind the slice as a raw SQL argument.
	updates := models.Shipment{
		Status:         next,
		TrackingEvents: events,
	}
	fields := []string{"status", "tracking_events"}
	if next == enums.ShipmentStatusDelivered {
		now := time.Now()
		updates.DeliveredAt = &now
		fields = append(fields, "delivered_at")
	}

	res := r.db.WithContext(ctx).
		Model(&models.Shipment{}).
		Where("id = ? AND status = ?", id, current).
		Select(fields).
		Updates(updates)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "transition shipment")
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SaveTrackingEvents(ctx context.Context, id uuid.UUID, events types.TrackingEvents) error {
	err := r.db.WithContext(ctx).
		Model(&models.Shipment{}).
		Where("id = ?", id).
		Select("tracking_events").
		Updates(models.Shipment{TrackingEvents: events}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save tracking events")
	}
	return nil
}
