package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/novamart/novamart-backend/pkg/db/models"
	"github.com/novamart/novamart-backend/pkg/enums"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
	"github.com/novamart/novamart-backend/pkg/logger"
	"github.com/novamart/novamart-backend/pkg/outbox"
	"github.com/novamart/novamart-backend/pkg/pagination"
	"github.com/novamart/novamart-backend/pkg/shipping"
	"github.com/novamart/novamart-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// shippingProvider is the slice of the courier client this service uses.
type shippingProvider interface {
	CreateOrder(ctx context.Context, req shipping.OrderRequest) (*shipping.OrderResult, error)
	CancelOrder(ctx context.Context, shipmentID string) error
	GetTrackingByOrderID(ctx context.Context, shipmentID string) (*shipping.Tracking, error)
	CreateReturn(ctx context.Context, shipmentID string, payload map[string]any) (*shipping.OrderResult, error)
	UpdateAddress(ctx context.Context, shipmentID string, update shipping.AddressUpdate) error
	DefaultPickupLocation() string
}

// refundRequester enqueues a refund for a cancelled order. Implemented by
// the refunds package; injected here to keep the dependency one-way.
type refundRequester interface {
	CreateForOrder(ctx context.Context, orderID uuid.UUID, reason string) (*models.Refund, error)
}

// ShippingDetails is the recipient information an operator supplies when
// approving an order for dispatch.
type ShippingDetails struct {
	Name        string
	Address     string
	City        string
	State       string
	Country     string
	Pincode     string
	Phone       string
	WeightGrams int
}

// Service orchestrates the post-payment order lifecycle.
type Service interface {
	// CreateOrderFromSession runs inside the payment transaction so the
	// order appears atomically with the session flip to paid.
	CreateOrderFromSession(ctx context.Context, tx *gorm.DB, session *models.CheckoutSession) (*models.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Order, string, error)
	Approve(ctx context.Context, id uuid.UUID, details ShippingDetails) (*models.Order, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Order, error)
	Track(ctx context.Context, id uuid.UUID) (*shipping.Tracking, error)
	RequestReturn(ctx context.Context, id uuid.UUID, userID uuid.UUID, reason string) (*models.Order, error)
	UpdateShippingAddress(ctx context.Context, id uuid.UUID, update shipping.AddressUpdate) error
	// ApplyProviderUpdate reconciles one courier webhook event. Stale and
	// duplicate deliveries are no-ops.
	ApplyProviderUpdate(ctx context.Context, providerShipmentID string, statusCode int, location string, occurredAt time.Time) error
}

type service struct {
	tx       txRunner
	repo     Repository
	shipping shippingProvider
	refunds  refundRequester
	outbox   outboxPublisher
	logg     *logger.Logger
}

// ServiceParams collects the order service dependencies. Refunds may be
// nil until the refund service is wired in after construction.
type ServiceParams struct {
	Tx       txRunner
	Repo     Repository
	Shipping shippingProvider
	Refunds  refundRequester
	Outbox   outboxPublisher
	Logger   *logger.Logger
}

func NewService(p ServiceParams) (*ServiceImpl, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if p.Shipping == nil {
		return nil, fmt.Errorf("shipping provider required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &ServiceImpl{service{
		tx:       p.Tx,
		repo:     p.Repo,
		shipping: p.Shipping,
		refunds:  p.Refunds,
		outbox:   p.Outbox,
		logg:     p.Logger,
	}}, nil
}

// ServiceImpl exposes the service with a late-bound refund requester.
// The orders and refunds services reference each other, so one side has
// to be attached after both are constructed.
type ServiceImpl struct {
	service
}

func (s *ServiceImpl) AttachRefunds(r refundRequester) {
	s.refunds = r
}

func (s *service) CreateOrderFromSession(ctx context.Context, tx *gorm.DB, session *models.CheckoutSession) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if session == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "session required")
	}

	order := &models.Order{
		CheckoutSessionID: session.ID,
		UserID:            session.UserID,
		Status:            enums.OrderStatusPaymentConfirmed,
		SubtotalCents:     session.SubtotalCents,
		DiscountCents:     session.DiscountCents,
		TotalCents:        session.TotalCents,
		CouponID:          session.CouponID,
	}
	for _, item := range session.Items {
		order.Items = append(order.Items, models.OrderItem{
			ProductID:      item.ProductID,
			ColorID:        item.ColorID,
			SizeID:         item.SizeID,
			Title:          item.Title,
			UnitPriceCents: item.UnitPriceCents,
			Qty:            item.Qty,
		})
	}

	repo := s.repo.WithTx(tx)
	created, err := repo.Create(ctx, order)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   created.ID,
		Data: map[string]any{
			"order_id":            created.ID,
			"checkout_session_id": session.ID,
			"user_id":             session.UserID,
			"total_cents":         created.TotalCents,
		},
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithOrderID(ctx, created.ID.String())
	logCtx = s.logg.WithSessionID(logCtx, session.ID.String())
	s.logg.Info(logCtx, "order created")
	return created, nil
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) ListOrders(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Order, string, error) {
	if userID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	return s.repo.ListByUser(ctx, userID, params)
}

// Approve opens the shipment with the courier and moves the order to
// processing. The provider call happens before the transaction; if the
// guarded transition then loses, the stray provider order is cancelled.
func (s *service) Approve(ctx context.Context, id uuid.UUID, details ShippingDetails) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusPaymentConfirmed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			"order cannot be approved from status "+order.Status.String())
	}

	req := shipping.OrderRequest{
		OrderID:        order.ID.String(),
		PickupLocation: s.shipping.DefaultPickupLocation(),
		Name:           details.Name,
		Address:        details.Address,
		City:           details.City,
		State:          details.State,
		Country:        details.Country,
		Pincode:        details.Pincode,
		Phone:          details.Phone,
		SubtotalCents:  order.SubtotalCents,
		WeightGrams:    details.WeightGrams,
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, shipping.OrderItem{
			Name:           item.Title,
			SKU:            item.ProductID.String(),
			Units:          item.Qty,
			UnitPriceCents: item.UnitPriceCents,
		})
	}

	result, err := s.shipping.CreateOrder(ctx, req)
	if err != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "courier order creation failed", err)
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		won, err := repo.TransitionStatus(ctx, order.ID, enums.OrderStatusPaymentConfirmed, enums.OrderStatusProcessing)
		if err != nil {
			return err
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order was updated concurrently")
		}
		_, err = repo.CreateShipment(ctx, &models.Shipment{
			OrderID:            order.ID,
			ProviderShipmentID: result.ShipmentID,
			AWBCode:            result.AWBCode,
			CourierName:        result.CourierName,
			Status:             enums.ShipmentStatusCreated,
			PickupLocation:     req.PickupLocation,
		})
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderApproved,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: map[string]any{
				"order_id":             order.ID,
				"provider_shipment_id": result.ShipmentID,
				"awb_code":             result.AWBCode,
			},
		})
	})
	if err != nil {
		if cancelErr := s.shipping.CancelOrder(ctx, result.ShipmentID); cancelErr != nil {
			logCtx := s.logg.WithOrderID(ctx, order.ID.String())
			logCtx = s.logg.WithField(logCtx, "provider_shipment_id", result.ShipmentID)
			s.logg.Error(logCtx, "orphaned courier order could not be cancelled", cancelErr)
		}
		return nil, err
	}

	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	logCtx = s.logg.WithField(logCtx, "provider_shipment_id", result.ShipmentID)
	s.logg.Info(logCtx, "order approved for dispatch")
	return s.repo.FindByID(ctx, order.ID)
}

// Cancel stops an order before delivery. The courier cancellation is
// tolerant of conflicts so a shipment the courier already closed does
// not block the local transition. A completed payment is handed to the
// refund workflow after the cancellation commits.
func (s *service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(enums.OrderStatusCancelled) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			"order cannot be cancelled from status "+order.Status.String())
	}

	if order.Shipment != nil && order.Shipment.ProviderShipmentID != "" {
		if err := s.shipping.CancelOrder(ctx, order.Shipment.ProviderShipmentID); err != nil {
			typed := pkgerrors.As(err)
			if typed != nil &&
				(typed.Code() == pkgerrors.CodeConflict || typed.Code() == pkgerrors.CodeNotFound) {
				s.logg.Warn(s.logg.WithOrderID(ctx, order.ID.String()), "courier already closed the shipment")
			} else {
				return nil, err
			}
		}
	}

	now := time.Now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		won, err := repo.TransitionStatus(ctx, order.ID, order.Status, enums.OrderStatusCancelled)
		if err != nil {
			return err
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order was updated concurrently")
		}
		if err := repo.SetCancelledAt(ctx, order.ID, now); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: map[string]any{
				"order_id": order.ID,
				"reason":   reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "order cancelled")

	if s.refunds != nil {
		_, err := s.refunds.CreateForOrder(ctx, order.ID, reason)
		if err != nil {
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
				s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "refund could not be enqueued after cancellation", err)
			}
			// NotFound means no completed payment, nothing to refund.
		}
	}

	return s.repo.FindByID(ctx, order.ID)
}

// Track reads the live provider tracking and caches the event history
// on the shipment row.
func (s *service) Track(ctx context.Context, id uuid.UUID) (*shipping.Tracking, error) {
	shipment, err := s.repo.FindShipmentByOrderID(ctx, id)
	if err != nil {
		return nil, err
	}
	tracking, err := s.shipping.GetTrackingByOrderID(ctx, shipment.ProviderShipmentID)
	if err != nil {
		return nil, err
	}
	if len(tracking.Events) > len(shipment.TrackingEvents) {
		if err := s.repo.SaveTrackingEvents(ctx, shipment.ID, tracking.Events); err != nil {
			s.logg.Warn(s.logg.WithOrderID(ctx, id.String()), "tracking snapshot not cached")
		}
	}
	return tracking, nil
}

func (s *service) RequestReturn(ctx context.Context, id uuid.UUID, userID uuid.UUID, reason string) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")
	}
	if order.Status != enums.OrderStatusDelivered {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			"only delivered orders can be returned")
	}
	if order.Shipment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no shipment")
	}

	_, err = s.shipping.CreateReturn(ctx, order.Shipment.ProviderShipmentID, map[string]any{
		"order_id": order.ID.String(),
		"reason":   reason,
	})
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		won, err := repo.TransitionStatus(ctx, order.ID, enums.OrderStatusDelivered, enums.OrderStatusReturnRequested)
		if err != nil {
			return err
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order was updated concurrently")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReturnRequested,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: map[string]any{
				"order_id": order.ID,
				"reason":   reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, order.ID)
}

// UpdateShippingAddress forwards an address change to the courier. Only
// shipments the courier has not scheduled for pickup can still move.
func (s *service) UpdateShippingAddress(ctx context.Context, id uuid.UUID, update shipping.AddressUpdate) error {
	shipment, err := s.repo.FindShipmentByOrderID(ctx, id)
	if err != nil {
		return err
	}
	if shipment.Status.Rank() >= enums.ShipmentStatusPickupScheduled.Rank() {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			"address can no longer change once pickup is scheduled")
	}
	return s.shipping.UpdateAddress(ctx, shipment.ProviderShipmentID, update)
}

func (s *service) ApplyProviderUpdate(ctx context.Context, providerShipmentID string, statusCode int, location string, occurredAt time.Time) error {
	next, recognized := enums.ShipmentStatusFromProviderCode(statusCode)
	if !recognized {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"provider_shipment_id": providerShipmentID,
			"status_code":          statusCode,
		})
		s.logg.Warn(logCtx, "unrecognized provider status code ignored")
		return nil
	}

	shipment, err := s.repo.FindShipmentByProviderID(ctx, providerShipmentID)
	if err != nil {
		return err
	}
	if next.Rank() <= shipment.Status.Rank() {
		// Stale or duplicate delivery.
		return nil
	}

	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	event := &types.TrackingEvent{
		StatusCode: statusCode,
		Status:     next.String(),
		Location:   location,
		OccurredAt: occurredAt,
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		won, err := repo.TransitionShipment(ctx, shipment.ID, shipment.Status, next, event)
		if err != nil {
			return err
		}
		if !won {
			// A concurrent webhook got there first.
			return nil
		}
		if err := s.syncOrderStatus(ctx, tx, repo, shipment.OrderID, next); err != nil {
			return err
		}
		// Every rank advance is a distinct event; winning the guarded
		// transition above already suppresses duplicate deliveries.
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventShipmentUpdated,
			AggregateType: enums.AggregateShipment,
			AggregateID:   shipment.ID,
			Data: map[string]any{
				"shipment_id":          shipment.ID,
				"order_id":             shipment.OrderID,
				"status":               next,
				"provider_status_code": statusCode,
			},
		})
	})
}

// syncOrderStatus walks the order forward to match the shipment, stepping
// through skipped states when the courier compresses events.
func (s *service) syncOrderStatus(ctx context.Context, tx *gorm.DB, repo Repository, orderID uuid.UUID, shipmentStatus enums.ShipmentStatus) error {
	target, ok := orderTargetForShipment(shipmentStatus)
	if !ok {
		return nil
	}

	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}

	current := order.Status
	for _, step := range orderPath(current, target) {
		won, err := repo.TransitionStatus(ctx, orderID, current, step)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		current = step
	}
	if target == enums.OrderStatusDelivered && current == target {
		if err := repo.SetDeliveredAt(ctx, orderID, time.Now()); err != nil {
			return err
		}
	}
	if target == enums.OrderStatusCancelled && current == target {
		if err := repo.SetCancelledAt(ctx, orderID, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

func orderTargetForShipment(status enums.ShipmentStatus) (enums.OrderStatus, bool) {
	switch status {
	case enums.ShipmentStatusInTransit:
		return enums.OrderStatusShipped, true
	case enums.ShipmentStatusDelivered:
		return enums.OrderStatusDelivered, true
	case enums.ShipmentStatusCancelled:
		return enums.OrderStatusCancelled, true
	case enums.ShipmentStatusReturnInitiated:
		return enums.OrderStatusReturned, true
	default:
		return "", false
	}
}

// orderPath returns the forward chain of transitions from current to
// target, or nil when no legal chain exists.
func orderPath(current, target enums.OrderStatus) []enums.OrderStatus {
	if current == target {
		return nil
	}
	if current.CanTransitionTo(target) {
		return []enums.OrderStatus{target}
	}
	switch {
	case current == enums.OrderStatusProcessing && target == enums.OrderStatusDelivered:
		return []enums.OrderStatus{enums.OrderStatusShipped, enums.OrderStatusDelivered}
	case current == enums.OrderStatusDelivered && target == enums.OrderStatusReturned:
		return []enums.OrderStatus{enums.OrderStatusReturnRequested, enums.OrderStatusReturned}
	}
	return nil
}
