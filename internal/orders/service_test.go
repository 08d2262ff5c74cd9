package orders

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/novamart/novamart-backend/pkg/db/models"
	"github.com/novamart/novamart-backend/pkg/enums"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
	"github.com/novamart/novamart-backend/pkg/logger"
	"github.com/novamart/novamart-backend/pkg/outbox"
	"github.com/novamart/novamart-backend/pkg/pagination"
	"github.com/novamart/novamart-backend/pkg/shipping"
)

type testClient struct {
	db *gorm.DB
}

func (c testClient) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.db.WithContext(ctx).Transaction(fn)
}

type stubOutbox struct {
	events []outbox.DomainEvent
}

func (s *stubOutbox) Emit(_ context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if tx == nil {
		panic("emit requires a transaction")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *stubOutbox) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	return s.Emit(ctx, tx, event)
}

type stubShipping struct {
	createErr  error
	cancelErr  error
	created    []shipping.OrderRequest
	cancelled  []string
	returns    []string
	addrMoves  []string
	trackingBy map[string]*shipping.Tracking
}

func (s *stubShipping) CreateOrder(_ context.Context, req shipping.OrderRequest) (*shipping.OrderResult, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, req)
	return &shipping.OrderResult{
		ShipmentID:  "ship_" + req.OrderID[:8],
		AWBCode:     "AWB123",
		CourierName: "FastShip",
		Status:      "NEW",
	}, nil
}

func (s *stubShipping) CancelOrder(_ context.Context, shipmentID string) error {
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.cancelled = append(s.cancelled, shipmentID)
	return nil
}

func (s *stubShipping) GetTrackingByOrderID(_ context.Context, shipmentID string) (*shipping.Tracking, error) {
	if t, ok := s.trackingBy[shipmentID]; ok {
		return t, nil
	}
	return &shipping.Tracking{ShipmentID: shipmentID, CurrentStatus: "IN TRANSIT"}, nil
}

func (s *stubShipping) CreateReturn(_ context.Context, shipmentID string, _ map[string]any) (*shipping.OrderResult, error) {
	s.returns = append(s.returns, shipmentID)
	return &shipping.OrderResult{ShipmentID: shipmentID}, nil
}

func (s *stubShipping) UpdateAddress(_ context.Context, shipmentID string, _ shipping.AddressUpdate) error {
	s.addrMoves = append(s.addrMoves, shipmentID)
	return nil
}

func (s *stubShipping) DefaultPickupLocation() string {
	return "warehouse-1"
}

type stubRefunds struct {
	calls []uuid.UUID
	err   error
}

func (s *stubRefunds) CreateForOrder(_ context.Context, orderID uuid.UUID, _ string) (*models.Refund, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.calls = append(s.calls, orderID)
	return &models.Refund{OrderID: orderID}, nil
}

type fixture struct {
	db       *gorm.DB
	svc      *ServiceImpl
	outbox   *stubOutbox
	shipping *stubShipping
	refunds  *stubRefunds
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.CheckoutSession{},
		&models.CheckoutSessionItem{},
		&models.Order{},
		&models.OrderItem{},
		&models.Shipment{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ob := &stubOutbox{}
	ship := &stubShipping{trackingBy: map[string]*shipping.Tracking{}}
	svc, err := NewService(ServiceParams{
		Tx:       testClient{db: db},
		Repo:     NewRepository(db),
		Shipping: ship,
		Outbox:   ob,
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	refunds := &stubRefunds{}
	svc.AttachRefunds(refunds)
	return &fixture{db: db, svc: svc, outbox: ob, shipping: ship, refunds: refunds}
}

func (f *fixture) seedOrder(t *testing.T, status enums.OrderStatus) *models.Order {
	t.Helper()
	order := &models.Order{
		CheckoutSessionID: uuid.New(),
		UserID:            uuid.New(),
		Status:            status,
		SubtotalCents:     2500,
		TotalCents:        2500,
		Items: []models.OrderItem{{
			ProductID:      uuid.New(),
			ColorID:        uuid.New(),
			SizeID:         uuid.New(),
			Title:          "Test Product",
			UnitPriceCents: 2500,
			Qty:            1,
		}},
	}
	if err := f.db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func (f *fixture) seedShipment(t *testing.T, orderID uuid.UUID, status enums.ShipmentStatus) *models.Shipment {
	t.Helper()
	shipment := &models.Shipment{
		OrderID:            orderID,
		ProviderShipmentID: "ship_" + uuid.NewString()[:8],
		Status:             status,
	}
	if err := f.db.Create(shipment).Error; err != nil {
		t.Fatalf("seed shipment: %v", err)
	}
	return shipment
}

func details() ShippingDetails {
	return ShippingDetails{
		Name:    "Pat Doe",
		Address: "1 Main St",
		City:    "Springfield",
		State:   "IL",
		Country: "US",
		Pincode: "62701",
		Phone:   "5551234567",
	}
}

func TestCreateOrderFromSessionCopiesSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	session := &models.CheckoutSession{
		UserID:        uuid.New(),
		Status:        enums.CheckoutSessionStatusPaid,
		SubtotalCents: 3000,
		DiscountCents: 300,
		TotalCents:    2700,
		ExpiresAt:     time.Now().Add(time.Hour),
		Items: []models.CheckoutSessionItem{{
			ProductID:      uuid.New(),
			ColorID:        uuid.New(),
			SizeID:         uuid.New(),
			Title:          "Snapshot Item",
			UnitPriceCents: 1500,
			Qty:            2,
		}},
	}
	if err := f.db.Create(session).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}

	var order *models.Order
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var terr error
		order, terr = f.svc.CreateOrderFromSession(ctx, tx, session)
		return terr
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != enums.OrderStatusPaymentConfirmed {
		t.Fatalf("expected payment_confirmed, got %s", order.Status)
	}
	if order.TotalCents != 2700 || order.DiscountCents != 300 {
		t.Fatalf("totals not carried over: %+v", order)
	}

	loaded, err := f.svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	if len(loaded.Items) != 1 || loaded.Items[0].Title != "Snapshot Item" || loaded.Items[0].Qty != 2 {
		t.Fatalf("item snapshot not copied: %+v", loaded.Items)
	}

	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventOrderCreated {
		t.Fatalf("expected order created event, got %+v", f.outbox.events)
	}
}

func TestApproveOpensShipment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusPaymentConfirmed)

	approved, err := f.svc.Approve(ctx, order.ID, details())
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != enums.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", approved.Status)
	}
	if approved.Shipment == nil || approved.Shipment.ProviderShipmentID == "" {
		t.Fatalf("shipment not recorded: %+v", approved.Shipment)
	}
	if approved.Shipment.PickupLocation != "warehouse-1" {
		t.Fatalf("pickup location not set: %+v", approved.Shipment)
	}
	if len(f.shipping.created) != 1 || len(f.shipping.created[0].Items) != 1 {
		t.Fatalf("courier order not opened: %+v", f.shipping.created)
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventOrderApproved {
		t.Fatalf("expected order approved event, got %+v", f.outbox.events)
	}
}

func TestApproveRejectedFromWrongState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusProcessing)

	_, err := f.svc.Approve(ctx, order.ID, details())
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if len(f.shipping.created) != 0 {
		t.Fatal("courier called despite rejected approval")
	}
}

func TestApproveProviderFailureLeavesOrderUntouched(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusPaymentConfirmed)
	f.shipping.createErr = pkgerrors.New(pkgerrors.CodeDependency, "provider down")

	_, err := f.svc.Approve(ctx, order.ID, details())
	if err == nil {
		t.Fatal("expected provider failure to surface")
	}

	loaded, err := f.svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	if loaded.Status != enums.OrderStatusPaymentConfirmed {
		t.Fatalf("order moved despite provider failure: %s", loaded.Status)
	}
	if loaded.Shipment != nil {
		t.Fatalf("shipment persisted despite provider failure: %+v", loaded.Shipment)
	}
}

func TestCancelEnqueuesRefund(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusProcessing)
	shipment := f.seedShipment(t, order.ID, enums.ShipmentStatusCreated)

	cancelled, err := f.svc.Cancel(ctx, order.ID, "customer request")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != enums.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.CancelledAt == nil {
		t.Fatal("cancelled_at not set")
	}
	if len(f.shipping.cancelled) != 1 || f.shipping.cancelled[0] != shipment.ProviderShipmentID {
		t.Fatalf("courier shipment not cancelled: %+v", f.shipping.cancelled)
	}
	if len(f.refunds.calls) != 1 || f.refunds.calls[0] != order.ID {
		t.Fatalf("refund not enqueued: %+v", f.refunds.calls)
	}
}

func TestCancelToleratesCourierConflict(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusProcessing)
	f.seedShipment(t, order.ID, enums.ShipmentStatusCreated)
	f.shipping.cancelErr = pkgerrors.New(pkgerrors.CodeConflict, "already closed")

	cancelled, err := f.svc.Cancel(ctx, order.ID, "stock issue")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != enums.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
}

func TestCancelFromShippedRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusShipped)

	_, err := f.svc.Cancel(ctx, order.ID, "too late")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if len(f.refunds.calls) != 0 {
		t.Fatal("refund enqueued for rejected cancellation")
	}
}

func TestApplyProviderUpdateAdvancesMonotonically(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusProcessing)
	shipment := f.seedShipment(t, order.ID, enums.ShipmentStatusCreated)

	// provider code 6 = in transit
	if err := f.svc.ApplyProviderUpdate(ctx, shipment.ProviderShipmentID, 6, "Chicago", time.Now()); err != nil {
		t.Fatalf("apply in transit: %v", err)
	}
	loaded, err := f.svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	if loaded.Status != enums.OrderStatusShipped || loaded.Shipment.Status != enums.ShipmentStatusInTransit {
		t.Fatalf("transit not applied: order=%s shipment=%s", loaded.Status, loaded.Shipment.Status)
	}
	if len(loaded.Shipment.TrackingEvents) != 1 {
		t.Fatalf("tracking event not appended: %+v", loaded.Shipment.TrackingEvents)
	}

	// duplicate delivery is a no-op
	if err := f.svc.ApplyProviderUpdate(ctx, shipment.ProviderShipmentID, 6, "Chicago", time.Now()); err != nil {
		t.Fatalf("replay: %v", err)
	}
	loaded, _ = f.svc.GetOrder(ctx, order.ID)
	if len(loaded.Shipment.TrackingEvents) != 1 {
		t.Fatalf("replay appended event: %+v", loaded.Shipment.TrackingEvents)
	}

	// stale pickup event after transit is dropped
	if err := f.svc.ApplyProviderUpdate(ctx, shipment.ProviderShipmentID, 3, "", time.Now()); err != nil {
		t.Fatalf("stale event: %v", err)
	}
	loaded, _ = f.svc.GetOrder(ctx, order.ID)
	if loaded.Shipment.Status != enums.ShipmentStatusInTransit {
		t.Fatalf("stale event applied: %s", loaded.Shipment.Status)
	}

	// provider code 7 = delivered
	if err := f.svc.ApplyProviderUpdate(ctx, shipment.ProviderShipmentID, 7, "Springfield", time.Now()); err != nil {
		t.Fatalf("apply delivered: %v", err)
	}
	loaded, _ = f.svc.GetOrder(ctx, order.ID)
	if loaded.Status != enums.OrderStatusDelivered {
		t.Fatalf("expected delivered order, got %s", loaded.Status)
	}
	if loaded.DeliveredAt == nil {
		t.Fatal("delivered_at not set")
	}

	// every rank advance reaches downstream consumers
	var shipmentEvents int
	for _, event := range f.outbox.events {
		if event.EventType == enums.EventShipmentUpdated {
			shipmentEvents++
		}
	}
	if shipmentEvents != 2 {
		t.Fatalf("expected an outbox event per shipment advance, got %d", shipmentEvents)
	}
}

func TestApplyProviderUpdateCompressedEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusProcessing)
	shipment := f.seedShipment(t, order.ID, enums.ShipmentStatusCreated)

	// courier reports delivered without an in-transit event first
	if err := f.svc.ApplyProviderUpdate(ctx, shipment.ProviderShipmentID, 7, "", time.Now()); err != nil {
		t.Fatalf("apply delivered: %v", err)
	}
	loaded, err := f.svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	if loaded.Status != enums.OrderStatusDelivered {
		t.Fatalf("order did not step through to delivered: %s", loaded.Status)
	}
}

func TestApplyProviderUpdateUnknownCodeIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusProcessing)
	shipment := f.seedShipment(t, order.ID, enums.ShipmentStatusCreated)

	if err := f.svc.ApplyProviderUpdate(ctx, shipment.ProviderShipmentID, 99, "", time.Now()); err != nil {
		t.Fatalf("unknown code: %v", err)
	}
	loaded, _ := f.svc.GetOrder(ctx, order.ID)
	if loaded.Shipment.Status != enums.ShipmentStatusCreated {
		t.Fatalf("unknown code moved shipment: %s", loaded.Shipment.Status)
	}
}

func TestRequestReturnOnlyWhenDelivered(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusDelivered)
	f.seedShipment(t, order.ID, enums.ShipmentStatusDelivered)

	returned, err := f.svc.RequestReturn(ctx, order.ID, order.UserID, "wrong size")
	if err != nil {
		t.Fatalf("request return: %v", err)
	}
	if returned.Status != enums.OrderStatusReturnRequested {
		t.Fatalf("expected return_requested, got %s", returned.Status)
	}
	if len(f.shipping.returns) != 1 {
		t.Fatalf("provider return not opened: %+v", f.shipping.returns)
	}

	// a second return request is rejected
	_, err = f.svc.RequestReturn(ctx, order.ID, order.UserID, "again")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestRequestReturnForeignUserForbidden(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusDelivered)
	f.seedShipment(t, order.ID, enums.ShipmentStatusDelivered)

	_, err := f.svc.RequestReturn(ctx, order.ID, uuid.New(), "not mine")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestUpdateAddressBeforePickupOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusProcessing)
	shipment := f.seedShipment(t, order.ID, enums.ShipmentStatusCreated)

	update := shipping.AddressUpdate{Address: "2 Oak Ave", City: "Springfield"}
	if err := f.svc.UpdateShippingAddress(ctx, order.ID, update); err != nil {
		t.Fatalf("update address: %v", err)
	}
	if len(f.shipping.addrMoves) != 1 || f.shipping.addrMoves[0] != shipment.ProviderShipmentID {
		t.Fatalf("address update not forwarded: %+v", f.shipping.addrMoves)
	}

	if err := f.db.Model(&models.Shipment{}).Where("id = ?", shipment.ID).
		Update("status", enums.ShipmentStatusPickupScheduled).Error; err != nil {
		t.Fatalf("advance shipment: %v", err)
	}
	err := f.svc.UpdateShippingAddress(ctx, order.ID, update)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestListOrdersPaginates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		order := &models.Order{
			CheckoutSessionID: uuid.New(),
			UserID:            userID,
			Status:            enums.OrderStatusPaymentConfirmed,
			TotalCents:        1000 + i,
			CreatedAt:         time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := f.db.Create(order).Error; err != nil {
			t.Fatalf("seed order %d: %v", i, err)
		}
	}

	page, next, err := f.svc.ListOrders(ctx, userID, pagination.Params{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || next == "" {
		t.Fatalf("expected 2 rows and a cursor, got %d %q", len(page), next)
	}

	rest, last, err := f.svc.ListOrders(ctx, userID, pagination.Params{Limit: 2, Cursor: next})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(rest) != 1 || last != "" {
		t.Fatalf("expected final page of 1, got %d %q", len(rest), last)
	}
}
