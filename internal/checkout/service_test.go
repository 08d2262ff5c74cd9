package checkout

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/novamart/novamart-backend/internal/coupons"
	"github.com/novamart/novamart-backend/pkg/db/models"
	"github.com/novamart/novamart-backend/pkg/enums"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
	"github.com/novamart/novamart-backend/pkg/logger"
	"github.com/novamart/novamart-backend/pkg/outbox"
)

func boolPtr(b bool) *bool {
	return &b
}

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

type stubOrderCreator struct {
	calls  int
	orders []*models.Order
}

func (s *stubOrderCreator) CreateOrderFromSession(_ context.Context, tx *gorm.DB, session *models.CheckoutSession) (*models.Order, error) {
	if tx == nil {
		panic("create order requires a transaction")
	}
	s.calls++
	order := &models.Order{
		ID:                uuid.New(),
		CheckoutSessionID: session.ID,
		UserID:            session.UserID,
		Status:            enums.OrderStatusPaymentConfirmed,
		TotalCents:        session.TotalCents,
	}
	s.orders = append(s.orders, order)
	return order, nil
}

type fixture struct {
	db     *gorm.DB
	svc    Service
	outbox *stubOutbox
	orders *stubOrderCreator
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.InventoryItem{},
		&models.StockReservation{},
		&models.CheckoutSession{},
		&models.CheckoutSessionItem{},
		&models.Coupon{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	couponSvc, err := coupons.NewService(coupons.NewRepository(db))
	if err != nil {
		t.Fatalf("coupon service: %v", err)
	}

	ob := &stubOutbox{}
	oc := &stubOrderCreator{}
	svc, err := NewService(ServiceParams{
		Tx:         testClient{db: db},
		Repo:       NewRepository(db),
		Coupons:    couponSvc,
		Orders:     oc,
		Outbox:     ob,
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		SessionTTL: ttl,
	})
	if err != nil {
		t.Fatalf("checkout service: %v", err)
	}
	return &fixture{db: db, svc: svc, outbox: ob, orders: oc}
}

func (f *fixture) seedVariant(t *testing.T, stock int) models.InventoryItem {
	t.Helper()
	item := models.InventoryItem{
		ProductID: uuid.New(),
		ColorID:   uuid.New(),
		SizeID:    uuid.New(),
		StockQty:  stock,
	}
	if err := f.db.Create(&item).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
	return item
}

func lineFor(item models.InventoryItem, price, qty int) CartLine {
	return CartLine{
		ProductID:      item.ProductID,
		ColorID:        item.ColorID,
		SizeID:         item.SizeID,
		Title:          "Test Product",
		UnitPriceCents: price,
		Qty:            qty,
	}
}

func TestCreateSessionSnapshotsAndReserves(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Hour)
	ctx := context.Background()
	item := f.seedVariant(t, 5)
	userID := uuid.New()

	if err := f.db.Create(&models.Coupon{
		Code:   "SAVE10",
		Type:   enums.CouponTypePercentage,
		Amount: decimal.NewFromInt(10),
		Active: boolPtr(true),
	}).Error; err != nil {
		t.Fatalf("seed coupon: %v", err)
	}

	session, err := f.svc.CreateSession(ctx, userID, []CartLine{lineFor(item, 1000, 2)}, "SAVE10")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Status != enums.CheckoutSessionStatusPending {
		t.Fatalf("expected pending session, got %s", session.Status)
	}
	if session.SubtotalCents != 2000 || session.DiscountCents != 200 || session.TotalCents != 1800 {
		t.Fatalf("unexpected totals: %+v", session)
	}

	var inv models.InventoryItem
	if err := f.db.First(&inv, "product_id = ?", item.ProductID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if inv.ReservedQty != 2 {
		t.Fatalf("expected 2 reserved, got %d", inv.ReservedQty)
	}

	loaded, err := f.svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(loaded.Items) != 1 || loaded.Items[0].UnitPriceCents != 1000 {
		t.Fatalf("snapshot items not persisted: %+v", loaded.Items)
	}

	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventSessionCreated {
		t.Fatalf("expected session created event, got %+v", f.outbox.events)
	}
}

func TestCreateSessionInsufficientStockRollsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Hour)
	ctx := context.Background()
	item := f.seedVariant(t, 1)

	_, err := f.svc.CreateSession(ctx, uuid.New(), []CartLine{lineFor(item, 500, 2)}, "")
	if err == nil {
		t.Fatal("expected insufficient stock")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("unexpected error: %v", err)
	}

	var sessions int64
	if err := f.db.Model(&models.CheckoutSession{}).Count(&sessions).Error; err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if sessions != 0 {
		t.Fatalf("partial session persisted, count=%d", sessions)
	}
}

func TestMarkPaidCommitsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Hour)
	ctx := context.Background()
	item := f.seedVariant(t, 3)

	session, err := f.svc.CreateSession(ctx, uuid.New(), []CartLine{lineFor(item, 1000, 2)}, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	var order *models.Order
	err = f.db.Transaction(func(tx *gorm.DB) error {
		var terr error
		order, terr = f.svc.MarkPaid(ctx, tx, session.ID)
		return terr
	})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if order == nil || f.orders.calls != 1 {
		t.Fatalf("expected one order creation, got calls=%d", f.orders.calls)
	}

	var inv models.InventoryItem
	if err := f.db.First(&inv, "product_id = ?", item.ProductID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if inv.StockQty != 1 || inv.ReservedQty != 0 {
		t.Fatalf("stock not committed: %+v", inv)
	}

	// duplicate payment confirmation is a no-op
	err = f.db.Transaction(func(tx *gorm.DB) error {
		dup, terr := f.svc.MarkPaid(ctx, tx, session.ID)
		if terr != nil {
			return terr
		}
		if dup != nil {
			t.Fatal("expected no-op on duplicate mark paid")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("duplicate mark paid: %v", err)
	}
	if f.orders.calls != 1 {
		t.Fatalf("order created twice, calls=%d", f.orders.calls)
	}
}

func TestMarkPaidRejectedWhenHoldsSwept(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Hour)
	ctx := context.Background()
	item := f.seedVariant(t, 2)

	session, err := f.svc.CreateSession(ctx, uuid.New(), []CartLine{lineFor(item, 1000, 2)}, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// The sweep released the expired hold before the payment landed.
	if err := f.db.Delete(&models.StockReservation{}, "checkout_session_id = ?", session.ID).Error; err != nil {
		t.Fatalf("drop reservations: %v", err)
	}
	err = f.db.Model(&models.InventoryItem{}).
		Where("product_id = ?", item.ProductID).
		Update("reserved_qty", 0).Error
	if err != nil {
		t.Fatalf("release reserved qty: %v", err)
	}

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, terr := f.svc.MarkPaid(ctx, tx, session.ID)
		return terr
	})
	if err == nil {
		t.Fatal("expected mark paid to fail once the holds were swept")
	}
	if code := pkgerrors.As(err).Code(); code != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %s", code)
	}
	if f.orders.calls != 0 {
		t.Fatalf("order created without stock, calls=%d", f.orders.calls)
	}

	reloaded, err := f.svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.Status != enums.CheckoutSessionStatusPending {
		t.Fatalf("failed mark paid leaked status %s", reloaded.Status)
	}

	var inv models.InventoryItem
	if err := f.db.First(&inv, "product_id = ?", item.ProductID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if inv.StockQty != 2 {
		t.Fatalf("stock deducted without a hold: %+v", inv)
	}
}

func TestExpireSessionReleasesHolds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10*time.Millisecond)
	ctx := context.Background()
	item := f.seedVariant(t, 2)

	session, err := f.svc.CreateSession(ctx, uuid.New(), []CartLine{lineFor(item, 500, 2)}, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if err := f.svc.ExpireSession(ctx, session.ID); err != nil {
		t.Fatalf("expire: %v", err)
	}

	loaded, err := f.svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if loaded.Status != enums.CheckoutSessionStatusExpired {
		t.Fatalf("expected expired, got %s", loaded.Status)
	}

	var inv models.InventoryItem
	if err := f.db.First(&inv, "product_id = ?", item.ProductID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if inv.StockQty != 2 || inv.ReservedQty != 0 {
		t.Fatalf("holds not released: %+v", inv)
	}

	// re-expiring is a no-op, not an error
	if err := f.svc.ExpireSession(ctx, session.ID); err != nil {
		t.Fatalf("second expire: %v", err)
	}
}

func TestExpireSessionBeforeTTLRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Hour)
	ctx := context.Background()
	item := f.seedVariant(t, 2)

	session, err := f.svc.CreateSession(ctx, uuid.New(), []CartLine{lineFor(item, 500, 1)}, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	err = f.svc.ExpireSession(ctx, session.ID)
	if err == nil {
		t.Fatal("expected rejection before TTL")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCancelOnlyFromPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Hour)
	ctx := context.Background()
	item := f.seedVariant(t, 2)
	userID := uuid.New()

	session, err := f.svc.CreateSession(ctx, userID, []CartLine{lineFor(item, 500, 1)}, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := f.svc.Cancel(ctx, session.ID, userID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	var inv models.InventoryItem
	if err := f.db.First(&inv, "product_id = ?", item.ProductID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if inv.ReservedQty != 0 {
		t.Fatalf("hold not released on cancel: %+v", inv)
	}

	// user-initiated double cancel is rejected
	err = f.svc.Cancel(ctx, session.ID, userID)
	if err == nil {
		t.Fatal("expected double cancel rejection")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCancelForeignSessionForbidden(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Hour)
	ctx := context.Background()
	item := f.seedVariant(t, 2)

	session, err := f.svc.CreateSession(ctx, uuid.New(), []CartLine{lineFor(item, 500, 1)}, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	err = f.svc.Cancel(ctx, session.ID, uuid.New())
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestExpireDue(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10*time.Millisecond)
	ctx := context.Background()
	item := f.seedVariant(t, 4)

	for i := 0; i < 2; i++ {
		if _, err := f.svc.CreateSession(ctx, uuid.New(), []CartLine{lineFor(item, 500, 1)}, ""); err != nil {
			t.Fatalf("create session %d: %v", i, err)
		}
	}

	time.Sleep(20 * time.Millisecond)

	expired, err := f.svc.ExpireDue(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if expired != 2 {
		t.Fatalf("expected 2 expired, got %d", expired)
	}

	var inv models.InventoryItem
	if err := f.db.First(&inv, "product_id = ?", item.ProductID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if inv.ReservedQty != 0 {
		t.Fatalf("holds not released: %+v", inv)
	}
}
