package payments

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
	"github.com/novamart/novamart-backend/pkg/gateway"
	"github.com/novamart/novamart-backend/pkg/logger"
	"github.com/novamart/novamart-backend/pkg/outbox"
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

type stubGateway struct {
	createCalls int
	statusCalls int
	status      string
	statusErr   error
}

func (s *stubGateway) CreatePaymentOrder(_ context.Context, amountCents int, currency, reference string) (*gateway.PaymentOrder, error) {
	s.createCalls++
	return &gateway.PaymentOrder{
		GatewayOrderID: "gw_" + reference[:8],
		Status:         "ACTIVE",
		PaymentLink:    "https://pay.example/" + reference[:8],
	}, nil
}

func (s *stubGateway) GetPaymentStatus(_ context.Context, gatewayOrderID string) (string, error) {
	s.statusCalls++
	if s.statusErr != nil {
		return "", s.statusErr
	}
	return s.status, nil
}

// stubSessions mimics the checkout markPaid idempotency seam: the first
// call wins and returns an order, later calls return nil.
type stubSessions struct {
	db        *gorm.DB
	markCalls int
	session   *models.CheckoutSession
}

func (s *stubSessions) GetSession(_ context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	if s.session == nil || s.session.ID != id {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "session not found")
	}
	return s.session, nil
}

func (s *stubSessions) MarkPaid(_ context.Context, tx *gorm.DB, sessionID uuid.UUID) (*models.Order, error) {
	if tx == nil {
		panic("mark paid requires a transaction")
	}
	s.markCalls++
	if s.markCalls > 1 {
		return nil, nil
	}
	order := &models.Order{
		CheckoutSessionID: sessionID,
		UserID:            s.session.UserID,
		Status:            enums.OrderStatusPaymentConfirmed,
		TotalCents:        s.session.TotalCents,
	}
	if err := tx.Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

type fixture struct {
	db       *gorm.DB
	svc      Service
	gateway  *stubGateway
	sessions *stubSessions
	outbox   *stubOutbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Payment{}, &models.Order{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	gw := &stubGateway{status: "ACTIVE"}
	sessions := &stubSessions{db: db}
	ob := &stubOutbox{}
	svc, err := NewService(ServiceParams{
		Tx:       testClient{db: db},
		Repo:     NewRepository(db),
		Gateway:  gw,
		Sessions: sessions,
		Outbox:   ob,
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("payment service: %v", err)
	}
	return &fixture{db: db, svc: svc, gateway: gw, sessions: sessions, outbox: ob}
}

func (f *fixture) seedSession(t *testing.T, status enums.CheckoutSessionStatus, expiresIn time.Duration) *models.CheckoutSession {
	t.Helper()
	session := &models.CheckoutSession{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		Status:     status,
		TotalCents: 4200,
		ExpiresAt:  time.Now().Add(expiresIn),
	}
	f.sessions.session = session
	return session
}

func TestInitiateCreatesAndReusesPayment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	session := f.seedSession(t, enums.CheckoutSessionStatusPending, time.Hour)

	payment, err := f.svc.Initiate(ctx, session.ID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if payment.Status != enums.PaymentStatusInitiated {
		t.Fatalf("expected initiated, got %s", payment.Status)
	}
	if payment.GatewayOrderID == "" || payment.PaymentLink == "" {
		t.Fatalf("gateway handle not persisted: %+v", payment)
	}
	if payment.AmountCents != 4200 {
		t.Fatalf("amount not taken from session: %d", payment.AmountCents)
	}

	// a retried initiate returns the open attempt instead of a new one
	again, err := f.svc.Initiate(ctx, session.ID)
	if err != nil {
		t.Fatalf("re-initiate: %v", err)
	}
	if again.ID != payment.ID {
		t.Fatalf("second payment minted: %s vs %s", again.ID, payment.ID)
	}
	if f.gateway.createCalls != 1 {
		t.Fatalf("gateway order created %d times", f.gateway.createCalls)
	}
}

func TestInitiateRejectsClosedOrExpiredSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	session := f.seedSession(t, enums.CheckoutSessionStatusExpired, time.Hour)
	_, err := f.svc.Initiate(ctx, session.ID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict for closed session, got %v", err)
	}

	session = f.seedSession(t, enums.CheckoutSessionStatusPending, -time.Minute)
	_, err = f.svc.Initiate(ctx, session.ID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict for expired session, got %v", err)
	}
	if f.gateway.createCalls != 0 {
		t.Fatal("gateway called for unusable session")
	}
}

func TestApplyGatewayStatusCompletesOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	session := f.seedSession(t, enums.CheckoutSessionStatusPending, time.Hour)

	payment, err := f.svc.Initiate(ctx, session.ID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	settled, err := f.svc.ApplyGatewayStatus(ctx, payment.GatewayOrderID, "SUCCESS", "")
	if err != nil {
		t.Fatalf("apply success: %v", err)
	}
	if settled.Status != enums.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", settled.Status)
	}
	if settled.VerifiedAt == nil {
		t.Fatal("verified_at not set")
	}
	if settled.OrderID == nil {
		t.Fatal("order not linked to payment")
	}
	if f.sessions.markCalls != 1 {
		t.Fatalf("mark paid calls = %d", f.sessions.markCalls)
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventPaymentCompleted {
		t.Fatalf("expected payment completed event, got %+v", f.outbox.events)
	}

	// at-least-once delivery: the replay must not re-mutate anything
	replayed, err := f.svc.ApplyGatewayStatus(ctx, payment.GatewayOrderID, "SUCCESS", "")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.Status != enums.PaymentStatusCompleted {
		t.Fatalf("replay changed status: %s", replayed.Status)
	}
	if f.sessions.markCalls != 1 {
		t.Fatalf("replay re-marked session, calls = %d", f.sessions.markCalls)
	}
	if len(f.outbox.events) != 1 {
		t.Fatalf("replay emitted again: %+v", f.outbox.events)
	}

	var orders int64
	if err := f.db.Model(&models.Order{}).Count(&orders).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orders != 1 {
		t.Fatalf("expected exactly one order, got %d", orders)
	}
}

func TestApplyGatewayStatusFailureLeavesSessionAlone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	session := f.seedSession(t, enums.CheckoutSessionStatusPending, time.Hour)

	payment, err := f.svc.Initiate(ctx, session.ID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	failed, err := f.svc.ApplyGatewayStatus(ctx, payment.GatewayOrderID, "FAILED", "card declined")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if failed.Status != enums.PaymentStatusFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}
	if failed.FailureReason != "card declined" {
		t.Fatalf("failure reason lost: %q", failed.FailureReason)
	}
	if f.sessions.markCalls != 0 {
		t.Fatal("failed payment marked the session paid")
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventPaymentFailed {
		t.Fatalf("expected payment failed event, got %+v", f.outbox.events)
	}
}

func TestApplyGatewayStatusUnknownStaysPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	session := f.seedSession(t, enums.CheckoutSessionStatusPending, time.Hour)

	payment, err := f.svc.Initiate(ctx, session.ID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	pending, err := f.svc.ApplyGatewayStatus(ctx, payment.GatewayOrderID, "SOMETHING_NEW", "")
	if err != nil {
		t.Fatalf("apply unknown: %v", err)
	}
	if pending.Status != enums.PaymentStatusPending {
		t.Fatalf("unknown status should map to pending, got %s", pending.Status)
	}

	// the later authoritative signal still settles the payment
	settled, err := f.svc.ApplyGatewayStatus(ctx, payment.GatewayOrderID, "PAID", "")
	if err != nil {
		t.Fatalf("apply paid: %v", err)
	}
	if settled.Status != enums.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", settled.Status)
	}
}

func TestVerifyPollsGateway(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	session := f.seedSession(t, enums.CheckoutSessionStatusPending, time.Hour)

	payment, err := f.svc.Initiate(ctx, session.ID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	f.gateway.status = "PAID"
	verified, err := f.svc.Verify(ctx, payment.GatewayOrderID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Status != enums.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", verified.Status)
	}
	if f.gateway.statusCalls != 1 {
		t.Fatalf("gateway polled %d times", f.gateway.statusCalls)
	}

	// terminal payments are answered locally
	if _, err := f.svc.Verify(ctx, payment.GatewayOrderID); err != nil {
		t.Fatalf("verify terminal: %v", err)
	}
	if f.gateway.statusCalls != 1 {
		t.Fatalf("terminal verify hit the gateway, calls = %d", f.gateway.statusCalls)
	}
}
