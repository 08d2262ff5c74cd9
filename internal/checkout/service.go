package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/novamart/novamart-backend/internal/coupons"
	"github.com/novamart/novamart-backend/internal/inventory"
	"github.com/novamart/novamart-backend/pkg/db/models"
	"github.com/novamart/novamart-backend/pkg/enums"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
	"github.com/novamart/novamart-backend/pkg/logger"
	"github.com/novamart/novamart-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type couponValidator interface {
	Validate(ctx context.Context, tx *gorm.DB, code string, now time.Time) (*models.Coupon, error)
}

// OrderCreator turns a paid session into a durable order. Implemented by
// the orders package; injected here to keep the dependency one-way.
type OrderCreator interface {
	CreateOrderFromSession(ctx context.Context, tx *gorm.DB, session *models.CheckoutSession) (*models.Order, error)
}

// CartLine is one snapshotted line handed in by the storefront. Prices
// arrive from the trusted catalog service, not from the browser.
type CartLine struct {
	ProductID      uuid.UUID
	ColorID        uuid.UUID
	SizeID         uuid.UUID
	Title          string
	UnitPriceCents int
	Qty            int
}

// Service manages the checkout session lifecycle.
type Service interface {
	CreateSession(ctx context.Context, userID uuid.UUID, lines []CartLine, couponCode string) (*models.CheckoutSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
	// MarkPaid runs inside the caller's transaction; the payment engine
	// owns the outer tx so payment and session transition commit together.
	MarkPaid(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*models.Order, error)
	ExpireSession(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID, userID uuid.UUID) error
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

type service struct {
	tx         txRunner
	repo       Repository
	coupons    couponValidator
	orders     OrderCreator
	outbox     outboxPublisher
	logg       *logger.Logger
	sessionTTL time.Duration
}

// ServiceParams collects the checkout service dependencies.
type ServiceParams struct {
	Tx         txRunner
	Repo       Repository
	Coupons    couponValidator
	Orders     OrderCreator
	Outbox     outboxPublisher
	Logger     *logger.Logger
	SessionTTL time.Duration
}

func NewService(p ServiceParams) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Repo == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if p.Orders == nil {
		return nil, fmt.Errorf("order creator required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.SessionTTL <= 0 {
		p.SessionTTL = 15 * time.Minute
	}
	return &service{
		tx:         p.Tx,
		repo:       p.Repo,
		coupons:    p.Coupons,
		orders:     p.Orders,
		outbox:     p.Outbox,
		logg:       p.Logger,
		sessionTTL: p.SessionTTL,
	}, nil
}

func (s *service) CreateSession(ctx context.Context, userID uuid.UUID, lines []CartLine, couponCode string) (*models.CheckoutSession, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart contains no items")
	}
	for _, line := range lines {
		if line.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid qty for product %s", line.ProductID))
		}
		if line.UnitPriceCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid price for product %s", line.ProductID))
		}
	}

	now := time.Now()
	var created *models.CheckoutSession
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		subtotal := 0
		for _, line := range lines {
			subtotal += line.UnitPriceCents * line.Qty
		}

		var coupon *models.Coupon
		if couponCode != "" {
			if s.coupons == nil {
				return pkgerrors.New(pkgerrors.CodeValidation, "coupons are not supported")
			}
			var err error
			coupon, err = s.coupons.Validate(ctx, tx, couponCode, now)
			if err != nil {
				return err
			}
		}
		discount, err := coupons.Discount(coupon, subtotal)
		if err != nil {
			return err
		}

		session := &models.CheckoutSession{
			UserID:        userID,
			Status:        enums.CheckoutSessionStatusPending,
			SubtotalCents: subtotal,
			DiscountCents: discount,
			TotalCents:    subtotal - discount,
			ExpiresAt:     now.Add(s.sessionTTL),
		}
		if coupon != nil {
			session.CouponID = &coupon.ID
		}
		session.Items = make([]models.CheckoutSessionItem, len(lines))
		for i, line := range lines {
			session.Items[i] = models.CheckoutSessionItem{
				ProductID:      line.ProductID,
				ColorID:        line.ColorID,
				SizeID:         line.SizeID,
				Title:          line.Title,
				UnitPriceCents: line.UnitPriceCents,
				Qty:            line.Qty,
			}
		}
		if _, err := s.repo.WithTx(tx).Create(ctx, session); err != nil {
			return err
		}

		requests := make([]inventory.ReservationRequest, len(lines))
		for i, line := range lines {
			requests[i] = inventory.ReservationRequest{
				ProductID: line.ProductID,
				ColorID:   line.ColorID,
				SizeID:    line.SizeID,
				Qty:       line.Qty,
			}
		}
		if err := inventory.Reserve(ctx, tx, session.ID, requests, s.sessionTTL); err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSessionCreated,
			AggregateType: enums.AggregateCheckoutSession,
			AggregateID:   session.ID,
			Data: map[string]any{
				"user_id":     userID.String(),
				"total_cents": session.TotalCents,
				"expires_at":  session.ExpiresAt,
			},
		}); err != nil {
			return err
		}

		created = session
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithSessionID(ctx, created.ID.String())
	s.logg.Info(logCtx, "checkout session created")
	return created, nil
}

func (s *service) GetSession(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	return s.repo.FindByID(ctx, id)
}

func (s *service) MarkPaid(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for mark paid")
	}
	repo := s.repo.WithTx(tx)

	session, err := repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	won, err := repo.TransitionFromPending(ctx, sessionID, enums.CheckoutSessionStatusPaid, time.Now())
	if err != nil {
		return nil, err
	}
	if !won {
		// Losing the transition is only acceptable when someone else
		// already paid; expired/cancelled sessions cannot become paid.
		if session.Status == enums.CheckoutSessionStatusPaid {
			return nil, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("session is %s and cannot be paid", session.Status))
	}

	if err := inventory.Commit(ctx, tx, sessionID, len(session.Items)); err != nil {
		return nil, err
	}

	session.Status = enums.CheckoutSessionStatusPaid
	order, err := s.orders.CreateOrderFromSession(ctx, tx, session)
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithSessionID(ctx, sessionID.String())
	logCtx = s.logg.WithOrderID(logCtx, order.ID.String())
	s.logg.Info(logCtx, "checkout session paid")
	return order, nil
}

func (s *service) ExpireSession(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		session, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if session.Status == enums.CheckoutSessionStatusExpired {
			return nil
		}
		if session.Status != enums.CheckoutSessionStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("session is %s and cannot expire", session.Status))
		}
		if time.Now().Before(session.ExpiresAt) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "session has not reached its expiry")
		}

		won, err := repo.TransitionFromPending(ctx, id, enums.CheckoutSessionStatusExpired, time.Now())
		if err != nil {
			return err
		}
		if !won {
			return nil
		}

		if err := inventory.Release(ctx, tx, id); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSessionExpired,
			AggregateType: enums.AggregateCheckoutSession,
			AggregateID:   id,
			Data:          map[string]any{"user_id": session.UserID.String()},
		})
	})
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		session, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if userID != uuid.Nil && session.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "session belongs to another user")
		}
		if session.Status != enums.CheckoutSessionStatusPending {
			// user-initiated double cancel is a rejection, not a no-op
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("session is %s and cannot be cancelled", session.Status))
		}

		won, err := repo.TransitionFromPending(ctx, id, enums.CheckoutSessionStatusCancelled, time.Now())
		if err != nil {
			return err
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "session already closed")
		}

		if err := inventory.Release(ctx, tx, id); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSessionCancelled,
			AggregateType: enums.AggregateCheckoutSession,
			AggregateID:   id,
			Data:          map[string]any{"user_id": session.UserID.String()},
		})
	})
}

// ExpireDue expires pending sessions past their TTL, one transaction per
// session so a failure on one row does not poison the batch.
func (s *service) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	sessions, err := s.repo.ListExpiredPending(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, session := range sessions {
		if err := s.ExpireSession(ctx, session.ID); err != nil {
			logCtx := s.logg.WithSessionID(ctx, session.ID.String())
			s.logg.Error(logCtx, "session expiry failed", err)
			continue
		}
		expired++
	}
	return expired, nil
}
