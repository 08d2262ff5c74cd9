package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/novamart/novamart-backend/pkg/db/models"
	"github.com/novamart/novamart-backend/pkg/enums"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
	"github.com/novamart/novamart-backend/pkg/gateway"
	"github.com/novamart/novamart-backend/pkg/logger"
	"github.com/novamart/novamart-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// gatewayClient is the slice of the payment gateway this service uses.
type gatewayClient interface {
	CreatePaymentOrder(ctx context.Context, amountCents int, currency, reference string) (*gateway.PaymentOrder, error)
	GetPaymentStatus(ctx context.Context, gatewayOrderID string) (string, error)
}

// sessionManager is the checkout surface the payment engine drives.
// MarkPaid runs inside the payment transaction so the session flip, the
// stock commit and the payment transition land atomically.
type sessionManager interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*models.Order, error)
}

// Service reconciles gateway payment state onto local payments.
type Service interface {
	Initiate(ctx context.Context, sessionID uuid.UUID) (*models.Payment, error)
	// Verify is the synchronous poll path used when the client returns
	// from the gateway. It converges through the same transition
	// function as the webhook path.
	Verify(ctx context.Context, gatewayOrderID string) (*models.Payment, error)
	// ApplyGatewayStatus applies one gateway-reported status. Terminal
	// payments are never re-mutated; the first transition to completed
	// marks the session paid and links the resulting order.
	ApplyGatewayStatus(ctx context.Context, gatewayOrderID string, gatewayStatus, failureReason string) (*models.Payment, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error)
}

type service struct {
	tx       txRunner
	repo     Repository
	gateway  gatewayClient
	sessions sessionManager
	outbox   outboxPublisher
	logg     *logger.Logger
	currency string
}

// ServiceParams collects the payment service dependencies.
type ServiceParams struct {
	Tx       txRunner
	Repo     Repository
	Gateway  gatewayClient
	Sessions sessionManager
	Outbox   outboxPublisher
	Logger   *logger.Logger
	Currency string
}

func NewService(p ServiceParams) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Repo == nil {
		return nil, fmt.Errorf("payment repository required")
	}
	if p.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if p.Sessions == nil {
		return nil, fmt.Errorf("session manager required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	return &service{
		tx:       p.Tx,
		repo:     p.Repo,
		gateway:  p.Gateway,
		sessions: p.Sessions,
		outbox:   p.Outbox,
		logg:     p.Logger,
		currency: p.Currency,
	}, nil
}

// Initiate opens a payment order with the gateway for a pending session.
// Re-initiating while an earlier attempt is still open returns that
// attempt instead of minting a second gateway order.
func (s *service) Initiate(ctx context.Context, sessionID uuid.UUID) (*models.Payment, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != enums.CheckoutSessionStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			"session is "+session.Status.String()+", payment cannot start")
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "session has expired")
	}

	existing, err := s.repo.FindOpenBySessionID(ctx, sessionID)
	if err == nil {
		return existing, nil
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		return nil, err
	}

	order, err := s.gateway.CreatePaymentOrder(ctx, session.TotalCents, s.currency, sessionID.String())
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		CheckoutSessionID: sessionID,
		GatewayOrderID:    order.GatewayOrderID,
		Status:            enums.PaymentStatusInitiated,
		AmountCents:       session.TotalCents,
		Currency:          s.currency,
		PaymentLink:       order.PaymentLink,
	}
	if _, err := s.repo.Create(ctx, payment); err != nil {
		return nil, err
	}

	logCtx := s.logg.WithSessionID(ctx, sessionID.String())
	logCtx = s.logg.WithField(logCtx, "gateway_order_id", order.GatewayOrderID)
	s.logg.Info(logCtx, "payment initiated")
	return payment, nil
}

func (s *service) Verify(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	payment, err := s.repo.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() {
		return payment, nil
	}

	status, err := s.gateway.GetPaymentStatus(ctx, gatewayOrderID)
	if err != nil {
		return nil, err
	}
	return s.ApplyGatewayStatus(ctx, gatewayOrderID, status, "")
}

func (s *service) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	return s.repo.FindByGatewayOrderID(ctx, gatewayOrderID)
}

func (s *service) ApplyGatewayStatus(ctx context.Context, gatewayOrderID string, gatewayStatus, failureReason string) (*models.Payment, error) {
	payment, err := s.repo.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() {
		// Re-delivery of a settled payment is a safe no-op.
		return payment, nil
	}

	target := enums.PaymentStatusFromGateway(gatewayStatus)
	if target == enums.PaymentStatusPending {
		if payment.Status == enums.PaymentStatusInitiated {
			if _, err := s.repo.TransitionOpen(ctx, payment.ID, enums.PaymentStatusPending, "", nil); err != nil {
				return nil, err
			}
		}
		return s.repo.FindByGatewayOrderID(ctx, gatewayOrderID)
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := time.Now()
		won, err := repo.TransitionOpen(ctx, payment.ID, target, failureReason, &now)
		if err != nil {
			return err
		}
		if !won {
			// A concurrent webhook or poll settled the payment first.
			return nil
		}

		if target == enums.PaymentStatusCompleted {
			order, err := s.sessions.MarkPaid(ctx, tx, payment.CheckoutSessionID)
			if err != nil {
				return err
			}
			if order != nil {
				if err := repo.SetOrderID(ctx, payment.ID, order.ID); err != nil {
					return err
				}
			}
			return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPaymentCompleted,
				AggregateType: enums.AggregatePayment,
				AggregateID:   payment.ID,
				Data: map[string]any{
					"payment_id":          payment.ID,
					"checkout_session_id": payment.CheckoutSessionID,
					"gateway_order_id":    gatewayOrderID,
					"amount_cents":        payment.AmountCents,
				},
			})
		}

		// A failed payment leaves the session pending so the buyer can
		// retry or the session can expire naturally.
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Data: map[string]any{
				"payment_id":       payment.ID,
				"gateway_order_id": gatewayOrderID,
				"failure_reason":   failureReason,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithField(ctx, "gateway_order_id", gatewayOrderID)
	logCtx = s.logg.WithField(logCtx, "status", updated.Status.String())
	s.logg.Info(logCtx, "payment reconciled")
	return updated, nil
}
