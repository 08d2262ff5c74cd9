package refunds

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/novamart/novamart-backend/pkg/db"
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

type gatewayClient interface {
	CreateRefund(ctx context.Context, gatewayOrderID, refundID string, amountCents int, reason string) (*gateway.RefundResult, error)
}

// paymentFinder resolves the completed payment a refund reverses.
type paymentFinder interface {
	FindCompletedByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
}

// Service drives the refund workflow.
type Service interface {
	// CreateForOrder opens a refund for the order's completed payment.
	// The refund id is derived from the order id, so retries converge on
	// one gateway refund. Orders without a completed payment return
	// NotFound.
	CreateForOrder(ctx context.Context, orderID uuid.UUID, reason string) (*models.Refund, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Refund, error)
	// ApplyGatewayStatus reconciles a gateway refund notification.
	// Terminal refunds are never re-mutated.
	ApplyGatewayStatus(ctx context.Context, refundID, gatewayStatus, failureReason string) (*models.Refund, error)
}

type service struct {
	tx       txRunner
	repo     Repository
	payments paymentFinder
	gateway  gatewayClient
	outbox   outboxPublisher
	logg     *logger.Logger
}

// ServiceParams collects the refund service dependencies.
type ServiceParams struct {
	Tx       txRunner
	Repo     Repository
	Payments paymentFinder
	Gateway  gatewayClient
	Outbox   outboxPublisher
	Logger   *logger.Logger
}

func NewService(p ServiceParams) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Repo == nil {
		return nil, fmt.Errorf("refund repository required")
	}
	if p.Payments == nil {
		return nil, fmt.Errorf("payment finder required")
	}
	if p.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:       p.Tx,
		repo:     p.Repo,
		payments: p.Payments,
		gateway:  p.Gateway,
		outbox:   p.Outbox,
		logg:     p.Logger,
	}, nil
}

// RefundIDForOrder derives the stable refund identifier for an order.
func RefundIDForOrder(orderID uuid.UUID) string {
	sum := sha256.Sum256([]byte(orderID.String()))
	return "rfnd_" + hex.EncodeToString(sum[:])[:20]
}

func (s *service) CreateForOrder(ctx context.Context, orderID uuid.UUID, reason string) (*models.Refund, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	refundID := RefundIDForOrder(orderID)

	existing, err := s.repo.FindByRefundID(ctx, refundID)
	if err == nil {
		return existing, nil
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		return nil, err
	}

	payment, err := s.payments.FindCompletedByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	result, err := s.gateway.CreateRefund(ctx, payment.GatewayOrderID, refundID, payment.AmountCents, reason)
	if err != nil {
		return nil, err
	}

	refund := &models.Refund{
		OrderID:     orderID,
		PaymentID:   payment.ID,
		RefundID:    refundID,
		AmountCents: payment.AmountCents,
		Reason:      reason,
		Status:      enums.RefundStatusPending,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.WithTx(tx).Create(ctx, refund); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundCreated,
			AggregateType: enums.AggregateRefund,
			AggregateID:   refund.ID,
			Data: map[string]any{
				"refund_id":    refundID,
				"order_id":     orderID,
				"payment_id":   payment.ID,
				"amount_cents": payment.AmountCents,
			},
		})
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_refunds_refund_id") {
			// A concurrent retry inserted the same refund first.
			return s.repo.FindByRefundID(ctx, refundID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist refund")
	}

	logCtx := s.logg.WithOrderID(ctx, orderID.String())
	logCtx = s.logg.WithField(logCtx, "refund_id", refundID)
	s.logg.Info(logCtx, "refund created")

	// The gateway may settle instantly; fold its answer in right away.
	if settled := enums.RefundStatusFromGateway(result.Status); settled.IsTerminal() {
		return s.ApplyGatewayStatus(ctx, refundID, result.Status, "")
	}
	return refund, nil
}

func (s *service) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Refund, error) {
	return s.repo.FindByOrderID(ctx, orderID)
}

func (s *service) ApplyGatewayStatus(ctx context.Context, refundID, gatewayStatus, failureReason string) (*models.Refund, error) {
	refund, err := s.repo.FindByRefundID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if refund.Status.IsTerminal() {
		// Re-delivery of a settled refund is a safe no-op.
		return refund, nil
	}

	target := enums.RefundStatusFromGateway(gatewayStatus)
	if target == enums.RefundStatusPending {
		return refund, nil
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var completedAt *time.Time
		if target == enums.RefundStatusCompleted {
			now := time.Now()
			completedAt = &now
		}
		won, err := repo.TransitionPending(ctx, refund.ID, target, failureReason, completedAt)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}

		eventType := enums.EventRefundCompleted
		if target == enums.RefundStatusFailed {
			eventType = enums.EventRefundFailed
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateRefund,
			AggregateID:   refund.ID,
			Data: map[string]any{
				"refund_id":      refundID,
				"order_id":       refund.OrderID,
				"failure_reason": failureReason,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.FindByRefundID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithField(ctx, "refund_id", refundID)
	logCtx = s.logg.WithField(logCtx, "status", updated.Status.String())
	s.logg.Info(logCtx, "refund reconciled")
	return updated, nil
}
