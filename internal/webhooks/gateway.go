package webhooks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/novamart/novamart-backend/pkg/db/models"
	"github.com/novamart/novamart-backend/pkg/enums"
	"github.com/novamart/novamart-backend/pkg/logger"
)

// signatureVerifier authenticates a raw webhook body.
type signatureVerifier interface {
	VerifySignature(signature, timestamp string, rawBody []byte) error
}

// paymentReconciler is the payment engine surface the webhook drives.
type paymentReconciler interface {
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error)
	ApplyGatewayStatus(ctx context.Context, gatewayOrderID string, gatewayStatus, failureReason string) (*models.Payment, error)
}

// refundReconciler is the refund workflow surface the webhook drives.
type refundReconciler interface {
	ApplyGatewayStatus(ctx context.Context, refundID, gatewayStatus, failureReason string) (*models.Refund, error)
}

// gatewayEvent is the gateway's webhook envelope.
type gatewayEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Payload   struct {
		GatewayOrderID string `json:"order_id"`
		RefundID       string `json:"refund_id"`
		Status         string `json:"status"`
		FailureReason  string `json:"failure_reason"`
	} `json:"payload"`
}

// GatewayHandler processes payment-gateway webhooks. Once the signature
// verifies, the handler never returns an error: the gateway is told 200
// even for no-ops and internal failures, and redelivery is steered by
// releasing the idempotency claim instead.
type GatewayHandler struct {
	verifier signatureVerifier
	payments paymentReconciler
	refunds  refundReconciler
	guard    *IdempotencyGuard
	logg     *logger.Logger
}

// GatewayHandlerParams collects the gateway webhook dependencies.
type GatewayHandlerParams struct {
	Verifier signatureVerifier
	Payments paymentReconciler
	Refunds  refundReconciler
	Guard    *IdempotencyGuard
	Logger   *logger.Logger
}

func NewGatewayHandler(p GatewayHandlerParams) (*GatewayHandler, error) {
	if p.Verifier == nil {
		return nil, fmt.Errorf("signature verifier required")
	}
	if p.Payments == nil {
		return nil, fmt.Errorf("payment reconciler required")
	}
	if p.Refunds == nil {
		return nil, fmt.Errorf("refund reconciler required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &GatewayHandler{
		verifier: p.Verifier,
		payments: p.Payments,
		refunds:  p.Refunds,
		guard:    p.Guard,
		logg:     p.Logger,
	}, nil
}

// Handle authenticates and reconciles one webhook delivery. The returned
// error is non-nil only when the signature check fails; the caller maps
// that to a 401 without any state having changed.
func (h *GatewayHandler) Handle(ctx context.Context, signature, timestamp string, rawBody []byte) error {
	if err := h.verifier.VerifySignature(signature, timestamp, rawBody); err != nil {
		s := h.logg.WithField(ctx, "event", "webhook.signature_rejected")
		h.logg.Warn(s, "gateway webhook signature rejected")
		return err
	}

	var event gatewayEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		h.logError(ctx, "", err, "gateway webhook payload unreadable")
		return nil
	}

	if !h.guard.CheckAndMark(ctx, event.EventID) {
		logCtx := h.logg.WithFields(ctx, map[string]any{
			"event":    "webhook.noop_duplicate",
			"event_id": event.EventID,
		})
		h.logg.Info(logCtx, "gateway webhook already claimed")
		return nil
	}

	if event.Payload.RefundID != "" {
		h.handleRefund(ctx, event)
		return nil
	}
	h.handlePayment(ctx, event)
	return nil
}

func (h *GatewayHandler) handlePayment(ctx context.Context, event gatewayEvent) {
	gatewayOrderID := event.Payload.GatewayOrderID
	if gatewayOrderID == "" {
		h.logError(ctx, event.EventID, nil, "gateway webhook missing order id")
		return
	}

	payment, err := h.payments.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		h.guard.Release(ctx, event.EventID)
		h.logError(ctx, event.EventID, err, "gateway webhook payment lookup failed")
		return
	}
	if payment.Status.IsTerminal() {
		logCtx := h.logg.WithFields(ctx, map[string]any{
			"event":            "webhook.noop_terminal",
			"gateway_order_id": gatewayOrderID,
			"status":           payment.Status.String(),
		})
		h.logg.Info(logCtx, "payment already settled")
		return
	}

	_, err = h.payments.ApplyGatewayStatus(ctx, gatewayOrderID, event.Payload.Status, event.Payload.FailureReason)
	if err != nil {
		// Release the claim so the gateway's redelivery retries the
		// transition instead of hitting the duplicate short-circuit.
		h.guard.Release(ctx, event.EventID)
		h.logError(ctx, event.EventID, err, "gateway webhook reconciliation failed")
		return
	}

	logCtx := h.logg.WithField(ctx, "gateway_order_id", gatewayOrderID)
	h.logg.Info(logCtx, "gateway webhook reconciled")
}

func (h *GatewayHandler) handleRefund(ctx context.Context, event gatewayEvent) {
	refund, err := h.refunds.ApplyGatewayStatus(ctx, event.Payload.RefundID, event.Payload.Status, event.Payload.FailureReason)
	if err != nil {
		h.guard.Release(ctx, event.EventID)
		h.logError(ctx, event.EventID, err, "refund webhook reconciliation failed")
		return
	}
	if refund.Status == enums.RefundStatusPending {
		logCtx := h.logg.WithFields(ctx, map[string]any{
			"event":     "webhook.noop_pending",
			"refund_id": event.Payload.RefundID,
		})
		h.logg.Info(logCtx, "refund webhook carried no settlement")
		return
	}
	logCtx := h.logg.WithField(ctx, "refund_id", event.Payload.RefundID)
	h.logg.Info(logCtx, "refund webhook reconciled")
}

func (h *GatewayHandler) logError(ctx context.Context, eventID string, err error, msg string) {
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event":    "webhook.error",
		"event_id": eventID,
	})
	h.logg.Error(logCtx, msg, err)
}
