package webhooks

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
	"github.com/novamart/novamart-backend/pkg/logger"
)

// shipmentReconciler is the order orchestrator surface the courier
// webhook drives.
type shipmentReconciler interface {
	ApplyProviderUpdate(ctx context.Context, providerShipmentID string, statusCode int, location string, occurredAt time.Time) error
}

// providerEvent is the courier's webhook body.
type providerEvent struct {
	ShipmentID    string `json:"shipment_id"`
	CurrentStatus int    `json:"current_status_id"`
	Location      string `json:"location"`
	ScanTime      string `json:"scan_time"`
}

// ShippingHandler processes courier webhooks. The courier authenticates
// with a static token header rather than a body signature.
type ShippingHandler struct {
	token  string
	orders shipmentReconciler
	logg   *logger.Logger
}

func NewShippingHandler(token string, orders shipmentReconciler, logg *logger.Logger) (*ShippingHandler, error) {
	if orders == nil {
		return nil, fmt.Errorf("shipment reconciler required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &ShippingHandler{token: token, orders: orders, logg: logg}, nil
}

// Handle reconciles one courier delivery. A bad token is the only error
// returned; processing failures are logged and acknowledged so the
// courier's retry schedule is driven by our own reconciliation state.
func (h *ShippingHandler) Handle(ctx context.Context, token string, rawBody []byte) error {
	if h.token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
		h.logg.Warn(h.logg.WithField(ctx, "event", "webhook.signature_rejected"), "courier webhook token rejected")
		return pkgerrors.New(pkgerrors.CodeSignatureInvalid, "invalid webhook token")
	}

	var event providerEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		h.logg.Error(h.logg.WithField(ctx, "event", "webhook.error"), "courier webhook payload unreadable", err)
		return nil
	}
	if event.ShipmentID == "" {
		h.logg.Error(h.logg.WithField(ctx, "event", "webhook.error"), "courier webhook missing shipment id", nil)
		return nil
	}

	occurredAt, err := time.Parse(time.RFC3339, event.ScanTime)
	if err != nil {
		occurredAt = time.Now()
	}

	err = h.orders.ApplyProviderUpdate(ctx, event.ShipmentID, event.CurrentStatus, event.Location, occurredAt)
	if err != nil {
		logCtx := h.logg.WithFields(ctx, map[string]any{
			"event":                "webhook.error",
			"provider_shipment_id": event.ShipmentID,
			"status_code":          event.CurrentStatus,
		})
		h.logg.Error(logCtx, "courier webhook reconciliation failed", err)
		return nil
	}

	logCtx := h.logg.WithFields(ctx, map[string]any{
		"provider_shipment_id": event.ShipmentID,
		"status_code":          event.CurrentStatus,
	})
	h.logg.Info(logCtx, "courier webhook reconciled")
	return nil
}
