package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/novamart/novamart-backend/api/responses"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
	"github.com/novamart/novamart-backend/pkg/logger"
)

const (
	gatewaySignatureHeader = "X-Webhook-Signature"
	gatewayTimestampHeader = "X-Webhook-Timestamp"
)

type gatewayEventHandler interface {
	Handle(ctx context.Context, signature, timestamp string, rawBody []byte) error
}

// GatewayWebhook receives payment and refund notifications. Once the
// signature verifies the endpoint always acknowledges with 200; the
// handler owns retry semantics through the idempotency guard.
func GatewayWebhook(handler gatewayEventHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if handler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook handler unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(gatewaySignatureHeader)
		timestamp := r.Header.Get(gatewayTimestampHeader)

		if err := handler.Handle(ctx, signature, timestamp, payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}
