package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/novamart/novamart-backend/api/responses"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
	"github.com/novamart/novamart-backend/pkg/logger"
)

const shippingTokenHeader = "X-Shipping-Token"

type shippingEventHandler interface {
	Handle(ctx context.Context, token string, rawBody []byte) error
}

// ShippingWebhook receives courier tracking pushes. Everything past the
// token check is acknowledged; stale and malformed events are dropped
// inside the handler.
func ShippingWebhook(handler shippingEventHandler, logg *logger.Logger) http.HandlerFunc {
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

		if err := handler.Handle(ctx, r.Header.Get(shippingTokenHeader), payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}
