package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/novamart/novamart-backend/api/responses"
	"github.com/novamart/novamart-backend/api/validators"
	checkoutsvc "github.com/novamart/novamart-backend/internal/checkout"
	"github.com/novamart/novamart-backend/internal/payments"
	"github.com/novamart/novamart-backend/pkg/db/models"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
	"github.com/novamart/novamart-backend/pkg/logger"
)

type paymentResponse struct {
	PaymentID      uuid.UUID  `json:"payment_id"`
	SessionID      uuid.UUID  `json:"session_id"`
	OrderID        *uuid.UUID `json:"order_id,omitempty"`
	GatewayOrderID string     `json:"gateway_order_id"`
	Status         string     `json:"status"`
	AmountCents    int        `json:"amount_cents"`
	Currency       string     `json:"currency"`
	PaymentLink    string     `json:"payment_link,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
}

func newPaymentResponse(payment *models.Payment) paymentResponse {
	if payment == nil {
		return paymentResponse{}
	}
	return paymentResponse{
		PaymentID:      payment.ID,
		SessionID:      payment.CheckoutSessionID,
		OrderID:        payment.OrderID,
		GatewayOrderID: payment.GatewayOrderID,
		Status:         payment.Status.String(),
		AmountCents:    payment.AmountCents,
		Currency:       payment.Currency,
		PaymentLink:    payment.PaymentLink,
		FailureReason:  payment.FailureReason,
		VerifiedAt:     payment.VerifiedAt,
	}
}

// PaymentInitiate opens (or re-serves) the gateway payment order for a
// pending checkout session. Retries return the same gateway order.
func PaymentInitiate(svc payments.Service, sessions checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || sessions == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sessionID, err := pathUUID(r, "sessionId", "session id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := sessions.GetSession(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if session.UserID != userID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "session belongs to another user"))
			return
		}

		payment, err := svc.Initiate(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newPaymentResponse(payment))
	}
}

type verifyPaymentRequest struct {
	GatewayOrderID string `json:"gateway_order_id" validate:"required"`
}

// PaymentVerify is the synchronous poll path used by the client after it
// returns from the gateway redirect.
func PaymentVerify(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		var payload verifyPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Verify(r.Context(), payload.GatewayOrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}
