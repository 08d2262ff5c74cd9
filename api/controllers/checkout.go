package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/novamart/novamart-backend/api/middleware"
	"github.com/novamart/novamart-backend/api/responses"
	"github.com/novamart/novamart-backend/api/validators"
	checkoutsvc "github.com/novamart/novamart-backend/internal/checkout"
	"github.com/novamart/novamart-backend/pkg/db/models"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
	"github.com/novamart/novamart-backend/pkg/logger"
)

type checkoutLineRequest struct {
	ProductID      uuid.UUID `json:"product_id" validate:"required,uuid4"`
	ColorID        uuid.UUID `json:"color_id" validate:"required,uuid4"`
	SizeID         uuid.UUID `json:"size_id" validate:"required,uuid4"`
	Title          string    `json:"title" validate:"required"`
	UnitPriceCents int       `json:"unit_price_cents" validate:"required,min=1"`
	Qty            int       `json:"qty" validate:"required,min=1"`
}

type createSessionRequest struct {
	Items      []checkoutLineRequest `json:"items" validate:"required,min=1,dive"`
	CouponCode string                `json:"coupon_code,omitempty"`
}

type sessionItemResponse struct {
	ProductID      uuid.UUID `json:"product_id"`
	ColorID        uuid.UUID `json:"color_id"`
	SizeID         uuid.UUID `json:"size_id"`
	Title          string    `json:"title"`
	UnitPriceCents int       `json:"unit_price_cents"`
	Qty            int       `json:"qty"`
}

type sessionResponse struct {
	SessionID     uuid.UUID             `json:"session_id"`
	Status        string                `json:"status"`
	SubtotalCents int                   `json:"subtotal_cents"`
	DiscountCents int                   `json:"discount_cents"`
	TotalCents    int                   `json:"total_cents"`
	Items         []sessionItemResponse `json:"items"`
	ExpiresAt     time.Time             `json:"expires_at"`
}

func newSessionResponse(session *models.CheckoutSession) sessionResponse {
	if session == nil {
		return sessionResponse{}
	}
	items := make([]sessionItemResponse, 0, len(session.Items))
	for _, item := range session.Items {
		items = append(items, sessionItemResponse{
			ProductID:      item.ProductID,
			ColorID:        item.ColorID,
			SizeID:         item.SizeID,
			Title:          item.Title,
			UnitPriceCents: item.UnitPriceCents,
			Qty:            item.Qty,
		})
	}
	return sessionResponse{
		SessionID:     session.ID,
		Status:        session.Status.String(),
		SubtotalCents: session.SubtotalCents,
		DiscountCents: session.DiscountCents,
		TotalCents:    session.TotalCents,
		Items:         items,
		ExpiresAt:     session.ExpiresAt,
	}
}

// CheckoutCreate snapshots the submitted cart into a bounded session and
// places stock reservations for every line.
func CheckoutCreate(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createSessionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]checkoutsvc.CartLine, 0, len(payload.Items))
		for _, item := range payload.Items {
			lines = append(lines, checkoutsvc.CartLine{
				ProductID:      item.ProductID,
				ColorID:        item.ColorID,
				SizeID:         item.SizeID,
				Title:          item.Title,
				UnitPriceCents: item.UnitPriceCents,
				Qty:            item.Qty,
			})
		}

		session, err := svc.CreateSession(r.Context(), userID, lines, payload.CouponCode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newSessionResponse(session))
	}
}

func CheckoutGet(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
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

		session, err := svc.GetSession(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if session.UserID != userID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "session belongs to another user"))
			return
		}

		responses.WriteSuccess(w, newSessionResponse(session))
	}
}

func CheckoutCancel(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
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

		if err := svc.Cancel(r.Context(), sessionID, userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

func actorID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}
	return id, nil
}

func pathUUID(r *http.Request, param, label string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, param))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, label+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+label)
	}
	return id, nil
}
