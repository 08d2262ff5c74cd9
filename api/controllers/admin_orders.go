package controllers

import (
	"context"
	"net/http"

	"github.com/novamart/novamart-backend/api/responses"
	"github.com/novamart/novamart-backend/api/validators"
	internalorders "github.com/novamart/novamart-backend/internal/orders"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
	"github.com/novamart/novamart-backend/pkg/logger"
	"github.com/novamart/novamart-backend/pkg/shipping"
)

type approveOrderRequest struct {
	Name        string `json:"name" validate:"required"`
	Address     string `json:"address" validate:"required"`
	City        string `json:"city" validate:"required"`
	State       string `json:"state" validate:"required"`
	Country     string `json:"country" validate:"required"`
	Pincode     string `json:"pincode" validate:"required"`
	Phone       string `json:"phone" validate:"required"`
	WeightGrams int    `json:"weight_grams" validate:"required,min=1"`
}

// OrderApprove pushes a paid order to the courier and opens its shipment.
func OrderApprove(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := pathUUID(r, "orderId", "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload approveOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Approve(r.Context(), orderID, internalorders.ShippingDetails{
			Name:        payload.Name,
			Address:     payload.Address,
			City:        payload.City,
			State:       payload.State,
			Country:     payload.Country,
			Pincode:     payload.Pincode,
			Phone:       payload.Phone,
			WeightGrams: payload.WeightGrams,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

type invoiceGenerator interface {
	GenerateInvoice(ctx context.Context, shipmentID string) (*shipping.Invoice, error)
}

// OrderInvoice fetches the courier invoice for a shipped order.
func OrderInvoice(repo internalorders.Repository, provider invoiceGenerator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil || provider == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipping provider unavailable"))
			return
		}

		orderID, err := pathUUID(r, "orderId", "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		shipment, err := repo.FindShipmentByOrderID(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if shipment.ProviderShipmentID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "shipment not registered with courier"))
			return
		}

		invoice, err := provider.GenerateInvoice(r.Context(), shipment.ProviderShipmentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, invoice)
	}
}

type pickupLocationLister interface {
	GetAllPickupLocations(ctx context.Context) ([]shipping.PickupLocation, error)
}

type pickupLocationCreator interface {
	AddPickupLocation(ctx context.Context, loc shipping.PickupLocation) error
}

type pickupLocationRequest struct {
	Name    string `json:"name" validate:"required"`
	Address string `json:"address" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	Country string `json:"country" validate:"required"`
	Pincode string `json:"pincode" validate:"required"`
	Phone   string `json:"phone" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
}

// PickupLocationCreate registers a new dispatch point with the courier.
func PickupLocationCreate(provider pickupLocationCreator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if provider == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipping provider unavailable"))
			return
		}

		var payload pickupLocationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		loc := shipping.PickupLocation{
			Name:    payload.Name,
			Address: payload.Address,
			City:    payload.City,
			State:   payload.State,
			Country: payload.Country,
			Pincode: payload.Pincode,
			Phone:   payload.Phone,
			Email:   payload.Email,
		}
		if err := provider.AddPickupLocation(r.Context(), loc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, loc)
	}
}

// PickupLocations lists the dispatch points registered with the courier.
func PickupLocations(provider pickupLocationLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if provider == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipping provider unavailable"))
			return
		}

		locations, err := provider.GetAllPickupLocations(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, locations)
	}
}
