package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/novamart/novamart-backend/pkg/config"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
	"github.com/novamart/novamart-backend/pkg/logger"
	"github.com/novamart/novamart-backend/pkg/types"
)

var (
	errBaseURLRequired = errors.New("shipping base url is required")
	errAPIKeyRequired  = errors.New("shipping api key is required")
	errLoggerRequired  = errors.New("shipping logger is required")
)

// Client wraps the shipment provider's HTTP surface.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	pickupLocation string
	logger         *logger.Logger
}

// OrderRequest describes a shipment to open with the provider.
type OrderRequest struct {
	OrderID        string      `json:"order_id"`
	PickupLocation string      `json:"pickup_location"`
	Name           string      `json:"name"`
	Address        string      `json:"address"`
	City           string      `json:"city"`
	State          string      `json:"state"`
	Country        string      `json:"country"`
	Pincode        string      `json:"pincode"`
	Phone          string      `json:"phone"`
	Items          []OrderItem `json:"items"`
	SubtotalCents  int         `json:"subtotal"`
	WeightGrams    int         `json:"weight"`
}

type OrderItem struct {
	Name           string `json:"name"`
	SKU            string `json:"sku"`
	Units          int    `json:"units"`
	UnitPriceCents int    `json:"selling_price"`
}

// OrderResult is the provider's handle for a created shipment.
type OrderResult struct {
	ShipmentID  string `json:"shipment_id"`
	AWBCode     string `json:"awb_code"`
	CourierName string `json:"courier_name"`
	Status      string `json:"status"`
}

// Tracking is the provider's tracking snapshot for a shipment.
type Tracking struct {
	ShipmentID    string                `json:"shipment_id"`
	CurrentStatus string                `json:"current_status"`
	Events        []types.TrackingEvent `json:"events"`
}

// AddressUpdate carries a delivery address change for an unshipped order.
type AddressUpdate struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
	Pincode string `json:"pincode"`
	Phone   string `json:"phone"`
}

// Invoice is the provider's generated invoice handle.
type Invoice struct {
	InvoiceURL string `json:"invoice_url"`
}

// PickupLocation is one registered dispatch point.
type PickupLocation struct {
	Name    string `json:"pickup_location"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
	Pincode string `json:"pin_code"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

// NewClient initializes the shipping wrapper and validates the credentials.
func NewClient(cfg config.ShippingConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        baseURL,
		apiKey:         apiKey,
		pickupLocation: strings.TrimSpace(cfg.PickupLocation),
		logger:         logg,
	}, nil
}

// DefaultPickupLocation returns the configured dispatch point.
func (c *Client) DefaultPickupLocation() string {
	if c == nil {
		return ""
	}
	return c.pickupLocation
}

// CreateOrder opens a shipment with the provider.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if req.PickupLocation == "" {
		req.PickupLocation = c.pickupLocation
	}
	c.log(ctx, "request", "create_order", map[string]any{"order_id": req.OrderID})

	var result OrderResult
	if err := c.do(ctx, http.MethodPost, "/v1/orders", req, &result); err != nil {
		c.log(ctx, "error", "create_order", map[string]any{"error": err.Error()})
		return nil, err
	}
	c.log(ctx, "response", "create_order", map[string]any{
		"shipment_id": result.ShipmentID,
		"status":      result.Status,
	})
	return &result, nil
}

// CancelOrder cancels a shipment. Providers report an already-cancelled
// shipment as a conflict; callers treat that as a no-op.
func (c *Client) CancelOrder(ctx context.Context, shipmentID string) error {
	if strings.TrimSpace(shipmentID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipment id is required")
	}
	c.log(ctx, "request", "cancel_order", map[string]any{"shipment_id": shipmentID})

	err := c.do(ctx, http.MethodPost, "/v1/orders/"+shipmentID+"/cancel", nil, nil)
	if err != nil {
		c.log(ctx, "error", "cancel_order", map[string]any{"error": err.Error()})
		return err
	}
	c.log(ctx, "response", "cancel_order", map[string]any{"shipment_id": shipmentID})
	return nil
}

// GetTrackingByOrderID fetches the provider's tracking snapshot.
func (c *Client) GetTrackingByOrderID(ctx context.Context, shipmentID string) (*Tracking, error) {
	if strings.TrimSpace(shipmentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment id is required")
	}
	c.log(ctx, "request", "get_tracking", map[string]any{"shipment_id": shipmentID})

	var tracking Tracking
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+shipmentID+"/tracking", nil, &tracking); err != nil {
		c.log(ctx, "error", "get_tracking", map[string]any{"error": err.Error()})
		return nil, err
	}
	c.log(ctx, "response", "get_tracking", map[string]any{
		"shipment_id":    tracking.ShipmentID,
		"current_status": tracking.CurrentStatus,
	})
	return &tracking, nil
}

// CreateReturn opens a return shipment for a delivered order.
func (c *Client) CreateReturn(ctx context.Context, shipmentID string, payload map[string]any) (*OrderResult, error) {
	if strings.TrimSpace(shipmentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment id is required")
	}
	c.log(ctx, "request", "create_return", map[string]any{"shipment_id": shipmentID})

	var result OrderResult
	if err := c.do(ctx, http.MethodPost, "/v1/orders/"+shipmentID+"/return", payload, &result); err != nil {
		c.log(ctx, "error", "create_return", map[string]any{"error": err.Error()})
		return nil, err
	}
	c.log(ctx, "response", "create_return", map[string]any{
		"shipment_id": result.ShipmentID,
		"status":      result.Status,
	})
	return &result, nil
}

// UpdateAddress changes the delivery address. The provider rejects the
// change once pickup is scheduled; that rejection is surfaced, not hidden.
func (c *Client) UpdateAddress(ctx context.Context, shipmentID string, update AddressUpdate) error {
	if strings.TrimSpace(shipmentID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipment id is required")
	}
	c.log(ctx, "request", "update_address", map[string]any{"shipment_id": shipmentID})

	err := c.do(ctx, http.MethodPatch, "/v1/orders/"+shipmentID+"/address", update, nil)
	if err != nil {
		c.log(ctx, "error", "update_address", map[string]any{"error": err.Error()})
		return err
	}
	c.log(ctx, "response", "update_address", map[string]any{"shipment_id": shipmentID})
	return nil
}

// GenerateInvoice asks the provider to render an invoice for the shipment.
func (c *Client) GenerateInvoice(ctx context.Context, shipmentID string) (*Invoice, error) {
	if strings.TrimSpace(shipmentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment id is required")
	}
	c.log(ctx, "request", "generate_invoice", map[string]any{"shipment_id": shipmentID})

	var invoice Invoice
	if err := c.do(ctx, http.MethodPost, "/v1/orders/"+shipmentID+"/invoice", nil, &invoice); err != nil {
		c.log(ctx, "error", "generate_invoice", map[string]any{"error": err.Error()})
		return nil, err
	}
	c.log(ctx, "response", "generate_invoice", map[string]any{"shipment_id": shipmentID})
	return &invoice, nil
}

// AddPickupLocation registers a new dispatch point with the provider.
func (c *Client) AddPickupLocation(ctx context.Context, loc PickupLocation) error {
	c.log(ctx, "request", "add_pickup_location", map[string]any{"name": loc.Name})

	err := c.do(ctx, http.MethodPost, "/v1/pickup-locations", loc, nil)
	if err != nil {
		c.log(ctx, "error", "add_pickup_location", map[string]any{"error": err.Error()})
		return err
	}
	c.log(ctx, "response", "add_pickup_location", map[string]any{"name": loc.Name})
	return nil
}

// GetAllPickupLocations lists the registered dispatch points.
func (c *Client) GetAllPickupLocations(ctx context.Context) ([]PickupLocation, error) {
	c.log(ctx, "request", "get_pickup_locations", nil)

	var payload struct {
		Locations []PickupLocation `json:"locations"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/pickup-locations", nil, &payload); err != nil {
		c.log(ctx, "error", "get_pickup_locations", map[string]any{"error": err.Error()})
		return nil, err
	}
	c.log(ctx, "response", "get_pickup_locations", map[string]any{"count": len(payload.Locations)})
	return payload.Locations, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding shipping request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building shipping request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("shipping %s %s", method, path))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading shipping response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.mapStatusError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding shipping response")
	}
	return nil
}

func (c *Client) mapStatusError(status int, raw []byte) error {
	msg := fmt.Sprintf("shipping provider returned %d", status)
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Message != "" {
		msg = fmt.Sprintf("shipping provider returned %d: %s", status, payload.Message)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.New(pkgerrors.CodeUnauthorized, msg)
	case status == http.StatusNotFound:
		return pkgerrors.New(pkgerrors.CodeNotFound, msg)
	case status == http.StatusConflict:
		return pkgerrors.New(pkgerrors.CodeConflict, msg)
	case status >= 400 && status < 500:
		return pkgerrors.New(pkgerrors.CodeValidation, msg)
	default:
		return pkgerrors.New(pkgerrors.CodeDependency, msg)
	}
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = v
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("shipping %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("shipping %s", phase))
	}
}
