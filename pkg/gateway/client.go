package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/novamart/novamart-backend/pkg/config"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
	"github.com/novamart/novamart-backend/pkg/logger"
)

var (
	errBaseURLRequired       = errors.New("gateway base url is required")
	errAPIKeyRequired        = errors.New("gateway api key is required")
	errWebhookSecretRequired = errors.New("gateway webhook secret is required")
	errLoggerRequired        = errors.New("gateway logger is required")
)

// Client wraps the payment gateway's HTTP contract with centralized auth,
// logging, timeout handling, and error mapping.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	webhookSecret string
	returnURL     string
	webhookURL    string
	tolerance     time.Duration
	logger        *logger.Logger
}

// PaymentOrder is the gateway's handle for a payment attempt.
type PaymentOrder struct {
	GatewayOrderID string `json:"order_id"`
	Status         string `json:"status"`
	PaymentLink    string `json:"payment_link,omitempty"`
}

// RefundResult reports the gateway's view of a refund request.
type RefundResult struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

// NewClient initializes the gateway wrapper and validates the credentials.
func NewClient(cfg config.GatewayConfig, logg *logger.Logger) (*Client, error) {
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
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tolerance := cfg.TimestampTolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		returnURL:     strings.TrimSpace(cfg.ReturnURL),
		webhookURL:    strings.TrimSpace(cfg.WebhookURL),
		tolerance:     tolerance,
		logger:        logg,
	}, nil
}

// CreatePaymentOrder opens a payment order at the gateway for the given
// amount and returns the gateway's order handle.
func (c *Client) CreatePaymentOrder(ctx context.Context, amountCents int, currency, reference string) (*PaymentOrder, error) {
	body := map[string]any{
		"amount":      amountCents,
		"currency":    currency,
		"reference":   reference,
		"return_url":  c.returnURL,
		"webhook_url": c.webhookURL,
	}
	c.log(ctx, "request", "create_payment_order", map[string]any{
		"amount":    amountCents,
		"currency":  currency,
		"reference": reference,
	})

	var order PaymentOrder
	if err := c.do(ctx, http.MethodPost, "/v1/orders", body, &order); err != nil {
		c.log(ctx, "error", "create_payment_order", map[string]any{"error": err.Error()})
		return nil, err
	}
	c.log(ctx, "response", "create_payment_order", map[string]any{
		"gateway_order_id": order.GatewayOrderID,
		"status":           order.Status,
	})
	return &order, nil
}

// GetPaymentStatus polls the gateway for the current status of an order.
func (c *Client) GetPaymentStatus(ctx context.Context, gatewayOrderID string) (string, error) {
	if strings.TrimSpace(gatewayOrderID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "gateway order id is required")
	}
	c.log(ctx, "request", "get_payment_status", map[string]any{"gateway_order_id": gatewayOrderID})

	var order PaymentOrder
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+gatewayOrderID, nil, &order); err != nil {
		c.log(ctx, "error", "get_payment_status", map[string]any{"error": err.Error()})
		return "", err
	}
	c.log(ctx, "response", "get_payment_status", map[string]any{
		"gateway_order_id": order.GatewayOrderID,
		"status":           order.Status,
	})
	return order.Status, nil
}

// CreateRefund asks the gateway to refund an order. RefundID is the
// caller's stable idempotency key; replaying the same id must not
// double-refund at the gateway.
func (c *Client) CreateRefund(ctx context.Context, gatewayOrderID, refundID string, amountCents int, reason string) (*RefundResult, error) {
	if strings.TrimSpace(gatewayOrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway order id is required")
	}
	if strings.TrimSpace(refundID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund id is required")
	}
	body := map[string]any{
		"order_id":  gatewayOrderID,
		"refund_id": refundID,
		"amount":    amountCents,
		"reason":    reason,
	}
	c.log(ctx, "request", "create_refund", map[string]any{
		"gateway_order_id": gatewayOrderID,
		"refund_id":        refundID,
		"amount":           amountCents,
	})

	var result RefundResult
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", body, &result); err != nil {
		c.log(ctx, "error", "create_refund", map[string]any{"error": err.Error()})
		return nil, err
	}
	c.log(ctx, "response", "create_refund", map[string]any{
		"refund_id": result.RefundID,
		"status":    result.Status,
	})
	return &result, nil
}

// VerifySignature authenticates an inbound webhook. The signature is the
// hex HMAC-SHA256 of "<timestamp>.<rawBody>" under the shared secret;
// timestamps outside the tolerance window are rejected to blunt replay.
func (c *Client) VerifySignature(signature, timestamp string, rawBody []byte) error {
	sig := strings.TrimSpace(signature)
	if sig == "" {
		return pkgerrors.New(pkgerrors.CodeSignatureInvalid, "missing webhook signature")
	}
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return pkgerrors.New(pkgerrors.CodeSignatureInvalid, "missing webhook timestamp")
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return pkgerrors.New(pkgerrors.CodeSignatureInvalid, "malformed webhook timestamp")
	}
	drift := time.Since(time.Unix(unix, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > c.tolerance {
		return pkgerrors.New(pkgerrors.CodeSignatureInvalid, "webhook timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return pkgerrors.New(pkgerrors.CodeSignatureInvalid, "webhook signature mismatch")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding gateway request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building gateway request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts are not authoritative; a later webhook or poll decides
		// the real outcome, so callers must not treat this as failed.
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("gateway %s %s", method, path))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading gateway response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.mapStatusError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding gateway response")
	}
	return nil
}

func (c *Client) mapStatusError(status int, raw []byte) error {
	msg := fmt.Sprintf("gateway returned %d", status)
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		msg = fmt.Sprintf("gateway returned %d: %s", status, payload.Error)
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
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("gateway %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("gateway %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "token", "cvv", "secret", "key"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}
