package responses

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
)

func decodeError(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var envelope struct {
		Error map[string]any `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return envelope.Error
}

func TestWriteErrorMapsCodeToStatus(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))

	if rec.Code != 404 {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	errBody := decodeError(t, rec.Body.Bytes())
	if errBody["code"] != string(pkgerrors.CodeNotFound) {
		t.Fatalf("unexpected code %v", errBody["code"])
	}
	if errBody["message"] != "order not found" {
		t.Fatalf("client-facing message should pass through, got %v", errBody["message"])
	}
}

func TestWriteErrorHidesInternalMessage(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, pkgerrors.New(pkgerrors.CodeInternal, "connection string leaked"))

	if rec.Code != 500 {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	errBody := decodeError(t, rec.Body.Bytes())
	if errBody["message"] == "connection string leaked" {
		t.Fatal("internal message must not reach the client")
	}
}

func TestWriteErrorDetailsGatedByCode(t *testing.T) {
	t.Parallel()

	details := map[string]any{"product_id": "p1", "available": 2}

	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").WithDetails(details))
	errBody := decodeError(t, rec.Body.Bytes())
	if errBody["details"] == nil {
		t.Fatal("insufficient stock details should be exposed")
	}

	rec = httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, pkgerrors.New(pkgerrors.CodeInternal, "boom").WithDetails(details))
	errBody = decodeError(t, rec.Body.Bytes())
	if errBody["details"] != nil {
		t.Fatal("internal error details must not be exposed")
	}
}

func TestEnvelopeShapeMirrorsHTTPStatus(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteSuccessStatus(rec, 201, map[string]any{"id": "s1"})

	var success struct {
		Success bool           `json:"success"`
		Error   map[string]any `json:"error"`
		Status  int            `json:"status"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &success); err != nil {
		t.Fatalf("decode success envelope: %v", err)
	}
	if !success.Success || success.Status != 201 || success.Error != nil {
		t.Fatalf("unexpected success envelope: %+v", success)
	}
	if success.Data["id"] != "s1" {
		t.Fatalf("data not carried: %+v", success.Data)
	}

	rec = httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, pkgerrors.New(pkgerrors.CodeConflict, "already cancelled"))

	var failure struct {
		Success bool           `json:"success"`
		Error   map[string]any `json:"error"`
		Status  int            `json:"status"`
		Data    any            `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &failure); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if failure.Success || failure.Error == nil || failure.Data != nil {
		t.Fatalf("unexpected error envelope: %+v", failure)
	}
	if failure.Status != rec.Code {
		t.Fatalf("status field %d does not mirror http status %d", failure.Status, rec.Code)
	}
}

func TestWriteErrorWrapsUntypedErrors(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, json.Unmarshal([]byte("{"), &struct{}{}))

	if rec.Code != 500 {
		t.Fatalf("expected 500 for untyped error got %d", rec.Code)
	}
}
