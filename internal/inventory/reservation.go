package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/novamart/novamart-backend/pkg/db/models"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
)

// ReservationRequest asks for a hold on one variant line.
type ReservationRequest struct {
	ProductID uuid.UUID
	ColorID   uuid.UUID
	SizeID    uuid.UUID
	Qty       int
}

// ReservationLineFailure names a line that could not be satisfied.
type ReservationLineFailure struct {
	ProductID uuid.UUID `json:"product_id"`
	ColorID   uuid.UUID `json:"color_id"`
	SizeID    uuid.UUID `json:"size_id"`
	Requested int       `json:"requested"`
}

// Reserve places holds for every line or none. The guarded increment on
// reserved_qty is the serialization point for concurrent reservations on
// the same variant: the row update only applies while stock_qty minus
// reserved_qty still covers the request, so two racing calls for the last
// unit cannot both succeed. Any failed line aborts the transaction, which
// unwinds the increments already applied for earlier lines.
func Reserve(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, requests []ReservationRequest, ttl time.Duration) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for reservation")
	}
	if sessionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session id required")
	}
	if len(requests) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "no reservation lines provided")
	}
	if ttl <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation ttl must be positive")
	}
	for _, req := range requests {
		if req.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid qty %d for product %s", req.Qty, req.ProductID))
		}
	}

	expiresAt := time.Now().Add(ttl)
	failures := []ReservationLineFailure{}

	for _, req := range requests {
		res := tx.WithContext(ctx).Exec(`
			UPDATE inventory_items
			SET reserved_qty = reserved_qty + ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE product_id = ? AND color_id = ? AND size_id = ?
			  AND stock_qty - reserved_qty >= ?
		`, req.Qty, req.ProductID, req.ColorID, req.SizeID, req.Qty)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve inventory")
		}
		if res.RowsAffected == 0 {
			failures = append(failures, ReservationLineFailure{
				ProductID: req.ProductID,
				ColorID:   req.ColorID,
				SizeID:    req.SizeID,
				Requested: req.Qty,
			})
			continue
		}

		row := models.StockReservation{
			ProductID:         req.ProductID,
			ColorID:           req.ColorID,
			SizeID:            req.SizeID,
			Qty:               req.Qty,
			CheckoutSessionID: sessionID,
			ExpiresAt:         expiresAt,
		}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist reservation")
		}
	}

	if len(failures) > 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for one or more lines").
			WithDetails(failures)
	}
	return nil
}

// Commit converts a session's holds into a permanent deduction. The
// reservation rows are deleted; their effect now lives in the order.
// expectedLines is the number of holds the session placed: if the sweep
// already released some of them the commit must fail rather than produce
// a paid order that never consumed stock.
func Commit(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, expectedLines int) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for commit")
	}
	if expectedLines <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "expected reservation line count required")
	}

	var rows []models.StockReservation
	if err := tx.WithContext(ctx).Where("checkout_session_id = ?", sessionID).Find(&rows).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservations")
	}
	if len(rows) < expectedLines {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("session holds %d of %d reservations; the rest already expired", len(rows), expectedLines))
	}

	for _, row := range rows {
		res := tx.WithContext(ctx).Exec(`
			UPDATE inventory_items
			SET stock_qty = stock_qty - ?,
				reserved_qty = reserved_qty - ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE product_id = ? AND color_id = ? AND size_id = ?
			  AND reserved_qty >= ?
		`, row.Qty, row.Qty, row.ProductID, row.ColorID, row.SizeID, row.Qty)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "commit inventory")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation no longer backed by reserved stock")
		}
		if err := tx.WithContext(ctx).Delete(&models.StockReservation{}, "id = ?", row.ID).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete committed reservation")
		}
	}
	return nil
}

// Release drops a session's holds without touching stock_qty. Used on
// cancel and expiry; a session with no remaining rows is a no-op.
func Release(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for release")
	}

	var rows []models.StockReservation
	if err := tx.WithContext(ctx).Where("checkout_session_id = ?", sessionID).Find(&rows).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservations")
	}

	for _, row := range rows {
		if _, err := releaseRow(ctx, tx, row); err != nil {
			return err
		}
	}
	return nil
}

// releaseRow deletes one reservation and returns its hold. The delete is
// the claim: whichever caller removes the row decrements the counter, so
// a concurrent sweep and release cannot double-free capacity.
func releaseRow(ctx context.Context, tx *gorm.DB, row models.StockReservation) (bool, error) {
	res := tx.WithContext(ctx).Delete(&models.StockReservation{}, "id = ?", row.ID)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "delete reservation")
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	upd := tx.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET reserved_qty = reserved_qty - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND color_id = ? AND size_id = ?
		  AND reserved_qty >= ?
	`, row.Qty, row.ProductID, row.ColorID, row.SizeID, row.Qty)
	if upd.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, upd.Error, "release inventory")
	}
	return true, nil
}
