package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/novamart/novamart-backend/pkg/db/models"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.InventoryItem{}, &models.StockReservation{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedVariant(t *testing.T, db *gorm.DB, stock int) models.InventoryItem {
	t.Helper()
	item := models.InventoryItem{
		ProductID: uuid.New(),
		ColorID:   uuid.New(),
		SizeID:    uuid.New(),
		StockQty:  stock,
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
	return item
}

func requestFor(item models.InventoryItem, qty int) ReservationRequest {
	return ReservationRequest{
		ProductID: item.ProductID,
		ColorID:   item.ColorID,
		SizeID:    item.SizeID,
		Qty:       qty,
	}
}

func reloadVariant(t *testing.T, db *gorm.DB, item models.InventoryItem) models.InventoryItem {
	t.Helper()
	var got models.InventoryItem
	err := db.First(&got, "product_id = ? AND color_id = ? AND size_id = ?",
		item.ProductID, item.ColorID, item.SizeID).Error
	if err != nil {
		t.Fatalf("reload inventory: %v", err)
	}
	return got
}

func TestReserveHoldsStock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	item := seedVariant(t, db, 5)
	sessionID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return Reserve(ctx, tx, sessionID, []ReservationRequest{requestFor(item, 3)}, 15*time.Minute)
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	got := reloadVariant(t, db, item)
	if got.StockQty != 5 || got.ReservedQty != 3 {
		t.Fatalf("unexpected inventory state: %+v", got)
	}

	var count int64
	if err := db.Model(&models.StockReservation{}).Where("checkout_session_id = ?", sessionID).Count(&count).Error; err != nil {
		t.Fatalf("count reservations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reservation row, got %d", count)
	}
}

func TestReserveAllOrNothing(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	plenty := seedVariant(t, db, 10)
	scarce := seedVariant(t, db, 1)

	requests := []ReservationRequest{
		requestFor(plenty, 2),
		requestFor(scarce, 3),
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return Reserve(ctx, tx, uuid.New(), requests, 15*time.Minute)
	})
	if err == nil {
		t.Fatal("expected insufficient stock error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("unexpected error: %v", err)
	}
	failures, ok := typed.Details().([]ReservationLineFailure)
	if !ok || len(failures) != 1 {
		t.Fatalf("expected one failed line in details, got %#v", typed.Details())
	}
	if failures[0].ProductID != scarce.ProductID {
		t.Fatalf("wrong failed line: %+v", failures[0])
	}

	// the transaction rollback must undo the hold on the satisfiable line
	if got := reloadVariant(t, db, plenty); got.ReservedQty != 0 {
		t.Fatalf("expected rollback of partial hold, got %+v", got)
	}

	var count int64
	if err := db.Model(&models.StockReservation{}).Count(&count).Error; err != nil {
		t.Fatalf("count reservations: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no reservation rows, got %d", count)
	}
}

func TestReserveLastUnitRace(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	item := seedVariant(t, db, 1)

	first := db.Transaction(func(tx *gorm.DB) error {
		return Reserve(ctx, tx, uuid.New(), []ReservationRequest{requestFor(item, 1)}, 15*time.Minute)
	})
	if first != nil {
		t.Fatalf("first reserve: %v", first)
	}

	second := db.Transaction(func(tx *gorm.DB) error {
		return Reserve(ctx, tx, uuid.New(), []ReservationRequest{requestFor(item, 1)}, 15*time.Minute)
	})
	if second == nil {
		t.Fatal("expected second reserve to fail")
	}
	if typed := pkgerrors.As(second); typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("unexpected error: %v", second)
	}
}

func TestReserveInvalidQty(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	item := seedVariant(t, db, 5)

	err := Reserve(ctx, db, uuid.New(), []ReservationRequest{requestFor(item, 0)}, 15*time.Minute)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCommitDeductsStock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	item := seedVariant(t, db, 5)
	sessionID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return Reserve(ctx, tx, sessionID, []ReservationRequest{requestFor(item, 2)}, 15*time.Minute)
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return Commit(ctx, tx, sessionID, 1)
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	got := reloadVariant(t, db, item)
	if got.StockQty != 3 || got.ReservedQty != 0 {
		t.Fatalf("unexpected inventory state after commit: %+v", got)
	}

	var count int64
	if err := db.Model(&models.StockReservation{}).Where("checkout_session_id = ?", sessionID).Count(&count).Error; err != nil {
		t.Fatalf("count reservations: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected reservation rows deleted, got %d", count)
	}
}

func TestReleaseFreesHoldWithoutDeduction(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	item := seedVariant(t, db, 5)
	sessionID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return Reserve(ctx, tx, sessionID, []ReservationRequest{requestFor(item, 4)}, 15*time.Minute)
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return Release(ctx, tx, sessionID)
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}

	got := reloadVariant(t, db, item)
	if got.StockQty != 5 || got.ReservedQty != 0 {
		t.Fatalf("unexpected inventory state after release: %+v", got)
	}

	// releasing again is a no-op
	err = db.Transaction(func(tx *gorm.DB) error {
		return Release(ctx, tx, sessionID)
	})
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if got := reloadVariant(t, db, item); got.ReservedQty != 0 {
		t.Fatalf("double release freed capacity twice: %+v", got)
	}
}
