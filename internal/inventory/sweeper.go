package inventory

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/novamart/novamart-backend/pkg/db/models"
	pkgerrors "github.com/novamart/novamart-backend/pkg/errors"
	"github.com/novamart/novamart-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type reader interface {
	DB() *gorm.DB
}

// Sweeper releases expired reservations in bounded batches. Each row is
// handled in its own transaction so an interrupted sweep leaves no
// half-applied batch and a rerun picks up where it stopped.
type Sweeper struct {
	db   reader
	tx   txRunner
	logg *logger.Logger
}

func NewSweeper(db reader, tx txRunner, logg *logger.Logger) (*Sweeper, error) {
	if db == nil {
		return nil, fmt.Errorf("db reader required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Sweeper{db: db, tx: tx, logg: logg}, nil
}

// SweepExpired releases up to batchSize expired reservations and reports
// how many were actually freed. Safe to run concurrently with itself and
// with reserve/commit on other sessions: the per-row delete claims the
// reservation, so two sweeps cannot process the same row twice.
func (s *Sweeper) SweepExpired(ctx context.Context, now time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	var candidates []models.StockReservation
	err := s.db.DB().WithContext(ctx).
		Where("expires_at < ?", now).
		Order("expires_at ASC").
		Limit(batchSize).
		Find(&candidates).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired reservations")
	}

	released := 0
	for _, row := range candidates {
		row := row
		var claimed bool
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var rerr error
			claimed, rerr = releaseRow(ctx, tx, row)
			return rerr
		})
		if err != nil {
			fields := map[string]any{
				"reservation_id":      row.ID.String(),
				"checkout_session_id": row.CheckoutSessionID.String(),
			}
			s.logg.Error(s.logg.WithFields(ctx, fields), "reservation sweep row failed", err)
			continue
		}
		if claimed {
			released++
		}
	}

	if released > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{"released": released}), "expired reservations released")
	}
	return released, nil
}
