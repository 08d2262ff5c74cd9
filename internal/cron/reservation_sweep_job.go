package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/novamart/novamart-backend/pkg/logger"
	"github.com/novamart/novamart-backend/pkg/metrics"
)

// reservationSweeper releases expired stock holds in bounded batches.
type reservationSweeper interface {
	SweepExpired(ctx context.Context, now time.Time, batchSize int) (int, error)
}

// ReservationSweepJobParams configure the reservation sweep.
type ReservationSweepJobParams struct {
	Logger    *logger.Logger
	Sweeper   reservationSweeper
	Metrics   *metrics.CronJobMetrics
	BatchSize int
}

// NewReservationSweepJob builds the job that frees expired stock holds.
func NewReservationSweepJob(params ReservationSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &reservationSweepJob{
		logg:      params.Logger,
		sweeper:   params.Sweeper,
		metrics:   params.Metrics,
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

type reservationSweepJob struct {
	logg      *logger.Logger
	sweeper   reservationSweeper
	metrics   *metrics.CronJobMetrics
	batchSize int
	now       func() time.Time
}

func (j *reservationSweepJob) Name() string { return "reservation-sweep" }

func (j *reservationSweepJob) Run(ctx context.Context) error {
	released, err := j.sweeper.SweepExpired(ctx, j.now(), j.batchSize)
	if err != nil {
		return fmt.Errorf("sweep expired reservations: %w", err)
	}
	if j.metrics != nil {
		j.metrics.AddProcessed(j.Name(), released)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"released": released})
	j.logg.Info(logCtx, "reservation sweep complete")
	return nil
}
