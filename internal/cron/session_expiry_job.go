package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/novamart/novamart-backend/pkg/logger"
	"github.com/novamart/novamart-backend/pkg/metrics"
)

// sessionExpirer closes pending checkout sessions past their TTL.
type sessionExpirer interface {
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// SessionExpiryJobParams configure the session expiry job.
type SessionExpiryJobParams struct {
	Logger    *logger.Logger
	Checkout  sessionExpirer
	Metrics   *metrics.CronJobMetrics
	BatchSize int
}

// NewSessionExpiryJob builds the job that expires overdue sessions. The
// session transition releases the holds itself, so the sweep job behind
// it only has to catch strays.
func NewSessionExpiryJob(params SessionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Checkout == nil {
		return nil, fmt.Errorf("checkout service required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &sessionExpiryJob{
		logg:      params.Logger,
		checkout:  params.Checkout,
		metrics:   params.Metrics,
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

type sessionExpiryJob struct {
	logg      *logger.Logger
	checkout  sessionExpirer
	metrics   *metrics.CronJobMetrics
	batchSize int
	now       func() time.Time
}

func (j *sessionExpiryJob) Name() string { return "session-expiry" }

func (j *sessionExpiryJob) Run(ctx context.Context) error {
	expired, err := j.checkout.ExpireDue(ctx, j.now(), j.batchSize)
	if err != nil {
		return fmt.Errorf("expire due sessions: %w", err)
	}
	if j.metrics != nil {
		j.metrics.AddProcessed(j.Name(), expired)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"expired": expired})
	j.logg.Info(logCtx, "session expiry complete")
	return nil
}
