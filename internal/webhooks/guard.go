package webhooks

import (
	"context"
	"time"

	"github.com/novamart/novamart-backend/pkg/logger"
	redispkg "github.com/novamart/novamart-backend/pkg/redis"
)

// IdempotencyGuard soaks up webhook redelivery before the database-level
// transition function runs. The DB transition stays the authority; the
// guard only keeps retry storms off the hot path. Redis being down never
// blocks processing.
type IdempotencyGuard struct {
	store redispkg.IdempotencyStore
	logg  *logger.Logger
	scope string
	ttl   time.Duration
}

func NewIdempotencyGuard(store redispkg.IdempotencyStore, logg *logger.Logger, scope string, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &IdempotencyGuard{store: store, logg: logg, scope: scope, ttl: ttl}
}

// CheckAndMark claims the event id. It returns true when this delivery
// is the first one seen.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) bool {
	if g == nil || g.store == nil || eventID == "" {
		return true
	}
	key := g.store.IdempotencyKey(g.scope, eventID)
	first, err := g.store.SetNX(ctx, key, time.Now().Unix(), g.ttl)
	if err != nil {
		g.logg.Warn(g.logg.WithField(ctx, "event_id", eventID), "idempotency store unavailable, processing anyway")
		return true
	}
	return first
}

// Release drops the claim so the next redelivery retries processing.
// Used when handling failed after the claim was taken.
func (g *IdempotencyGuard) Release(ctx context.Context, eventID string) {
	if g == nil || g.store == nil || eventID == "" {
		return
	}
	key := g.store.IdempotencyKey(g.scope, eventID)
	if err := g.store.Del(ctx, key); err != nil {
		g.logg.Warn(g.logg.WithField(ctx, "event_id", eventID), "idempotency claim not released")
	}
}
