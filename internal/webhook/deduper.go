package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DedupState is the result of claiming an event id.
type DedupState int

const (
	DedupNew DedupState = iota
	DedupDuplicate
	DedupInFlight
)

var ErrInFlight = errors.New("webhook event is already being processed")

// Deduper suppresses redelivered events before they reach the ledger.
type Deduper interface {
	Begin(ctx context.Context, eventID string) (DedupState, error)
	Complete(ctx context.Context, eventID string) error
	// Release forgets a claim after a failure so Stripe's retry is processed.
	Release(ctx context.Context, eventID string) error
}

const (
	dedupProcessing = "processing"
	dedupDone       = "done"
)

// RedisDeduper claims event ids with SET NX. When Redis is unavailable it
// lets the event through; the conditional ledger writes still hold.
type RedisDeduper struct {
	rdb       *redis.Client
	ttl       time.Duration
	claimTTL  time.Duration
	keyPrefix string
	logger    *zap.Logger
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisDeduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{
		rdb:       rdb,
		ttl:       ttl,
		claimTTL:  5 * time.Minute,
		keyPrefix: "milestage:webhook:",
		logger:    logger,
	}
}

func (d *RedisDeduper) key(eventID string) string {
	return d.keyPrefix + eventID
}

func (d *RedisDeduper) Begin(ctx context.Context, eventID string) (DedupState, error) {
	key := d.key(eventID)

	ok, err := d.rdb.SetNX(ctx, key, dedupProcessing, d.claimTTL).Result()
	if err != nil {
		d.logger.Warn("Deduper unavailable, processing event anyway",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		return DedupNew, nil
	}
	if ok {
		return DedupNew, nil
	}

	state, err := d.rdb.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// The claim expired between SETNX and GET.
		return DedupNew, nil
	case err != nil:
		d.logger.Warn("Deduper unavailable, processing event anyway",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		return DedupNew, nil
	case state == dedupDone:
		return DedupDuplicate, nil
	default:
		return DedupInFlight, nil
	}
}

func (d *RedisDeduper) Complete(ctx context.Context, eventID string) error {
	return d.rdb.Set(ctx, d.key(eventID), dedupDone, d.ttl).Err()
}

func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, d.key(eventID)).Err()
}

var _ Deduper = (*RedisDeduper)(nil)
