package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/models"
)

// ErrCacheMiss means no cycle has been cached yet, or the entry expired.
var ErrCacheMiss = errors.New("cache miss")

const latestKey = "telemetry:latest_cycle"

// LatestCache keeps the most recent cycle in Redis so the outbound surface
// can answer /data/latest and liveness probes without touching the store.
type LatestCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewLatestCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *LatestCache {
	return &LatestCache{client: client, ttl: ttl, logger: logger}
}

// Store caches the cycle payload. Best-effort: errors are returned for
// logging but never affect the cycle.
func (c *LatestCache) Store(ctx context.Context, cycleTime time.Time, readings []models.Reading) error {
	body, err := json.Marshal(models.CyclePayload{
		CycleTime: models.FormatTime(cycleTime),
		Readings:  readings,
	})
	if err != nil {
		return fmt.Errorf("marshal latest cycle: %w", err)
	}
	return c.client.Set(ctx, latestKey, body, c.ttl).Err()
}

// Load returns the cached cycle, or ErrCacheMiss.
func (c *LatestCache) Load(ctx context.Context) (*models.CyclePayload, error) {
	raw, err := c.client.Get(ctx, latestKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	var payload models.CyclePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal latest cycle: %w", err)
	}
	return &payload, nil
}

// FreshWithin reports whether a cached cycle exists and is younger than
// maxAge. Used by /status to tell if the collector is alive.
func (c *LatestCache) FreshWithin(ctx context.Context, maxAge time.Duration) bool {
	payload, err := c.Load(ctx)
	if err != nil {
		return false
	}
	ts, err := models.ParseTime(payload.CycleTime)
	if err != nil {
		return false
	}
	return time.Since(ts) <= maxAge
}
