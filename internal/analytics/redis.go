// Package analytics records per-job send outcomes in Redis time buckets.
// Counters are best effort: the dispatcher never blocks or fails a batch
// because Redis is down.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config holds analytics sink configuration.
type Config struct {
	// Window is the bucket granularity for outcome counters.
	// Supported: 1m, 5m, 1h. Default: 5 minutes.
	Window time.Duration

	// Retention is how long a bucket key lives in Redis.
	// Default: 30 days.
	Retention time.Duration
}

// DefaultConfig returns the default analytics configuration.
func DefaultConfig() Config {
	return Config{
		Window:    5 * time.Minute,
		Retention: 30 * 24 * time.Hour,
	}
}

type RedisSink struct {
	client *redis.Client
	config Config
	log    zerolog.Logger
}

func NewRedisSink(client *redis.Client, config Config, log zerolog.Logger) *RedisSink {
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	if config.Retention <= 0 {
		config.Retention = DefaultConfig().Retention
	}
	return &RedisSink{
		client: client,
		config: config,
		log:    log.With().Str("component", "analytics").Logger(),
	}
}

// Record increments the outcome counter for the job's current time bucket.
// Errors are logged and swallowed.
func (s *RedisSink) Record(ctx context.Context, jobID uuid.UUID, outcome string, at time.Time) {
	key := buildKey(jobID.String(), outcome, at, s.config.Window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.Retention)

	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to record outcome")
	}
}

func buildKey(jobID, outcome string, t time.Time, window time.Duration) string {
	bucket := truncateToBucket(t, window)
	return fmt.Sprintf("j:%s:%s:%s", jobID, outcome, bucket)
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
