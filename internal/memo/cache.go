package memo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"divorcecast/internal/infrastructure"
)

// Stats counts cache activity since creation.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Errors int64 `json:"errors"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// DefaultFlightTimeout bounds a shared computation once it no longer
// follows any caller's cancellation.
const DefaultFlightTimeout = 5 * time.Minute

// Cache memoizes JSON-serializable results in a Store.
type Cache struct {
	store         Store
	ttl           time.Duration
	flightTimeout time.Duration
	logger        *slog.Logger
	metrics       *infrastructure.BusinessMetrics
	group         singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
	errs   atomic.Int64
}

// NewCache creates a Cache over store. metrics may be nil.
func NewCache(store Store, ttl time.Duration, logger *slog.Logger, metrics *infrastructure.BusinessMetrics) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:         store,
		ttl:           ttl,
		flightTimeout: DefaultFlightTimeout,
		logger:        logger.With(slog.String("component", "memo")),
		metrics:       metrics,
	}
}

// SetFlightTimeout bounds each shared computation. Non-positive values
// keep the current timeout.
func (c *Cache) SetFlightTimeout(d time.Duration) {
	if d > 0 {
		c.flightTimeout = d
	}
}

// Do decodes the cached value for key into dst, or runs fn, stores its
// result and decodes that into dst. Concurrent calls for the same key
// share one fn invocation. fn runs detached from the caller's
// cancellation and bounded by the flight timeout, so a caller that gives
// up returns its own ctx error without failing the others. Errors from
// fn are returned and never stored. Store failures are logged and
// degrade to computing the value.
func (c *Cache) Do(ctx context.Context, key string, dst any, fn func(ctx context.Context) (any, error)) (bool, error) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.errs.Add(1)
		c.logger.WarnContext(ctx, "Cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	if ok {
		if err := json.Unmarshal(data, dst); err == nil {
			c.hits.Add(1)
			infrastructure.RecordCacheLookup(ctx, c.metrics, namespaceOf(key), true)
			return true, nil
		}
		c.errs.Add(1)
		c.logger.WarnContext(ctx, "Discarding undecodable cache entry", slog.String("key", key))
		_ = c.store.Delete(ctx, key)
	}

	c.misses.Add(1)
	infrastructure.RecordCacheLookup(ctx, c.metrics, namespaceOf(key), false)

	flight := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout)
		defer cancel()

		result, err := fn(fctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode cached value for %s: %w", key, err)
		}
		if err := c.store.Set(fctx, key, encoded, c.ttl); err != nil {
			c.errs.Add(1)
			c.logger.WarnContext(fctx, "Cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		} else {
			c.sets.Add(1)
		}
		return encoded, nil
	})

	var v any
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return false, res.Err
		}
		v = res.Val
	}
	if err := json.Unmarshal(v.([]byte), dst); err != nil {
		return false, fmt.Errorf("failed to decode value for %s: %w", key, err)
	}
	return false, nil
}

// Invalidate removes every entry whose key starts with prefix.
func (c *Cache) Invalidate(ctx context.Context, prefix string) (int, error) {
	n, err := c.store.DeletePrefix(ctx, prefix)
	if err != nil {
		c.errs.Add(1)
		return n, err
	}
	c.logger.DebugContext(ctx, "Cache entries invalidated", slog.String("prefix", prefix), slog.Int("count", n))
	return n, nil
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
		Errors: c.errs.Load(),
	}
}

// Store returns the backing store.
func (c *Cache) Store() Store { return c.store }
