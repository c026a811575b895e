package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Adapter fronts the primary remote backend with a self-healing fallback to a
// bounded in-process store. Any backend operation failure downgrades the
// adapter for the remainder of the process lifetime; the transition is logged
// exactly once and never surfaced to callers. Acquisition keeps working
// without caching benefit when the remote cache is down, rather than failing
// the pipeline.
type Adapter struct {
	primary  Backend
	fallback *MemoryBackend
	degraded atomic.Bool
	logger   *zap.Logger
}

// NewAdapter wires the primary backend and fallback store. A nil primary
// starts the adapter already degraded, silently.
func NewAdapter(primary Backend, fallback *MemoryBackend, logger *zap.Logger) *Adapter {
	a := &Adapter{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
	if primary == nil {
		a.degraded.Store(true)
	}
	return a
}

// Get returns the cached value for key, or a miss. Backend failures are
// absorbed: the adapter downgrades and answers from the in-process store.
func (a *Adapter) Get(ctx context.Context, key string) (string, bool) {
	if !a.degraded.Load() {
		value, hit, err := a.primary.Get(ctx, key)
		if err == nil {
			return value, hit
		}
		// A caller-cancelled request says nothing about backend health.
		if ctx.Err() != nil {
			return "", false
		}
		a.downgrade(err)
	}
	value, hit, _ := a.fallback.Get(ctx, key)
	return value, hit
}

// Set stores value under key with a relative expiry, transparently using the
// in-process store once degraded.
func (a *Adapter) Set(ctx context.Context, key string, value string, ttl time.Duration) {
	if !a.degraded.Load() {
		err := a.primary.Set(ctx, key, value, ttl)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		a.downgrade(err)
	}
	_ = a.fallback.Set(ctx, key, value, ttl)
}

// Degraded reports whether the adapter has fallen back to the in-process store.
func (a *Adapter) Degraded() bool {
	return a.degraded.Load()
}

func (a *Adapter) downgrade(cause error) {
	if a.degraded.CompareAndSwap(false, true) {
		a.logger.Warn("cache backend unavailable, falling back to in-process store for the rest of the process lifetime",
			zap.Error(cause),
		)
	}
}
