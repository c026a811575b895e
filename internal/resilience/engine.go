// Package resilience wraps provider-strategy invocations with bounded retry,
// jittered exponential backoff, and an ordered fallback ladder.
package resilience

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/harvester/internal/content"
	"github.com/webharvest/harvester/internal/metrics"
)

// Config bounds the retry loop. MaxRetries is the number of retries after the
// first attempt, so each strategy gets at most MaxRetries+1 attempts.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Engine executes a platform's degradation ladder: the primary extraction
// method first, progressively cheaper fallbacks after. Transient faults are
// waited out with backoff; structural faults switch strategy immediately,
// because retrying an extraction that no longer matches the page shape only
// wastes time.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

// New builds an Engine with sane defaults for any unset knob.
func New(cfg Config, logger *zap.Logger) *Engine {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Execute runs the ladder until a strategy succeeds. It returns the first
// successful ContentRecord; partial results are never combined across
// strategies. A fatal or cancelled failure aborts immediately without trying
// further strategies. Exhausting the whole ladder returns the last error.
func (e *Engine) Execute(ctx context.Context, ladder []content.Strategy, req content.AcquisitionRequest) (content.ContentRecord, error) {
	if len(ladder) == 0 {
		return content.ContentRecord{}, content.Fatalf("empty strategy ladder for target %s", req.Target)
	}

	var lastErr error
	for i, strategy := range ladder {
		record, err := e.executeStrategy(ctx, strategy, req)
		if err == nil {
			return record, nil
		}
		lastErr = err

		switch content.Classify(err) {
		case content.KindFatal:
			return content.ContentRecord{}, err
		case content.KindCancelled:
			return content.ContentRecord{}, err
		}

		if i < len(ladder)-1 {
			metrics.ObserveFallback(strategy.Platform())
			e.logger.Info("strategy exhausted, advancing degradation ladder",
				zap.String("platform", strategy.Platform()),
				zap.Int("ladder_position", i),
				zap.Error(err),
			)
		}
	}
	return content.ContentRecord{}, fmt.Errorf("all strategies exhausted: %w", lastErr)
}

// executeStrategy retries one strategy up to MaxRetries+1 times. Only
// transient faults are retried; a structural fault ends the attempts for this
// strategy so the ladder can advance.
func (e *Engine) executeStrategy(ctx context.Context, strategy content.Strategy, req content.AcquisitionRequest) (content.ContentRecord, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return content.ContentRecord{}, content.Cancelled(err)
		}

		record, err := strategy.Acquire(ctx, req)
		if err == nil {
			return record, nil
		}
		lastErr = err

		kind := content.Classify(err)
		if kind != content.KindTransient {
			return content.ContentRecord{}, err
		}
		if attempt == e.cfg.MaxRetries+1 {
			break
		}

		metrics.ObserveRetry(strategy.Platform())
		delay := e.backoff(attempt)
		e.logger.Debug("transient failure, backing off",
			zap.String("platform", strategy.Platform()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := e.sleep(ctx, delay); err != nil {
			return content.ContentRecord{}, err
		}
	}
	return content.ContentRecord{}, lastErr
}

// backoff returns base*2^(attempt-1) capped at MaxDelay, with random jitter.
// The jitter keeps the lower half of the window, so delays are non-decreasing
// across attempts.
func (e *Engine) backoff(attempt int) time.Duration {
	delay := float64(e.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(e.cfg.MaxDelay) {
		delay = float64(e.cfg.MaxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

// sleep waits for the backoff window but aborts at the next scheduling
// quantum when the caller cancels. A cancellation is never retried.
func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return content.Cancelled(ctx.Err())
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
