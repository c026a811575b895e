package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webharvest/harvester/internal/content"
)

// scriptedStrategy fails with errs in order, then succeeds.
type scriptedStrategy struct {
	platform string
	errs     []error
	calls    int
	record   content.ContentRecord
}

func (s *scriptedStrategy) Platform() string { return s.platform }

func (s *scriptedStrategy) Acquire(_ context.Context, _ content.AcquisitionRequest) (content.ContentRecord, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return content.ContentRecord{}, s.errs[s.calls-1]
	}
	return s.record, nil
}

func fastEngine(maxRetries int) *Engine {
	return New(Config{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}, zap.NewNop())
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	s := &scriptedStrategy{
		platform: "zhihu",
		errs: []error{
			content.Transientf("timeout"),
			content.Transientf("status 503"),
		},
		record: content.ContentRecord{Title: "T"},
	}

	record, err := fastEngine(2).Execute(context.Background(), []content.Strategy{s}, content.AcquisitionRequest{})
	require.NoError(t, err)
	require.Equal(t, "T", record.Title)
	require.Equal(t, 3, s.calls)
}

func TestExecuteBoundsAttempts(t *testing.T) {
	t.Parallel()

	s := &scriptedStrategy{
		platform: "zhihu",
		errs: []error{
			content.Transientf("one"),
			content.Transientf("two"),
			content.Transientf("three"),
			content.Transientf("four"),
		},
	}

	_, err := fastEngine(1).Execute(context.Background(), []content.Strategy{s}, content.AcquisitionRequest{})
	require.Error(t, err)
	require.Equal(t, 2, s.calls, "MaxRetries=1 allows exactly two attempts")
	require.Equal(t, content.KindTransient, content.Classify(err))
}

func TestExecuteStructuralAdvancesLadder(t *testing.T) {
	t.Parallel()

	broken := &scriptedStrategy{
		platform: "xiaohongshu",
		errs:     []error{content.Structuralf("selector matched nothing")},
	}
	fallback := &scriptedStrategy{
		platform: "xiaohongshu",
		record:   content.ContentRecord{Title: "from fallback"},
	}

	record, err := fastEngine(3).Execute(context.Background(), []content.Strategy{broken, fallback}, content.AcquisitionRequest{})
	require.NoError(t, err)
	require.Equal(t, "from fallback", record.Title)
	require.Equal(t, 1, broken.calls, "structural failures are never retried on the same strategy")
	require.Equal(t, 1, fallback.calls)
}

func TestExecuteFatalAbortsLadder(t *testing.T) {
	t.Parallel()

	bad := &scriptedStrategy{
		platform: "zhihu",
		errs:     []error{content.Fatalf("unparseable target")},
	}
	never := &scriptedStrategy{platform: "zhihu"}

	_, err := fastEngine(3).Execute(context.Background(), []content.Strategy{bad, never}, content.AcquisitionRequest{})
	require.Error(t, err)
	require.Equal(t, content.KindFatal, content.Classify(err))
	require.Zero(t, never.calls, "fatal failures must not try further strategies")
}

func TestExecuteCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	s := &scriptedStrategy{
		platform: "zhihu",
		errs: []error{
			content.Transientf("one"),
			content.Transientf("two"),
		},
	}
	engine := New(Config{
		MaxRetries: 2,
		BaseDelay:  time.Hour, // backoff long enough that cancellation wins
		MaxDelay:   time.Hour,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := engine.Execute(ctx, []content.Strategy{s}, content.AcquisitionRequest{})
	require.Error(t, err)
	require.Equal(t, content.KindCancelled, content.Classify(err))
	require.Less(t, time.Since(start), time.Second, "cancellation must cut the backoff short")
	require.Equal(t, 1, s.calls)
}

func TestExecuteEmptyLadderIsFatal(t *testing.T) {
	t.Parallel()

	_, err := fastEngine(0).Execute(context.Background(), nil, content.AcquisitionRequest{Target: "x"})
	require.Error(t, err)
	require.Equal(t, content.KindFatal, content.Classify(err))
}

func TestBackoffIsBoundedAndNonDecreasing(t *testing.T) {
	t.Parallel()

	e := New(Config{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
	}, zap.NewNop())

	prevMax := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		window := float64(e.cfg.BaseDelay) * float64(int(1)<<(attempt-1))
		if window > float64(e.cfg.MaxDelay) {
			window = float64(e.cfg.MaxDelay)
		}
		for i := 0; i < 20; i++ {
			d := e.backoff(attempt)
			require.GreaterOrEqual(t, d, time.Duration(window)/2)
			require.Less(t, d, time.Duration(window)+time.Millisecond)
			require.GreaterOrEqual(t, d, prevMax/2)
		}
		prevMax = time.Duration(window)
	}
}
