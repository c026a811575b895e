package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// flakyBackend fails every call once armed.
type flakyBackend struct {
	failing bool
	store   map[string]string
}

func (f *flakyBackend) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if f.failing {
		return "", false, errors.New("connection refused")
	}
	v, ok := f.store[key]
	return v, ok, nil
}

func (f *flakyBackend) Set(ctx context.Context, key, value string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.failing {
		return errors.New("connection refused")
	}
	if f.store == nil {
		f.store = map[string]string{}
	}
	f.store[key] = value
	return nil
}

func TestAdapterUsesPrimaryWhileHealthy(t *testing.T) {
	t.Parallel()

	primary := &flakyBackend{}
	a := NewAdapter(primary, NewMemoryBackend(10, newFakeClock()), zap.NewNop())

	a.Set(context.Background(), "k", "v", time.Minute)
	got, hit := a.Get(context.Background(), "k")
	require.True(t, hit)
	require.Equal(t, "v", got)
	require.False(t, a.Degraded())
}

func TestAdapterDowngradesPermanently(t *testing.T) {
	t.Parallel()

	primary := &flakyBackend{}
	a := NewAdapter(primary, NewMemoryBackend(10, newFakeClock()), zap.NewNop())

	primary.failing = true
	a.Set(context.Background(), "k", "v", time.Minute)
	require.True(t, a.Degraded())

	// The value landed in the fallback and stays readable there, even after
	// the primary recovers: the downgrade lasts the process lifetime.
	primary.failing = false
	got, hit := a.Get(context.Background(), "k")
	require.True(t, hit)
	require.Equal(t, "v", got)
	require.True(t, a.Degraded())
}

func TestAdapterLogsDowngradeOnce(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	primary := &flakyBackend{failing: true}
	a := NewAdapter(primary, NewMemoryBackend(10, newFakeClock()), zap.New(core))

	a.Set(context.Background(), "a", "1", time.Minute)
	a.Set(context.Background(), "b", "2", time.Minute)
	a.Get(context.Background(), "a")

	require.Equal(t, 1, logs.Len(), "the downgrade must be logged exactly once")
}

func TestAdapterSurvivesCallerCancellation(t *testing.T) {
	t.Parallel()

	primary := &flakyBackend{store: map[string]string{"k": "v"}}
	a := NewAdapter(primary, NewMemoryBackend(10, newFakeClock()), zap.NewNop())

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	// The backend reports the caller's cancellation, the way the real client
	// does. That says nothing about backend health.
	_, hit := a.Get(cancelled, "k")
	require.False(t, hit)
	a.Set(cancelled, "x", "1", time.Minute)
	require.False(t, a.Degraded(), "a caller-cancelled request is not a backend failure")

	got, hit := a.Get(context.Background(), "k")
	require.True(t, hit, "the healthy primary keeps serving later requests")
	require.Equal(t, "v", got)
}

func TestAdapterNilPrimaryStartsDegraded(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	a := NewAdapter(nil, NewMemoryBackend(10, newFakeClock()), zap.New(core))

	require.True(t, a.Degraded())
	a.Set(context.Background(), "k", "v", time.Minute)
	got, hit := a.Get(context.Background(), "k")
	require.True(t, hit)
	require.Equal(t, "v", got)
	require.Zero(t, logs.Len(), "starting degraded is silent")
}
