package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyConstructors(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindTransient, Classify(Transientf("timeout on %s", "host")))
	require.Equal(t, KindStructural, Classify(Structuralf("selector empty")))
	require.Equal(t, KindFatal, Classify(Fatalf("bad url")))
	require.Equal(t, KindStorage, Classify(Storagef("disk full")))
	require.Equal(t, KindCancelled, Classify(Cancelled(context.Canceled)))
}

func TestClassifySurvivesWrapping(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("strategy failed: %w", Structuralf("drift"))
	require.Equal(t, KindStructural, Classify(wrapped))

	deep := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", Fatalf("nope")))
	require.Equal(t, KindFatal, Classify(deep))
}

func TestClassifyContextErrorsWin(t *testing.T) {
	t.Parallel()

	// Even a transient wrapper around a context error counts as cancelled.
	err := &Error{Kind: KindTransient, Err: context.Canceled}
	require.Equal(t, KindCancelled, Classify(err))
	require.Equal(t, KindCancelled, Classify(context.DeadlineExceeded))
}

func TestClassifyUnknownDefaultsToTransient(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindTransient, Classify(errors.New("mystery")))
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindTransient, ClassifyStatus(http.StatusTooManyRequests))
	require.Equal(t, KindTransient, ClassifyStatus(http.StatusInternalServerError))
	require.Equal(t, KindTransient, ClassifyStatus(http.StatusBadGateway))
	require.Equal(t, KindStructural, ClassifyStatus(http.StatusNotFound))
	require.Equal(t, KindStructural, ClassifyStatus(http.StatusForbidden))
	require.Equal(t, KindStructural, ClassifyStatus(http.StatusGone))
}

func TestKindString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "transient", KindTransient.String())
	require.Equal(t, "structural", KindStructural.String())
	require.Equal(t, "fatal", KindFatal.String())
	require.Equal(t, "cancelled", KindCancelled.String())
	require.Equal(t, "storage_failure", KindStorage.String())
	require.Equal(t, "unknown", Kind(99).String())
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("root cause")
	err := &Error{Kind: KindStructural, Err: cause}
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "structural")
	require.Contains(t, err.Error(), "root cause")
}
