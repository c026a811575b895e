package article

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webharvest/harvester/internal/content"
)

// stubRenderer returns a canned DOM or a canned error.
type stubRenderer struct {
	html    string
	err     error
	lastURL string
	opts    content.RenderOptions
}

func (r *stubRenderer) Render(_ context.Context, rawURL string, opts content.RenderOptions) (string, error) {
	r.lastURL = rawURL
	r.opts = opts
	if r.err != nil {
		return "", r.err
	}
	return r.html, nil
}

func TestRenderedAcquireExtractsFromDOM(t *testing.T) {
	t.Parallel()

	renderer := &stubRenderer{html: articleHTML}
	s := NewRendered(content.PlatformDescriptor{ID: "xiaohongshu", Rules: testRules()}, renderer, zap.NewNop())

	record, err := s.Acquire(context.Background(), content.AcquisitionRequest{
		Target:       "https://www.xiaohongshu.com/explore/1",
		OutputFormat: content.FormatMarkdown,
		Credentials:  "web_session=tok",
	})
	require.NoError(t, err)
	require.Equal(t, "Understanding Backoff", record.Title)
	require.Equal(t, "https://www.xiaohongshu.com/explore/1", renderer.lastURL)
	require.Equal(t, "web_session=tok", renderer.opts.Cookies, "session material reaches the render engine")
}

func TestRenderedAcquireRenderFaultIsTransient(t *testing.T) {
	t.Parallel()

	renderer := &stubRenderer{err: errors.New("net::ERR_TIMED_OUT")}
	s := NewRendered(content.PlatformDescriptor{ID: "xiaohongshu", Rules: testRules()}, renderer, zap.NewNop())

	_, err := s.Acquire(context.Background(), content.AcquisitionRequest{Target: "https://www.xiaohongshu.com/explore/1"})
	require.Error(t, err)
	require.Equal(t, content.KindTransient, content.Classify(err))
}

func TestRenderedAcquirePropagatesCancellation(t *testing.T) {
	t.Parallel()

	renderer := &stubRenderer{err: content.Cancelled(context.Canceled)}
	s := NewRendered(content.PlatformDescriptor{ID: "xiaohongshu", Rules: testRules()}, renderer, zap.NewNop())

	_, err := s.Acquire(context.Background(), content.AcquisitionRequest{Target: "https://www.xiaohongshu.com/explore/1"})
	require.Error(t, err)
	require.Equal(t, content.KindCancelled, content.Classify(err), "cancellation must never be rewritten as transient")
}
