package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webharvest/harvester/internal/cache"
	"github.com/webharvest/harvester/internal/content"
	"github.com/webharvest/harvester/internal/provider/httpclient"
	"github.com/webharvest/harvester/internal/resilience"
	"github.com/webharvest/harvester/internal/router"
	"github.com/webharvest/harvester/internal/storage"
)

type tickingClock struct{ now atomic.Int64 }

func newTickingClock() *tickingClock {
	c := &tickingClock{}
	c.now.Store(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *tickingClock) Now() time.Time {
	return time.Unix(0, c.now.Add(int64(time.Millisecond)))
}

// stubStrategy returns a canned record and counts invocations.
type stubStrategy struct {
	platform string
	record   content.ContentRecord
	err      error
	calls    atomic.Int64
}

func (s *stubStrategy) Platform() string { return s.platform }

func (s *stubStrategy) Acquire(_ context.Context, _ content.AcquisitionRequest) (content.ContentRecord, error) {
	s.calls.Add(1)
	if s.err != nil {
		return content.ContentRecord{}, s.err
	}
	return s.record, nil
}

// stubLadders maps every known platform to one fixed ladder.
type stubLadders struct {
	ladders map[string][]content.Strategy
}

func (s *stubLadders) Ladder(platform, _ string) ([]content.Strategy, error) {
	if ladder, ok := s.ladders[platform]; ok {
		return ladder, nil
	}
	return nil, content.Fatalf("no ladder for %s", platform)
}

func testTable() []content.PlatformDescriptor {
	return []content.PlatformDescriptor{
		{ID: "zhihu", DomainPatterns: []string{"zhihu.com"}},
		{ID: "weixin", DomainPatterns: []string{"mp.weixin.qq.com"}},
	}
}

func newTestOrchestrator(t *testing.T, ladders map[string][]content.Strategy) *Orchestrator {
	t.Helper()
	logger := zap.NewNop()
	clk := newTickingClock()
	return New(Config{
		Router:   router.New(testTable()),
		Registry: &stubLadders{ladders: ladders},
		Engine: resilience.New(resilience.Config{
			MaxRetries: 1,
			BaseDelay:  time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
		}, logger),
		Cache:            cache.NewAdapter(nil, cache.NewMemoryBackend(100, clk), logger),
		Client:           httpclient.New(httpclient.Config{}),
		Clock:            clk,
		Logger:           logger,
		CacheTTL:         time.Minute,
		BatchConcurrency: 2,
	})
}

func TestFetchPersistsRecord(t *testing.T) {
	t.Parallel()

	jpeg := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 16)...)
	imgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(jpeg)
	}))
	defer imgSrv.Close()

	strategy := &stubStrategy{
		platform: "zhihu",
		record: content.ContentRecord{
			Title:        "T",
			Author:       "a",
			BodyText:     "B",
			BodyMarkdown: "**B**",
			Media:        []content.MediaReference{{SourceURL: imgSrv.URL + "/pic.bin", AltText: "pic"}},
		},
	}
	o := newTestOrchestrator(t, map[string][]content.Strategy{"zhihu": {strategy}})

	dest := t.TempDir()
	target := "https://www.zhihu.com/question/1"
	ok := o.Fetch(context.Background(), target, dest, Options{
		SaveMedia:    true,
		OutputFormat: content.FormatMarkdown,
	})
	require.True(t, ok)

	dir := filepath.Join(dest, "zhihu", storage.ArticleID(target, "T"))
	body, err := os.ReadFile(filepath.Join(dir, "content.txt"))
	require.NoError(t, err)
	require.Equal(t, "B", string(body))

	md, err := os.ReadFile(filepath.Join(dir, "article.md"))
	require.NoError(t, err)
	require.Contains(t, string(md), "# T")
	require.Contains(t, string(md), "**B**")

	require.FileExists(t, filepath.Join(dir, "images", "image_000.jpg"))
	require.FileExists(t, filepath.Join(dest, "zhihu", "articles_index.json"))
}

func TestFetchServesSecondCallFromCache(t *testing.T) {
	t.Parallel()

	strategy := &stubStrategy{
		platform: "zhihu",
		record:   content.ContentRecord{Title: "T", BodyText: "B"},
	}
	o := newTestOrchestrator(t, map[string][]content.Strategy{"zhihu": {strategy}})

	dest := t.TempDir()
	target := "https://www.zhihu.com/question/2"
	require.True(t, o.Fetch(context.Background(), target, dest, Options{}))
	require.True(t, o.Fetch(context.Background(), target, dest, Options{}))
	require.EqualValues(t, 1, strategy.calls.Load(), "second call must be a cache hit")
}

func TestFetchForcePersistBypassesCache(t *testing.T) {
	t.Parallel()

	strategy := &stubStrategy{
		platform: "zhihu",
		record:   content.ContentRecord{Title: "T", BodyText: "B"},
	}
	o := newTestOrchestrator(t, map[string][]content.Strategy{"zhihu": {strategy}})

	dest := t.TempDir()
	target := "https://www.zhihu.com/question/3"
	require.True(t, o.Fetch(context.Background(), target, dest, Options{}))
	require.True(t, o.Fetch(context.Background(), target, dest, Options{ForcePersist: true}))
	require.EqualValues(t, 2, strategy.calls.Load())
}

func TestFetchUnsupportedTarget(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, map[string][]content.Strategy{})
	require.False(t, o.Fetch(context.Background(), "https://unknown.example.com/post", t.TempDir(), Options{}))
}

func TestFetchAcquisitionFailure(t *testing.T) {
	t.Parallel()

	strategy := &stubStrategy{platform: "zhihu", err: content.Structuralf("page drift")}
	o := newTestOrchestrator(t, map[string][]content.Strategy{"zhihu": {strategy}})

	require.False(t, o.Fetch(context.Background(), "https://www.zhihu.com/question/4", t.TempDir(), Options{}))
}

func TestFetchAdoptsMaterializedMedia(t *testing.T) {
	t.Parallel()

	streamDir := t.TempDir()
	merged := filepath.Join(streamDir, "clip.mp4")
	require.NoError(t, os.WriteFile(merged, []byte("container"), 0o600))

	strategy := &stubStrategy{
		platform: "zhihu",
		record: content.ContentRecord{
			Title:    "Clip",
			BodyText: "stats",
			Media:    []content.MediaReference{{SourceURL: "https://cdn.example.com/v", LocalPath: merged}},
		},
	}
	o := newTestOrchestrator(t, map[string][]content.Strategy{"zhihu": {strategy}})

	dest := t.TempDir()
	target := "https://www.zhihu.com/question/5"
	require.True(t, o.Fetch(context.Background(), target, dest, Options{}))

	dir := filepath.Join(dest, "zhihu", storage.ArticleID(target, "Clip"))
	require.FileExists(t, filepath.Join(dir, "attachments", "clip.mp4"))
	require.NoFileExists(t, merged, "the temp file is moved, not copied")
	require.NoDirExists(t, streamDir, "the emptied staging dir is removed")
}

func TestBatchFetchReport(t *testing.T) {
	t.Parallel()

	good := &stubStrategy{platform: "zhihu", record: content.ContentRecord{Title: "T", BodyText: "B"}}
	bad := &stubStrategy{platform: "weixin", err: content.Fatalf("broken input")}
	o := newTestOrchestrator(t, map[string][]content.Strategy{
		"zhihu":  {good},
		"weixin": {bad},
	})

	targets := []string{
		"https://www.zhihu.com/question/6",
		"https://mp.weixin.qq.com/s/x",
		"https://unknown.example.com/",
	}
	report := o.BatchFetch(context.Background(), targets, t.TempDir(), Options{})

	require.Len(t, report.Results, 3)
	require.Equal(t, 1, report.Succeeded)
	require.Equal(t, 2, report.Failed)
	require.InDelta(t, 1.0/3.0, report.SuccessRate, 1e-9)
	require.NotEmpty(t, report.JobID)

	byTarget := map[string]TargetResult{}
	for _, r := range report.Results {
		byTarget[r.Target] = r
	}
	require.True(t, byTarget[targets[0]].OK)
	require.Equal(t, "fatal", byTarget[targets[1]].Reason)
	require.Equal(t, "unsupported_target", byTarget[targets[2]].Reason)
}
