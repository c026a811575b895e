package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webharvest/harvester/internal/config"
	"github.com/webharvest/harvester/internal/content"
	"github.com/webharvest/harvester/internal/media"
	"github.com/webharvest/harvester/internal/provider/article"
	"github.com/webharvest/harvester/internal/provider/httpclient"
	"github.com/webharvest/harvester/internal/provider/search"
)

type fakeRenderer struct{}

func (fakeRenderer) Render(_ context.Context, _ string, _ content.RenderOptions) (string, error) {
	return "", nil
}

func testDeps(renderer content.Renderer) Deps {
	return Deps{
		Client:   httpclient.New(httpclient.Config{}),
		Renderer: renderer,
		Merger:   media.NewMerger(zap.NewNop()),
		Logger:   zap.NewNop(),
	}
}

func TestNewRegistryRejectsUnknownPlatform(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry(testDeps(nil), []content.PlatformDescriptor{
		{ID: "myspace", DomainPatterns: []string{"myspace.com"}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "myspace")
}

func TestLadderShapes(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(testDeps(fakeRenderer{}), config.DefaultPlatforms())
	require.NoError(t, err)

	// Plain article platform: direct fetch first, rendered fallback second.
	ladder, err := r.Ladder("zhihu", "https://www.zhihu.com/question/1")
	require.NoError(t, err)
	require.Len(t, ladder, 2)
	require.IsType(t, &article.Strategy{}, ladder[0])
	require.IsType(t, &article.RenderedStrategy{}, ladder[1])

	// Bot-hostile platform inverts the order.
	ladder, err = r.Ladder("xiaohongshu", "https://www.xiaohongshu.com/explore/1")
	require.NoError(t, err)
	require.Len(t, ladder, 2)
	require.IsType(t, &article.RenderedStrategy{}, ladder[0])
	require.IsType(t, &article.Strategy{}, ladder[1])

	// Hotlist platform resolves to the search strategy.
	ladder, err = r.Ladder("weibo", "https://s.weibo.com/top/summary")
	require.NoError(t, err)
	require.Len(t, ladder, 1)
	require.IsType(t, &search.Strategy{}, ladder[0])

	// Video platform: API strategy first, rendered fallback.
	ladder, err = r.Ladder("bilibili", "https://www.bilibili.com/video/BV1xx411c7mD")
	require.NoError(t, err)
	require.Len(t, ladder, 2)
	require.IsType(t, &article.RenderedStrategy{}, ladder[1])
}

func TestLadderWithoutRendererSkipsRenderedRungs(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(testDeps(nil), config.DefaultPlatforms())
	require.NoError(t, err)

	ladder, err := r.Ladder("zhihu", "https://www.zhihu.com/question/1")
	require.NoError(t, err)
	require.Len(t, ladder, 1)
	require.IsType(t, &article.Strategy{}, ladder[0])

	ladder, err = r.Ladder("bilibili", "https://www.bilibili.com/video/BV1xx411c7mD")
	require.NoError(t, err)
	require.Len(t, ladder, 1)
}

func TestKeywordDirectiveRouting(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(testDeps(nil), config.DefaultPlatforms())
	require.NoError(t, err)

	ladder, err := r.Ladder("xiaohongshu", content.KeywordPrefix+"coffee shops")
	require.NoError(t, err)
	require.Len(t, ladder, 1)
	require.IsType(t, &search.Strategy{}, ladder[0])

	// Platforms without a search_url rule reject keyword directives.
	_, err = r.Ladder("zhihu", content.KeywordPrefix+"anything")
	require.Error(t, err)
	require.Contains(t, err.Error(), "keyword search")
}

func TestLadderUnknownPlatform(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(testDeps(nil), config.DefaultPlatforms())
	require.NoError(t, err)

	_, err = r.Ladder("friendster", "https://friendster.example.com/")
	require.Error(t, err)
}
