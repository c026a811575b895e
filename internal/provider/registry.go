// Package provider assembles per-platform strategy ladders. Dispatch is
// closed: the set of supported platforms is fixed at startup from the
// configured platform table, mirroring a plain id-to-constructor map.
package provider

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/webharvest/harvester/internal/content"
	mergepkg "github.com/webharvest/harvester/internal/media"
	"github.com/webharvest/harvester/internal/provider/article"
	"github.com/webharvest/harvester/internal/provider/httpclient"
	mediaprov "github.com/webharvest/harvester/internal/provider/media"
	"github.com/webharvest/harvester/internal/provider/search"
)

// Deps carries everything a strategy constructor may need. Renderer is
// optional: when nil, rendered rungs are left off each ladder.
type Deps struct {
	Client   *httpclient.Client
	Renderer content.Renderer
	Merger   *mergepkg.Merger
	Logger   *zap.Logger
}

// ladderKind names the shape of result a platform returns.
type ladderKind int

const (
	kindArticle ladderKind = iota
	kindSearch
	kindVideo
)

// kindTable is the closed dispatch map. Platforms absent here are
// unsupported even if the router knows their domains.
var kindTable = map[string]ladderKind{
	"zhihu":       kindArticle,
	"weixin":      kindArticle,
	"weibo":       kindSearch,
	"xiaohongshu": kindArticle,
	"douyin":      kindArticle,
	"bilibili":    kindVideo,
}

// Registry resolves a platform id to its ordered strategy ladder.
type Registry struct {
	ladders map[string][]content.Strategy
	search  map[string][]content.Strategy
	logger  *zap.Logger
}

// NewRegistry builds every supported platform's ladder up front so that
// misconfiguration surfaces at startup, not mid-acquisition.
func NewRegistry(deps Deps, descriptors []content.PlatformDescriptor) (*Registry, error) {
	r := &Registry{
		ladders: make(map[string][]content.Strategy),
		search:  make(map[string][]content.Strategy),
		logger:  deps.Logger,
	}
	for _, desc := range descriptors {
		kind, ok := kindTable[desc.ID]
		if !ok {
			return nil, fmt.Errorf("platform %q has no registered strategy", desc.ID)
		}
		switch kind {
		case kindArticle:
			r.ladders[desc.ID] = articleLadder(deps, desc)
		case kindSearch:
			r.ladders[desc.ID] = []content.Strategy{search.New(desc, deps.Client, deps.Logger)}
		case kindVideo:
			r.ladders[desc.ID] = videoLadder(deps, desc)
		}
		// A platform with a search_url rule also answers keyword directives.
		if _, ok := desc.Rules["search_url"]; ok {
			r.search[desc.ID] = []content.Strategy{search.New(desc, deps.Client, deps.Logger)}
		}
	}
	return r, nil
}

// Ladder returns the ordered strategies for platform, choosing the keyword
// search ladder when target is a search directive.
func (r *Registry) Ladder(platform, target string) ([]content.Strategy, error) {
	if strings.HasPrefix(target, content.KeywordPrefix) {
		ladder, ok := r.search[platform]
		if !ok {
			return nil, fmt.Errorf("platform %q does not support keyword search", platform)
		}
		return ladder, nil
	}
	ladder, ok := r.ladders[platform]
	if !ok {
		return nil, fmt.Errorf("platform %q has no registered strategy", platform)
	}
	return ladder, nil
}

// articleLadder degrades from the cheap direct fetch to the rendered fetch.
// Bot-hostile platforms invert the order so the rendered path goes first.
func articleLadder(deps Deps, desc content.PlatformDescriptor) []content.Strategy {
	plain := article.New(desc, deps.Client, deps.Logger)
	if deps.Renderer == nil {
		return []content.Strategy{plain}
	}
	rendered := article.NewRendered(desc, deps.Renderer, deps.Logger)
	if desc.Rules["render_first"] == "true" {
		return []content.Strategy{rendered, plain}
	}
	return []content.Strategy{plain, rendered}
}

// videoLadder tries the JSON API first; the rendered page is a degraded
// fallback that still yields a textual record when the API is blocked.
func videoLadder(deps Deps, desc content.PlatformDescriptor) []content.Strategy {
	ladder := []content.Strategy{
		mediaprov.New(desc.ID, deps.Client, deps.Merger, deps.Logger),
	}
	if deps.Renderer != nil {
		ladder = append(ladder, article.NewRendered(desc, deps.Renderer, deps.Logger))
	}
	return ladder
}
