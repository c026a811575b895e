package article

import (
	"context"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"go.uber.org/zap"

	"github.com/webharvest/harvester/internal/content"
)

// RenderedStrategy extracts an article from the fully rendered DOM. It is
// the primary rung for bot-hostile platforms whose server HTML is an empty
// shell until JavaScript runs.
type RenderedStrategy struct {
	desc     content.PlatformDescriptor
	renderer content.Renderer
	conv     *converter.Converter
	logger   *zap.Logger
}

// NewRendered builds a render-engine-backed article strategy.
func NewRendered(desc content.PlatformDescriptor, renderer content.Renderer, logger *zap.Logger) *RenderedStrategy {
	return &RenderedStrategy{
		desc:     desc,
		renderer: renderer,
		conv:     newConverter(),
		logger:   logger,
	}
}

// Platform implements content.Strategy.
func (s *RenderedStrategy) Platform() string { return s.desc.ID }

// Acquire renders the target and applies the platform's extraction rules.
// Navigation and timeout faults from the render engine are transient: the
// browser may simply have been throttled or the page slow.
func (s *RenderedStrategy) Acquire(ctx context.Context, req content.AcquisitionRequest) (content.ContentRecord, error) {
	html, err := s.renderer.Render(ctx, req.Target, content.RenderOptions{
		Cookies: req.Credentials,
	})
	if err != nil {
		if content.Classify(err) == content.KindCancelled {
			return content.ContentRecord{}, err
		}
		return content.ContentRecord{}, content.Transientf("render %s: %v", req.Target, err)
	}

	return buildRecord(html, s.desc.Rules, req, req.Target, s.conv)
}
