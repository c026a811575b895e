package content

import "context"

// Strategy is the platform-specific extraction implementation behind the
// uniform acquire contract. Implementations must classify every failure via
// the taxonomy in this package; mis-classification is a correctness bug, not
// a cosmetic one.
type Strategy interface {
	// Platform returns the platform id this strategy extracts for.
	Platform() string
	// Acquire fetches and normalizes the target into a ContentRecord.
	Acquire(ctx context.Context, req AcquisitionRequest) (ContentRecord, error)
}

// RenderOptions parameterize one render-engine navigation.
type RenderOptions struct {
	// Cookies is an opaque "name=value; name2=value2" session string.
	Cookies   string
	UserAgent string
}

// Renderer is the headless-browser collaborator used by strategies that need
// JavaScript execution. Timeout and navigation faults must be surfaced so the
// strategy can reclassify them as transient.
type Renderer interface {
	Render(ctx context.Context, url string, opts RenderOptions) (string, error)
}
