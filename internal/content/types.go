// Package content defines the core types shared across the acquisition pipeline.
package content

import "time"

// OutputFormat selects the textual rendering persisted for an acquisition.
type OutputFormat string

// Supported output formats.
const (
	FormatText     OutputFormat = "text"
	FormatMarkdown OutputFormat = "markdown"
)

// KeywordPrefix tags a pseudo-URL target as a keyword-search directive
// rather than a fetchable URL, e.g. "xhs_keyword:coffee shops".
const KeywordPrefix = "xhs_keyword:"

// PlatformDescriptor is one static configuration entry in the platform table.
// Loaded once at startup and immutable afterward.
type PlatformDescriptor struct {
	ID             string            `mapstructure:"id" json:"id"`
	DomainPatterns []string          `mapstructure:"domains" json:"domains"`
	Rules          map[string]string `mapstructure:"rules" json:"rules"`
}

// AcquisitionRequest carries everything a provider strategy needs for one
// acquisition. Constructed per call; never shared between acquisitions.
type AcquisitionRequest struct {
	Target       string
	SaveMedia    bool
	OutputFormat OutputFormat
	ForcePersist bool
	// Credentials is opaque session material (typically a serialized cookie
	// string) forwarded to the render engine. May be empty.
	Credentials string
}

// MediaReference points at one media asset belonging to a ContentRecord.
// LocalPath is set once the asset has been materialized on disk, either by
// the strategy itself (video streams) or by a later download step (images).
type MediaReference struct {
	SourceURL string `json:"source_url"`
	LocalPath string `json:"local_path,omitempty"`
	AltText   string `json:"alt_text,omitempty"`
}

// ContentRecord is the normalized result of a successful acquisition.
// Produced exactly once per acquisition and immutable after construction;
// the caller owns it after return.
type ContentRecord struct {
	Title        string           `json:"title"`
	Author       string           `json:"author,omitempty"`
	BodyText     string           `json:"body_text"`
	BodyMarkdown string           `json:"body_markdown,omitempty"`
	Media        []MediaReference `json:"media,omitempty"`
	StoragePath  string           `json:"storage_path,omitempty"`
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
