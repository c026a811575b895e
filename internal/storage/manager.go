// Package storage persists acquired content under a deterministic,
// content-addressed directory layout.
package storage

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/h2non/filetype"
	"go.uber.org/zap"

	"github.com/webharvest/harvester/internal/content"
)

// Statistics aggregates per-article persistence counters.
type Statistics struct {
	ImagesCount      int `json:"images_count"`
	AttachmentsCount int `json:"attachments_count"`
	ContentLength    int `json:"content_length"`
	MarkdownLength   int `json:"markdown_length,omitempty"`
}

// Metadata is the metadata.json document written next to each article.
type Metadata struct {
	ArticleID  string            `json:"article_id"`
	Title      string            `json:"title"`
	Author     string            `json:"author,omitempty"`
	URL        string            `json:"url"`
	Platform   string            `json:"platform"`
	CreatedAt  string            `json:"created_at"`
	UpdatedAt  string            `json:"updated_at"`
	Files      map[string]string `json:"files"`
	Statistics Statistics        `json:"statistics"`
}

// Handle identifies one article's storage directory and side files.
type Handle struct {
	ArticleID string
	Platform  string
	Title     string
	SafeTitle string

	dir            string
	imagesDir      string
	attachmentsDir string
	textFile       string
	markdownFile   string
	metadataFile   string
}

// Dir returns the article's directory.
func (h *Handle) Dir() string { return h.dir }

// Manager owns the on-disk layout under root/platform/article_id/. No other
// component writes into it. The index upsert is a read-modify-write and is
// serialized per manager.
type Manager struct {
	root    string
	clock   content.Clock
	logger  *zap.Logger
	indexMu sync.Mutex
}

// NewManager returns a manager rooted at dir, creating it if needed.
func NewManager(root string, clock content.Clock, logger *zap.Logger) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", abs, err)
	}
	return &Manager{
		root:   abs,
		clock:  clock,
		logger: logger,
	}, nil
}

// Root returns the absolute storage root.
func (m *Manager) Root() string { return m.root }

// ArticleID is the content address: a pure function of (url, title).
// Re-acquiring the same URL with the same title always yields the same
// directory, making persistence idempotent rather than duplicating.
func ArticleID(url, title string) string {
	sum := md5.Sum([]byte(url + "_" + title))
	return hex.EncodeToString(sum[:])[:12]
}

// Begin creates (or reuses) the article directory and writes the initial
// metadata file. Calling Begin twice for the same (url, title) targets the
// same directory.
func (m *Manager) Begin(platform, title, url, author string) (*Handle, error) {
	articleID := ArticleID(url, title)
	dir := filepath.Join(m.root, platform, articleID)

	h := &Handle{
		ArticleID:      articleID,
		Platform:       platform,
		Title:          title,
		SafeTitle:      SafeFilename(title, 50),
		dir:            dir,
		imagesDir:      filepath.Join(dir, "images"),
		attachmentsDir: filepath.Join(dir, "attachments"),
		textFile:       filepath.Join(dir, "content.txt"),
		markdownFile:   filepath.Join(dir, "article.md"),
		metadataFile:   filepath.Join(dir, "metadata.json"),
	}

	for _, d := range []string{h.imagesDir, h.attachmentsDir} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return nil, content.Storagef("create article dir %s: %w", d, err)
		}
	}

	now := m.clock.Now().Format("2006-01-02T15:04:05")
	meta := Metadata{
		ArticleID: articleID,
		Title:     title,
		Author:    author,
		URL:       url,
		Platform:  platform,
		CreatedAt: now,
		UpdatedAt: now,
		Files: map[string]string{
			"text_file":     filepath.Base(h.textFile),
			"markdown_file": filepath.Base(h.markdownFile),
		},
	}
	if err := m.writeMetadata(h, meta); err != nil {
		return nil, err
	}

	m.logger.Debug("article storage ready",
		zap.String("platform", platform),
		zap.String("article_id", articleID),
		zap.String("dir", dir),
	)
	return h, nil
}

// WriteText replaces content.txt in full and updates the content_length
// statistic.
func (m *Manager) WriteText(h *Handle, body string) error {
	if err := replaceFile(h.textFile, []byte(body)); err != nil {
		return content.Storagef("write text %s: %w", h.textFile, err)
	}
	return m.updateStatistics(h, func(s *Statistics) {
		s.ContentLength = len(body)
	})
}

var (
	excessBlankLines = regexp.MustCompile(`\n{3,}`)
	excessSpaces     = regexp.MustCompile(` {4,}`)
)

// WriteMarkdown replaces article.md in full, prefixing the optional title
// heading and author line the way readers expect a standalone document.
func (m *Manager) WriteMarkdown(h *Handle, body, title, author string) error {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "# %s\n", title)
	}
	if author != "" {
		fmt.Fprintf(&b, "**Author:** %s\n", author)
	}
	b.WriteString("---\n\n")
	b.WriteString(body)

	final := excessBlankLines.ReplaceAllString(b.String(), "\n\n")
	final = excessSpaces.ReplaceAllString(final, "   ")

	if err := replaceFile(h.markdownFile, []byte(final)); err != nil {
		return content.Storagef("write markdown %s: %w", h.markdownFile, err)
	}
	return m.updateStatistics(h, func(s *Statistics) {
		s.MarkdownLength = len(final)
	})
}

// SaveMedia writes one media asset under images/. The file extension comes
// from the byte content itself, never from an upstream content-type header;
// those are frequently wrong or absent.
func (m *Manager) SaveMedia(h *Handle, data []byte, sourceURL, altText string, index int) (content.MediaReference, error) {
	name := fmt.Sprintf("image_%03d.%s", index, sniffExtension(data))
	path := filepath.Join(h.imagesDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return content.MediaReference{}, content.Storagef("write media %s: %w", path, err)
	}
	if err := m.updateStatistics(h, func(s *Statistics) {
		s.ImagesCount++
	}); err != nil {
		return content.MediaReference{}, err
	}
	return content.MediaReference{
		SourceURL: sourceURL,
		LocalPath: path,
		AltText:   altText,
	}, nil
}

// AdoptMedia moves an already-materialized asset (e.g. a merged video file
// produced in a strategy's temp dir) into the article's attachments.
func (m *Manager) AdoptMedia(h *Handle, srcPath, sourceURL, altText string) (content.MediaReference, error) {
	dst := filepath.Join(h.attachmentsDir, filepath.Base(srcPath))
	if err := os.Rename(srcPath, dst); err != nil {
		// Rename fails across filesystems; fall back to copy.
		data, readErr := os.ReadFile(srcPath)
		if readErr != nil {
			return content.MediaReference{}, content.Storagef("adopt media %s: %w", srcPath, err)
		}
		if writeErr := os.WriteFile(dst, data, 0o600); writeErr != nil {
			return content.MediaReference{}, content.Storagef("adopt media %s: %w", srcPath, writeErr)
		}
		_ = os.Remove(srcPath)
	}
	if err := m.updateStatistics(h, func(s *Statistics) {
		s.AttachmentsCount++
	}); err != nil {
		return content.MediaReference{}, err
	}
	return content.MediaReference{
		SourceURL: sourceURL,
		LocalPath: dst,
		AltText:   altText,
	}, nil
}

type indexEntry struct {
	ArticleID  string `json:"article_id"`
	Title      string `json:"title"`
	SafeTitle  string `json:"safe_title"`
	ArticleDir string `json:"article_dir"`
	CreatedAt  string `json:"created_at"`
	Preview    string `json:"preview"`
}

type indexFile struct {
	Articles      []indexEntry `json:"articles"`
	LastUpdated   string       `json:"last_updated"`
	TotalArticles int          `json:"total_articles"`
}

// UpsertIndex adds or replaces this article's summary in the platform-level
// index, matched by article_id. Concurrent acquisitions for one platform
// serialize here.
func (m *Manager) UpsertIndex(h *Handle, preview string) error {
	m.indexMu.Lock()
	defer m.indexMu.Unlock()

	indexPath := filepath.Join(m.root, h.Platform, "articles_index.json")
	var idx indexFile
	if raw, err := os.ReadFile(indexPath); err == nil {
		if err := json.Unmarshal(raw, &idx); err != nil {
			return content.Storagef("parse index %s: %w", indexPath, err)
		}
	}

	// Truncate by runes, not bytes: a byte cut lands mid-rune on CJK text.
	if runes := []rune(preview); len(runes) > 200 {
		preview = string(runes[:200]) + "..."
	}
	entry := indexEntry{
		ArticleID:  h.ArticleID,
		Title:      h.Title,
		SafeTitle:  h.SafeTitle,
		ArticleDir: filepath.Base(h.dir),
		CreatedAt:  m.clock.Now().Format("2006-01-02T15:04:05"),
		Preview:    preview,
	}

	replaced := false
	for i, existing := range idx.Articles {
		if existing.ArticleID == h.ArticleID {
			idx.Articles[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		idx.Articles = append(idx.Articles, entry)
	}
	idx.LastUpdated = m.clock.Now().Format("2006-01-02T15:04:05")
	idx.TotalArticles = len(idx.Articles)

	payload, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return content.Storagef("marshal index: %w", err)
	}
	if err := replaceFile(indexPath, payload); err != nil {
		return content.Storagef("write index %s: %w", indexPath, err)
	}
	return nil
}

// ReadMetadata loads the article's current metadata document.
func (m *Manager) ReadMetadata(h *Handle) (Metadata, error) {
	raw, err := os.ReadFile(h.metadataFile)
	if err != nil {
		return Metadata{}, content.Storagef("read metadata %s: %w", h.metadataFile, err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, content.Storagef("parse metadata %s: %w", h.metadataFile, err)
	}
	return meta, nil
}

func (m *Manager) updateStatistics(h *Handle, apply func(*Statistics)) error {
	meta, err := m.ReadMetadata(h)
	if err != nil {
		return err
	}
	apply(&meta.Statistics)
	meta.UpdatedAt = m.clock.Now().Format("2006-01-02T15:04:05")
	return m.writeMetadata(h, meta)
}

func (m *Manager) writeMetadata(h *Handle, meta Metadata) error {
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return content.Storagef("marshal metadata: %w", err)
	}
	if err := replaceFile(h.metadataFile, payload); err != nil {
		return content.Storagef("write metadata %s: %w", h.metadataFile, err)
	}
	return nil
}

// replaceFile swaps in the new content atomically: write a temp file in the
// same directory, then rename over the target. A crash mid-write leaves the
// previous version intact, never a half-written document.
func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// sniffExtension determines the file extension from magic bytes. Unknown
// content defaults to jpg, matching how upstream platforms serve untyped
// image bytes.
func sniffExtension(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "jpg"
	}
	if kind.Extension == "jpeg" {
		return "jpg"
	}
	return kind.Extension
}
