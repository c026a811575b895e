// Package search implements the provider strategy for search-result-style
// platforms: a ranked list of entries rather than a single document.
package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/webharvest/harvester/internal/content"
	"github.com/webharvest/harvester/internal/provider/httpclient"
)

// Strategy fetches a search page (or expands a keyword directive into one)
// and normalizes the ranked entries into a single ContentRecord.
type Strategy struct {
	desc   content.PlatformDescriptor
	client *httpclient.Client
	logger *zap.Logger
}

// New builds a search-result strategy for the platform descriptor.
func New(desc content.PlatformDescriptor, client *httpclient.Client, logger *zap.Logger) *Strategy {
	return &Strategy{
		desc:   desc,
		client: client,
		logger: logger,
	}
}

// Platform implements content.Strategy.
func (s *Strategy) Platform() string { return s.desc.ID }

// Acquire resolves the target to a search URL, fetches it, and extracts the
// ranked result list.
func (s *Strategy) Acquire(ctx context.Context, req content.AcquisitionRequest) (content.ContentRecord, error) {
	target, query, err := s.resolveTarget(req.Target)
	if err != nil {
		return content.ContentRecord{}, err
	}

	var headers http.Header
	if req.Credentials != "" {
		headers = http.Header{}
		headers.Set("Cookie", req.Credentials)
	}
	resp, err := s.client.Fetch(ctx, target, headers)
	if err != nil {
		return content.ContentRecord{}, err
	}
	if resp.StatusCode != http.StatusOK {
		if content.ClassifyStatus(resp.StatusCode) == content.KindTransient {
			return content.ContentRecord{}, content.Transientf("upstream status %d", resp.StatusCode)
		}
		return content.ContentRecord{}, content.Structuralf("upstream status %d", resp.StatusCode)
	}

	entries, media, err := s.extractEntries(string(resp.Body), resp.FinalURL)
	if err != nil {
		return content.ContentRecord{}, err
	}

	title := query
	if title == "" {
		title = target
	}
	rec := content.ContentRecord{
		Title:    fmt.Sprintf("Search results: %s", title),
		BodyText: renderText(entries),
		Media:    media,
	}
	if req.OutputFormat == content.FormatMarkdown {
		rec.BodyMarkdown = renderMarkdown(entries)
	}
	return rec, nil
}

type entry struct {
	Rank    int
	Title   string
	URL     string
	Hotness string
}

// resolveTarget expands a keyword directive through the platform's search_url
// rule; a plain URL passes through untouched.
func (s *Strategy) resolveTarget(target string) (resolved, query string, err error) {
	if !strings.HasPrefix(target, content.KeywordPrefix) {
		return target, "", nil
	}
	keyword := strings.TrimSpace(strings.TrimPrefix(target, content.KeywordPrefix))
	if keyword == "" {
		return "", "", content.Fatalf("empty search keyword in %q", target)
	}
	tmpl := s.desc.Rules["search_url"]
	if tmpl == "" {
		return "", "", content.Fatalf("platform %s has no search_url rule", s.desc.ID)
	}
	return fmt.Sprintf(tmpl, url.QueryEscape(keyword)), keyword, nil
}

func (s *Strategy) extractEntries(html, baseURL string) ([]entry, []content.MediaReference, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, content.Structuralf("parse document: %v", err)
	}

	listSel := s.desc.Rules["list_selector"]
	items := doc.Find(listSel)
	if listSel == "" || items.Length() == 0 {
		return nil, nil, content.Structuralf("list selector %q matched nothing", listSel)
	}

	base, baseErr := url.Parse(baseURL)
	var (
		entries []entry
		media   []content.MediaReference
	)
	items.Each(func(i int, item *goquery.Selection) {
		title := strings.TrimSpace(item.Find(s.desc.Rules["title_selector"]).First().Text())
		if title == "" {
			// Sponsored slots and malformed items are skipped, same as the
			// human reader would.
			return
		}
		href, _ := item.Find(s.desc.Rules["url_selector"]).First().Attr("href")
		if baseErr == nil && href != "" {
			if abs, err := base.Parse(href); err == nil {
				href = abs.String()
			}
		}
		e := entry{
			Rank:  len(entries) + 1,
			Title: title,
			URL:   href,
		}
		if hotSel := s.desc.Rules["hotness_selector"]; hotSel != "" {
			e.Hotness = strings.TrimSpace(item.Find(hotSel).First().Text())
		}
		entries = append(entries, e)

		if imgSel := s.desc.Rules["image_selector"]; imgSel != "" {
			if src, ok := item.Find(imgSel).First().Attr("src"); ok && src != "" {
				media = append(media, content.MediaReference{
					SourceURL: src,
					AltText:   title,
				})
			}
		}
	})
	if len(entries) == 0 {
		return nil, nil, content.Structuralf("no usable entries under list selector %q", listSel)
	}
	return entries, media, nil
}

func renderText(entries []entry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%d. %s\n", e.Rank, e.Title)
		if e.URL != "" {
			fmt.Fprintf(&b, "   %s\n", e.URL)
		}
		if e.Hotness != "" {
			fmt.Fprintf(&b, "   %s\n", e.Hotness)
		}
	}
	return strings.TrimSpace(b.String())
}

func renderMarkdown(entries []entry) string {
	var b strings.Builder
	for _, e := range entries {
		if e.URL != "" {
			fmt.Fprintf(&b, "%d. [%s](%s)", e.Rank, e.Title, e.URL)
		} else {
			fmt.Fprintf(&b, "%d. %s", e.Rank, e.Title)
		}
		if e.Hotness != "" {
			fmt.Fprintf(&b, " (%s)", e.Hotness)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
