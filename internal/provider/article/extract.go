package article

import (
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"

	"github.com/webharvest/harvester/internal/content"
)

// Extraction is the selector-driven result pulled out of one document.
type Extraction struct {
	Title        string
	Author       string
	BodyText     string
	BodyMarkdown string
	Media        []content.MediaReference
}

// extract applies the platform's extraction rules to rendered or raw HTML.
// A selector that matches nothing means the page shape has drifted, which is
// a structural failure: retrying the same technique cannot help.
func extract(html string, rules map[string]string, format content.OutputFormat, conv *converter.Converter, baseURL string) (Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Extraction{}, content.Structuralf("parse document: %v", err)
	}

	titleSel := rules["title_selector"]
	titleNode := doc.Find(titleSel).First()
	if titleSel == "" || titleNode.Length() == 0 {
		return Extraction{}, content.Structuralf("title selector %q matched nothing", titleSel)
	}

	contentSel := rules["content_selector"]
	contentNode := doc.Find(contentSel).First()
	if contentSel == "" || contentNode.Length() == 0 {
		return Extraction{}, content.Structuralf("content selector %q matched nothing", contentSel)
	}

	out := Extraction{
		Title:    strings.TrimSpace(titleNode.Text()),
		BodyText: normalizeText(contentNode.Text()),
		Media:    collectImages(contentNode, baseURL),
	}
	if authorSel := rules["author_selector"]; authorSel != "" {
		out.Author = strings.TrimSpace(doc.Find(authorSel).First().Text())
	}

	if format == content.FormatMarkdown {
		fragment, err := goquery.OuterHtml(contentNode)
		if err == nil {
			if md, convErr := conv.ConvertString(fragment, converter.WithDomain(baseURL)); convErr == nil {
				out.BodyMarkdown = strings.TrimSpace(md)
			}
		}
		// Conversion failures degrade to text-only output; the body text is
		// already extracted.
	}
	return out, nil
}

func collectImages(node *goquery.Selection, baseURL string) []content.MediaReference {
	base, baseErr := url.Parse(baseURL)
	var refs []content.MediaReference
	node.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || src == "" {
			src, _ = img.Attr("data-src")
		}
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		if baseErr == nil {
			if abs, err := base.Parse(src); err == nil {
				src = abs.String()
			}
		}
		alt, _ := img.Attr("alt")
		refs = append(refs, content.MediaReference{
			SourceURL: src,
			AltText:   strings.TrimSpace(alt),
		})
	})
	return refs
}

func normalizeText(raw string) string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
