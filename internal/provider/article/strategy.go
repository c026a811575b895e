// Package article implements provider strategies for article-style platforms:
// a single document with a title, an author, a body, and inline images.
package article

import (
	"context"
	"net/http"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"go.uber.org/zap"

	"github.com/webharvest/harvester/internal/content"
	"github.com/webharvest/harvester/internal/provider/httpclient"
)

func newConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
}

// Strategy extracts an article over plain HTTP. It is the cheap path for
// platforms that serve meaningful markup without JavaScript.
type Strategy struct {
	desc   content.PlatformDescriptor
	client *httpclient.Client
	conv   *converter.Converter
	logger *zap.Logger
}

// New builds a plain-HTTP article strategy for the platform descriptor.
func New(desc content.PlatformDescriptor, client *httpclient.Client, logger *zap.Logger) *Strategy {
	return &Strategy{
		desc:   desc,
		client: client,
		conv:   newConverter(),
		logger: logger,
	}
}

// Platform implements content.Strategy.
func (s *Strategy) Platform() string { return s.desc.ID }

// Acquire fetches the target and applies the platform's extraction rules.
func (s *Strategy) Acquire(ctx context.Context, req content.AcquisitionRequest) (content.ContentRecord, error) {
	resp, err := s.client.Fetch(ctx, req.Target, requestHeaders(req))
	if err != nil {
		return content.ContentRecord{}, err
	}
	if err := classifyResponse(resp.StatusCode); err != nil {
		return content.ContentRecord{}, err
	}
	if looksLikeAppShell(resp.Body) {
		s.logger.Debug("response is a client-side shell",
			zap.String("platform", s.desc.ID),
			zap.String("target", req.Target),
		)
		return content.ContentRecord{}, content.Structuralf("page for %s is a script shell without server-rendered content", req.Target)
	}

	return buildRecord(string(resp.Body), s.desc.Rules, req, resp.FinalURL, s.conv)
}

func buildRecord(html string, rules map[string]string, req content.AcquisitionRequest, baseURL string, conv *converter.Converter) (content.ContentRecord, error) {
	ex, err := extract(html, rules, req.OutputFormat, conv, baseURL)
	if err != nil {
		return content.ContentRecord{}, err
	}
	return content.ContentRecord{
		Title:        ex.Title,
		Author:       ex.Author,
		BodyText:     ex.BodyText,
		BodyMarkdown: ex.BodyMarkdown,
		Media:        ex.Media,
	}, nil
}

func classifyResponse(status int) error {
	if status == http.StatusOK {
		return nil
	}
	if content.ClassifyStatus(status) == content.KindTransient {
		return content.Transientf("upstream status %d", status)
	}
	return content.Structuralf("upstream status %d", status)
}

func requestHeaders(req content.AcquisitionRequest) http.Header {
	if req.Credentials == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Cookie", req.Credentials)
	return h
}
