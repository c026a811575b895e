// Package httpclient provides the plain HTTP fetch shared by provider
// strategies, built on the Colly collector.
package httpclient

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/webharvest/harvester/internal/content"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Response is the raw result of one fetch.
type Response struct {
	StatusCode int
	Body       []byte
	FinalURL   string
}

// Client executes single-shot HTTP GETs with connection pooling.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
	// streamClient serves Download. It deliberately has no overall timeout:
	// large media transfers are bounded by ctx, not a fixed deadline.
	streamClient *http.Client
}

// New builds a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newTransport())
	return &Client{
		cfg:           cfg,
		baseCollector: c,
		streamClient:  &http.Client{Transport: newTransport()},
	}
}

// Fetch executes one GET. Transport-level failures come back as transient
// errors; a completed response is returned regardless of status code so the
// caller can classify it.
func (c *Client) Fetch(ctx context.Context, rawURL string, headers http.Header) (Response, error) {
	if u, err := url.Parse(rawURL); err != nil || u.Host == "" || u.Scheme == "" {
		return Response{}, content.Fatalf("invalid target url %q", rawURL)
	}

	var (
		result   Response
		fetchErr error
	)

	collector := c.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = Response{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			FinalURL:   r.Request.URL.String(),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			result = Response{
				StatusCode: r.StatusCode,
				Body:       append([]byte(nil), r.Body...),
				FinalURL:   rawURL,
			}
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return Response{}, content.Cancelled(ctx.Err())
	case err := <-done:
		if result.StatusCode > 0 {
			// A completed response, even an error status, is the caller's
			// to classify.
			return result, nil
		}
		if fetchErr != nil {
			return Response{}, content.Transientf("fetch %s: %v", rawURL, fetchErr)
		}
		if err != nil {
			return Response{}, content.Transientf("fetch %s: %v", rawURL, err)
		}
		return result, nil
	}
}

// Download streams the response body for rawURL to dst. Unlike Fetch it never
// buffers the full body, so it is the right call for video and audio streams.
// The returned count is the number of bytes written.
func (c *Client) Download(ctx context.Context, rawURL string, headers http.Header, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, content.Fatalf("invalid stream url %q: %v", rawURL, err)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if c.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, content.Cancelled(ctx.Err())
		}
		return 0, content.Transientf("download %s: %v", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if content.ClassifyStatus(resp.StatusCode) == content.KindTransient {
			return 0, content.Transientf("download %s: status %d", rawURL, resp.StatusCode)
		}
		return 0, content.Structuralf("download %s: status %d", rawURL, resp.StatusCode)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, content.Storagef("create %s: %v", dst, err)
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return n, content.Cancelled(ctx.Err())
		}
		return n, content.Transientf("download %s: %v", rawURL, err)
	}
	return n, nil
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
