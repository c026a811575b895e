// Package render drives headless Chrome for strategies that need JavaScript
// execution. Rendering is inherently blocking; the pool semaphore sizes the
// number of simultaneously open tabs to the configured concurrency.
package render

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/webharvest/harvester/internal/content"
)

// ErrDisabled indicates rendering has been disabled via configuration.
var ErrDisabled = errors.New("renderer disabled")

// Config controls the Chromedp renderer.
type Config struct {
	MaxParallel       int
	NavigationTimeout time.Duration
	DomainQPS         float64
	UserAgent         string
}

// Chromedp implements content.Renderer using a shared headless browser.
type Chromedp struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	timeout         time.Duration
	domainQPS       float64
	domainLimiters  sync.Map
	userAgent       string
}

// New starts the browser allocator and warms up a shared browser context.
func New(cfg Config, logger *zap.Logger) (*Chromedp, error) {
	if cfg.MaxParallel <= 0 {
		return nil, ErrDisabled
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Chromedp{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxParallel),
		timeout:         cfg.NavigationTimeout,
		domainQPS:       cfg.DomainQPS,
		userAgent:       cfg.UserAgent,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (r *Chromedp) Close() {
	if r == nil {
		return
	}
	r.browserCancel()
	r.allocatorCancel()
}

// Render navigates to rawURL and returns the fully rendered DOM. Slot
// acquisition, the per-domain budget wait, and navigation all honor ctx, and
// the tab is torn down on every exit path.
func (r *Chromedp) Render(ctx context.Context, rawURL string, opts content.RenderOptions) (string, error) {
	release, err := r.acquireSlot(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	if err := r.waitDomainBudget(ctx, rawURL); err != nil {
		return "", fmt.Errorf("render rate budget: %w", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.timeout)
	defer cancelTimeout()

	// Propagate caller cancellation into the tab.
	go func() {
		select {
		case <-ctx.Done():
			cancelTab()
		case <-tabCtx.Done():
		}
	}()

	var html string
	actions := []chromedp.Action{
		r.sessionSetupAction(opts),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return "", content.Cancelled(ctx.Err())
		}
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func (r *Chromedp) sessionSetupAction(opts content.RenderOptions) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		ua := opts.UserAgent
		if ua == "" {
			ua = r.userAgent
		}
		if ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if opts.Cookies != "" {
			headers := network.Headers{"Cookie": opts.Cookies}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set session cookies: %w", err)
			}
		}
		return nil
	})
}

func (r *Chromedp) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, nil
	case <-ctx.Done():
		return nil, content.Cancelled(ctx.Err())
	}
}

func (r *Chromedp) waitDomainBudget(ctx context.Context, rawURL string) error {
	if r.domainQPS <= 0 {
		return nil
	}
	domain := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		domain = u.Hostname()
	}
	limiterAny, _ := r.domainLimiters.LoadOrStore(domain, rate.NewLimiter(rate.Limit(r.domainQPS), 1))
	limiter := limiterAny.(*rate.Limiter)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return content.Cancelled(err)
	}
	if waited := time.Since(start); waited > time.Second {
		r.logger.Debug("render budget wait",
			zap.String("domain", domain),
			zap.Duration("waited", waited),
		)
	}
	return nil
}
