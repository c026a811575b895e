// Package pipeline composes the router, strategy ladders, cache, and storage
// into the fetch and batch entry points.
package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/webharvest/harvester/internal/cache"
	"github.com/webharvest/harvester/internal/content"
	"github.com/webharvest/harvester/internal/history"
	"github.com/webharvest/harvester/internal/metrics"
	"github.com/webharvest/harvester/internal/provider/httpclient"
	"github.com/webharvest/harvester/internal/resilience"
	"github.com/webharvest/harvester/internal/router"
	"github.com/webharvest/harvester/internal/storage"
)

// Options carries the caller's per-request switches.
type Options struct {
	SaveMedia    bool
	OutputFormat content.OutputFormat
	ForcePersist bool
	Credentials  string
}

// LadderSource resolves a platform id (and target shape) to the ordered
// strategy ladder to attempt.
type LadderSource interface {
	Ladder(platform, target string) ([]content.Strategy, error)
}

// Config wires an Orchestrator.
type Config struct {
	Router           *router.Router
	Registry         LadderSource
	Engine           *resilience.Engine
	Cache            *cache.Adapter
	Client           *httpclient.Client
	History          history.Recorder
	Clock            content.Clock
	Logger           *zap.Logger
	CacheTTL         time.Duration
	BatchConcurrency int
}

// Orchestrator is the pipeline's public entry point.
type Orchestrator struct {
	cfg Config
}

// New builds an Orchestrator, filling in safe defaults for optional knobs.
func New(cfg Config) *Orchestrator {
	if cfg.History == nil {
		cfg.History = history.NoOp{}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 3
	}
	return &Orchestrator{cfg: cfg}
}

// TargetResult is one entry of a batch report.
type TargetResult struct {
	Target   string        `json:"target"`
	Platform string        `json:"platform,omitempty"`
	OK       bool          `json:"ok"`
	Reason   string        `json:"reason,omitempty"`
	Path     string        `json:"path,omitempty"`
	Duration time.Duration `json:"duration"`
}

// BatchReport aggregates the per-target outcomes of one batch call.
type BatchReport struct {
	JobID       string         `json:"job_id"`
	Results     []TargetResult `json:"results"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	SuccessRate float64        `json:"success_rate"`
}

// Fetch acquires one target and persists it under destination. It returns
// true only when a record was both acquired and persisted (or found fresh in
// the cache).
func (o *Orchestrator) Fetch(ctx context.Context, target, destination string, opts Options) bool {
	res := o.fetchOne(ctx, uuid.NewString(), target, destination, opts)
	return res.OK
}

// BatchFetch acquires every target with bounded concurrency and reports the
// per-target outcomes. A failing target never cancels its siblings; only
// caller cancellation stops the batch.
func (o *Orchestrator) BatchFetch(ctx context.Context, targets []string, destination string, opts Options) BatchReport {
	jobID := uuid.NewString()
	results := make([]TargetResult, len(targets))

	g := &errgroup.Group{}
	g.SetLimit(o.cfg.BatchConcurrency)
	for i, target := range targets {
		g.Go(func() error {
			results[i] = o.fetchOne(ctx, jobID, target, destination, opts)
			return nil
		})
	}
	_ = g.Wait()

	report := BatchReport{JobID: jobID, Results: results}
	for _, r := range results {
		if r.OK {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	if len(results) > 0 {
		report.SuccessRate = float64(report.Succeeded) / float64(len(results))
	}
	o.cfg.Logger.Info("batch finished",
		zap.String("job_id", jobID),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Float64("success_rate", report.SuccessRate),
	)
	return report
}

func (o *Orchestrator) fetchOne(ctx context.Context, jobID, target, destination string, opts Options) TargetResult {
	start := o.cfg.Clock.Now()
	res := o.acquireAndPersist(ctx, target, destination, opts)
	res.Duration = o.cfg.Clock.Now().Sub(start)

	outcome := "success"
	if !res.OK {
		outcome = res.Reason
	}
	metrics.ObserveAcquisition(res.Platform, outcome, res.Duration)

	if err := o.cfg.History.Record(ctx, history.Record{
		ID:         uuid.NewString(),
		JobID:      jobID,
		Target:     target,
		Platform:   res.Platform,
		Outcome:    outcome,
		Reason:     res.Reason,
		StorageDir: res.Path,
		Duration:   res.Duration,
		CreatedAt:  o.cfg.Clock.Now(),
	}); err != nil {
		o.cfg.Logger.Warn("history insert failed", zap.Error(err))
	}
	return res
}

func (o *Orchestrator) acquireAndPersist(ctx context.Context, target, destination string, opts Options) TargetResult {
	res := TargetResult{Target: target}

	platform, ok := o.cfg.Router.Identify(target)
	if !ok {
		res.Reason = "unsupported_target"
		o.cfg.Logger.Warn("no platform matches target", zap.String("target", target))
		return res
	}
	res.Platform = platform

	req := content.AcquisitionRequest{
		Target:       target,
		SaveMedia:    opts.SaveMedia,
		OutputFormat: opts.OutputFormat,
		ForcePersist: opts.ForcePersist,
		Credentials:  opts.Credentials,
	}

	key := cache.Key(platform, req)
	if !opts.ForcePersist {
		if raw, hit := o.cfg.Cache.Get(ctx, key); hit {
			metrics.ObserveCacheLookup(true)
			var cached content.ContentRecord
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				o.cfg.Logger.Info("served from cache",
					zap.String("platform", platform),
					zap.String("target", target),
				)
				res.OK = true
				res.Path = cached.StoragePath
				return res
			}
			// A corrupt entry falls through to a fresh acquisition.
			o.cfg.Logger.Warn("discarding undecodable cache entry", zap.String("key", key))
		}
		metrics.ObserveCacheLookup(false)
	}

	ladder, err := o.cfg.Registry.Ladder(platform, target)
	if err != nil {
		res.Reason = "unsupported_target"
		o.cfg.Logger.Warn("no strategy ladder", zap.String("platform", platform), zap.Error(err))
		return res
	}

	record, err := o.cfg.Engine.Execute(ctx, ladder, req)
	if err != nil {
		res.Reason = content.Classify(err).String()
		o.cfg.Logger.Error("acquisition failed",
			zap.String("platform", platform),
			zap.String("target", target),
			zap.String("reason", res.Reason),
			zap.Error(err),
		)
		return res
	}

	path, err := o.persist(ctx, platform, target, destination, opts, &record)
	if err != nil {
		res.Reason = content.Classify(err).String()
		o.cfg.Logger.Error("persist failed",
			zap.String("platform", platform),
			zap.String("target", target),
			zap.Error(err),
		)
		return res
	}
	record.StoragePath = path
	res.Path = path
	res.OK = true

	if encoded, err := json.Marshal(record); err == nil {
		o.cfg.Cache.Set(ctx, key, string(encoded), o.cfg.CacheTTL)
	}
	o.cfg.Logger.Info("acquired and persisted",
		zap.String("platform", platform),
		zap.String("target", target),
		zap.String("path", path),
	)
	return res
}

// persist writes the record under destination and returns the article
// directory. Individual media failures are logged and skipped; they never
// fail the persist.
func (o *Orchestrator) persist(ctx context.Context, platform, target, destination string, opts Options, record *content.ContentRecord) (string, error) {
	manager, err := storage.NewManager(destination, o.cfg.Clock, o.cfg.Logger)
	if err != nil {
		return "", err
	}
	handle, err := manager.Begin(platform, record.Title, target, record.Author)
	if err != nil {
		return "", err
	}
	if err := manager.WriteText(handle, record.BodyText); err != nil {
		return "", err
	}
	if opts.OutputFormat == content.FormatMarkdown && record.BodyMarkdown != "" {
		if err := manager.WriteMarkdown(handle, record.BodyMarkdown, record.Title, record.Author); err != nil {
			return "", err
		}
	}

	saved := make([]content.MediaReference, 0, len(record.Media))
	stagingDirs := make(map[string]struct{})
	imageIndex := 0
	for _, ref := range record.Media {
		switch {
		case ref.LocalPath != "":
			stagingDirs[filepath.Dir(ref.LocalPath)] = struct{}{}
			adopted, err := manager.AdoptMedia(handle, ref.LocalPath, ref.SourceURL, ref.AltText)
			if err != nil {
				o.cfg.Logger.Warn("adopting media file failed",
					zap.String("source", ref.SourceURL),
					zap.Error(err),
				)
				continue
			}
			saved = append(saved, adopted)
		case opts.SaveMedia:
			stored, err := o.downloadImage(ctx, manager, handle, ref, imageIndex)
			if err != nil {
				if content.Classify(err) == content.KindCancelled {
					return "", err
				}
				o.cfg.Logger.Warn("image download failed",
					zap.String("source", ref.SourceURL),
					zap.Error(err),
				)
				continue
			}
			metrics.ObserveMediaBytes(platform, len(stored.data))
			saved = append(saved, stored.ref)
			imageIndex++
		default:
			saved = append(saved, ref)
		}
	}
	record.Media = saved

	// Strategies stage materialized files in dedicated temp dirs. Once every
	// file is adopted the dir is empty; os.Remove refuses non-empty ones.
	for dir := range stagingDirs {
		_ = os.Remove(dir)
	}

	if err := manager.UpsertIndex(handle, strings.TrimSpace(record.BodyText)); err != nil {
		return "", err
	}
	return handle.Dir(), nil
}

type storedImage struct {
	ref  content.MediaReference
	data []byte
}

func (o *Orchestrator) downloadImage(ctx context.Context, manager *storage.Manager, handle *storage.Handle, ref content.MediaReference, index int) (storedImage, error) {
	resp, err := o.cfg.Client.Fetch(ctx, ref.SourceURL, http.Header{})
	if err != nil {
		return storedImage{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return storedImage{}, content.Transientf("image %s: status %d", ref.SourceURL, resp.StatusCode)
	}
	saved, err := manager.SaveMedia(handle, resp.Body, ref.SourceURL, ref.AltText, index)
	if err != nil {
		return storedImage{}, err
	}
	return storedImage{ref: saved, data: resp.Body}, nil
}
