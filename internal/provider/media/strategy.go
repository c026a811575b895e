// Package media implements the media-asset acquisition strategy for video
// platforms. It resolves a video's detail and play information through the
// platform's JSON API, renders a summary record, and optionally downloads the
// separate video and audio streams and merges them into one file.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/webharvest/harvester/internal/content"
	merge "github.com/webharvest/harvester/internal/media"
	"github.com/webharvest/harvester/internal/provider/httpclient"
	"github.com/webharvest/harvester/internal/storage"
)

const (
	apiVideoDetail  = "https://api.bilibili.com/x/web-interface/view"
	apiVideoPlayURL = "https://api.bilibili.com/x/player/playurl"

	// 80 requests 1080P; the API silently serves the best quality the
	// session is entitled to.
	defaultQuality = 80
)

var videoIDPattern = regexp.MustCompile(`BV[a-zA-Z0-9]+`)

// Strategy acquires video metadata and, on request, the media itself.
type Strategy struct {
	platform string
	client   *httpclient.Client
	merger   *merge.Merger
	logger   *zap.Logger
	// workdir roots the per-acquisition stream workspaces. Empty means the
	// system temp dir.
	workdir string
}

// New builds a media Strategy for the given platform id.
func New(platform string, client *httpclient.Client, merger *merge.Merger, logger *zap.Logger) *Strategy {
	return &Strategy{
		platform: platform,
		client:   client,
		merger:   merger,
		logger:   logger,
	}
}

// Platform reports the platform id this strategy serves.
func (s *Strategy) Platform() string { return s.platform }

// apiEnvelope is the outer shape every JSON API endpoint shares.
type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type videoDetail struct {
	BVID     string `json:"bvid"`
	Title    string `json:"title"`
	Desc     string `json:"desc"`
	Duration int    `json:"duration"`
	CID      int64  `json:"cid"`
	Owner    struct {
		Name string `json:"name"`
	} `json:"owner"`
	Stat struct {
		View     int64 `json:"view"`
		Like     int64 `json:"like"`
		Coin     int64 `json:"coin"`
		Favorite int64 `json:"favorite"`
		Share    int64 `json:"share"`
		Reply    int64 `json:"reply"`
		Danmaku  int64 `json:"danmaku"`
	} `json:"stat"`
}

type playInfo struct {
	Dash *dashInfo    `json:"dash"`
	DURL []durlStream `json:"durl"`
}

type dashInfo struct {
	Video []dashStream `json:"video"`
	Audio []dashStream `json:"audio"`
}

type durlStream struct {
	URL string `json:"url"`
}

type dashStream struct {
	BaseURL string `json:"baseUrl"`
	AltURL  string `json:"base_url"`
}

func (d dashStream) url() string {
	if d.BaseURL != "" {
		return d.BaseURL
	}
	return d.AltURL
}

// Acquire resolves the video's detail record and, when SaveMedia is set,
// downloads the streams and runs the merge ladder. Merge failures are never
// fatal: the record still carries the raw stream files.
func (s *Strategy) Acquire(ctx context.Context, req content.AcquisitionRequest) (content.ContentRecord, error) {
	id := videoIDPattern.FindString(req.Target)
	if id == "" {
		return content.ContentRecord{}, content.Fatalf("no video id in target %q", req.Target)
	}

	var detail videoDetail
	if err := s.callAPI(ctx, apiVideoDetail+"?bvid="+id, req.Credentials, &detail); err != nil {
		return content.ContentRecord{}, err
	}

	record := content.ContentRecord{
		Title:        detail.Title,
		Author:       detail.Owner.Name,
		BodyText:     renderText(detail),
		BodyMarkdown: renderMarkdown(detail),
	}

	if req.SaveMedia {
		refs, err := s.fetchStreams(ctx, id, detail, req.Credentials)
		if err != nil {
			return content.ContentRecord{}, err
		}
		record.Media = refs
	}
	return record, nil
}

// fetchStreams resolves play info and materializes the media files under a
// temp directory. The orchestrator adopts them into the article directory.
func (s *Strategy) fetchStreams(ctx context.Context, id string, detail videoDetail, credentials string) ([]content.MediaReference, error) {
	playURL := fmt.Sprintf("%s?bvid=%s&cid=%d&qn=%d&fnval=16&fourk=1",
		apiVideoPlayURL, id, detail.CID, defaultQuality)

	var play playInfo
	if err := s.callAPI(ctx, playURL, credentials, &play); err != nil {
		return nil, err
	}
	return s.materialize(ctx, detail, play, credentials)
}

// materialize stages the stream files under a dedicated workspace. The
// workspace is removed when nothing usable came out of it; the success path
// leaves only the files the returned references point at, and the adopter
// removes the emptied directory.
func (s *Strategy) materialize(ctx context.Context, detail videoDetail, play playInfo, credentials string) ([]content.MediaReference, error) {
	dir, err := os.MkdirTemp(s.workdir, "harvester-video-*")
	if err != nil {
		return nil, content.Storagef("create stream workspace: %v", err)
	}

	var refs []content.MediaReference
	switch {
	case play.Dash != nil && len(play.Dash.Video) > 0 && len(play.Dash.Audio) > 0:
		refs, err = s.fetchDash(ctx, dir, detail, play, credentials)
	case len(play.DURL) > 0:
		refs, err = s.fetchDirect(ctx, dir, detail, play.DURL[0].URL, credentials)
	default:
		err = content.Structuralf("play info for %s carries no usable streams", detail.BVID)
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return refs, nil
}

func (s *Strategy) fetchDash(ctx context.Context, dir string, detail videoDetail, play playInfo, credentials string) ([]content.MediaReference, error) {
	// The first stream of each list is the best the session may have.
	videoURL := play.Dash.Video[0].url()
	audioURL := play.Dash.Audio[0].url()
	videoFile := filepath.Join(dir, "video.m4s")
	audioFile := filepath.Join(dir, "audio.m4s")

	headers := s.streamHeaders(credentials)
	videoBytes, err := s.client.Download(ctx, videoURL, headers, videoFile)
	if err != nil {
		return nil, err
	}
	audioBytes, err := s.client.Download(ctx, audioURL, headers, audioFile)
	if err != nil {
		return nil, err
	}
	s.logger.Info("downloaded media streams",
		zap.String("platform", s.platform),
		zap.Int64("video_bytes", videoBytes),
		zap.Int64("audio_bytes", audioBytes),
	)

	merged := filepath.Join(dir, storage.SafeFilename(detail.Title, 80)+".mp4")
	tier, err := s.merger.Merge(ctx, videoFile, audioFile, merged)
	if err != nil {
		if content.Classify(err) == content.KindCancelled {
			return nil, content.Cancelled(err)
		}
		// The sub-goal failed; keep the raw streams for the caller.
		s.logger.Warn("stream merge failed, retaining separate streams", zap.Error(err))
		return []content.MediaReference{
			{SourceURL: videoURL, LocalPath: videoFile, AltText: detail.Title + " (video stream)"},
			{SourceURL: audioURL, LocalPath: audioFile, AltText: detail.Title + " (audio stream)"},
		}, nil
	}
	s.logger.Info("merged media streams", zap.String("tier", string(tier)), zap.String("output", merged))
	// The raw streams served their purpose; only the merged file is kept.
	_ = os.Remove(videoFile)
	_ = os.Remove(audioFile)
	return []content.MediaReference{
		{SourceURL: videoURL, LocalPath: merged, AltText: detail.Title},
	}, nil
}

func (s *Strategy) fetchDirect(ctx context.Context, dir string, detail videoDetail, streamURL, credentials string) ([]content.MediaReference, error) {
	out := filepath.Join(dir, storage.SafeFilename(detail.Title, 80)+".flv")
	if _, err := s.client.Download(ctx, streamURL, s.streamHeaders(credentials), out); err != nil {
		return nil, err
	}
	return []content.MediaReference{
		{SourceURL: streamURL, LocalPath: out, AltText: detail.Title},
	}, nil
}

// callAPI fetches one JSON endpoint and unwraps the envelope into target.
func (s *Strategy) callAPI(ctx context.Context, url, credentials string, target any) error {
	resp, err := s.client.Fetch(ctx, url, s.streamHeaders(credentials))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		if content.ClassifyStatus(resp.StatusCode) == content.KindTransient {
			return content.Transientf("api %s: status %d", url, resp.StatusCode)
		}
		return content.Structuralf("api %s: status %d", url, resp.StatusCode)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return content.Structuralf("api %s: decode envelope: %v", url, err)
	}
	if envelope.Code != 0 {
		// Code -412 is the platform's request-blocked answer, worth a retry
		// with fresh timing; everything else means the call itself is wrong.
		if envelope.Code == -412 {
			return content.Transientf("api %s: blocked (code %d: %s)", url, envelope.Code, envelope.Message)
		}
		return content.Structuralf("api %s: code %d: %s", url, envelope.Code, envelope.Message)
	}
	if err := json.Unmarshal(envelope.Data, target); err != nil {
		return content.Structuralf("api %s: decode payload: %v", url, err)
	}
	return nil
}

// streamHeaders carries the referer the CDN demands plus session cookies.
func (s *Strategy) streamHeaders(credentials string) http.Header {
	h := http.Header{}
	h.Set("Referer", "https://www.bilibili.com")
	h.Set("Origin", "https://www.bilibili.com")
	h.Set("Accept", "application/json, text/plain, */*")
	if credentials != "" {
		h.Set("Cookie", credentials)
	}
	return h
}

func renderText(d videoDetail) string {
	lines := []string{
		"Title: " + d.Title,
		"ID: " + d.BVID,
		"Uploader: " + d.Owner.Name,
		fmt.Sprintf("Duration: %ds", d.Duration),
		fmt.Sprintf("Views: %d", d.Stat.View),
		fmt.Sprintf("Likes: %d", d.Stat.Like),
		fmt.Sprintf("Favorites: %d", d.Stat.Favorite),
		fmt.Sprintf("Shares: %d", d.Stat.Share),
		fmt.Sprintf("Comments: %d", d.Stat.Reply),
		"",
		"Description:",
		d.Desc,
	}
	return strings.Join(lines, "\n")
}

func renderMarkdown(d videoDetail) string {
	desc := d.Desc
	if desc == "" {
		desc = "(no description)"
	}
	lines := []string{
		"# " + d.Title,
		"",
		"**Uploader:** " + d.Owner.Name,
		"**ID:** `" + d.BVID + "`",
		fmt.Sprintf("**Duration:** %ds", d.Duration),
		"",
		"## Statistics",
		"",
		fmt.Sprintf("- Views: %d", d.Stat.View),
		fmt.Sprintf("- Likes: %d", d.Stat.Like),
		fmt.Sprintf("- Coins: %d", d.Stat.Coin),
		fmt.Sprintf("- Favorites: %d", d.Stat.Favorite),
		fmt.Sprintf("- Shares: %d", d.Stat.Share),
		fmt.Sprintf("- Comments: %d", d.Stat.Reply),
		fmt.Sprintf("- Danmaku: %d", d.Stat.Danmaku),
		"",
		"## Description",
		"",
		desc,
	}
	return strings.Join(lines, "\n")
}
