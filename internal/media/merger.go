// Package media combines separately-fetched video and audio streams into one
// playable file via a three-tier capability ladder. No tier failing is fatal
// to an acquisition: the separately-downloaded streams always remain.
package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/abema/go-mp4"
	"go.uber.org/zap"
)

// Tier identifies which rung of the ladder produced the merged file.
type Tier string

// Merge tiers, in attempt order.
const (
	TierFFmpeg Tier = "ffmpeg"
	TierRemux  Tier = "remux"
	TierConcat Tier = "concat"
)

// Merger combines a video stream and an audio stream into one output file.
type Merger struct {
	logger *zap.Logger
	// lookPath is swappable in tests to simulate a host without ffmpeg.
	lookPath func(string) (string, error)
}

// NewMerger builds a Merger.
func NewMerger(logger *zap.Logger) *Merger {
	return &Merger{
		logger:   logger,
		lookPath: exec.LookPath,
	}
}

// Merge attempts each tier in order until one produces outPath. The returned
// Tier names the technique that succeeded. Only when every tier fails does
// Merge return an error, and even then the input streams are left untouched.
func (m *Merger) Merge(ctx context.Context, videoPath, audioPath, outPath string) (Tier, error) {
	if err := m.mergeFFmpeg(ctx, videoPath, audioPath, outPath); err == nil {
		return TierFFmpeg, nil
	} else if ctx.Err() != nil {
		return "", ctx.Err()
	} else {
		m.logger.Debug("ffmpeg merge unavailable, trying in-process remux", zap.Error(err))
	}

	if err := m.mergeRemux(videoPath, audioPath, outPath); err == nil {
		return TierRemux, nil
	} else {
		m.logger.Debug("in-process remux failed, falling back to concatenation", zap.Error(err))
	}

	if err := m.mergeConcat(videoPath, audioPath, outPath); err != nil {
		return "", fmt.Errorf("all merge tiers failed: %w", err)
	}
	m.logger.Warn("streams concatenated without multiplexing; playback compatibility is not guaranteed",
		zap.String("output", outPath),
	)
	return TierConcat, nil
}

// mergeFFmpeg shells out to the full-featured external multiplexer when it is
// present on the host.
func (m *Merger) mergeFFmpeg(ctx context.Context, videoPath, audioPath, outPath string) error {
	bin, err := m.lookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("ffmpeg not on PATH: %w", err)
	}
	cmd := exec.CommandContext(ctx, bin,
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "copy",
		outPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(outPath)
		return fmt.Errorf("ffmpeg merge: %w (%s)", err, truncate(out, 200))
	}
	return nil
}

// mergeRemux handles the one case solvable without re-multiplexing: probing
// shows the video container already carries an audio track, so the "merge" is
// a straight copy of a file that is already complete. Anything else needs
// real interleaving, which is ffmpeg's job.
func (m *Merger) mergeRemux(videoPath, _ string, outPath string) error {
	f, err := os.Open(videoPath)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	info, err := mp4.Probe(f)
	if err != nil {
		return fmt.Errorf("probe video container: %w", err)
	}
	hasAudio := false
	for _, track := range info.Tracks {
		if track.Codec == mp4.CodecMP4A {
			hasAudio = true
			break
		}
	}
	if !hasAudio {
		return fmt.Errorf("video container has no audio track, in-process interleaving unsupported")
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind video: %w", err)
	}
	return copyFile(f, outPath)
}

// mergeConcat guarantees some file is produced rather than leaving the user
// with nothing.
func (m *Merger) mergeConcat(videoPath, audioPath, outPath string) error {
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	for _, src := range []string{videoPath, audioPath} {
		f, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("open stream %s: %w", src, err)
		}
		_, err = io.Copy(out, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("append stream %s: %w", src, err)
		}
	}
	return nil
}

func copyFile(src io.Reader, dst string) error {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("copy container: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
