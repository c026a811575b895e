package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeStream(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestMergeFallsBackToConcat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	video := writeStream(t, dir, "video.m4s", []byte("VIDEO-BYTES-"))
	audio := writeStream(t, dir, "audio.m4s", []byte("AUDIO-BYTES"))
	out := filepath.Join(dir, "merged.mp4")

	m := NewMerger(zap.NewNop())
	// Simulate a host without the external multiplexer. The streams are not
	// valid containers either, so the in-process tier fails too.
	m.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	tier, err := m.Merge(context.Background(), video, audio, out)
	require.NoError(t, err)
	require.Equal(t, TierConcat, tier)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "VIDEO-BYTES-AUDIO-BYTES", string(data), "concat appends audio after video")

	// The input streams survive all tiers.
	require.FileExists(t, video)
	require.FileExists(t, audio)
}

func TestMergeConcatOrderIsVideoFirst(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	video := writeStream(t, dir, "v", []byte{1, 2})
	audio := writeStream(t, dir, "a", []byte{3, 4})
	out := filepath.Join(dir, "out")

	m := NewMerger(zap.NewNop())
	require.NoError(t, m.mergeConcat(video, audio, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, data)
}

func TestMergeMissingStreamFailsAllTiers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	video := writeStream(t, dir, "video.m4s", []byte("x"))

	m := NewMerger(zap.NewNop())
	m.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	_, err := m.Merge(context.Background(), video, filepath.Join(dir, "missing"), filepath.Join(dir, "out"))
	require.Error(t, err)
}

func TestRemuxRejectsNonContainerInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	video := writeStream(t, dir, "video.m4s", []byte("definitely not ISO BMFF"))

	m := NewMerger(zap.NewNop())
	err := m.mergeRemux(video, "", filepath.Join(dir, "out"))
	require.Error(t, err)
}
