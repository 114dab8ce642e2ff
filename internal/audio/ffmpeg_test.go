// Package audio_test tests the ffmpeg-backed audio processor.
package audio_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/song-service/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

// requireTools skips the test when ffmpeg or ffprobe are not installed.
func requireTools(t *testing.T) {
	t.Helper()

	for _, tool := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available: %v", tool, err)
		}
	}
}

// sineMP3 renders a tone of the given length with ffmpeg's lavfi source.
func sineMP3(t *testing.T, seconds string) []byte {
	t.Helper()

	outputPath := filepath.Join(t.TempDir(), "sine.mp3")
	cmd := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error", "-y",
		"-f", "lavfi", "-i", "sine=frequency=440:duration="+seconds,
		"-c:a", "libmp3lame", "-b:a", "128k", outputPath)

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, string(output))

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)

	return data
}

func TestFFmpegProcessor_InputValidation(t *testing.T) {
	t.Parallel()

	processor := audio.NewFFmpegProcessor("ffmpeg", "ffprobe", createTestLogger(t))
	ctx := context.Background()

	_, err := processor.Trim(ctx, nil, 0, 10)
	require.ErrorIs(t, err, audio.ErrEmptyInput)

	_, err = processor.Trim(ctx, []byte("x"), -1, 10)
	require.ErrorIs(t, err, audio.ErrInvalidWindow)

	_, err = processor.Trim(ctx, []byte("x"), 0, 0)
	require.ErrorIs(t, err, audio.ErrInvalidWindow)

	_, err = processor.Concat(ctx, nil)
	require.ErrorIs(t, err, audio.ErrNoParts)

	_, err = processor.Concat(ctx, [][]byte{[]byte("x"), nil})
	require.ErrorIs(t, err, audio.ErrEmptyInput)

	_, err = processor.Duration(ctx, nil)
	require.ErrorIs(t, err, audio.ErrEmptyInput)
}

func TestFFmpegProcessor_MissingBinary(t *testing.T) {
	t.Parallel()

	processor := audio.NewFFmpegProcessor("/nonexistent/ffmpeg", "/nonexistent/ffprobe", createTestLogger(t))

	_, err := processor.Trim(context.Background(), []byte("data"), 0, 5)
	require.Error(t, err)

	_, err = processor.Duration(context.Background(), []byte("data"))
	require.Error(t, err)
}

func TestFFmpegProcessor_TrimIsDeterministic(t *testing.T) {
	t.Parallel()
	requireTools(t)

	processor := audio.NewFFmpegProcessor("ffmpeg", "ffprobe", createTestLogger(t))
	ctx := context.Background()
	source := sineMP3(t, "6")

	first, err := processor.Trim(ctx, source, 1, 3)
	require.NoError(t, err)

	second, err := processor.Trim(ctx, source, 1, 3)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Less(t, len(first), len(source))

	seconds, err := processor.Duration(ctx, first)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, seconds, 0.2)
}

func TestFFmpegProcessor_ConcatSumsDurations(t *testing.T) {
	t.Parallel()
	requireTools(t)

	processor := audio.NewFFmpegProcessor("ffmpeg", "ffprobe", createTestLogger(t))
	ctx := context.Background()
	short := sineMP3(t, "1")
	long := sineMP3(t, "2")

	joined, err := processor.Concat(ctx, [][]byte{short, long})
	require.NoError(t, err)

	seconds, err := processor.Duration(ctx, joined)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, seconds, 0.2)
}
