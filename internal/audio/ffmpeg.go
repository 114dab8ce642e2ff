// Package audio trims, concatenates and probes encoded audio by calling the
// ffmpeg and ffprobe binaries. Every transform uses stream copy, so output
// depends only on the input bytes and the requested window.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/song-service/internal/core"
)

const (
	filePermissions = 0o600
	partFileFormat  = "part_%04d.mp3"
	listFileName    = "parts.txt"
	outputFileName  = "output.mp3"
	inputFileName   = "input.mp3"
)

var (
	// ErrNoParts indicates that Concat was called without input.
	ErrNoParts = errors.New("no audio parts to concatenate")
	// ErrInvalidWindow indicates a negative start or a non-positive duration.
	ErrInvalidWindow = errors.New("invalid trim window")
	// ErrEmptyInput indicates an empty audio buffer.
	ErrEmptyInput = errors.New("audio input is empty")
	// ErrEmptyOutput indicates that ffmpeg produced no bytes.
	ErrEmptyOutput = errors.New("ffmpeg produced empty output")
)

// FFmpegProcessor implements core.AudioProcessor and core.DurationProber.
type FFmpegProcessor struct {
	ffmpegPath  string
	ffprobePath string
	log         *logger.Logger
}

// NewFFmpegProcessor creates a processor using the given binaries.
func NewFFmpegProcessor(ffmpegPath, ffprobePath string, log *logger.Logger) *FFmpegProcessor {
	return &FFmpegProcessor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		log:         log,
	}
}

// Trim returns the [startSeconds, startSeconds+durationSeconds) window of data.
func (p *FFmpegProcessor) Trim(ctx context.Context, data []byte, startSeconds, durationSeconds float64) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	if startSeconds < 0 || durationSeconds <= 0 {
		return nil, fmt.Errorf("%w: start %.2f duration %.2f", ErrInvalidWindow, startSeconds, durationSeconds)
	}

	workDir, cleanup, err := p.workDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	inputPath := filepath.Join(workDir, inputFileName)

	err = os.WriteFile(inputPath, data, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to write trim input: %w", err)
	}

	outputPath := filepath.Join(workDir, outputFileName)
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", inputPath,
		"-ss", formatSeconds(startSeconds),
		"-t", formatSeconds(durationSeconds),
		"-map_metadata", "-1",
		"-c", "copy",
		outputPath,
	}

	return p.runFFmpeg(ctx, args, outputPath)
}

// Concat joins parts in the given order without re-encoding.
func (p *FFmpegProcessor) Concat(ctx context.Context, parts [][]byte) ([]byte, error) {
	if len(parts) == 0 {
		return nil, ErrNoParts
	}

	workDir, cleanup, err := p.workDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var list strings.Builder

	for index, part := range parts {
		if len(part) == 0 {
			return nil, fmt.Errorf("%w: part %d", ErrEmptyInput, index)
		}

		partPath := filepath.Join(workDir, fmt.Sprintf(partFileFormat, index))

		writeErr := os.WriteFile(partPath, part, filePermissions)
		if writeErr != nil {
			return nil, fmt.Errorf("failed to write part %d: %w", index, writeErr)
		}

		fmt.Fprintf(&list, "file '%s'\n", partPath)
	}

	listPath := filepath.Join(workDir, listFileName)

	err = os.WriteFile(listPath, []byte(list.String()), filePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to write concat list: %w", err)
	}

	outputPath := filepath.Join(workDir, outputFileName)
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-map_metadata", "-1",
		"-c", "copy",
		outputPath,
	}

	return p.runFFmpeg(ctx, args, outputPath)
}

// Duration returns the length of data in seconds.
func (p *FFmpegProcessor) Duration(ctx context.Context, data []byte) (float64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyInput
	}

	workDir, cleanup, err := p.workDir()
	if err != nil {
		return 0, err
	}
	defer cleanup()

	inputPath := filepath.Join(workDir, inputFileName)

	err = os.WriteFile(inputPath, data, filePermissions)
	if err != nil {
		return 0, fmt.Errorf("failed to write probe input: %w", err)
	}

	// #nosec G204 -- binary path comes from trusted configuration
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe execution failed: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe duration %q: %w", string(output), err)
	}

	return seconds, nil
}

func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string, outputPath string) ([]byte, error) {
	// #nosec G204 -- binary path comes from trusted configuration, arguments are built here
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary execution failed: %w - output: %s", err, string(output))
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ffmpeg output: %w", err)
	}

	if len(data) == 0 {
		return nil, ErrEmptyOutput
	}

	return data, nil
}

func (p *FFmpegProcessor) workDir() (string, func(), error) {
	dir, err := os.MkdirTemp("", "song-audio-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir for audio processing: %w", err)
	}

	cleanup := func() {
		removeErr := os.RemoveAll(dir)
		if removeErr != nil {
			p.log.Warn("Failed to remove temp dir '%s': %v", dir, removeErr)
		}
	}

	return dir, cleanup, nil
}

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 3, 64)
}

var (
	_ core.AudioProcessor = (*FFmpegProcessor)(nil)
	_ core.DurationProber = (*FFmpegProcessor)(nil)
)
