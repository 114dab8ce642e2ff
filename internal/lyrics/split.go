package lyrics

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSegmentCount indicates a non-positive number of segments.
	ErrSegmentCount = errors.New("segment count must be positive")
	// ErrTooFewLines indicates that the lyrics cannot fill every segment.
	ErrTooFewLines = errors.New("not enough lyric lines for the requested segments")
)

// NonBlankLines returns the lines of text that contain something other than whitespace,
// in order, with trailing whitespace removed.
func NonBlankLines(text string) []string {
	rawLines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(rawLines))

	for _, line := range rawLines {
		trimmed := strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}

		lines = append(lines, trimmed)
	}

	return lines
}

// Split divides the non-blank lines of text into exactly n ordered groups.
// Every group but the last holds len/n lines; the last absorbs the remainder.
// The result depends only on text and n.
func Split(text string, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrSegmentCount, n)
	}

	lines := NonBlankLines(text)

	base := len(lines) / n
	if base == 0 {
		return nil, fmt.Errorf("%w: %d lines for %d segments", ErrTooFewLines, len(lines), n)
	}

	segments := make([]string, n)

	for index := range n {
		start := index * base

		end := start + base
		if index == n-1 {
			end = len(lines)
		}

		segments[index] = strings.Join(lines[start:end], "\n")
	}

	return segments, nil
}
