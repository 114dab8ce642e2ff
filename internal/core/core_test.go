// Package core_test tests the domain types of the song service.
package core_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/book-expert/song-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptBudget_Spend(t *testing.T) {
	t.Parallel()

	budget := core.NewAttemptBudget(2)

	assert.Equal(t, 2, budget.Remaining())
	assert.True(t, budget.Spend())
	assert.True(t, budget.Spend())
	assert.False(t, budget.Spend(), "an exhausted budget must refuse further attempts")
	assert.Equal(t, 2, budget.AttemptsUsed)
	assert.True(t, budget.Exhausted())
	assert.Equal(t, 0, budget.Remaining())
}

func TestAttemptBudget_ZeroIsExhausted(t *testing.T) {
	t.Parallel()

	budget := core.NewAttemptBudget(0)

	assert.True(t, budget.Exhausted())
	assert.False(t, budget.Spend())
}

func TestSizeWindow_Contains(t *testing.T) {
	t.Parallel()

	window := core.SizeWindow{Min: 10, Max: 20}

	assert.False(t, window.Contains(9))
	assert.True(t, window.Contains(10))
	assert.True(t, window.Contains(20))
	assert.False(t, window.Contains(21))

	unbounded := core.SizeWindow{Min: 1, Max: 0}
	assert.True(t, unbounded.Contains(1<<40))
	assert.False(t, unbounded.Contains(0))
}

func TestFailure_WrapsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	failure := core.NewFailure(core.ReasonSynthesisFailure, "synthesis failed", cause)
	wrapped := fmt.Errorf("outer: %w", failure)

	got, ok := core.AsFailure(wrapped)
	require.True(t, ok)
	assert.Equal(t, core.ReasonSynthesisFailure, got.Reason)
	require.ErrorIs(t, wrapped, cause)
	assert.False(t, got.Timestamp.IsZero())
	assert.Contains(t, failure.Error(), "SynthesisFailure")
}

func TestSuccess_SongURL(t *testing.T) {
	t.Parallel()

	single := &core.Success{GeneratedURLs: []string{"a"}}
	assert.Equal(t, "a", single.SongURL())

	chunked := &core.Success{GeneratedURLs: []string{"a", "b"}, CombinedURL: "c"}
	assert.Equal(t, "c", chunked.SongURL())

	assert.True(t, core.Succeeded(single).OK())
	assert.False(t, core.Failed(core.NewFailure(core.ReasonCancelled, "x", nil)).OK())
}

func TestObjectInfo_HasTag(t *testing.T) {
	t.Parallel()

	info := core.ObjectInfo{Key: "k", Tags: []string{"x", core.AutoDeleteTag}}

	assert.True(t, info.HasTag(core.AutoDeleteTag))
	assert.False(t, info.HasTag("y"))
}

func TestNewResponse(t *testing.T) {
	t.Parallel()

	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	chunked := core.NewResponse(core.Succeeded(&core.Success{
		SongID:        "abc",
		Lyrics:        "la",
		OriginalURL:   "ref",
		GeneratedURLs: []string{"p0", "p1"},
		CombinedURL:   "all",
		Timestamp:     stamp,
	}))

	assert.Equal(t, core.StatusSuccess, chunked.Status)
	require.NotNil(t, chunked.Data)
	assert.Equal(t, "all", chunked.Data.GeneratedAudio)
	assert.Equal(t, []string{"p0", "p1"}, chunked.Data.ChunkAudio)
	assert.Equal(t, "2026-01-02T03:04:05Z", chunked.Data.Timestamp)

	single := core.NewResponse(core.Succeeded(&core.Success{SongID: "x", GeneratedURLs: []string{"only"}, Timestamp: stamp}))
	assert.Equal(t, "only", single.Data.GeneratedAudio)
	assert.Nil(t, single.Data.ChunkAudio)

	failed := core.NewResponse(core.Failed(core.NewFailure(core.ReasonPublishFailure, "store down", nil)))
	assert.Equal(t, core.StatusError, failed.Status)
	assert.Nil(t, failed.Data)
	assert.Equal(t, core.ReasonPublishFailure, failed.Reason)
	assert.Equal(t, "store down", failed.Error)
	assert.NotEmpty(t, failed.Timestamp)
}
