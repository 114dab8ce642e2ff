package core

import (
	"slices"
	"time"
)

// AutoDeleteTag marks an asset for removal by the periodic purge.
const AutoDeleteTag = "auto_delete"

// GenerationRequest is the inbound request of one pipeline run.
type GenerationRequest struct {
	ID    string
	Topic string
}

// CandidateTrackRef names one externally hosted track.
type CandidateTrackRef struct {
	ID    string
	Title string
}

// AudioAsset is a downloaded and validated reference track.
type AudioAsset struct {
	SourceURL       string
	Data            []byte
	SizeBytes       int64
	DurationSeconds float64
	PublishedURL    string
}

// SizeWindow is the inclusive [Min, Max] byte range an AudioAsset must fall into.
// A zero Max means no upper bound.
type SizeWindow struct {
	Min int64
	Max int64
}

// Contains reports whether size lies within the window.
func (w SizeWindow) Contains(size int64) bool {
	if size < w.Min {
		return false
	}

	if w.Max > 0 && size > w.Max {
		return false
	}

	return true
}

// AttemptBudget bounds how many acquisition attempts a request may use.
type AttemptBudget struct {
	MaxAttempts  int
	AttemptsUsed int
}

// NewAttemptBudget returns a fresh budget of maxAttempts.
func NewAttemptBudget(maxAttempts int) AttemptBudget {
	return AttemptBudget{MaxAttempts: maxAttempts, AttemptsUsed: 0}
}

// Spend consumes one attempt. It returns false, without consuming, once the budget is exhausted.
func (b *AttemptBudget) Spend() bool {
	if b.Exhausted() {
		return false
	}

	b.AttemptsUsed++

	return true
}

// Exhausted reports whether no attempts remain.
func (b *AttemptBudget) Exhausted() bool {
	return b.AttemptsUsed >= b.MaxAttempts
}

// Remaining returns the number of unused attempts.
func (b *AttemptBudget) Remaining() int {
	if b.Exhausted() {
		return 0
	}

	return b.MaxAttempts - b.AttemptsUsed
}

// SynthesisParams restricts synthesis to a window of the reference asset.
// A zero DurationSeconds means the whole reference is used.
type SynthesisParams struct {
	StartOffsetSeconds float64
	DurationSeconds    float64
}

// Windowed reports whether the params select a sub-range of the reference.
func (p SynthesisParams) Windowed() bool {
	return p.StartOffsetSeconds > 0 || p.DurationSeconds > 0
}

// AudioChunkResult is one synthesized segment of a chunked run.
type AudioChunkResult struct {
	Index              int
	Audio              []byte
	PublishedURL       string
	StartOffsetSeconds float64
}

// PublishOptions controls how an asset is stored.
type PublishOptions struct {
	ContentType string
	Tags        []string
	Retention   time.Duration
}

// ObjectMeta is the metadata stored alongside an object. A zero Retention
// leaves the expiry to the purger's default window.
type ObjectMeta struct {
	ContentType string
	Tags        []string
	Retention   time.Duration
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key       string
	Size      int64
	Tags      []string
	Retention time.Duration
	CreatedAt time.Time
}

// HasTag reports whether the object carries tag.
func (o ObjectInfo) HasTag(tag string) bool {
	return slices.Contains(o.Tags, tag)
}
