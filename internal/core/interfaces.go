// Package core defines the domain types and collaborator interfaces of the song service.
package core

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by an ObjectStore when the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, meta ObjectMeta) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]ObjectInfo, error)
	// Stat describes one object, or returns ErrObjectNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
}

// LyricsGenerator produces lyric text for a topic.
type LyricsGenerator interface {
	Generate(ctx context.Context, topic string) (string, error)
}

// TrackLocator returns one candidate reference track for a topic. Repeated calls
// may return different candidates, or the same one.
type TrackLocator interface {
	Find(ctx context.Context, topic string) (CandidateTrackRef, error)
}

// TrackResolver turns a candidate into a downloadable audio URL.
type TrackResolver interface {
	Resolve(ctx context.Context, ref CandidateTrackRef) (string, error)
}

// MediaGateway fetches remote bytes and persists assets behind public URLs.
type MediaGateway interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	Publish(ctx context.Context, key string, data []byte, opts PublishOptions) (string, error)
	Delete(ctx context.Context, key string) error
}

// MusicSynthesizer generates a song from lyrics conditioned on a reference asset.
type MusicSynthesizer interface {
	Synthesize(ctx context.Context, lyrics string, reference AudioAsset, params SynthesisParams) ([]byte, error)
}

// AudioProcessor applies pure transforms to encoded audio.
type AudioProcessor interface {
	Trim(ctx context.Context, data []byte, startSeconds, durationSeconds float64) ([]byte, error)
	Concat(ctx context.Context, parts [][]byte) ([]byte, error)
}

// DurationProber is implemented by processors that can measure an asset's length.
type DurationProber interface {
	Duration(ctx context.Context, data []byte) (float64, error)
}
