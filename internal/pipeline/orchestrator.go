// Package pipeline drives one song generation run from topic to published audio.
//
// A run is strictly sequential: lyrics, reference acquisition, synthesis and
// publication each consume the previous step's output. Every error is turned
// into a core.Failure carrying a stable reason, so callers always receive a
// complete Success or a tagged Failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/song-service/internal/core"
	"github.com/book-expert/song-service/internal/lyrics"
	"github.com/book-expert/song-service/internal/metrics"
	"github.com/google/uuid"
)

// Strategy selects how lyrics are turned into audio.
type Strategy string

// Generation strategies.
const (
	StrategySingle  Strategy = "single"
	StrategyChunked Strategy = "chunked"
)

// Stage names used for metrics.
const (
	stageLyrics      = "lyrics"
	stageAcquisition = "acquisition"
	stageSynthesis   = "synthesis"
	stagePublish     = "publish"
	stageConcat      = "concat"
)

// Object key layout.
const (
	referenceKeyFormat = "reference_%s.mp3"
	songKeyFormat      = "song_%s.mp3"
	chunkKeyFormat     = "song_%s_part%d.mp3"
)

// Log messages.
const (
	logRunStart      = "Run %s: generating %s song for topic '%s'"
	logRunSucceeded  = "Run %s: succeeded in %s, song at %s"
	logRunFailed     = "Run %s: failed with %s after %s: %v"
	logChunkDone     = "Run %s: chunk %d/%d published at %s"
	logRollbackError = "Run %s: failed to remove published asset '%s': %v"
)

// ErrUnknownStrategy indicates a strategy other than single or chunked.
var ErrUnknownStrategy = errors.New("unknown generation strategy")

// Acquirer obtains a validated reference track within an attempt budget.
type Acquirer interface {
	Acquire(ctx context.Context, topic string, budget *core.AttemptBudget) (core.AudioAsset, error)
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Lyrics      core.LyricsGenerator
	Acquirer    Acquirer
	Synthesizer core.MusicSynthesizer
	Gateway     core.MediaGateway
	Processor   core.AudioProcessor
	Metrics     *metrics.Collector
}

// Options configures an Orchestrator.
type Options struct {
	Strategy       Strategy
	ChunkCount     int
	SegmentSeconds float64
	MaxAttempts    int
	Retention      time.Duration
	// CallTimeout bounds each lyrics, publish and concat call. Zero disables the bound.
	CallTimeout time.Duration
	// SynthTimeout bounds each synthesis call. Zero disables the bound.
	SynthTimeout time.Duration
}

// Orchestrator runs generation requests. It holds no per-request state and is
// safe for concurrent use.
type Orchestrator struct {
	deps  Dependencies
	opts  Options
	log   *logger.Logger
	newID func() string
	now   func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Dependencies, opts Options, log *logger.Logger) (*Orchestrator, error) {
	if opts.Strategy != StrategySingle && opts.Strategy != StrategyChunked {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, opts.Strategy)
	}

	return &Orchestrator{
		deps:  deps,
		opts:  opts,
		log:   log,
		newID: uuid.NewString,
		now:   time.Now,
	}, nil
}

// Strategy returns the configured strategy.
func (o *Orchestrator) Strategy() Strategy {
	return o.opts.Strategy
}

// Generate runs a new request for topic.
func (o *Orchestrator) Generate(ctx context.Context, topic string) core.Outcome {
	return o.Run(ctx, core.GenerationRequest{ID: o.newID(), Topic: topic})
}

// Run executes req and returns its terminal outcome. On failure every asset the
// run already published is removed on a best-effort basis.
func (o *Orchestrator) Run(ctx context.Context, req core.GenerationRequest) core.Outcome {
	if req.ID == "" {
		req.ID = o.newID()
	}

	started := o.now()
	state := &run{orchestrator: o, req: req, published: nil}

	o.log.Info(logRunStart, req.ID, o.opts.Strategy, req.Topic)

	success, failure := state.execute(ctx)
	elapsed := o.now().Sub(started)

	if failure != nil {
		o.log.Error(logRunFailed, req.ID, failure.Reason, elapsed, failure)
		state.rollback(ctx)
		o.deps.Metrics.RecordGeneration(string(o.opts.Strategy), string(failure.Reason), elapsed)

		return core.Failed(failure)
	}

	o.log.Info(logRunSucceeded, req.ID, elapsed, success.SongURL())
	o.deps.Metrics.RecordGeneration(string(o.opts.Strategy), metrics.OutcomeSuccess, elapsed)

	return core.Succeeded(success)
}

// run is the state of one request; it is never shared.
type run struct {
	orchestrator *Orchestrator
	req          core.GenerationRequest
	published    []string
}

func (r *run) execute(ctx context.Context) (*core.Success, *core.Failure) {
	o := r.orchestrator

	topic := strings.TrimSpace(r.req.Topic)
	if topic == "" {
		return nil, core.NewFailure(core.ReasonInvalidRequest, "topic cannot be empty", nil)
	}

	text, failure := r.fetchLyrics(ctx, topic)
	if failure != nil {
		return nil, failure
	}

	reference, failure := r.acquire(ctx, topic)
	if failure != nil {
		return nil, failure
	}

	originalURL, failure := r.publish(ctx, fmt.Sprintf(referenceKeyFormat, r.req.ID), reference.Data)
	if failure != nil {
		return nil, failure
	}

	reference.PublishedURL = originalURL

	success := &core.Success{
		SongID:        r.req.ID,
		Lyrics:        text,
		OriginalURL:   originalURL,
		GeneratedURLs: nil,
		CombinedURL:   "",
		Timestamp:     time.Time{},
	}

	switch o.opts.Strategy {
	case StrategySingle:
		failure = r.single(ctx, text, reference, success)
	case StrategyChunked:
		failure = r.chunked(ctx, text, reference, success)
	}

	if failure != nil {
		return nil, failure
	}

	success.Timestamp = o.now().UTC()

	return success, nil
}

func (r *run) fetchLyrics(ctx context.Context, topic string) (string, *core.Failure) {
	o := r.orchestrator

	if failure := cancelled(ctx); failure != nil {
		return "", failure
	}

	started := o.now()
	text, err := withTimeout(ctx, o.opts.CallTimeout, func(callCtx context.Context) (string, error) {
		return o.deps.Lyrics.Generate(callCtx, topic)
	})

	o.deps.Metrics.ObserveStage(stageLyrics, o.now().Sub(started))

	if err != nil {
		return "", tag(ctx, core.ReasonLyricsUnavailable, "lyrics generation failed", err)
	}

	if len(lyrics.NonBlankLines(text)) == 0 {
		return "", core.NewFailure(core.ReasonLyricsUnavailable, "lyrics generator returned no lines", nil)
	}

	return text, nil
}

func (r *run) acquire(ctx context.Context, topic string) (core.AudioAsset, *core.Failure) {
	o := r.orchestrator

	if failure := cancelled(ctx); failure != nil {
		return core.AudioAsset{}, failure
	}

	budget := core.NewAttemptBudget(o.opts.MaxAttempts)
	started := o.now()

	asset, err := o.deps.Acquirer.Acquire(ctx, topic, &budget)

	o.deps.Metrics.ObserveStage(stageAcquisition, o.now().Sub(started))
	o.deps.Metrics.ObserveAcquisitionAttempts(budget.AttemptsUsed)

	if err != nil {
		message := fmt.Sprintf("no suitable reference track after %d of %d attempts", budget.AttemptsUsed, budget.MaxAttempts)

		return core.AudioAsset{}, tag(ctx, core.ReasonNoSuitableReference, message, err)
	}

	return asset, nil
}

func (r *run) single(ctx context.Context, text string, reference core.AudioAsset, success *core.Success) *core.Failure {
	audio, err := r.synthesize(ctx, text, reference, core.SynthesisParams{})
	if err != nil {
		return tag(ctx, core.ReasonSynthesisFailure, "music synthesis failed", err)
	}

	songURL, failure := r.publish(ctx, fmt.Sprintf(songKeyFormat, r.req.ID), audio)
	if failure != nil {
		return failure
	}

	success.GeneratedURLs = []string{songURL}

	return nil
}

func (r *run) chunked(ctx context.Context, text string, reference core.AudioAsset, success *core.Success) *core.Failure {
	o := r.orchestrator
	count := o.opts.ChunkCount

	segments, err := lyrics.Split(text, count)
	if err != nil {
		return core.NewFailure(core.ReasonLyricsUnavailable, fmt.Sprintf("lyrics cannot be split into %d segments", count), err)
	}

	chunks := make([]core.AudioChunkResult, 0, count)

	for index, segment := range segments {
		offset := float64(index) * o.opts.SegmentSeconds
		params := core.SynthesisParams{StartOffsetSeconds: offset, DurationSeconds: o.opts.SegmentSeconds}

		audio, synthErr := r.synthesize(ctx, segment, reference, params)
		if synthErr != nil {
			reason := core.ReasonPartialGenerationFailure
			if count == 1 {
				reason = core.ReasonSynthesisFailure
			}

			message := fmt.Sprintf("synthesis of chunk %d/%d failed", index+1, count)

			return tag(ctx, reason, message, synthErr)
		}

		chunkURL, failure := r.publish(ctx, fmt.Sprintf(chunkKeyFormat, r.req.ID, index), audio)
		if failure != nil {
			return failure
		}

		o.log.Info(logChunkDone, r.req.ID, index+1, count, chunkURL)

		chunks = append(chunks, core.AudioChunkResult{
			Index:              index,
			Audio:              audio,
			PublishedURL:       chunkURL,
			StartOffsetSeconds: offset,
		})
	}

	combined, failure := r.concat(ctx, chunks)
	if failure != nil {
		return failure
	}

	combinedURL, failure := r.publish(ctx, fmt.Sprintf(songKeyFormat, r.req.ID), combined)
	if failure != nil {
		return failure
	}

	success.GeneratedURLs = chunkURLs(chunks)
	success.CombinedURL = combinedURL

	return nil
}

// concat joins chunks in ascending index order.
func (r *run) concat(ctx context.Context, chunks []core.AudioChunkResult) ([]byte, *core.Failure) {
	o := r.orchestrator

	if failure := cancelled(ctx); failure != nil {
		return nil, failure
	}

	ordered := orderedAudio(chunks)
	started := o.now()

	combined, err := withTimeout(ctx, o.opts.CallTimeout, func(callCtx context.Context) ([]byte, error) {
		return o.deps.Processor.Concat(callCtx, ordered)
	})

	o.deps.Metrics.ObserveStage(stageConcat, o.now().Sub(started))

	if err != nil {
		return nil, tag(ctx, core.ReasonSynthesisFailure, "concatenating chunks failed", err)
	}

	return combined, nil
}

func (r *run) synthesize(
	ctx context.Context,
	text string,
	reference core.AudioAsset,
	params core.SynthesisParams,
) ([]byte, error) {
	o := r.orchestrator

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("synthesis not started: %w", err)
	}

	started := o.now()
	audio, err := withTimeout(ctx, o.opts.SynthTimeout, func(callCtx context.Context) ([]byte, error) {
		return o.deps.Synthesizer.Synthesize(callCtx, text, reference, params)
	})

	o.deps.Metrics.ObserveStage(stageSynthesis, o.now().Sub(started))

	return audio, err
}

func (r *run) publish(ctx context.Context, key string, data []byte) (string, *core.Failure) {
	o := r.orchestrator

	if failure := cancelled(ctx); failure != nil {
		return "", failure
	}

	opts := core.PublishOptions{
		ContentType: "",
		Tags:        []string{core.AutoDeleteTag},
		Retention:   o.opts.Retention,
	}

	started := o.now()
	publicURL, err := withTimeout(ctx, o.opts.CallTimeout, func(callCtx context.Context) (string, error) {
		return o.deps.Gateway.Publish(callCtx, key, data, opts)
	})

	o.deps.Metrics.ObserveStage(stagePublish, o.now().Sub(started))

	if err != nil {
		return "", tag(ctx, core.ReasonPublishFailure, fmt.Sprintf("publishing %s failed", key), err)
	}

	r.published = append(r.published, key)

	return publicURL, nil
}

// rollback removes what the run published. It runs after cancellation too.
func (r *run) rollback(ctx context.Context) {
	o := r.orchestrator
	cleanupCtx := context.WithoutCancel(ctx)

	for _, key := range r.published {
		err := o.deps.Gateway.Delete(cleanupCtx, key)
		if err != nil {
			o.log.Warn(logRollbackError, r.req.ID, key, err)
		}
	}
}

func orderedAudio(chunks []core.AudioChunkResult) [][]byte {
	parts := make([][]byte, 0, len(chunks))
	for _, chunk := range byIndex(chunks) {
		parts = append(parts, chunk.Audio)
	}

	return parts
}

func chunkURLs(chunks []core.AudioChunkResult) []string {
	urls := make([]string, 0, len(chunks))
	for _, chunk := range byIndex(chunks) {
		urls = append(urls, chunk.PublishedURL)
	}

	return urls
}

func byIndex(chunks []core.AudioChunkResult) []core.AudioChunkResult {
	sorted := slices.Clone(chunks)
	slices.SortFunc(sorted, func(a, b core.AudioChunkResult) int { return a.Index - b.Index })

	return sorted
}

// cancelled returns a Cancelled failure once ctx is done.
func cancelled(ctx context.Context) *core.Failure {
	err := ctx.Err()
	if err == nil {
		return nil
	}

	return core.NewFailure(core.ReasonCancelled, "request cancelled", err)
}

// tag wraps err with reason, unless the request itself was cancelled.
func tag(ctx context.Context, reason core.Reason, message string, err error) *core.Failure {
	if failure := cancelled(ctx); failure != nil {
		failure.Err = err

		return failure
	}

	return core.NewFailure(reason, message, err)
}

func withTimeout[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return call(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return call(callCtx)
}
