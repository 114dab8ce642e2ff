// Package acquire obtains a validated reference track for a topic. Each attempt
// asks the locator for a candidate, resolves it to an audio URL, downloads it
// and checks its size; a failed attempt discards the candidate and the next
// attempt starts from a fresh search, until the attempt budget runs out.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/song-service/internal/core"
)

// Log messages.
const (
	logAttemptStart    = "Acquisition attempt %d/%d for topic '%s'"
	logAttemptRejected = "Acquisition attempt %d/%d rejected: %v"
	logAccepted        = "Accepted candidate %s (%d bytes, %.1fs) on attempt %d"
	logProbeFailed     = "Could not measure duration of candidate %s: %v"
)

var (
	// ErrExhaustedRetries is returned when every attempt of the budget failed.
	ErrExhaustedRetries = errors.New("acquisition attempts exhausted")
	// ErrSizeOutOfWindow indicates a downloaded asset outside the acceptance window.
	ErrSizeOutOfWindow = errors.New("asset size outside acceptance window")
)

// Options configures a TrackAcquirer.
type Options struct {
	Window core.SizeWindow
	// TrimSeconds cuts accepted assets to at most this length. Zero disables trimming.
	TrimSeconds float64
	// CallTimeout bounds each collaborator call. Zero disables the bound.
	CallTimeout time.Duration
}

// TrackAcquirer runs the search, resolve, download and validate loop.
type TrackAcquirer struct {
	locator   core.TrackLocator
	resolver  core.TrackResolver
	gateway   core.MediaGateway
	processor core.AudioProcessor
	opts      Options
	log       *logger.Logger
}

// NewTrackAcquirer creates an acquirer. processor may be nil when no trimming is configured.
func NewTrackAcquirer(
	locator core.TrackLocator,
	resolver core.TrackResolver,
	gateway core.MediaGateway,
	processor core.AudioProcessor,
	opts Options,
	log *logger.Logger,
) *TrackAcquirer {
	return &TrackAcquirer{
		locator:   locator,
		resolver:  resolver,
		gateway:   gateway,
		processor: processor,
		opts:      opts,
		log:       log,
	}
}

// Acquire returns an asset whose size lies within the acceptance window. It
// spends one unit of budget per attempt and returns ErrExhaustedRetries, joined
// with every attempt's error, once the budget is used up. A cancelled context
// stops the loop before the next attempt and its error is wrapped in the result.
func (a *TrackAcquirer) Acquire(ctx context.Context, topic string, budget *core.AttemptBudget) (core.AudioAsset, error) {
	var attemptErrs []error

	for budget.Spend() {
		if err := ctx.Err(); err != nil {
			return core.AudioAsset{}, fmt.Errorf("acquisition cancelled: %w", err)
		}

		a.log.Info(logAttemptStart, budget.AttemptsUsed, budget.MaxAttempts, topic)

		asset, err := a.attempt(ctx, topic)
		if err == nil {
			a.log.Info(logAccepted, asset.SourceURL, asset.SizeBytes, asset.DurationSeconds, budget.AttemptsUsed)

			return asset, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return core.AudioAsset{}, fmt.Errorf("acquisition cancelled: %w", ctxErr)
		}

		a.log.Warn(logAttemptRejected, budget.AttemptsUsed, budget.MaxAttempts, err)
		attemptErrs = append(attemptErrs, fmt.Errorf("attempt %d: %w", budget.AttemptsUsed, err))
	}

	if len(attemptErrs) == 0 {
		return core.AudioAsset{}, fmt.Errorf("%w: budget of %d allows no attempt", ErrExhaustedRetries, budget.MaxAttempts)
	}

	return core.AudioAsset{}, fmt.Errorf("%w after %d attempts: %w",
		ErrExhaustedRetries, budget.AttemptsUsed, errors.Join(attemptErrs...))
}

func (a *TrackAcquirer) attempt(ctx context.Context, topic string) (core.AudioAsset, error) {
	ref, err := callWithTimeout(ctx, a.opts.CallTimeout, func(callCtx context.Context) (core.CandidateTrackRef, error) {
		return a.locator.Find(callCtx, topic)
	})
	if err != nil {
		return core.AudioAsset{}, fmt.Errorf("search failed: %w", err)
	}

	audioURL, err := callWithTimeout(ctx, a.opts.CallTimeout, func(callCtx context.Context) (string, error) {
		return a.resolver.Resolve(callCtx, ref)
	})
	if err != nil {
		return core.AudioAsset{}, fmt.Errorf("candidate %s: conversion failed: %w", ref.ID, err)
	}

	data, err := callWithTimeout(ctx, a.opts.CallTimeout, func(callCtx context.Context) ([]byte, error) {
		return a.gateway.Fetch(callCtx, audioURL)
	})
	if err != nil {
		return core.AudioAsset{}, fmt.Errorf("candidate %s: download failed: %w", ref.ID, err)
	}

	err = a.validate(data)
	if err != nil {
		return core.AudioAsset{}, fmt.Errorf("candidate %s: %w", ref.ID, err)
	}

	if a.opts.TrimSeconds > 0 && a.processor != nil {
		data, err = callWithTimeout(ctx, a.opts.CallTimeout, func(callCtx context.Context) ([]byte, error) {
			return a.processor.Trim(callCtx, data, 0, a.opts.TrimSeconds)
		})
		if err != nil {
			return core.AudioAsset{}, fmt.Errorf("candidate %s: trim failed: %w", ref.ID, err)
		}

		err = a.validate(data)
		if err != nil {
			return core.AudioAsset{}, fmt.Errorf("candidate %s after trim: %w", ref.ID, err)
		}
	}

	asset := core.AudioAsset{
		SourceURL:       audioURL,
		Data:            data,
		SizeBytes:       int64(len(data)),
		DurationSeconds: 0,
		PublishedURL:    "",
	}

	if prober, ok := a.processor.(core.DurationProber); ok {
		seconds, probeErr := callWithTimeout(ctx, a.opts.CallTimeout, func(callCtx context.Context) (float64, error) {
			return prober.Duration(callCtx, data)
		})
		if probeErr != nil {
			a.log.Warn(logProbeFailed, ref.ID, probeErr)
		} else {
			asset.DurationSeconds = seconds
		}
	}

	return asset, nil
}

func (a *TrackAcquirer) validate(data []byte) error {
	size := int64(len(data))
	if !a.opts.Window.Contains(size) {
		return fmt.Errorf("%w: %d bytes not in [%d, %d]", ErrSizeOutOfWindow, size, a.opts.Window.Min, a.opts.Window.Max)
	}

	return nil
}

func callWithTimeout[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return call(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return call(callCtx)
}
