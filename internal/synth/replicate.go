// Package synth generates songs with a music model hosted on Replicate.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/song-service/internal/core"
	"github.com/google/uuid"
)

// API endpoints and headers.
const (
	apiPredictions    = "/v1/predictions"
	headerContentType = "Content-Type"
	headerAuth        = "Authorization"
	headerPrefer      = "Prefer"
	contentTypeJSON   = "application/json"
	preferWaitFormat  = "wait=%d"
	maxBodyBytes      = 1 << 20
)

// defaultPreferWait is how long the create call asks Replicate to hold the
// response open before it returns a prediction that is still running.
const defaultPreferWait = 30 * time.Second

// Prediction states.
const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusCanceled  = "canceled"
)

const windowKeyFormat = "reference_window_%s.mp3"

var (
	// ErrLyricsEmpty indicates that no lyrics were supplied.
	ErrLyricsEmpty = errors.New("lyrics cannot be empty")
	// ErrReferenceUnpublished indicates a reference asset without a public URL.
	ErrReferenceUnpublished = errors.New("reference asset has no public URL")
	// ErrPredictionFailed indicates that the model run ended unsuccessfully.
	ErrPredictionFailed = errors.New("prediction failed")
	// ErrNoOutput indicates a successful prediction without an output file.
	ErrNoOutput = errors.New("prediction returned no output")
	// ErrInvalidWindow indicates a window that cannot be cut from the reference.
	ErrInvalidWindow = errors.New("invalid synthesis window")
)

// Options configures a ReplicateSynthesizer.
type Options struct {
	BaseURL      string
	APIToken     string
	ModelVersion string
	Bitrate      int
	SampleRate   int
	PollInterval time.Duration
	Timeout      time.Duration
	// PreferWait bounds the synchronous wait on prediction creation. It is
	// capped at half of Timeout so the server answers before the client gives up.
	PreferWait time.Duration
}

// ReplicateSynthesizer implements core.MusicSynthesizer.
type ReplicateSynthesizer struct {
	httpClient   *http.Client
	baseURL      string
	apiToken     string
	modelVersion string
	bitrate      int
	sampleRate   int
	pollInterval time.Duration
	preferWait   time.Duration
	gateway      core.MediaGateway
	processor    core.AudioProcessor
	log          *logger.Logger
}

type predictionRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
}

// NewReplicateSynthesizer creates a synthesizer. The gateway publishes windowed
// references and fetches outputs; the processor cuts windows.
func NewReplicateSynthesizer(
	opts Options,
	gateway core.MediaGateway,
	processor core.AudioProcessor,
	log *logger.Logger,
) *ReplicateSynthesizer {
	return &ReplicateSynthesizer{
		httpClient:   &http.Client{Timeout: opts.Timeout},
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiToken:     opts.APIToken,
		modelVersion: opts.ModelVersion,
		bitrate:      opts.Bitrate,
		sampleRate:   opts.SampleRate,
		pollInterval: opts.PollInterval,
		preferWait:   boundedPreferWait(opts.PreferWait, opts.Timeout),
		gateway:      gateway,
		processor:    processor,
		log:          log,
	}
}

func boundedPreferWait(wait, timeout time.Duration) time.Duration {
	if wait <= 0 {
		wait = defaultPreferWait
	}

	if timeout > 0 && wait > timeout/2 {
		wait = timeout / 2
	}

	return wait
}

// Synthesize runs the model on lyrics conditioned on reference and returns the generated audio.
func (s *ReplicateSynthesizer) Synthesize(
	ctx context.Context,
	lyrics string,
	reference core.AudioAsset,
	params core.SynthesisParams,
) ([]byte, error) {
	if strings.TrimSpace(lyrics) == "" {
		return nil, ErrLyricsEmpty
	}

	songFile := reference.PublishedURL

	if params.Windowed() {
		windowURL, cleanup, err := s.publishWindow(ctx, reference, params)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		songFile = windowURL
	}

	if songFile == "" {
		return nil, ErrReferenceUnpublished
	}

	input := map[string]any{
		"lyrics":    lyrics,
		"song_file": songFile,
	}

	if s.bitrate > 0 {
		input["bitrate"] = s.bitrate
	}

	if s.sampleRate > 0 {
		input["sample_rate"] = s.sampleRate
	}

	created, err := s.createPrediction(ctx, predictionRequest{Version: s.modelVersion, Input: input})
	if err != nil {
		return nil, err
	}

	finished, err := s.awaitPrediction(ctx, created)
	if err != nil {
		return nil, err
	}

	outputURL, err := outputURL(finished.Output)
	if err != nil {
		return nil, fmt.Errorf("prediction %s: %w", finished.ID, err)
	}

	audio, err := s.gateway.Fetch(ctx, outputURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download prediction %s output: %w", finished.ID, err)
	}

	s.log.Info("Prediction %s produced %d bytes", finished.ID, len(audio))

	return audio, nil
}

// publishWindow cuts the requested window out of the reference and publishes it
// for the model to download. The returned cleanup removes the published slice.
func (s *ReplicateSynthesizer) publishWindow(
	ctx context.Context,
	reference core.AudioAsset,
	params core.SynthesisParams,
) (string, func(), error) {
	duration := params.DurationSeconds
	if duration <= 0 && reference.DurationSeconds > params.StartOffsetSeconds {
		duration = reference.DurationSeconds - params.StartOffsetSeconds
	}

	if duration <= 0 || params.StartOffsetSeconds < 0 {
		return "", nil, fmt.Errorf("%w: start %.2f duration %.2f", ErrInvalidWindow, params.StartOffsetSeconds, duration)
	}

	slice, err := s.processor.Trim(ctx, reference.Data, params.StartOffsetSeconds, duration)
	if err != nil {
		return "", nil, fmt.Errorf("failed to cut reference window: %w", err)
	}

	key := fmt.Sprintf(windowKeyFormat, uuid.NewString())

	windowURL, err := s.gateway.Publish(ctx, key, slice, core.PublishOptions{
		ContentType: "",
		Tags:        []string{core.AutoDeleteTag},
		Retention:   0,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to publish reference window: %w", err)
	}

	cleanup := func() {
		deleteErr := s.gateway.Delete(context.WithoutCancel(ctx), key)
		if deleteErr != nil {
			s.log.Warn("Failed to delete reference window '%s': %v", key, deleteErr)
		}
	}

	return windowURL, cleanup, nil
}

func (s *ReplicateSynthesizer) createPrediction(ctx context.Context, body predictionRequest) (*prediction, error) {
	requestBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+apiPredictions, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)

	if seconds := int(s.preferWait / time.Second); seconds > 0 {
		req.Header.Set(headerPrefer, fmt.Sprintf(preferWaitFormat, seconds))
	}

	return s.do(req)
}

func (s *ReplicateSynthesizer) getPrediction(ctx context.Context, id string) (*prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+apiPredictions+"/"+id, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction status request: %w", err)
	}

	return s.do(req)
}

func (s *ReplicateSynthesizer) awaitPrediction(ctx context.Context, current *prediction) (*prediction, error) {
	for {
		switch current.Status {
		case statusSucceeded:
			return current, nil
		case statusFailed, statusCanceled:
			return nil, fmt.Errorf("%w: prediction %s %s: %v", ErrPredictionFailed, current.ID, current.Status, current.Error)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for prediction %s: %w", current.ID, ctx.Err())
		case <-time.After(s.pollInterval):
		}

		next, err := s.getPrediction(ctx, current.ID)
		if err != nil {
			return nil, err
		}

		current = next
	}
}

func (s *ReplicateSynthesizer) do(req *http.Request) (*prediction, error) {
	req.Header.Set(headerAuth, "Bearer "+s.apiToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", s.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read prediction response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("prediction API returned non-OK status: %s, body: %s", resp.Status, string(body))
	}

	var decoded prediction

	err = json.Unmarshal(body, &decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode prediction: %w", err)
	}

	return &decoded, nil
}

// outputURL accepts both a single file output and a list of files.
func outputURL(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", ErrNoOutput
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 && many[0] != "" {
		return many[0], nil
	}

	return "", ErrNoOutput
}

var _ core.MusicSynthesizer = (*ReplicateSynthesizer)(nil)
