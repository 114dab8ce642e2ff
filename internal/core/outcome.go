package core

import (
	"errors"
	"fmt"
	"time"
)

// Reason is a stable failure code returned to callers.
type Reason string

// Failure reasons.
const (
	ReasonInvalidRequest           Reason = "InvalidRequest"
	ReasonLyricsUnavailable        Reason = "LyricsUnavailable"
	ReasonNoSuitableReference      Reason = "NoSuitableReference"
	ReasonSynthesisFailure         Reason = "SynthesisFailure"
	ReasonPartialGenerationFailure Reason = "PartialGenerationFailure"
	ReasonPublishFailure           Reason = "PublishFailure"
	ReasonCancelled                Reason = "Cancelled"
)

// Failure is the terminal error of a pipeline run. It implements error so it can
// travel through ordinary error returns and be recovered with errors.As.
type Failure struct {
	Reason    Reason
	Message   string
	Timestamp time.Time
	Err       error
}

// NewFailure tags err with reason.
func NewFailure(reason Reason, message string, err error) *Failure {
	return &Failure{
		Reason:    reason,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Err:       err,
	}
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Reason, f.Message)
	}

	return fmt.Sprintf("%s: %s: %v", f.Reason, f.Message, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure returns the Failure in err's chain, if any.
func AsFailure(err error) (*Failure, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure, true
	}

	return nil, false
}

// Success is the payload of a completed run. Every URL it promises is populated.
type Success struct {
	SongID        string
	Lyrics        string
	OriginalURL   string
	GeneratedURLs []string
	CombinedURL   string
	Timestamp     time.Time
}

// SongURL returns the URL of the finished song: the combined asset for chunked
// runs, otherwise the single generated asset.
func (s *Success) SongURL() string {
	if s.CombinedURL != "" {
		return s.CombinedURL
	}

	if len(s.GeneratedURLs) > 0 {
		return s.GeneratedURLs[0]
	}

	return ""
}

// Outcome is exactly one of Success or Failure.
type Outcome struct {
	Success *Success
	Failure *Failure
}

// Succeeded wraps s as an Outcome.
func Succeeded(s *Success) Outcome {
	return Outcome{Success: s, Failure: nil}
}

// Failed wraps f as an Outcome.
func Failed(f *Failure) Outcome {
	return Outcome{Success: nil, Failure: f}
}

// OK reports whether the run succeeded.
func (o Outcome) OK() bool {
	return o.Success != nil
}
