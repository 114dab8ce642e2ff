// Package convert resolves candidate videos into downloadable audio links through
// a RapidAPI video-to-mp3 service.
package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/song-service/internal/core"
)

// API endpoints and headers.
const (
	apiDownload    = "/dl"
	headerAPIKey   = "x-rapidapi-key"
	headerAPIHost  = "x-rapidapi-host"
	statusOK       = "ok"
	maxBodyBytes   = 1 << 20
	errFmtNotReady = "%w: candidate '%s' returned status '%s': %s"
)

var (
	// ErrCandidateEmpty indicates that no candidate identifier was supplied.
	ErrCandidateEmpty = errors.New("candidate identifier cannot be empty")
	// ErrConversionFailed indicates that the service could not produce a link.
	ErrConversionFailed = errors.New("conversion failed")
)

// Options configures a RapidAPIResolver.
type Options struct {
	BaseURL string
	Host    string
	APIKey  string
	Timeout time.Duration
}

// RapidAPIResolver implements core.TrackResolver.
type RapidAPIResolver struct {
	httpClient *http.Client
	baseURL    string
	host       string
	apiKey     string
	log        *logger.Logger
}

type downloadResponse struct {
	Status string `json:"status"`
	Link   string `json:"link"`
	Title  string `json:"title"`
	Msg    string `json:"msg"`
}

// NewRapidAPIResolver creates a resolver.
func NewRapidAPIResolver(opts Options, log *logger.Logger) *RapidAPIResolver {
	return &RapidAPIResolver{
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		host:       opts.Host,
		apiKey:     opts.APIKey,
		log:        log,
	}
}

// Resolve returns a downloadable URL for ref.
func (r *RapidAPIResolver) Resolve(ctx context.Context, ref core.CandidateTrackRef) (string, error) {
	if ref.ID == "" {
		return "", ErrCandidateEmpty
	}

	endpoint := r.baseURL + apiDownload + "?id=" + url.QueryEscape(ref.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create conversion request: %w", err)
	}

	req.Header.Set(headerAPIKey, r.apiKey)
	req.Header.Set(headerAPIHost, r.host)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("conversion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read conversion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("conversion returned non-OK status: %s, body: %s", resp.Status, string(body))
	}

	var decoded downloadResponse

	err = json.Unmarshal(body, &decoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode conversion response: %w", err)
	}

	if decoded.Link == "" || (decoded.Status != "" && decoded.Status != statusOK) {
		return "", fmt.Errorf(errFmtNotReady, ErrConversionFailed, ref.ID, decoded.Status, decoded.Msg)
	}

	r.log.Info("Resolved candidate %s to a downloadable link", ref.ID)

	return decoded.Link, nil
}
