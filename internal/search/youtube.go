// Package search locates reference tracks with the YouTube Data API.
//
// Each Find call ranks up to PoolSize videos and returns one of them chosen
// pseudo-randomly. Two calls for the same topic may therefore return the same
// candidate; callers that need a different track simply ask again.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/song-service/internal/core"
	"golang.org/x/time/rate"
)

const (
	searchPath   = "/search"
	queryPrefix  = "find a song that "
	maxBodyBytes = 1 << 20
)

var (
	// ErrNoCandidates indicates that the search returned no videos.
	ErrNoCandidates = errors.New("search returned no candidates")
	// ErrTopicEmpty indicates that no topic was supplied.
	ErrTopicEmpty = errors.New("topic cannot be empty")
)

// Options configures a YouTubeLocator.
type Options struct {
	BaseURL       string
	APIKey        string
	PoolSize      int
	RatePerSecond float64
	Timeout       time.Duration
	// Pick chooses an index in [0, n). Defaults to a pseudo-random choice.
	Pick func(n int) int
}

// YouTubeLocator implements core.TrackLocator.
type YouTubeLocator struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	poolSize   int
	limiter    *rate.Limiter
	pick       func(n int) int
	log        *logger.Logger
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	} `json:"items"`
}

// NewYouTubeLocator creates a locator.
func NewYouTubeLocator(opts Options, log *logger.Logger) *YouTubeLocator {
	pick := opts.Pick
	if pick == nil {
		pick = rand.IntN
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}

	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 1
	}

	return &YouTubeLocator{
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		poolSize:   poolSize,
		limiter:    rate.NewLimiter(limit, 1),
		pick:       pick,
		log:        log,
	}
}

// Find returns one candidate from the top results for topic.
func (l *YouTubeLocator) Find(ctx context.Context, topic string) (core.CandidateTrackRef, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return core.CandidateTrackRef{}, ErrTopicEmpty
	}

	waitErr := l.limiter.Wait(ctx)
	if waitErr != nil {
		return core.CandidateTrackRef{}, fmt.Errorf("search rate limiter: %w", waitErr)
	}

	query := url.Values{}
	query.Set("part", "snippet")
	query.Set("q", queryPrefix+topic)
	query.Set("type", "video")
	query.Set("maxResults", strconv.Itoa(l.poolSize))
	query.Set("key", l.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+searchPath+"?"+query.Encode(), http.NoBody)
	if err != nil {
		return core.CandidateTrackRef{}, fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return core.CandidateTrackRef{}, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

		return core.CandidateTrackRef{}, fmt.Errorf("search returned non-OK status: %s, body: %s", resp.Status, string(body))
	}

	var decoded searchResponse

	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&decoded)
	if decodeErr != nil {
		return core.CandidateTrackRef{}, fmt.Errorf("failed to decode search response: %w", decodeErr)
	}

	candidates := make([]core.CandidateTrackRef, 0, len(decoded.Items))

	for _, item := range decoded.Items {
		if item.ID.VideoID == "" {
			continue
		}

		candidates = append(candidates, core.CandidateTrackRef{ID: item.ID.VideoID, Title: item.Snippet.Title})
	}

	if len(candidates) == 0 {
		return core.CandidateTrackRef{}, fmt.Errorf("%w for topic '%s'", ErrNoCandidates, topic)
	}

	chosen := candidates[l.pick(len(candidates))]
	l.log.Info("Selected candidate %s (%s) out of %d", chosen.ID, chosen.Title, len(candidates))

	return chosen, nil
}
