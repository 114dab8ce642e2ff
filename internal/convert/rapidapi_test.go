// Package convert_test tests the RapidAPI conversion resolver.
package convert_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/song-service/internal/convert"
	"github.com/book-expert/song-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newResolver(t *testing.T, handler http.HandlerFunc) *convert.RapidAPIResolver {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return convert.NewRapidAPIResolver(convert.Options{
		BaseURL: server.URL,
		Host:    "youtube-mp36.p.rapidapi.com",
		APIKey:  "secret",
		Timeout: 5 * time.Second,
	}, createTestLogger(t))
}

func TestRapidAPIResolver_Resolve(t *testing.T) {
	t.Parallel()

	resolver := newResolver(t, func(responseWriter http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "/dl", request.URL.Path)
		assert.Equal(t, "abc123", request.URL.Query().Get("id"))
		assert.Equal(t, "secret", request.Header.Get("x-rapidapi-key"))
		assert.Equal(t, "youtube-mp36.p.rapidapi.com", request.Header.Get("x-rapidapi-host"))

		responseWriter.Header().Set("Content-Type", "application/json")
		_, _ = responseWriter.Write([]byte(`{"status":"ok","link":"https://cdn.example.com/a.mp3","title":"A"}`))
	})

	link, err := resolver.Resolve(context.Background(), core.CandidateTrackRef{ID: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.mp3", link)
}

func TestRapidAPIResolver_FailedStatus(t *testing.T) {
	t.Parallel()

	resolver := newResolver(t, func(responseWriter http.ResponseWriter, _ *http.Request) {
		_, _ = responseWriter.Write([]byte(`{"status":"fail","msg":"video too long"}`))
	})

	_, err := resolver.Resolve(context.Background(), core.CandidateTrackRef{ID: "abc123"})
	require.ErrorIs(t, err, convert.ErrConversionFailed)
	assert.Contains(t, err.Error(), "video too long")
}

func TestRapidAPIResolver_NonOKStatus(t *testing.T) {
	t.Parallel()

	resolver := newResolver(t, func(responseWriter http.ResponseWriter, _ *http.Request) {
		http.Error(responseWriter, "too many requests", http.StatusTooManyRequests)
	})

	_, err := resolver.Resolve(context.Background(), core.CandidateTrackRef{ID: "abc123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestRapidAPIResolver_EmptyCandidate(t *testing.T) {
	t.Parallel()

	resolver := convert.NewRapidAPIResolver(convert.Options{BaseURL: "http://127.0.0.1:1"}, createTestLogger(t))

	_, err := resolver.Resolve(context.Background(), core.CandidateTrackRef{})
	require.ErrorIs(t, err, convert.ErrCandidateEmpty)
}
