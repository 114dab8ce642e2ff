package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/song-service/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordGeneration(t *testing.T) {
	t.Parallel()

	collector := metrics.NewCollector("song_test")

	collector.RecordGeneration("chunked", metrics.OutcomeSuccess, 2*time.Second)
	collector.RecordGeneration("chunked", "PartialGenerationFailure", time.Second)
	collector.ObserveStage("lyrics", 100*time.Millisecond)
	collector.ObserveAcquisitionAttempts(3)
	collector.AddPurged(4)
	collector.RecordHTTPRequest("/api/generate", http.StatusOK)

	count, err := testutil.GatherAndCount(collector.Registry(), "song_test_generations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(collector.Registry(), "song_test_purged_assets_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_NilIsNoop(t *testing.T) {
	t.Parallel()

	var collector *metrics.Collector

	assert.NotPanics(t, func() {
		collector.RecordGeneration("single", metrics.OutcomeSuccess, time.Second)
		collector.ObserveStage("synthesis", time.Second)
		collector.ObserveAcquisitionAttempts(1)
		collector.RecordHTTPRequest("/health", http.StatusOK)
		collector.AddPurged(1)
	})
}

func TestCollector_Handler(t *testing.T) {
	t.Parallel()

	collector := metrics.NewCollector("song_http")
	collector.RecordGeneration("single", metrics.OutcomeSuccess, time.Second)

	recorder := httptest.NewRecorder()
	collector.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "song_http_generations_total")
}
