// Package server exposes the generation pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/song-service/internal/core"
	"github.com/book-expert/song-service/internal/media"
	"github.com/book-expert/song-service/internal/metrics"
)

// Routes.
const (
	RouteGenerate = "/api/generate"
	RouteSong     = "/api/song/"
	RouteAssets   = "/api/assets/"
	RouteHealth   = "/health"
	RouteMetrics  = "/metrics"
)

const (
	maxRequestBytes   = 64 << 10
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
	shutdownTimeout   = 30 * time.Second

	// statusClientClosedRequest is reported when the caller went away mid-run.
	statusClientClosedRequest = 499

	msgSongNotFound = "Song not found or expired"
	msgAssetMissing = "Asset not found or expired"
)

// Log messages.
const (
	logListening      = "HTTP server listening on %s"
	logShuttingDown   = "HTTP server shutting down"
	logWriteFailed    = "Failed to write response for %s: %v"
	logLookupFailed   = "Lookup of song '%s' failed: %v"
	logOpenFailed     = "Opening asset '%s' failed: %v"
	logGenerateResult = "POST %s finished with status %d"
)

// Generator runs one generation request.
type Generator interface {
	Generate(ctx context.Context, topic string) core.Outcome
}

// Catalog looks up finished songs and serves stored assets.
type Catalog interface {
	Lookup(ctx context.Context, songID string) (string, error)
	Open(ctx context.Context, key string) ([]byte, error)
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	InputText string `json:"inputText"`
}

// SongResponse is the body of GET /api/song/{songId}.
type SongResponse struct {
	Status string    `json:"status"`
	Data   *SongInfo `json:"data,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// SongInfo locates a finished song.
type SongInfo struct {
	SongID   string `json:"songId"`
	AudioURL string `json:"audioUrl"`
}

// Server serves the HTTP API.
type Server struct {
	generator Generator
	catalog   Catalog
	metrics   *metrics.Collector
	log       *logger.Logger
}

// New creates a server.
func New(generator Generator, catalog Catalog, collector *metrics.Collector, log *logger.Logger) *Server {
	return &Server{
		generator: generator,
		catalog:   catalog,
		metrics:   collector,
		log:       log,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+RouteGenerate, s.handleGenerate)
	mux.HandleFunc("GET "+RouteSong+"{songId}", s.handleSong)
	mux.HandleFunc("GET "+RouteAssets+"{key}", s.handleAsset)
	mux.HandleFunc("GET "+RouteHealth, s.handleHealth)
	mux.Handle("GET "+RouteMetrics, s.metrics.Handler())

	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		s.log.Info(logListening, listener.Addr().String())
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		s.log.Info(logShuttingDown)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		if err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}

		return nil
	}
}

func (s *Server) handleGenerate(responseWriter http.ResponseWriter, request *http.Request) {
	var body GenerateRequest

	decoder := json.NewDecoder(io.LimitReader(request.Body, maxRequestBytes))

	err := decoder.Decode(&body)
	if err != nil || strings.TrimSpace(body.InputText) == "" {
		failure := core.NewFailure(core.ReasonInvalidRequest, "inputText is required", err)
		s.writeJSON(responseWriter, RouteGenerate, http.StatusBadRequest, core.NewResponse(core.Failed(failure)))

		return
	}

	outcome := s.generator.Generate(request.Context(), body.InputText)
	status := StatusFor(outcome)

	s.log.Info(logGenerateResult, RouteGenerate, status)
	s.writeJSON(responseWriter, RouteGenerate, status, core.NewResponse(outcome))
}

func (s *Server) handleSong(responseWriter http.ResponseWriter, request *http.Request) {
	songID := request.PathValue("songId")

	songURL, err := s.catalog.Lookup(request.Context(), songID)
	if err != nil {
		status := http.StatusInternalServerError
		message := "Failed to look up song"

		if errors.Is(err, core.ErrObjectNotFound) {
			status = http.StatusNotFound
			message = msgSongNotFound
		} else {
			s.log.Error(logLookupFailed, songID, err)
		}

		s.writeJSON(responseWriter, RouteSong, status, SongResponse{Status: core.StatusError, Data: nil, Error: message})

		return
	}

	s.writeJSON(responseWriter, RouteSong, http.StatusOK, SongResponse{
		Status: core.StatusSuccess,
		Data:   &SongInfo{SongID: songID, AudioURL: songURL},
		Error:  "",
	})
}

func (s *Server) handleAsset(responseWriter http.ResponseWriter, request *http.Request) {
	key := request.PathValue("key")

	data, err := s.catalog.Open(request.Context(), key)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrObjectNotFound) {
			status = http.StatusNotFound
		} else {
			s.log.Error(logOpenFailed, key, err)
		}

		s.metrics.RecordHTTPRequest(RouteAssets, status)
		http.Error(responseWriter, msgAssetMissing, status)

		return
	}

	responseWriter.Header().Set("Content-Type", media.ContentTypeMP3)
	responseWriter.Header().Set("Content-Length", strconv.Itoa(len(data)))
	responseWriter.WriteHeader(http.StatusOK)

	_, err = responseWriter.Write(data)
	if err != nil {
		s.log.Warn(logWriteFailed, RouteAssets, err)
	}

	s.metrics.RecordHTTPRequest(RouteAssets, http.StatusOK)
}

func (s *Server) handleHealth(responseWriter http.ResponseWriter, _ *http.Request) {
	s.writeJSON(responseWriter, RouteHealth, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(responseWriter http.ResponseWriter, route string, status int, payload any) {
	responseWriter.Header().Set("Content-Type", "application/json; charset=utf-8")
	responseWriter.Header().Set("X-Content-Type-Options", "nosniff")
	responseWriter.WriteHeader(status)

	err := json.NewEncoder(responseWriter).Encode(payload)
	if err != nil {
		s.log.Warn(logWriteFailed, route, err)
	}

	s.metrics.RecordHTTPRequest(route, status)
}

// StatusFor maps an outcome onto an HTTP status code.
func StatusFor(outcome core.Outcome) int {
	if outcome.OK() {
		return http.StatusOK
	}

	if outcome.Failure == nil {
		return http.StatusInternalServerError
	}

	switch outcome.Failure.Reason {
	case core.ReasonInvalidRequest:
		return http.StatusBadRequest
	case core.ReasonCancelled:
		return statusClientClosedRequest
	case core.ReasonLyricsUnavailable,
		core.ReasonNoSuitableReference,
		core.ReasonSynthesisFailure,
		core.ReasonPartialGenerationFailure,
		core.ReasonPublishFailure:
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}
