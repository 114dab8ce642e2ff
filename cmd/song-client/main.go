package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/song-service/internal/core"
	"github.com/book-expert/song-service/internal/server"
)

// Flag descriptions.
const (
	flagServerDesc  = "Base URL of the song service"
	flagTopicDesc   = "Topic to write and perform a song about"
	flagSongDesc    = "Look up a previously generated song by ID"
	flagOutputDesc  = "Download the generated song to this path (.mp3)"
	flagTimeoutDesc = "Request timeout"
	flagHealthDesc  = "Check song service health and exit"
	flagLogDirDesc  = "Directory for the client log file"
)

// Flag names.
const (
	flagServer  = "server"
	flagTopic   = "topic"
	flagSong    = "song"
	flagOutput  = "output"
	flagTimeout = "timeout"
	flagHealth  = "health"
	flagLogDir  = "log-dir"
)

// Error messages.
const (
	errEitherTopicOrSong = "either --topic or --song must be provided"
	errCannotSpecifyBoth = "cannot specify both --topic and --song"
	errServiceNotHealthy = "song service is not healthy: %v\n"
	errUnexpectedStatus  = "unexpected status %d: %s"
	errRequestFailed     = "generation failed (%s): %s"
)

// Log messages.
const (
	logGenerating       = "Requesting a song about %q from %s"
	logGenerated        = "Generated song %s: %s"
	logLookingUp        = "Looking up song %s"
	logDownloaded       = "Downloaded %d bytes to %s"
	msgServiceHealthy   = "Song service is healthy"
	defaultServerURL    = "http://localhost:8000"
	defaultTimeout      = 30 * time.Minute
	logFileName         = "song-client.log"
	maxErrorBodyBytes   = 4 << 10
	downloadPermissions = 0o644
)

var (
	errEitherTopicOrSongErr = errors.New(errEitherTopicOrSong)
	errCannotSpecifyBothErr = errors.New(errCannotSpecifyBoth)
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	server  string
	topic   string
	song    string
	output  string
	logDir  string
	timeout time.Duration
	health  bool
}

// client talks to a running song service.
type client struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

// run is the main application entry point, returning an error on failure.
func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(flag.NewFlagSet("song-client", flag.ContinueOnError), args)
	if err != nil {
		return err
	}

	clientLog, err := logger.New(flags.logDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() { _ = clientLog.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	songClient := &client{
		baseURL:    strings.TrimRight(flags.server, "/"),
		httpClient: &http.Client{Timeout: flags.timeout},
		log:        clientLog,
	}

	if flags.health {
		err = songClient.health(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stdout, errServiceNotHealthy, err)

			return err
		}

		_, _ = fmt.Fprintln(stdout, msgServiceHealthy)

		return nil
	}

	err = validateArguments(flags)
	if err != nil {
		return err
	}

	var songURL string

	if flags.topic != "" {
		songURL, err = songClient.generate(ctx, flags.topic)
	} else {
		songURL, err = songClient.lookup(ctx, flags.song)
	}

	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(stdout, songURL)

	if flags.output == "" {
		return nil
	}

	return songClient.download(ctx, songURL, flags.output)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(flagSet *flag.FlagSet, args []string) (appFlags, error) {
	var flags appFlags

	flagSet.StringVar(&flags.server, flagServer, defaultServerURL, flagServerDesc)
	flagSet.StringVar(&flags.topic, flagTopic, "", flagTopicDesc)
	flagSet.StringVar(&flags.song, flagSong, "", flagSongDesc)
	flagSet.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flagSet.StringVar(&flags.logDir, flagLogDir, os.TempDir(), flagLogDirDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return flags, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// validateArguments checks that exactly one of --topic and --song is set.
func validateArguments(flags appFlags) error {
	hasTopic := strings.TrimSpace(flags.topic) != ""
	hasSong := strings.TrimSpace(flags.song) != ""

	switch {
	case hasTopic && hasSong:
		return errCannotSpecifyBothErr
	case !hasTopic && !hasSong:
		return errEitherTopicOrSongErr
	default:
		return nil
	}
}

func (c *client) health(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodGet, server.RouteHealth, nil)
	if err != nil {
		return err
	}

	defer func() { _ = resp.Body.Close() }()

	return expectOK(resp)
}

// generate posts topic and returns the URL of the finished song.
func (c *client) generate(ctx context.Context, topic string) (string, error) {
	c.log.Info(logGenerating, topic, c.baseURL)

	payload, err := json.Marshal(server.GenerateRequest{InputText: topic})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := c.send(ctx, http.MethodPost, server.RouteGenerate, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	defer func() { _ = resp.Body.Close() }()

	var result core.Response

	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return "", fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if result.Status != core.StatusSuccess || result.Data == nil {
		return "", fmt.Errorf(errRequestFailed, result.Reason, result.Error)
	}

	songURL := result.Data.GeneratedAudio

	c.log.Info(logGenerated, result.Data.SongID, songURL)

	return songURL, nil
}

// lookup returns the URL of a previously generated song.
func (c *client) lookup(ctx context.Context, songID string) (string, error) {
	c.log.Info(logLookingUp, songID)

	resp, err := c.send(ctx, http.MethodGet, server.RouteSong+songID, nil)
	if err != nil {
		return "", err
	}

	defer func() { _ = resp.Body.Close() }()

	var result server.SongResponse

	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return "", fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if result.Status != core.StatusSuccess || result.Data == nil {
		return "", fmt.Errorf(errUnexpectedStatus, resp.StatusCode, result.Error)
	}

	return result.Data.AudioURL, nil
}

// download saves the audio at songURL to path.
func (c *client) download(ctx context.Context, songURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, songURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", songURL, err)
	}

	defer func() { _ = resp.Body.Close() }()

	err = expectOK(resp)
	if err != nil {
		return err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read download: %w", err)
	}

	err = os.WriteFile(path, data, downloadPermissions)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	c.log.Info(logDownloaded, len(data), path)

	return nil
}

func (c *client) send(ctx context.Context, method, route string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, route, err)
	}

	return resp, nil
}

func expectOK(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	return fmt.Errorf(errUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
}
