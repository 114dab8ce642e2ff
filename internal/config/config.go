// Package config provides the configuration structure for the song-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Generation strategies.
const (
	StrategySingle  = "single"
	StrategyChunked = "chunked"
)

// Storage backends.
const (
	BackendNATS = "nats"
	BackendS3   = "s3"
)

// Environment variables that override secrets from the project file.
const (
	envOpenAIKey      = "OPENAI_API_KEY"
	envYouTubeKey     = "YOUTUBE_API_KEY"
	envRapidAPIKey    = "RAPIDAPI_KEY"
	envReplicateToken = "REPLICATE_API_TOKEN"
	envS3AccessKey    = "S3_ACCESS_KEY_ID"
	envS3SecretKey    = "S3_SECRET_ACCESS_KEY"
)

// acquisitionCallsPerAttempt counts search, conversion, download and trim.
const acquisitionCallsPerAttempt = 4

// Defaults applied to zero-valued fields.
const (
	defaultListenAddr          = ":8000"
	defaultPublicBaseURL       = "http://localhost:8000/api/assets"
	defaultNATSURL             = "nats://127.0.0.1:4222"
	defaultGenerateSubject     = "song.generate.requested"
	defaultMaxConcurrent       = 4
	defaultAudioBucket         = "SONG_AUDIO"
	defaultRetentionHours      = 24
	defaultPurgeIntervalHours  = 24
	defaultLyricsBaseURL       = "https://api.fireworks.ai/inference/v1"
	defaultLyricsModel         = "accounts/fireworks/models/deepseek-v3"
	defaultLyricsTemperature   = 1.0
	defaultLyricsMaxTokens     = 1000
	defaultSearchBaseURL       = "https://www.googleapis.com/youtube/v3"
	defaultCandidatePoolSize   = 10
	defaultSearchRatePerSecond = 5.0
	defaultConversionBaseURL   = "https://youtube-mp36.p.rapidapi.com"
	defaultConversionHost      = "youtube-mp36.p.rapidapi.com"
	defaultReplicateBaseURL    = "https://api.replicate.com"
	defaultReplicateVersion    = "a05a52e0512dc0942a782ba75429de791b46a567581f358f4c0c5623d5ff7242"
	defaultBitrate             = 256000
	defaultSampleRate          = 44100
	defaultPollIntervalMillis  = 2000
	defaultChunkCount          = 3
	defaultSegmentSeconds      = 19
	defaultMaxAttempts         = 4
	defaultMinSizeBytes        = 100 * 1024
	defaultMaxSizeBytes        = 15 * 1024 * 1024
	defaultTrimSeconds         = 59
	defaultCallTimeoutSeconds  = 60
	defaultSynthTimeoutSeconds = 600
	defaultFFmpegPath          = "ffmpeg"
	defaultFFprobePath         = "ffprobe"
)

// Validation errors.
var (
	// ErrUnknownStrategy indicates an unsupported pipeline strategy.
	ErrUnknownStrategy = errors.New("unknown pipeline strategy")
	// ErrUnknownBackend indicates an unsupported storage backend.
	ErrUnknownBackend = errors.New("unknown storage backend")
	// ErrChunkCount indicates a chunked strategy without a positive chunk count.
	ErrChunkCount = errors.New("chunk_count must be positive for the chunked strategy")
	// ErrMaxAttempts indicates a non-positive attempt budget.
	ErrMaxAttempts = errors.New("max_attempts must be positive")
	// ErrSizeWindow indicates an inverted size window.
	ErrSizeWindow = errors.New("min_size_bytes must not exceed max_size_bytes")
	// ErrS3Bucket indicates an S3 backend without a bucket.
	ErrS3Bucket = errors.New("s3 bucket cannot be empty")
)

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL             string `toml:"url"`
	Enabled         bool   `toml:"enabled"`
	GenerateSubject string `toml:"generate_subject"`
	MaxConcurrent   int    `toml:"max_concurrent"`
}

// StorageConfig selects the object store and its expiry policy.
type StorageConfig struct {
	Backend            string `toml:"backend"`
	Bucket             string `toml:"bucket"`
	PublicBaseURL      string `toml:"public_base_url"`
	RetentionHours     int    `toml:"retention_hours"`
	PurgeIntervalHours int    `toml:"purge_interval_hours"`
}

// S3Config configures an S3-compatible backend.
type S3Config struct {
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	Prefix          string `toml:"prefix"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// LyricsConfig configures the OpenAI-compatible completion endpoint.
type LyricsConfig struct {
	BaseURL     string  `toml:"base_url"`
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

// SearchConfig configures the video search API.
type SearchConfig struct {
	BaseURL           string  `toml:"base_url"`
	APIKey            string  `toml:"api_key"`
	CandidatePoolSize int     `toml:"candidate_pool_size"`
	RatePerSecond     float64 `toml:"rate_per_second"`
}

// ConversionConfig configures the video-to-audio conversion API.
type ConversionConfig struct {
	BaseURL string `toml:"base_url"`
	Host    string `toml:"host"`
	APIKey  string `toml:"api_key"`
}

// SynthesisConfig configures the music generation API.
type SynthesisConfig struct {
	BaseURL            string `toml:"base_url"`
	APIToken           string `toml:"api_token"`
	ModelVersion       string `toml:"model_version"`
	Bitrate            int    `toml:"bitrate"`
	SampleRate         int    `toml:"sample_rate"`
	PollIntervalMillis int    `toml:"poll_interval_millis"`
	// PreferWaitSeconds is the synchronous wait asked of the create call.
	// Zero keeps the synthesizer default.
	PreferWaitSeconds int `toml:"prefer_wait_seconds"`
}

// PipelineConfig holds the generation pipeline policy.
type PipelineConfig struct {
	Strategy            string `toml:"strategy"`
	ChunkCount          int    `toml:"chunk_count"`
	SegmentSeconds      int    `toml:"segment_seconds"`
	MaxAttempts         int    `toml:"max_attempts"`
	MinSizeBytes        int64  `toml:"min_size_bytes"`
	MaxSizeBytes        int64  `toml:"max_size_bytes"`
	TrimSeconds         int    `toml:"trim_seconds"`
	CallTimeoutSeconds  int    `toml:"call_timeout_seconds"`
	SynthTimeoutSeconds int    `toml:"synth_timeout_seconds"`
}

// AudioConfig holds the media tool locations.
type AudioConfig struct {
	FFmpegPath  string `toml:"ffmpeg_path"`
	FFprobePath string `toml:"ffprobe_path"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	NATS       NATSConfig       `toml:"nats"`
	Storage    StorageConfig    `toml:"storage"`
	S3         S3Config         `toml:"s3"`
	Lyrics     LyricsConfig     `toml:"lyrics"`
	Search     SearchConfig     `toml:"search"`
	Conversion ConversionConfig `toml:"conversion"`
	Synthesis  SynthesisConfig  `toml:"synthesis"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Audio      AudioConfig      `toml:"audio"`
	Paths      PathsConfig      `toml:"paths"`
}

// Load loads the configuration for the song-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// ApplyEnv overrides secrets with values found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	overrides := map[string]*string{
		envOpenAIKey:      &c.Lyrics.APIKey,
		envYouTubeKey:     &c.Search.APIKey,
		envRapidAPIKey:    &c.Conversion.APIKey,
		envReplicateToken: &c.Synthesis.APIToken,
		envS3AccessKey:    &c.S3.AccessKeyID,
		envS3SecretKey:    &c.S3.SecretAccessKey,
	}

	for name, target := range overrides {
		if value, ok := lookup(name); ok && value != "" {
			*target = value
		}
	}
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	setString(&c.Server.ListenAddr, defaultListenAddr)
	setString(&c.NATS.URL, defaultNATSURL)
	setString(&c.NATS.GenerateSubject, defaultGenerateSubject)
	setInt(&c.NATS.MaxConcurrent, defaultMaxConcurrent)
	setString(&c.Storage.Backend, BackendNATS)
	setString(&c.Storage.Bucket, defaultAudioBucket)
	setString(&c.Storage.PublicBaseURL, defaultPublicBaseURL)
	setInt(&c.Storage.RetentionHours, defaultRetentionHours)
	setInt(&c.Storage.PurgeIntervalHours, defaultPurgeIntervalHours)
	setString(&c.Lyrics.BaseURL, defaultLyricsBaseURL)
	setString(&c.Lyrics.Model, defaultLyricsModel)

	if c.Lyrics.Temperature == 0 {
		c.Lyrics.Temperature = defaultLyricsTemperature
	}

	setInt(&c.Lyrics.MaxTokens, defaultLyricsMaxTokens)
	setString(&c.Search.BaseURL, defaultSearchBaseURL)
	setInt(&c.Search.CandidatePoolSize, defaultCandidatePoolSize)

	if c.Search.RatePerSecond == 0 {
		c.Search.RatePerSecond = defaultSearchRatePerSecond
	}

	setString(&c.Conversion.BaseURL, defaultConversionBaseURL)
	setString(&c.Conversion.Host, defaultConversionHost)
	setString(&c.Synthesis.BaseURL, defaultReplicateBaseURL)
	setString(&c.Synthesis.ModelVersion, defaultReplicateVersion)
	setInt(&c.Synthesis.Bitrate, defaultBitrate)
	setInt(&c.Synthesis.SampleRate, defaultSampleRate)
	setInt(&c.Synthesis.PollIntervalMillis, defaultPollIntervalMillis)
	setString(&c.Pipeline.Strategy, StrategySingle)
	setInt(&c.Pipeline.ChunkCount, defaultChunkCount)
	setInt(&c.Pipeline.SegmentSeconds, defaultSegmentSeconds)
	setInt(&c.Pipeline.MaxAttempts, defaultMaxAttempts)

	if c.Pipeline.MinSizeBytes == 0 {
		c.Pipeline.MinSizeBytes = defaultMinSizeBytes
	}

	if c.Pipeline.MaxSizeBytes == 0 {
		c.Pipeline.MaxSizeBytes = defaultMaxSizeBytes
	}

	setInt(&c.Pipeline.TrimSeconds, defaultTrimSeconds)
	setInt(&c.Pipeline.CallTimeoutSeconds, defaultCallTimeoutSeconds)
	setInt(&c.Pipeline.SynthTimeoutSeconds, defaultSynthTimeoutSeconds)
	setString(&c.Audio.FFmpegPath, defaultFFmpegPath)
	setString(&c.Audio.FFprobePath, defaultFFprobePath)
	setString(&c.Paths.BaseLogsDir, os.TempDir())
}

// Validate checks the policy fields that have no safe default.
func (c *Config) Validate() error {
	switch c.Pipeline.Strategy {
	case StrategySingle:
	case StrategyChunked:
		if c.Pipeline.ChunkCount <= 0 {
			return ErrChunkCount
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownStrategy, c.Pipeline.Strategy)
	}

	switch c.Storage.Backend {
	case BackendNATS:
	case BackendS3:
		if c.S3.Bucket == "" {
			return ErrS3Bucket
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownBackend, c.Storage.Backend)
	}

	if c.Pipeline.MaxAttempts <= 0 {
		return fmt.Errorf("%w: got %d", ErrMaxAttempts, c.Pipeline.MaxAttempts)
	}

	if c.Pipeline.MaxSizeBytes > 0 && c.Pipeline.MinSizeBytes > c.Pipeline.MaxSizeBytes {
		return fmt.Errorf("%w: %d > %d", ErrSizeWindow, c.Pipeline.MinSizeBytes, c.Pipeline.MaxSizeBytes)
	}

	return nil
}

// Retention returns the asset retention window.
func (s StorageConfig) Retention() time.Duration {
	return time.Duration(s.RetentionHours) * time.Hour
}

// PurgeInterval returns how often expired assets are purged.
func (s StorageConfig) PurgeInterval() time.Duration {
	return time.Duration(s.PurgeIntervalHours) * time.Hour
}

// CallTimeout bounds a single non-synthesis collaborator call.
func (p PipelineConfig) CallTimeout() time.Duration {
	return time.Duration(p.CallTimeoutSeconds) * time.Second
}

// SynthTimeout bounds a single synthesis call.
func (p PipelineConfig) SynthTimeout() time.Duration {
	return time.Duration(p.SynthTimeoutSeconds) * time.Second
}

// RunTimeout bounds a whole run: lyrics, every acquisition call, each synthesis
// and each publish, plus the final concatenation.
func (p PipelineConfig) RunTimeout() time.Duration {
	syntheses := 1
	if p.Strategy == StrategyChunked {
		syntheses = p.ChunkCount
	}

	calls := 1 + acquisitionCallsPerAttempt*p.MaxAttempts + syntheses + 3

	return time.Duration(calls)*p.CallTimeout() + time.Duration(syntheses)*p.SynthTimeout()
}

// PollInterval is the delay between prediction status checks.
func (s SynthesisConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMillis) * time.Millisecond
}

// PreferWait is the synchronous wait requested when a prediction is created.
func (s SynthesisConfig) PreferWait() time.Duration {
	return time.Duration(s.PreferWaitSeconds) * time.Second
}

func setString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}
