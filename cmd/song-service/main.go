// main package for the song-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/song-service/internal/acquire"
	"github.com/book-expert/song-service/internal/audio"
	"github.com/book-expert/song-service/internal/cleanup"
	"github.com/book-expert/song-service/internal/config"
	"github.com/book-expert/song-service/internal/convert"
	"github.com/book-expert/song-service/internal/core"
	"github.com/book-expert/song-service/internal/lyrics"
	"github.com/book-expert/song-service/internal/media"
	"github.com/book-expert/song-service/internal/metrics"
	"github.com/book-expert/song-service/internal/objectstore"
	"github.com/book-expert/song-service/internal/pipeline"
	"github.com/book-expert/song-service/internal/search"
	"github.com/book-expert/song-service/internal/server"
	"github.com/book-expert/song-service/internal/synth"
	"github.com/book-expert/song-service/internal/worker"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName       = "song-service"
	metricsNamespace  = "song_service"
	workerQueueGroup  = "song-service"
	maxDownloadBytes  = 64 << 20
	bootstrapLogFile  = "song-service-bootstrap.log"
	serviceLogFile    = "song-service.log"
	natsClientNameFmt = "%s-%d"
)

var errNATSRequired = errors.New("nats connection required but not configured")

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Connect to NATS when the worker or the object store needs it
	var natsConnection *nats.Conn

	if cfg.NATS.Enabled || cfg.Storage.Backend == config.BackendNATS {
		natsConnection, err = nats.Connect(cfg.NATS.URL, nats.Name(fmt.Sprintf(natsClientNameFmt, serviceName, os.Getpid())))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}

		defer natsConnection.Close()
	}

	// 5. Build the pipeline
	store, err := newObjectStore(cfg, natsConnection)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(metricsNamespace)

	orchestrator, gateway, err := newPipeline(cfg, store, collector, finalLog)
	if err != nil {
		return err
	}

	// 6. Run the HTTP API, the purge task and the optional NATS worker
	api := server.New(orchestrator, gateway, collector, finalLog)
	purgeTask := cleanup.NewTask(gateway, cfg.Storage.PurgeInterval(), collector, finalLog)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error { return api.ListenAndServe(groupCtx, cfg.Server.ListenAddr) })
	group.Go(func() error { return purgeTask.Run(groupCtx) })

	if cfg.NATS.Enabled {
		natsWorker := worker.NewNatsWorker(natsConnection, orchestrator, worker.Options{
			Subject:       cfg.NATS.GenerateSubject,
			QueueGroup:    workerQueueGroup,
			MaxConcurrent: int64(cfg.NATS.MaxConcurrent),
			HandleTimeout: cfg.Pipeline.RunTimeout(),
		}, finalLog)

		group.Go(func() error { return natsWorker.Run(groupCtx) })
	}

	finalLog.System("Song-Service successfully initialized. Strategy: %s, HTTP: %s, NATS worker: %t",
		cfg.Pipeline.Strategy, cfg.Server.ListenAddr, cfg.NATS.Enabled)

	err = group.Wait()
	if err != nil {
		finalLog.Error("Service stopped with error: %v", err)

		return fmt.Errorf("service stopped: %w", err)
	}

	finalLog.System("Song-Service stopped.")

	return nil
}

func newObjectStore(cfg *config.Config, natsConnection *nats.Conn) (core.ObjectStore, error) {
	if cfg.Storage.Backend == config.BackendS3 {
		client := objectstore.NewS3Client(objectstore.S3Options{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})

		return objectstore.NewS3(client, cfg.S3.Bucket, cfg.S3.Prefix), nil
	}

	if natsConnection == nil {
		return nil, errNATSRequired
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.Storage.Bucket, cfg.Storage.Retention())
	if err != nil {
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}

	return store, nil
}

func newPipeline(
	cfg *config.Config,
	store core.ObjectStore,
	collector *metrics.Collector,
	log *logger.Logger,
) (*pipeline.Orchestrator, *media.Gateway, error) {
	callTimeout := cfg.Pipeline.CallTimeout()

	gateway := media.NewGateway(store, media.Options{
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		Retention:     cfg.Storage.Retention(),
		MaxFetchBytes: maxDownloadBytes,
		Timeout:       callTimeout,
	}, log)

	processor := audio.NewFFmpegProcessor(cfg.Audio.FFmpegPath, cfg.Audio.FFprobePath, log)

	lyricsGenerator := lyrics.NewOpenAIGenerator(lyrics.Options{
		BaseURL:        cfg.Lyrics.BaseURL,
		APIKey:         cfg.Lyrics.APIKey,
		Model:          cfg.Lyrics.Model,
		Temperature:    cfg.Lyrics.Temperature,
		MaxTokens:      cfg.Lyrics.MaxTokens,
		RequestOptions: nil,
	}, log)

	locator := search.NewYouTubeLocator(search.Options{
		BaseURL:       cfg.Search.BaseURL,
		APIKey:        cfg.Search.APIKey,
		PoolSize:      cfg.Search.CandidatePoolSize,
		RatePerSecond: cfg.Search.RatePerSecond,
		Timeout:       callTimeout,
		Pick:          nil,
	}, log)

	resolver := convert.NewRapidAPIResolver(convert.Options{
		BaseURL: cfg.Conversion.BaseURL,
		Host:    cfg.Conversion.Host,
		APIKey:  cfg.Conversion.APIKey,
		Timeout: callTimeout,
	}, log)

	synthesizer := synth.NewReplicateSynthesizer(synth.Options{
		BaseURL:      cfg.Synthesis.BaseURL,
		APIToken:     cfg.Synthesis.APIToken,
		ModelVersion: cfg.Synthesis.ModelVersion,
		Bitrate:      cfg.Synthesis.Bitrate,
		SampleRate:   cfg.Synthesis.SampleRate,
		PollInterval: cfg.Synthesis.PollInterval(),
		Timeout:      callTimeout,
		PreferWait:   cfg.Synthesis.PreferWait(),
	}, gateway, processor, log)

	acquirer := acquire.NewTrackAcquirer(locator, resolver, gateway, processor, acquire.Options{
		Window:      core.SizeWindow{Min: cfg.Pipeline.MinSizeBytes, Max: cfg.Pipeline.MaxSizeBytes},
		TrimSeconds: float64(cfg.Pipeline.TrimSeconds),
		CallTimeout: callTimeout,
	}, log)

	orchestrator, err := pipeline.NewOrchestrator(pipeline.Dependencies{
		Lyrics:      lyricsGenerator,
		Acquirer:    acquirer,
		Synthesizer: synthesizer,
		Gateway:     gateway,
		Processor:   processor,
		Metrics:     collector,
	}, pipeline.Options{
		Strategy:       pipeline.Strategy(cfg.Pipeline.Strategy),
		ChunkCount:     cfg.Pipeline.ChunkCount,
		SegmentSeconds: float64(cfg.Pipeline.SegmentSeconds),
		MaxAttempts:    cfg.Pipeline.MaxAttempts,
		Retention:      cfg.Storage.Retention(),
		CallTimeout:    callTimeout,
		SynthTimeout:   cfg.Pipeline.SynthTimeout(),
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	return orchestrator, gateway, nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
