// Package bootstrap wires configuration into the store, blob storage, stage
// runner, orchestrator and queue shared by the server and the CLI.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"voice-transcripts-go/internal/attribution"
	"voice-transcripts-go/internal/blob"
	"voice-transcripts-go/internal/config"
	"voice-transcripts-go/internal/events"
	"voice-transcripts-go/internal/logger"
	"voice-transcripts-go/internal/pipeline"
	"voice-transcripts-go/internal/queue"
	"voice-transcripts-go/internal/stages"
	"voice-transcripts-go/internal/store"
)

type App struct {
	Config   config.Config
	Log      *logger.Logger
	Store    *store.Store
	Blobs    blob.FileStore
	Events   *events.Bus
	Pipeline *pipeline.Orchestrator
	Queue    *queue.Queue
}

type settings struct {
	converter stages.Converter
	inMemory  bool
}

type Option func(*settings)

// WithConverter replaces the ffmpeg converter.
func WithConverter(c stages.Converter) Option {
	return func(s *settings) { s.converter = c }
}

// InMemory keeps the task store out of DATA_DIR.
func InMemory() Option {
	return func(s *settings) { s.inMemory = true }
}

func New(cfg config.Config, log *logger.Logger, opts ...Option) (*App, error) {
	var set settings
	for _, o := range opts {
		o(&set)
	}

	policy, err := attribution.ParsePolicy(cfg.AttributionPolicy)
	if err != nil {
		return nil, err
	}

	storeOpts := store.Options{InMemory: set.inMemory, Logger: log.Component("badger")}
	if !set.inMemory {
		storeOpts.Dir = filepath.Join(cfg.DataDir, "badger")
		if err := os.MkdirAll(storeOpts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.Open(storeOpts)
	if err != nil {
		return nil, err
	}

	blobs, err := openBlobs(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	converter := set.converter
	if converter == nil {
		converter = stages.NewFFmpegConverter(cfg.FFmpegPath)
	}
	var diarizer stages.Diarizer
	var transcriber stages.Transcriber
	if cfg.UseMockInference {
		log.Warn("USE_MOCK_INFERENCE=true, serving canned diarization and transcripts")
		diarizer, transcriber = stages.MockInference{}, stages.MockInference{}
	} else {
		client := stages.NewInferenceClient(cfg.InferenceURL, log.Entry)
		diarizer, transcriber = client, client
	}

	runner := stages.NewRunner(converter, diarizer, transcriber, stages.Options{
		MaxAttempts: cfg.StageMaxAttempts,
		RetryDelay:  cfg.StageRetryDelay,
		Timeout:     cfg.StageTimeout,
		Device:      stages.NewDevice(nil),
		Log:         log.Component("stages"),
	})

	bus := events.NewBus(1000)
	orch := pipeline.New(pipeline.Options{
		Store:          st,
		Blobs:          blobs,
		Runner:         runner,
		Policy:         policy,
		Events:         bus,
		Log:            log.Entry,
		CreateLabeling: cfg.CreateLabelingTask,
	})

	var q *queue.Queue
	switch cfg.QueueBackend {
	case config.QueueInProcess:
		q = queue.New(cfg.QueueCapacity, cfg.QueueWorkers, log.Entry)
	default:
		st.Close()
		return nil, fmt.Errorf("unsupported queue backend %q", cfg.QueueBackend)
	}

	return &App{
		Config:   cfg,
		Log:      log,
		Store:    st,
		Blobs:    blobs,
		Events:   bus,
		Pipeline: orch,
		Queue:    q,
	}, nil
}

func openBlobs(cfg config.Config) (blob.FileStore, error) {
	switch cfg.BlobBackend {
	case config.BlobS3:
		client := blob.NewS3Client(blob.S3Config{
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		return blob.NewS3(client, cfg.S3.Bucket, cfg.S3.Prefix), nil
	case config.BlobLocal, "":
		return blob.NewLocal(cfg.BlobDir)
	default:
		return nil, fmt.Errorf("unsupported blob backend %q", cfg.BlobBackend)
	}
}

// StartWorkers begins draining the queue into the orchestrator.
func (a *App) StartWorkers() {
	a.Queue.Start(func(ctx context.Context, item queue.Item) error {
		return a.Pipeline.Run(ctx, item.TaskID, item.TempFileID)
	})
}

// Close stops the workers after they drain and closes the store. Items that
// never reached a worker have their tasks failed.
func (a *App) Close() error {
	for _, item := range a.Queue.Stop() {
		a.Pipeline.Abandon(context.Background(), item.TaskID, item.TempFileID, queue.ErrClosed)
	}
	return a.Store.Close()
}
