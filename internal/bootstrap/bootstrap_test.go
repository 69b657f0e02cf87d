package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"voice-transcripts-go/internal/config"
	"voice-transcripts-go/internal/logger"
	"voice-transcripts-go/internal/types"
)

type copyConverter struct{}

func (copyConverter) ConvertToWav(_ context.Context, src []byte) ([]byte, error) { return src, nil }

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		DataDir:            dir,
		BlobBackend:        config.BlobLocal,
		BlobDir:            filepath.Join(dir, "uploads"),
		QueueBackend:       config.QueueInProcess,
		QueueWorkers:       1,
		QueueCapacity:      4,
		AttributionPolicy:  "overlap",
		StageMaxAttempts:   2,
		StageRetryDelay:    time.Millisecond,
		UseMockInference:   true,
		CreateLabelingTask: true,
	}
}

func TestEndToEndWithMockInference(t *testing.T) {
	app, err := New(testConfig(t), logger.Discard(), WithConverter(copyConverter{}), InMemory())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	ch, cancel := app.Events.Subscribe(1)
	defer cancel()
	app.StartWorkers()

	task, tf, err := app.Pipeline.Upload(ctx, "demo.wav", []byte("RIFF"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := app.Queue.Enqueue(ctx, task.ID, tf.ID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-ch:
			done = ev.Status.IsTerminal()
		case <-deadline:
			t.Fatal("task did not finish")
		}
	}
	if err := app.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.AttributionPolicy = "loudest"
	if _, err := New(cfg, logger.Discard(), InMemory()); err == nil {
		t.Fatal("New accepted an unknown attribution policy")
	}
}

func TestNewOnDisk(t *testing.T) {
	app, err := New(testConfig(t), logger.Discard(), WithConverter(copyConverter{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer app.Close()

	task, _, err := app.Pipeline.Upload(context.Background(), "a.wav", []byte("x"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	view, err := app.Pipeline.GetTaskStatus(context.Background(), task.ID)
	if err != nil || view.Status != types.StatusQueued {
		t.Fatalf("view = %+v err = %v", view, err)
	}
}

func TestCloseFailsTasksNeverStarted(t *testing.T) {
	app, err := New(testConfig(t), logger.Discard(), WithConverter(copyConverter{}), InMemory())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	task, tf, err := app.Pipeline.Upload(ctx, "late.wav", []byte("RIFF"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := app.Queue.Enqueue(ctx, task.ID, tf.ID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := app.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var last types.TaskStatus
	for _, ev := range app.Events.ForTask(task.ID) {
		if ev.Status != "" {
			last = ev.Status
		}
	}
	if last != types.StatusFailed {
		t.Fatalf("last status = %s, want failed", last)
	}
}
