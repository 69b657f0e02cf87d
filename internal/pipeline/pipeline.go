// Package pipeline drives one uploaded file through conversion, diarization,
// transcription and speaker attribution, and owns every Task status change
// made on the way.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voice-transcripts-go/internal/attribution"
	"voice-transcripts-go/internal/blob"
	"voice-transcripts-go/internal/events"
	"voice-transcripts-go/internal/stages"
	"voice-transcripts-go/internal/store"
	"voice-transcripts-go/internal/types"
)

// Store is the persistence the orchestrator needs. *store.Store satisfies it.
type Store interface {
	CreateTask(ctx context.Context, fileName string) (types.Task, error)
	GetTask(ctx context.Context, id int64) (types.Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, to types.TaskStatus) (types.Task, error)
	CreateTempFile(ctx context.Context, tf types.TempFile) (types.TempFile, error)
	GetTempFile(ctx context.Context, id int64) (types.TempFile, error)
	DeleteTempFile(ctx context.Context, id int64) error
	CompleteTask(ctx context.Context, taskID int64, res store.Results) (types.Task, error)
	ListSpeakers(ctx context.Context, taskID int64) ([]types.Speaker, error)
	ListMessages(ctx context.Context, taskID int64) ([]types.Message, error)
	CreateLabelingTask(ctx context.Context, taskID int64) (types.LabelingTask, error)
	GetLabelingTask(ctx context.Context, taskID int64) (types.LabelingTask, error)
}

// StageRunner runs the three model stages. *stages.Runner satisfies it.
type StageRunner interface {
	Convert(ctx context.Context, taskID int64, src []byte) stages.Result[[]byte]
	Diarize(ctx context.Context, taskID int64, wav []byte) stages.Result[[]types.SpeakerSegment]
	Transcribe(ctx context.Context, taskID int64, wav []byte) stages.Result[[]types.SpeechSegment]
}

type Options struct {
	Store  Store
	Blobs  blob.FileStore
	Runner StageRunner
	Policy attribution.Policy
	// Events is optional.
	Events *events.Bus
	Log    *logrus.Entry
	// CreateLabeling adds a review item once a task completes.
	CreateLabeling bool
}

type Orchestrator struct {
	store          Store
	blobs          blob.FileStore
	runner         StageRunner
	policy         attribution.Policy
	events         *events.Bus
	log            *logrus.Entry
	createLabeling bool
}

func New(opts Options) *Orchestrator {
	log := opts.Log
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = logrus.NewEntry(l)
	}
	policy := opts.Policy
	if policy == "" {
		policy = attribution.PolicyOverlap
	}
	return &Orchestrator{
		store:          opts.Store,
		blobs:          opts.Blobs,
		runner:         opts.Runner,
		policy:         policy,
		events:         opts.Events,
		log:            log.WithField("component", "pipeline"),
		createLabeling: opts.CreateLabeling,
	}
}

// Upload registers a new queued task and parks its bytes in blob storage
// until a worker picks it up.
func (o *Orchestrator) Upload(ctx context.Context, fileName string, data []byte) (types.Task, types.TempFile, error) {
	task, err := o.store.CreateTask(ctx, fileName)
	if err != nil {
		return types.Task{}, types.TempFile{}, err
	}
	log := o.log.WithFields(logrus.Fields{"task_id": task.ID, "file_name": fileName, "bytes": len(data)})

	key := path.Join("uploads", fmt.Sprint(task.ID), uuid.NewString())
	if err := o.blobs.Put(ctx, key, data); err != nil {
		log.WithField("error", err.Error()).Error("storing upload failed")
		o.markFailed(ctx, log, task.ID, "upload", err)
		return task, types.TempFile{}, fmt.Errorf("store upload: %w", err)
	}
	tf, err := o.store.CreateTempFile(ctx, types.TempFile{
		TaskID:   task.ID,
		FileName: fileName,
		BlobKey:  key,
		Size:     int64(len(data)),
	})
	if err != nil {
		_ = o.blobs.Delete(ctx, key)
		o.markFailed(ctx, log, task.ID, "upload", err)
		return task, types.TempFile{}, err
	}
	o.publish(events.Event{TaskID: task.ID, Type: events.TypeStatus, Status: types.StatusQueued})
	log.WithField("temp_file_id", tf.ID).Info("upload accepted")
	return task, tf, nil
}

// Abandon gives up on an uploaded task that will never reach a worker: the
// temp file and its blob are deleted and the task is marked failed.
func (o *Orchestrator) Abandon(ctx context.Context, taskID, tempFileID int64, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := o.log.WithFields(logrus.Fields{"task_id": taskID, "temp_file_id": tempFileID})

	if tf, err := o.store.GetTempFile(ctx, tempFileID); err == nil {
		if err := o.blobs.Delete(ctx, tf.BlobKey); err != nil {
			log.WithField("error", err.Error()).Warn("deleting upload blob failed")
		}
	}
	if err := o.store.DeleteTempFile(ctx, tempFileID); err != nil {
		log.WithField("error", err.Error()).Warn("deleting temp file record failed")
	}
	o.markFailed(ctx, log, taskID, "enqueue", cause)
}

// Run processes one queued task. The temp file and its blob are released
// exactly once whatever the outcome. Any failure after the task reaches
// processing leaves it failed; the error is returned for the caller to log.
func (o *Orchestrator) Run(ctx context.Context, taskID, tempFileID int64) (err error) {
	log := o.log.WithFields(logrus.Fields{"task_id": taskID, "temp_file_id": tempFileID})
	start := time.Now()

	tf, tfErr := o.store.GetTempFile(ctx, tempFileID)
	var once sync.Once
	release := func() {
		once.Do(func() {
			if tfErr == nil {
				if err := o.blobs.Delete(context.WithoutCancel(ctx), tf.BlobKey); err != nil {
					log.WithField("error", err.Error()).Warn("deleting upload blob failed")
				}
			}
			if err := o.store.DeleteTempFile(context.WithoutCancel(ctx), tempFileID); err != nil {
				log.WithField("error", err.Error()).Warn("deleting temp file record failed")
			}
		})
	}
	defer release()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
			log.WithField("panic", r).Error("recovered from panic")
			o.markFailed(ctx, log, taskID, "", err)
		}
	}()

	if tfErr != nil {
		if _, getErr := o.store.GetTask(ctx, taskID); getErr == nil {
			o.markFailed(ctx, log, taskID, "", tfErr)
		}
		log.WithField("error", tfErr.Error()).Error("temp file missing")
		return fmt.Errorf("%w: temp file %d: %v", stages.ErrPrecondition, tempFileID, tfErr)
	}
	if _, err := o.store.GetTask(ctx, taskID); err != nil {
		log.WithField("error", err.Error()).Error("task missing")
		return fmt.Errorf("%w: task %d: %v", stages.ErrPrecondition, taskID, err)
	}

	if _, err := o.store.UpdateTaskStatus(ctx, taskID, types.StatusProcessing); err != nil {
		log.WithField("error", err.Error()).Error("task not runnable")
		return fmt.Errorf("%w: task %d: %v", stages.ErrPrecondition, taskID, err)
	}
	o.publish(events.Event{TaskID: taskID, Type: events.TypeStatus, Status: types.StatusProcessing})
	log.Info("task processing")

	if err := o.process(ctx, log, taskID, tf, release); err != nil {
		o.markFailed(ctx, log, taskID, stageOf(err), err)
		return err
	}

	log.WithField("duration_ms", time.Since(start).Milliseconds()).Info("task completed")
	return nil
}

func (o *Orchestrator) process(ctx context.Context, log *logrus.Entry, taskID int64, tf types.TempFile, release func()) error {
	src, err := o.blobs.Get(ctx, tf.BlobKey)
	if err != nil {
		return fmt.Errorf("%w: read upload %s: %v", stages.ErrPrecondition, tf.BlobKey, err)
	}

	o.publishStage(taskID, stages.StageConvert)
	conv := o.runner.Convert(ctx, taskID, src)
	// The source bytes are no longer needed once converted.
	release()
	if !conv.Ok() {
		return conv.Err
	}

	o.publishStage(taskID, stages.StageDiarize)
	diar := o.runner.Diarize(ctx, taskID, conv.Value)
	if !diar.Ok() {
		return diar.Err
	}

	o.publishStage(taskID, stages.StageTranscribe)
	speech := o.runner.Transcribe(ctx, taskID, conv.Value)
	if !speech.Ok() {
		return speech.Err
	}

	fused := attribution.Fuse(o.policy, speech.Value, diar.Value)
	log.WithFields(logrus.Fields{
		"policy":       o.policy,
		"messages":     len(fused),
		"speaker_segs": len(diar.Value),
	}).Debug("attribution finished")

	if _, err := o.store.CompleteTask(ctx, taskID, store.Results{
		SpeechToText:  types.SpeechToTextResult{Segments: speech.Value},
		Diarization:   types.NewDiarizationResult(diar.Value),
		Transcription: types.TranscriptionResult{Messages: fused},
	}); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	o.publish(events.Event{TaskID: taskID, Type: events.TypeStatus, Status: types.StatusCompleted})

	if o.createLabeling {
		if _, err := o.store.CreateLabelingTask(ctx, taskID); err != nil {
			log.WithField("error", err.Error()).Warn("creating labeling task failed")
		}
	}
	return nil
}

// markFailed moves the task to failed unless it is already terminal.
func (o *Orchestrator) markFailed(ctx context.Context, log *logrus.Entry, taskID int64, stage string, cause error) {
	_, err := o.store.UpdateTaskStatus(context.WithoutCancel(ctx), taskID, types.StatusFailed)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			log.WithField("error", err.Error()).Debug("task already terminal")
			return
		}
		log.WithField("error", err.Error()).Error("marking task failed")
		return
	}
	o.publish(events.Event{TaskID: taskID, Type: events.TypeError, Stage: stage, Message: cause.Error()})
	o.publish(events.Event{TaskID: taskID, Type: events.TypeStatus, Status: types.StatusFailed, Stage: stage})
	log.WithFields(logrus.Fields{"stage": stage, "error": cause.Error()}).Error("task failed")
}

// GetTaskStatus returns status and file name for any task, plus speakers and
// messages once it has completed.
func (o *Orchestrator) GetTaskStatus(ctx context.Context, taskID int64) (types.TaskView, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return types.TaskView{}, err
	}
	view := types.TaskView{
		ID:        task.ID,
		Status:    task.Status,
		FileName:  task.UploadedFileName,
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
	}
	if task.Status != types.StatusCompleted {
		return view, nil
	}
	if view.Speakers, err = o.store.ListSpeakers(ctx, taskID); err != nil {
		return types.TaskView{}, err
	}
	if view.Messages, err = o.store.ListMessages(ctx, taskID); err != nil {
		return types.TaskView{}, err
	}
	return view, nil
}

// GetLabelingTask returns the review item created for a completed task.
func (o *Orchestrator) GetLabelingTask(ctx context.Context, taskID int64) (types.LabelingTask, error) {
	if _, err := o.store.GetTask(ctx, taskID); err != nil {
		return types.LabelingTask{}, err
	}
	return o.store.GetLabelingTask(ctx, taskID)
}

func (o *Orchestrator) publish(ev events.Event) {
	if o.events != nil {
		o.events.Publish(ev)
	}
}

func (o *Orchestrator) publishStage(taskID int64, stage string) {
	o.publish(events.Event{TaskID: taskID, Type: events.TypeStage, Stage: stage})
}

func stageOf(err error) string {
	var se *stages.StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
