package stages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"voice-transcripts-go/internal/types"
)

const (
	StageConvert    = "convert"
	StageDiarize    = "diarize"
	StageTranscribe = "transcribe"
)

// Converter turns arbitrary uploaded media into mono wav.
type Converter interface {
	ConvertToWav(ctx context.Context, src []byte) ([]byte, error)
}

type Diarizer interface {
	Diarize(ctx context.Context, wav []byte) ([]types.SpeakerSegment, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) ([]types.SpeechSegment, error)
}

// Result is the outcome of one stage. Exactly one of Value or Err is
// meaningful: Err == nil means success.
type Result[T any] struct {
	Stage    string
	Value    T
	Attempts int
	Err      error
}

func (r Result[T]) Ok() bool { return r.Err == nil }

type Options struct {
	// MaxAttempts bounds tries for transient diarize/transcribe failures.
	MaxAttempts int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
	// Timeout bounds a single GPU stage attempt. Zero disables it.
	Timeout time.Duration
	Device  *Device
	Log     *logrus.Entry
}

// Runner owns the long-lived model handles for one worker process and runs
// each stage with the retry and device policy.
type Runner struct {
	converter   Converter
	diarizer    Diarizer
	transcriber Transcriber
	opts        Options
}

func NewRunner(c Converter, d Diarizer, t Transcriber, opts Options) *Runner {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Device == nil {
		opts.Device = NewDevice(nil)
	}
	if opts.Log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		opts.Log = logrus.NewEntry(l)
	}
	return &Runner{converter: c, diarizer: d, transcriber: t, opts: opts}
}

// Convert runs the conversion stage once. Any failure is fatal.
func (r *Runner) Convert(ctx context.Context, taskID int64, src []byte) Result[[]byte] {
	log := r.opts.Log.WithFields(logrus.Fields{"task_id": taskID, "stage": StageConvert})
	start := time.Now()
	wav, err := r.converter.ConvertToWav(ctx, src)
	if err == nil && len(wav) == 0 {
		err = fmt.Errorf("%w: converter produced no audio", ErrEncoding)
	}
	if err != nil {
		if !errors.Is(err, ErrEncoding) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", ErrEncoding, err)
		}
		log.WithField("error", err.Error()).Error("conversion failed")
		return Result[[]byte]{Stage: StageConvert, Attempts: 1, Err: &StageError{Stage: StageConvert, Attempts: 1, Err: err}}
	}
	log.WithFields(logrus.Fields{
		"duration_ms": time.Since(start).Milliseconds(),
		"wav_bytes":   len(wav),
	}).Info("conversion finished")
	return Result[[]byte]{Stage: StageConvert, Value: wav, Attempts: 1}
}

// Diarize runs diarization on the device with bounded retries. An empty
// segment list is a successful result.
func (r *Runner) Diarize(ctx context.Context, taskID int64, wav []byte) Result[[]types.SpeakerSegment] {
	return runGPU(ctx, r, StageDiarize, taskID, func(ctx context.Context) ([]types.SpeakerSegment, error) {
		return r.diarizer.Diarize(ctx, wav)
	}, false)
}

// Transcribe runs speech-to-text on the device with bounded retries. An
// empty segment list fails with ErrEmptyResult and is not retried.
func (r *Runner) Transcribe(ctx context.Context, taskID int64, wav []byte) Result[[]types.SpeechSegment] {
	return runGPU(ctx, r, StageTranscribe, taskID, func(ctx context.Context) ([]types.SpeechSegment, error) {
		return r.transcriber.Transcribe(ctx, wav)
	}, true)
}

func runGPU[T any](ctx context.Context, r *Runner, stage string, taskID int64, call func(context.Context) ([]T, error), requireOutput bool) Result[[]T] {
	log := r.opts.Log.WithFields(logrus.Fields{"task_id": taskID, "stage": stage})
	start := time.Now()
	attempts := 0
	var out []T

	op := func() error {
		attempts++
		err := r.opts.Device.Run(ctx, func(ctx context.Context) error {
			callCtx := ctx
			if r.opts.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
				defer cancel()
			}
			res, err := call(callCtx)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
					return fmt.Errorf("%w: attempt timed out after %s", ErrRuntimeFailure, r.opts.Timeout)
				}
				return err
			}
			out = res
			return nil
		})
		if err == nil {
			if requireOutput && len(out) == 0 {
				return backoff.Permanent(fmt.Errorf("%w: %s returned no segments", ErrEmptyResult, stage))
			}
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(r.opts.RetryDelay)
	b = backoff.WithMaxRetries(b, uint64(r.opts.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	notify := func(err error, wait time.Duration) {
		log.WithFields(logrus.Fields{
			"attempt": attempts,
			"error":   err.Error(),
			"wait_ms": wait.Milliseconds(),
		}).Warn("transient stage failure, retrying")
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		log.WithFields(logrus.Fields{"attempt": attempts, "error": err.Error()}).Error("stage failed")
		return Result[[]T]{Stage: stage, Attempts: attempts, Err: &StageError{Stage: stage, Attempts: attempts, Err: err}}
	}
	log.WithFields(logrus.Fields{
		"attempt":     attempts,
		"segments":    len(out),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("stage finished")
	return Result[[]T]{Stage: stage, Value: out, Attempts: attempts}
}
