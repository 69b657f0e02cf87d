package stages

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"voice-transcripts-go/internal/types"
)

type fakeConverter struct {
	out []byte
	err error
}

func (f fakeConverter) ConvertToWav(context.Context, []byte) ([]byte, error) { return f.out, f.err }

// flakyDiarizer fails with err for the first failures calls.
type flakyDiarizer struct {
	failures int
	err      error
	calls    atomic.Int32
	segments []types.SpeakerSegment
}

func (f *flakyDiarizer) Diarize(context.Context, []byte) ([]types.SpeakerSegment, error) {
	n := int(f.calls.Add(1))
	if n <= f.failures {
		return nil, f.err
	}
	return f.segments, nil
}

type fixedTranscriber struct {
	segments []types.SpeechSegment
	err      error
	calls    atomic.Int32
}

func (f *fixedTranscriber) Transcribe(context.Context, []byte) ([]types.SpeechSegment, error) {
	f.calls.Add(1)
	return f.segments, f.err
}

func testOptions() Options {
	return Options{MaxAttempts: 5, RetryDelay: time.Millisecond}
}

func TestConvertWrapsFailureAsEncoding(t *testing.T) {
	r := NewRunner(fakeConverter{err: errors.New("moov atom not found")}, nil, nil, testOptions())

	res := r.Convert(context.Background(), 1, []byte("junk"))
	if res.Ok() {
		t.Fatal("expected failure")
	}
	if !errors.Is(res.Err, ErrEncoding) {
		t.Fatalf("err = %v, want ErrEncoding", res.Err)
	}
	var se *StageError
	if !errors.As(res.Err, &se) || se.Stage != StageConvert {
		t.Fatalf("err = %v, want StageError for convert", res.Err)
	}
}

func TestConvertRejectsEmptyOutput(t *testing.T) {
	r := NewRunner(fakeConverter{}, nil, nil, testOptions())
	if res := r.Convert(context.Background(), 1, []byte("x")); !errors.Is(res.Err, ErrEncoding) {
		t.Fatalf("err = %v, want ErrEncoding", res.Err)
	}
}

func TestDiarizeRetriesTransientFailures(t *testing.T) {
	d := &flakyDiarizer{
		failures: 3,
		err:      fmt.Errorf("%w: cuda kernel crashed", ErrRuntimeFailure),
		segments: []types.SpeakerSegment{{Start: 0, End: 1, Speaker: "A"}},
	}
	r := NewRunner(nil, d, nil, testOptions())

	res := r.Diarize(context.Background(), 1, []byte("wav"))
	if !res.Ok() {
		t.Fatalf("Diarize: %v", res.Err)
	}
	if res.Attempts != 4 || d.calls.Load() != 4 {
		t.Fatalf("attempts = %d calls = %d, want 4", res.Attempts, d.calls.Load())
	}
	if len(res.Value) != 1 {
		t.Fatalf("segments = %+v", res.Value)
	}
}

func TestDiarizeGivesUpAfterMaxAttempts(t *testing.T) {
	d := &flakyDiarizer{failures: 100, err: ErrResourceExhausted}
	r := NewRunner(nil, d, nil, testOptions())

	res := r.Diarize(context.Background(), 1, []byte("wav"))
	if !errors.Is(res.Err, ErrResourceExhausted) {
		t.Fatalf("err = %v, want ErrResourceExhausted", res.Err)
	}
	if d.calls.Load() != 5 {
		t.Fatalf("calls = %d, want 5", d.calls.Load())
	}
}

func TestDiarizeDoesNotRetryPermanentFailure(t *testing.T) {
	d := &flakyDiarizer{failures: 100, err: errors.New("model file missing")}
	r := NewRunner(nil, d, nil, testOptions())

	res := r.Diarize(context.Background(), 1, []byte("wav"))
	if res.Ok() || d.calls.Load() != 1 {
		t.Fatalf("ok = %v calls = %d, want failure after 1 call", res.Ok(), d.calls.Load())
	}
}

func TestDiarizeEmptyIsSuccess(t *testing.T) {
	r := NewRunner(nil, &flakyDiarizer{}, nil, testOptions())
	res := r.Diarize(context.Background(), 1, []byte("wav"))
	if !res.Ok() || len(res.Value) != 0 {
		t.Fatalf("res = %+v, want empty success", res)
	}
}

func TestTranscribeEmptyIsFatalWithoutRetry(t *testing.T) {
	tr := &fixedTranscriber{}
	r := NewRunner(nil, nil, tr, testOptions())

	res := r.Transcribe(context.Background(), 1, []byte("wav"))
	if !errors.Is(res.Err, ErrEmptyResult) {
		t.Fatalf("err = %v, want ErrEmptyResult", res.Err)
	}
	if tr.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", tr.calls.Load())
	}
}

func TestDeviceClearsCacheAroundEachAttempt(t *testing.T) {
	var clears atomic.Int32
	opts := testOptions()
	opts.Device = NewDevice(func() { clears.Add(1) })
	d := &flakyDiarizer{failures: 1, err: ErrRuntimeFailure}
	r := NewRunner(nil, d, nil, opts)

	if res := r.Diarize(context.Background(), 1, nil); !res.Ok() {
		t.Fatalf("Diarize: %v", res.Err)
	}
	if got := clears.Load(); got != 4 {
		t.Fatalf("clears = %d, want 4 (before and after two attempts)", got)
	}
}

type slowTranscriber struct{ calls atomic.Int32 }

func (s *slowTranscriber) Transcribe(ctx context.Context, _ []byte) ([]types.SpeechSegment, error) {
	s.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStageTimeoutCountsAsTransient(t *testing.T) {
	opts := testOptions()
	opts.MaxAttempts = 2
	opts.Timeout = 5 * time.Millisecond
	tr := &slowTranscriber{}
	r := NewRunner(nil, nil, tr, opts)

	res := r.Transcribe(context.Background(), 1, nil)
	if !errors.Is(res.Err, ErrRuntimeFailure) {
		t.Fatalf("err = %v, want ErrRuntimeFailure", res.Err)
	}
	if tr.calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", tr.calls.Load())
	}
}

func TestDeviceRunRespectsContext(t *testing.T) {
	d := NewDevice(nil)
	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = d.Run(context.Background(), func(context.Context) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := d.Run(ctx, func(context.Context) error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	close(hold)
}
