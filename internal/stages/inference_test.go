package stages

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestInferenceDiarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/diarize" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		f, _, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		body, _ := io.ReadAll(f)
		if string(body) != "wav" {
			t.Errorf("audio = %q", body)
		}
		_, _ = io.WriteString(w, `{"segments":[{"start":0,"end":1.5,"speaker":"A"},{"start":2,"end":2,"speaker":"B"},{"start":2,"end":3,"speaker":"B"}]}`)
	}))
	defer srv.Close()

	c := NewInferenceClient(srv.URL+"/", testEntry())
	segs, err := c.Diarize(context.Background(), []byte("wav"))
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("segments = %+v, want zero-length one dropped", segs)
	}
	if segs[1].Speaker != "B" || segs[1].End != 3 {
		t.Fatalf("segments[1] = %+v", segs[1])
	}
}

func TestInferenceTranscribeDropsBlankText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"segments":[{"start":0,"end":1,"text":"  hello "},{"start":1,"end":2,"text":"   "}]}`)
	}))
	defer srv.Close()

	segs, err := NewInferenceClient(srv.URL, testEntry()).Transcribe(context.Background(), []byte("wav"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "hello" {
		t.Fatalf("segments = %+v", segs)
	}
}

func TestInferenceStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusServiceUnavailable, ErrResourceExhausted},
		{http.StatusTooManyRequests, ErrResourceExhausted},
		{http.StatusInternalServerError, ErrRuntimeFailure},
		{http.StatusUnprocessableEntity, ErrEncoding},
	}
	for _, tc := range cases {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			http.Error(w, "boom", tc.status)
		}))
		_, err := NewInferenceClient(srv.URL, testEntry()).Diarize(context.Background(), []byte("wav"))
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
		if calls != 1 {
			t.Fatalf("status %d: calls = %d, want 1 (runner owns retries)", tc.status, calls)
		}
	}
}

func TestInferenceBadRequestIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewInferenceClient(srv.URL, testEntry()).Transcribe(context.Background(), []byte("wav"))
	if err == nil || IsTransient(err) {
		t.Fatalf("err = %v, want permanent error", err)
	}
}

func TestInferenceUnreachableIsRuntimeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewInferenceClient(url, testEntry())
	c.maxElapsed = 10 * time.Millisecond
	_, err := c.Diarize(context.Background(), []byte("wav"))
	if !errors.Is(err, ErrRuntimeFailure) {
		t.Fatalf("err = %v, want ErrRuntimeFailure", err)
	}
}
