package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"":      logrus.InfoLevel,
		"loud":  logrus.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONOutsideLocal(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	var buf bytes.Buffer
	l := NewWithOutput(&buf)

	r := httptest.NewRequest("GET", "/tasks/1", nil)
	r.Header.Set("X-Request-ID", "abc")
	l.WithRequest(r).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if line["req_id"] != "abc" || line["path"] != "/tasks/1" {
		t.Fatalf("line = %v", line)
	}
}

func TestWithError(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	var buf bytes.Buffer
	l := NewWithOutput(&buf)
	l.WithError(errors.New("boom")).Error("failed")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if line["error"] != "boom" {
		t.Fatalf("error field = %v", line["error"])
	}
	if l.WithError(nil) != l.Entry {
		t.Fatal("WithError(nil) should return the base entry")
	}
}
