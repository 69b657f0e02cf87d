package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"voice-transcripts-go/internal/types"
)

// InferenceClient talks to the model-serving sidecar that hosts the
// diarization and speech-to-text models. Both endpoints take a multipart
// "audio" wav upload and answer with {"segments": [...]}.
type InferenceClient struct {
	baseURL    string
	httpClient *http.Client
	// maxElapsed bounds retries of connection-level failures only; HTTP
	// status failures are classified and returned to the stage runner.
	maxElapsed time.Duration
	log        *logrus.Entry
}

func NewInferenceClient(baseURL string, log *logrus.Entry) *InferenceClient {
	return &InferenceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		maxElapsed: 12 * time.Second,
		log:        log.WithField("module", "inference"),
	}
}

type diarizeResponse struct {
	Segments []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Speaker string  `json:"speaker"`
	} `json:"segments"`
}

type transcribeResponse struct {
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (c *InferenceClient) Diarize(ctx context.Context, wav []byte) ([]types.SpeakerSegment, error) {
	var resp diarizeResponse
	if err := c.post(ctx, "/diarize", wav, &resp); err != nil {
		return nil, err
	}
	out := make([]types.SpeakerSegment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		if s.End <= s.Start {
			continue
		}
		out = append(out, types.SpeakerSegment{Start: s.Start, End: s.End, Speaker: s.Speaker})
	}
	return out, nil
}

func (c *InferenceClient) Transcribe(ctx context.Context, wav []byte) ([]types.SpeechSegment, error) {
	var resp transcribeResponse
	if err := c.post(ctx, "/transcribe", wav, &resp); err != nil {
		return nil, err
	}
	out := make([]types.SpeechSegment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" || s.End < s.Start {
			continue
		}
		out = append(out, types.SpeechSegment{Start: s.Start, End: s.End, Text: text})
	}
	return out, nil
}

func (c *InferenceClient) post(ctx context.Context, path string, wav []byte, target any) error {
	endpoint := c.baseURL + path
	c.log.WithFields(logrus.Fields{"endpoint": endpoint, "wav_bytes": len(wav)}).Debug("calling inference")

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapsed
	connErr := false
	op := func() error {
		connErr = false
		var b bytes.Buffer
		w := multipart.NewWriter(&b)
		part, err := w.CreateFormFile("audio", "audio.wav")
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := part.Write(wav); err != nil {
			return backoff.Permanent(err)
		}
		_ = w.Close()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &b)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", w.FormDataContentType())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			connErr = true
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		if err := classifyStatus(resp.StatusCode, body); err != nil {
			return backoff.Permanent(err)
		}
		if len(body) == 0 {
			return backoff.Permanent(fmt.Errorf("%w: empty body from %s", ErrRuntimeFailure, path))
		}
		if err := json.Unmarshal(body, target); err != nil {
			return backoff.Permanent(fmt.Errorf("json decode error: %v body=%s", err, string(body)))
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if connErr && ctx.Err() == nil {
			return fmt.Errorf("%w: %v", ErrRuntimeFailure, err)
		}
		return err
	}
	return nil
}

func classifyStatus(code int, body []byte) error {
	switch {
	case code < 300:
		return nil
	case code == http.StatusServiceUnavailable || code == http.StatusInsufficientStorage || code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", ErrResourceExhausted, code, string(body))
	case code >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrRuntimeFailure, code, string(body))
	case code == http.StatusUnsupportedMediaType || code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: status %d: %s", ErrEncoding, code, string(body))
	default:
		return fmt.Errorf("inference request rejected: status %d: %s", code, string(body))
	}
}
