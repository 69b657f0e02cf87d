package stages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// commandRunner abstracts process execution for testability.
type commandRunner func(ctx context.Context, stdin []byte, name string, args ...string) (stdout []byte, stderr string, err error)

func execRunner(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.String(), err
}

// FFmpegConverter pipes media through ffmpeg into loudness-normalised
// 16 kHz mono 16-bit wav.
type FFmpegConverter struct {
	path string
	run  commandRunner
}

func NewFFmpegConverter(path string) *FFmpegConverter {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegConverter{path: path, run: execRunner}
}

func (c *FFmpegConverter) ConvertToWav(ctx context.Context, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrEncoding)
	}
	// ffmpeg -i pipe:0 -af loudnorm -ac 1 -ar 16000 -c:a pcm_s16le -f wav pipe:1
	out, stderr, err := c.run(ctx, src, c.path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-af", "loudnorm",
		"-ac", "1", "-ar", "16000",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		"pipe:1",
	)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("ffmpeg: %w", err)
		}
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrEncoding, err, strings.TrimSpace(stderr))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: ffmpeg produced no output", ErrEncoding)
	}
	return out, nil
}
