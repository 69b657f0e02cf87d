package stages

import (
	"context"

	"voice-transcripts-go/internal/types"
)

// MockInference returns a fixed two-speaker conversation. Enabled with
// USE_MOCK_INFERENCE=true for offline demos.
type MockInference struct{}

func (MockInference) Diarize(context.Context, []byte) ([]types.SpeakerSegment, error) {
	return []types.SpeakerSegment{
		{Start: 0.0, End: 3.2, Speaker: "speaker_0"},
		{Start: 3.2, End: 7.5, Speaker: "speaker_1"},
		{Start: 7.5, End: 10.0, Speaker: "speaker_0"},
	}, nil
}

func (MockInference) Transcribe(context.Context, []byte) ([]types.SpeechSegment, error) {
	return []types.SpeechSegment{
		{Start: 0.2, End: 3.0, Text: "MOCK TRANSCRIPT: hello, thanks for calling."},
		{Start: 3.4, End: 7.1, Text: "Hi, I have a question about my last invoice."},
		{Start: 7.6, End: 9.8, Text: "Sure, let me pull that up."},
	}, nil
}
