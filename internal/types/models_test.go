package types

import "testing"

func TestParseTaskStatus(t *testing.T) {
	cases := map[string]TaskStatus{
		"queued":           StatusQueued,
		"processing":       StatusProcessing,
		"completed":        StatusCompleted,
		"failed":           StatusFailed,
		"transcribing":     StatusUnknown,
		"audio_converting": StatusUnknown,
		"":                 StatusUnknown,
	}
	for in, want := range cases {
		if got := ParseTaskStatus(in); got != want {
			t.Fatalf("ParseTaskStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to TaskStatus }{
		{StatusQueued, StatusProcessing},
		{StatusQueued, StatusFailed},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
	}
	for _, c := range allowed {
		if !c.from.CanTransition(c.to) {
			t.Fatalf("%s -> %s should be allowed", c.from, c.to)
		}
	}

	rejected := []struct{ from, to TaskStatus }{
		{StatusQueued, StatusCompleted},
		{StatusProcessing, StatusQueued},
		{StatusCompleted, StatusFailed},
		{StatusFailed, StatusProcessing},
		{StatusQueued, StatusUnknown},
		{StatusUnknown, StatusProcessing},
	}
	for _, c := range rejected {
		if c.from.CanTransition(c.to) {
			t.Fatalf("%s -> %s should be rejected", c.from, c.to)
		}
	}
}

func TestNewDiarizationResultSpeakersFirstSeen(t *testing.T) {
	res := NewDiarizationResult([]SpeakerSegment{
		{Start: 0, End: 1, Speaker: "speaker_2"},
		{Start: 1, End: 2, Speaker: "speaker_1"},
		{Start: 2, End: 3, Speaker: "speaker_2"},
	})
	if len(res.Speakers) != 2 || res.Speakers[0] != "speaker_2" || res.Speakers[1] != "speaker_1" {
		t.Fatalf("speakers = %v", res.Speakers)
	}
}
