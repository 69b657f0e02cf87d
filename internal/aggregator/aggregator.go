package aggregator

import (
	"sort"

	"voice-transcripts-go/internal/types"
)

// SpeakerStats summarises one speaker's share of a conversation.
type SpeakerStats struct {
	Speaker     string  `json:"speaker"`
	Messages    int     `json:"messages"`
	TalkSeconds float64 `json:"talk_seconds"`
	TalkRatio   float64 `json:"talk_ratio"`
}

type Insight struct {
	TotalMessages    int            `json:"total_messages"`
	TotalTalkSeconds float64        `json:"total_talk_seconds"`
	Speakers         []SpeakerStats `json:"speakers"`
}

// Aggregate buckets messages by speaker name. Messages without a speaker
// land in the "unknown" bucket. Speakers are ordered by talk time, longest
// first.
func Aggregate(messages []types.Message, speakers []types.Speaker) Insight {
	names := make(map[int64]string, len(speakers))
	for _, sp := range speakers {
		names[sp.ID] = sp.Name
	}

	stats := map[string]*SpeakerStats{}
	for _, sp := range speakers {
		stats[sp.Name] = &SpeakerStats{Speaker: sp.Name}
	}

	var ins Insight
	for _, m := range messages {
		name := types.UnknownSpeaker
		if m.SpeakerID != nil {
			if n, ok := names[*m.SpeakerID]; ok {
				name = n
			}
		}
		s := stats[name]
		if s == nil {
			s = &SpeakerStats{Speaker: name}
			stats[name] = s
		}
		dur := m.EndTime - m.StartTime
		if dur < 0 {
			dur = 0
		}
		s.Messages++
		s.TalkSeconds += dur
		ins.TotalMessages++
		ins.TotalTalkSeconds += dur
	}

	for _, s := range stats {
		if ins.TotalTalkSeconds > 0 {
			s.TalkRatio = s.TalkSeconds / ins.TotalTalkSeconds
		}
		ins.Speakers = append(ins.Speakers, *s)
	}
	sort.Slice(ins.Speakers, func(i, j int) bool {
		a, b := ins.Speakers[i], ins.Speakers[j]
		if a.TalkSeconds != b.TalkSeconds {
			return a.TalkSeconds > b.TalkSeconds
		}
		return a.Speaker < b.Speaker
	})
	return ins
}
