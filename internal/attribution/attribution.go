// Package attribution assigns diarized speaker labels to transcribed speech
// segments. Both strategies are pure: identical inputs give identical output
// and every call works on the full segment lists.
package attribution

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"voice-transcripts-go/internal/types"
)

// Policy selects the fusion strategy.
type Policy string

const (
	// PolicyOverlap is overlap-weighted voting, the default.
	PolicyOverlap Policy = "overlap"
	// PolicyDTW aligns the two sorted interval sequences with dynamic time
	// warping. It assumes both lists have comparable cardinality.
	PolicyDTW Policy = "dtw"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicyOverlap:
		return PolicyOverlap, nil
	case PolicyDTW:
		return PolicyDTW, nil
	default:
		return "", fmt.Errorf("unknown attribution policy %q", s)
	}
}

// Fuse produces exactly one message per speech segment, ordered by start.
// Adjacent messages with the same speaker are never merged.
func Fuse(p Policy, speech []types.SpeechSegment, speakers []types.SpeakerSegment) []types.AnnotatedMessage {
	if p == PolicyDTW {
		return FuseDTW(speech, speakers)
	}
	return FuseOverlap(speech, speakers)
}

// Overlap returns the length of the intersection of [start,end] and seg.
func Overlap(start, end float64, seg types.SpeakerSegment) float64 {
	return math.Max(0, math.Min(end, seg.End)-math.Max(start, seg.Start))
}

func sortedSpeech(in []types.SpeechSegment) []types.SpeechSegment {
	out := append([]types.SpeechSegment(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func sortedSpeakers(in []types.SpeakerSegment) []types.SpeakerSegment {
	out := append([]types.SpeakerSegment(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// FuseOverlap gives each speech segment the label with the largest total
// overlap. Equal totals go to the lexicographically smallest label; no
// positive overlap yields types.UnknownSpeaker.
func FuseOverlap(speech []types.SpeechSegment, speakers []types.SpeakerSegment) []types.AnnotatedMessage {
	segs := sortedSpeech(speech)
	diar := sortedSpeakers(speakers)

	out := make([]types.AnnotatedMessage, 0, len(segs))
	for _, s := range segs {
		out = append(out, types.AnnotatedMessage{
			Start:   s.Start,
			End:     s.End,
			Text:    s.Text,
			Speaker: vote(s.Start, s.End, diar),
		})
	}
	return out
}

// vote expects diar sorted by start.
func vote(start, end float64, diar []types.SpeakerSegment) string {
	totals := map[string]float64{}
	for _, seg := range diar {
		if seg.Start >= end {
			break
		}
		if ov := Overlap(start, end, seg); ov > 0 {
			totals[seg.Speaker] += ov
		}
	}
	if len(totals) == 0 {
		return types.UnknownSpeaker
	}

	labels := make([]string, 0, len(totals))
	for label := range totals {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	best := labels[0]
	for _, label := range labels[1:] {
		if totals[label] > totals[best] {
			best = label
		}
	}
	return best
}

// FuseDTW assigns each speech segment the speaker of the diarization segment
// it is aligned to by Align. A segment aligned to several speaker segments
// takes the first one on the path. No speaker segments yields
// types.UnknownSpeaker everywhere.
func FuseDTW(speech []types.SpeechSegment, speakers []types.SpeakerSegment) []types.AnnotatedMessage {
	segs := sortedSpeech(speech)
	diar := sortedSpeakers(speakers)

	out := make([]types.AnnotatedMessage, len(segs))
	for i, s := range segs {
		out[i] = types.AnnotatedMessage{Start: s.Start, End: s.End, Text: s.Text, Speaker: types.UnknownSpeaker}
	}
	if len(segs) == 0 || len(diar) == 0 {
		return out
	}

	a := make([]Interval, len(segs))
	for i, s := range segs {
		a[i] = Interval{s.Start, s.End}
	}
	b := make([]Interval, len(diar))
	for j, d := range diar {
		b[j] = Interval{d.Start, d.End}
	}

	assigned := make([]bool, len(segs))
	for _, step := range Align(a, b) {
		if !assigned[step.I] {
			out[step.I].Speaker = diar[step.J].Speaker
			assigned[step.I] = true
		}
	}
	return out
}

type Interval struct {
	Start, End float64
}

// Step pairs index I of the first sequence with index J of the second.
type Step struct {
	I, J int
}

// Align returns the monotonic DTW path between a and b minimising the summed
// |Δstart|+|Δend| cost. Backtracking starts at the last pair, ends at the
// first and prefers the diagonal move when costs tie.
func Align(a, b []Interval) []Step {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return nil
	}

	inf := math.Inf(1)
	d := make([][]float64, n+1)
	for i := range d {
		d[i] = make([]float64, m+1)
	}
	for j := 1; j <= m; j++ {
		d[0][j] = inf
	}
	for i := 1; i <= n; i++ {
		d[i][0] = inf
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			cost := math.Abs(a[i-1].Start-b[j-1].Start) + math.Abs(a[i-1].End-b[j-1].End)
			d[i][j] = cost + math.Min(d[i-1][j-1], math.Min(d[i-1][j], d[i][j-1]))
		}
	}

	i, j := n, m
	path := []Step{{i - 1, j - 1}}
	for i > 1 || j > 1 {
		switch {
		case i == 1:
			j--
		case j == 1:
			i--
		default:
			diag, up, left := d[i-1][j-1], d[i-1][j], d[i][j-1]
			switch {
			case diag <= up && diag <= left:
				i, j = i-1, j-1
			case up <= left:
				i--
			default:
				j--
			}
		}
		path = append(path, Step{i - 1, j - 1})
	}

	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return path
}
