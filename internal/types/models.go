package types

import "time"

// TaskStatus is the persisted lifecycle state of a Task.
type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	// StatusUnknown is only produced when decoding an unrecognised value.
	StatusUnknown TaskStatus = "unknown"
)

// ParseTaskStatus decodes a persisted status, falling back to StatusUnknown.
func ParseTaskStatus(s string) TaskStatus {
	switch st := TaskStatus(s); st {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return st
	default:
		return StatusUnknown
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition enforces queued -> processing -> {completed|failed}.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	switch s {
	case StatusQueued:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// UnknownSpeaker is assigned when no speaker segment overlaps a message.
const UnknownSpeaker = "unknown"

type Task struct {
	ID               int64      `json:"id" msgpack:"id"`
	Status           TaskStatus `json:"status" msgpack:"status"`
	UploadedFileName string     `json:"uploaded_file_name" msgpack:"uploaded_file_name"`
	TranscriptID     int64      `json:"transcript_id" msgpack:"transcript_id"`
	CreatedAt        time.Time  `json:"created_at" msgpack:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" msgpack:"updated_at"`
}

// SpeechSegment is one transcribed span of audio.
type SpeechSegment struct {
	Start float64 `json:"start" msgpack:"start"`
	End   float64 `json:"end" msgpack:"end"`
	Text  string  `json:"text" msgpack:"text"`
}

// SpeakerSegment is one diarized span. Speaker labels are local to a task.
type SpeakerSegment struct {
	Start   float64 `json:"start" msgpack:"start"`
	End     float64 `json:"end" msgpack:"end"`
	Speaker string  `json:"speaker" msgpack:"speaker"`
}

type SpeechToTextResult struct {
	Segments []SpeechSegment `json:"segments" msgpack:"segments"`
}

type DiarizationResult struct {
	Segments []SpeakerSegment `json:"segments" msgpack:"segments"`
	Speakers []string         `json:"speakers" msgpack:"speakers"`
}

// NewDiarizationResult collects the distinct labels in first-seen order.
func NewDiarizationResult(segments []SpeakerSegment) DiarizationResult {
	seen := map[string]bool{}
	res := DiarizationResult{Segments: segments, Speakers: []string{}}
	for _, s := range segments {
		if !seen[s.Speaker] {
			seen[s.Speaker] = true
			res.Speakers = append(res.Speakers, s.Speaker)
		}
	}
	return res
}

// AnnotatedMessage is a speech segment with its attributed speaker.
type AnnotatedMessage struct {
	Start   float64 `json:"start" msgpack:"start"`
	End     float64 `json:"end" msgpack:"end"`
	Text    string  `json:"text" msgpack:"text"`
	Speaker string  `json:"speaker" msgpack:"speaker"`
}

type TranscriptionResult struct {
	Messages []AnnotatedMessage `json:"messages" msgpack:"messages"`
}

// Transcript holds the raw and fused artifacts of one task.
// TranscriptionResult is set only once the owning task is completed.
type Transcript struct {
	ID                  int64                `json:"id" msgpack:"id"`
	SpeechToTextResult  *SpeechToTextResult  `json:"speech_to_text_result,omitempty" msgpack:"speech_to_text_result"`
	DiarizationResult   *DiarizationResult   `json:"diarization_result,omitempty" msgpack:"diarization_result"`
	TranscriptionResult *TranscriptionResult `json:"transcription_result,omitempty" msgpack:"transcription_result"`
}

type Speaker struct {
	ID     int64  `json:"id" msgpack:"id"`
	Name   string `json:"name" msgpack:"name"`
	TaskID int64  `json:"task_id" msgpack:"task_id"`
}

type Message struct {
	ID        int64   `json:"id" msgpack:"id"`
	TaskID    int64   `json:"task_id" msgpack:"task_id"`
	SpeakerID *int64  `json:"speaker_id" msgpack:"speaker_id"`
	Text      string  `json:"text" msgpack:"text"`
	StartTime float64 `json:"start_time" msgpack:"start_time"`
	EndTime   float64 `json:"end_time" msgpack:"end_time"`
}

// TempFile references uploaded bytes waiting for the first pipeline stage.
type TempFile struct {
	ID        int64     `json:"id" msgpack:"id"`
	TaskID    int64     `json:"task_id" msgpack:"task_id"`
	FileName  string    `json:"file_name" msgpack:"file_name"`
	BlobKey   string    `json:"blob_key" msgpack:"blob_key"`
	Size      int64     `json:"size" msgpack:"size"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
}

type LabelingTaskStatus string

const LabelingQueued LabelingTaskStatus = "queued"

// LabelingTask is the review work item derived from a completed task.
// Segments are stored under their own keys and filled in on read.
type LabelingTask struct {
	ID           int64              `json:"id" msgpack:"id"`
	TaskID       int64              `json:"task_id" msgpack:"task_id"`
	TranscriptID int64              `json:"transcript_id" msgpack:"transcript_id"`
	FileName     string             `json:"file_name" msgpack:"file_name"`
	Status       LabelingTaskStatus `json:"status" msgpack:"status"`
	CreatedAt    time.Time          `json:"created_at" msgpack:"created_at"`
	Segments     []LabelingSegment  `json:"segments" msgpack:"-"`
}

// LabelingSegment is one attributed message offered for review.
type LabelingSegment struct {
	ID             int64   `json:"id" msgpack:"id"`
	LabelingTaskID int64   `json:"labeling_task_id" msgpack:"labeling_task_id"`
	Start          float64 `json:"start" msgpack:"start"`
	End            float64 `json:"end" msgpack:"end"`
	Text           string  `json:"text" msgpack:"text"`
	Speaker        string  `json:"speaker" msgpack:"speaker"`
}

// TaskView is what callers read back for a task.
// Speakers and Messages are only populated for completed tasks.
type TaskView struct {
	ID        int64      `json:"id"`
	Status    TaskStatus `json:"status"`
	FileName  string     `json:"file_name"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Speakers  []Speaker  `json:"speakers,omitempty"`
	Messages  []Message  `json:"messages,omitempty"`
}
