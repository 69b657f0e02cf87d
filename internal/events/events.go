package events

import (
	"sync"
	"time"

	"voice-transcripts-go/internal/types"
)

type Type string

const (
	TypeStatus Type = "status"
	TypeStage  Type = "stage"
	TypeError  Type = "error"
)

// Event is one task progress notification.
type Event struct {
	Seq       int64            `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	TaskID    int64            `json:"task_id"`
	Type      Type             `json:"type"`
	Status    types.TaskStatus `json:"status,omitempty"`
	Stage     string           `json:"stage,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// Bus keeps a bounded history of events and fans new ones out to per-task
// subscribers. Slow subscribers drop events rather than block publishers.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	nextSub   int
	subs      map[int64]map[int]chan Event
}

func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      map[int64]map[int]chan Event{},
	}
}

// Publish assigns a sequence number and timestamp, records the event and
// delivers it to subscribers of its task.
func (b *Bus) Publish(ev Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	ev.Seq = b.nextSeq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, ev)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for _, ch := range b.subs[ev.TaskID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Since returns buffered events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.events))
	for _, ev := range b.events {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

// ForTask returns the buffered history of one task.
func (b *Bus) ForTask(taskID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, ev := range b.events {
		if ev.TaskID == taskID {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe registers for future events of taskID. The returned cancel
// func closes the channel and must be called exactly once.
func (b *Bus) Subscribe(taskID int64) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	ch := make(chan Event, 16)
	if b.subs[taskID] == nil {
		b.subs[taskID] = map[int]chan Event{}
	}
	b.subs[taskID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[taskID], id)
			if len(b.subs[taskID]) == 0 {
				delete(b.subs, taskID)
			}
			close(ch)
		})
	}
	return ch, cancel
}
