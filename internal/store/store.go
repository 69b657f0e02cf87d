// Package store persists tasks, transcripts, speakers, messages and temp-file
// records in BadgerDB. Values are msgpack-encoded; keys are colon-separated
// paths with zero-padded ids so prefix scans come back in id order.
//
// Every exported write runs in a single Badger transaction, so a concurrent
// reader never observes a half-written logical step.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"voice-transcripts-go/internal/types"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrInvalidTransition is returned when a status write would move a task
	// backwards, out of a terminal state, or to StatusUnknown.
	ErrInvalidTransition = errors.New("store: invalid status transition")
)

const seqBandwidth = 100

type Options struct {
	// Dir is the directory for Badger data files. Required unless InMemory.
	Dir string
	// InMemory runs Badger without disk persistence.
	InMemory bool
	// Logger receives badger's own log lines. Nil keeps warnings and errors
	// only. A *logrus.Entry satisfies badger.Logger.
	Logger badger.Logger
}

type Store struct {
	db  *badger.DB
	now func() time.Time

	mu   sync.Mutex
	seqs map[string]*badger.Sequence
}

func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("store: Options.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		dbOpts = dbOpts.WithLogger(opts.Logger)
	} else {
		quiet := logrus.New()
		quiet.SetLevel(logrus.WarnLevel)
		dbOpts = dbOpts.WithLogger(quiet.WithField("component", "badger"))
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{
		db:   db,
		now:  func() time.Time { return time.Now().UTC() },
		seqs: map[string]*badger.Sequence{},
	}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	for _, seq := range s.seqs {
		_ = seq.Release()
	}
	s.seqs = map[string]*badger.Sequence{}
	s.mu.Unlock()
	return s.db.Close()
}

// nextID hands out ids starting at 1 for the given entity kind.
func (s *Store) nextID(kind string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.seqs[kind]
	if !ok {
		var err error
		seq, err = s.db.GetSequence([]byte("seq:"+kind), seqBandwidth)
		if err != nil {
			return 0, fmt.Errorf("sequence %s: %w", kind, err)
		}
		s.seqs[kind] = seq
	}
	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("sequence %s: %w", kind, err)
	}
	return int64(n) + 1, nil
}

func taskKey(id int64) []byte         { return []byte(fmt.Sprintf("task:%020d", id)) }
func transcriptKey(id int64) []byte   { return []byte(fmt.Sprintf("transcript:%020d", id)) }
func tempFileKey(id int64) []byte     { return []byte(fmt.Sprintf("tempfile:%020d", id)) }
func labelingKey(taskID int64) []byte { return []byte(fmt.Sprintf("labeling:%020d", taskID)) }
func labelSegPrefix(taskID int64) []byte {
	return []byte(fmt.Sprintf("labelseg:%020d:", taskID))
}
func labelSegKey(taskID, id int64) []byte {
	return append(labelSegPrefix(taskID), fmt.Sprintf("%020d", id)...)
}
func speakerPrefix(taskID int64) []byte {
	return []byte(fmt.Sprintf("speaker:%020d:", taskID))
}
func messagePrefix(taskID int64) []byte {
	return []byte(fmt.Sprintf("message:%020d:", taskID))
}
func speakerKey(taskID, id int64) []byte {
	return append(speakerPrefix(taskID), fmt.Sprintf("%020d", id)...)
}
func messageKey(taskID, id int64) []byte {
	return append(messagePrefix(taskID), fmt.Sprintf("%020d", id)...)
}

func put(txn *badger.Txn, key []byte, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func get(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if err := msgpack.Unmarshal(val, v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	})
}

func scan[T any](txn *badger.Txn, prefix []byte) ([]T, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []T
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var v T
		err := it.Item().Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &v)
		})
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

func getTask(txn *badger.Txn, id int64) (types.Task, error) {
	var t types.Task
	if err := get(txn, taskKey(id), &t); err != nil {
		return types.Task{}, err
	}
	t.Status = types.ParseTaskStatus(string(t.Status))
	return t, nil
}

// CreateTask creates a queued task together with its empty transcript.
func (s *Store) CreateTask(_ context.Context, fileName string) (types.Task, error) {
	taskID, err := s.nextID("task")
	if err != nil {
		return types.Task{}, err
	}
	transcriptID, err := s.nextID("transcript")
	if err != nil {
		return types.Task{}, err
	}
	now := s.now()
	task := types.Task{
		ID:               taskID,
		Status:           types.StatusQueued,
		UploadedFileName: fileName,
		TranscriptID:     transcriptID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := put(txn, transcriptKey(transcriptID), types.Transcript{ID: transcriptID}); err != nil {
			return err
		}
		return put(txn, taskKey(taskID), task)
	})
	if err != nil {
		return types.Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

func (s *Store) GetTask(_ context.Context, id int64) (types.Task, error) {
	var task types.Task
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		task, err = getTask(txn, id)
		return err
	})
	return task, err
}

// UpdateTaskStatus applies one forward transition and stamps UpdatedAt.
func (s *Store) UpdateTaskStatus(_ context.Context, id int64, to types.TaskStatus) (types.Task, error) {
	var task types.Task
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		task, err = getTask(txn, id)
		if err != nil {
			return err
		}
		if !task.Status.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, to)
		}
		task.Status = to
		task.UpdatedAt = s.now()
		return put(txn, taskKey(id), task)
	})
	if err != nil {
		return types.Task{}, err
	}
	return task, nil
}

func (s *Store) GetTranscript(_ context.Context, id int64) (types.Transcript, error) {
	var tr types.Transcript
	err := s.db.View(func(txn *badger.Txn) error {
		return get(txn, transcriptKey(id), &tr)
	})
	return tr, err
}

// CreateTempFile records uploaded bytes already written to blob storage.
func (s *Store) CreateTempFile(_ context.Context, tf types.TempFile) (types.TempFile, error) {
	id, err := s.nextID("tempfile")
	if err != nil {
		return types.TempFile{}, err
	}
	tf.ID = id
	if tf.CreatedAt.IsZero() {
		tf.CreatedAt = s.now()
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return put(txn, tempFileKey(id), tf)
	})
	if err != nil {
		return types.TempFile{}, fmt.Errorf("create temp file: %w", err)
	}
	return tf, nil
}

func (s *Store) GetTempFile(_ context.Context, id int64) (types.TempFile, error) {
	var tf types.TempFile
	err := s.db.View(func(txn *badger.Txn) error {
		return get(txn, tempFileKey(id), &tf)
	})
	return tf, err
}

// DeleteTempFile is idempotent.
func (s *Store) DeleteTempFile(_ context.Context, id int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(tempFileKey(id))
	})
}

// Results bundles everything written when a task completes.
type Results struct {
	SpeechToText  types.SpeechToTextResult
	Diarization   types.DiarizationResult
	Transcription types.TranscriptionResult
}

// CompleteTask writes the three transcript artifacts, one speaker per distinct
// label, one message per annotated message and flips the task to completed,
// all in one transaction. Messages whose label has no speaker row get a nil
// speaker id.
func (s *Store) CompleteTask(_ context.Context, taskID int64, res Results) (types.Task, error) {
	var task types.Task
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		task, err = getTask(txn, taskID)
		if err != nil {
			return err
		}
		if !task.Status.CanTransition(types.StatusCompleted) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, types.StatusCompleted)
		}

		var tr types.Transcript
		if err := get(txn, transcriptKey(task.TranscriptID), &tr); err != nil {
			return fmt.Errorf("transcript %d: %w", task.TranscriptID, err)
		}
		stt, diar, fused := res.SpeechToText, res.Diarization, res.Transcription
		tr.SpeechToTextResult = &stt
		tr.DiarizationResult = &diar
		tr.TranscriptionResult = &fused
		if err := put(txn, transcriptKey(tr.ID), tr); err != nil {
			return err
		}

		existing, err := scan[types.Speaker](txn, speakerPrefix(taskID))
		if err != nil {
			return err
		}
		speakers := make(map[string]int64, len(existing))
		for _, sp := range existing {
			speakers[sp.Name] = sp.ID
		}
		for _, label := range diar.Speakers {
			if _, ok := speakers[label]; ok {
				continue
			}
			id, err := s.nextID("speaker")
			if err != nil {
				return err
			}
			if err := put(txn, speakerKey(taskID, id), types.Speaker{ID: id, Name: label, TaskID: taskID}); err != nil {
				return err
			}
			speakers[label] = id
		}

		for _, m := range fused.Messages {
			id, err := s.nextID("message")
			if err != nil {
				return err
			}
			msg := types.Message{
				ID:        id,
				TaskID:    taskID,
				Text:      m.Text,
				StartTime: m.Start,
				EndTime:   m.End,
			}
			if spID, ok := speakers[m.Speaker]; ok {
				msg.SpeakerID = &spID
			}
			if err := put(txn, messageKey(taskID, id), msg); err != nil {
				return err
			}
		}

		task.Status = types.StatusCompleted
		task.UpdatedAt = s.now()
		return put(txn, taskKey(taskID), task)
	})
	if err != nil {
		return types.Task{}, fmt.Errorf("complete task %d: %w", taskID, err)
	}
	return task, nil
}

func (s *Store) ListSpeakers(_ context.Context, taskID int64) ([]types.Speaker, error) {
	var out []types.Speaker
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = scan[types.Speaker](txn, speakerPrefix(taskID))
		return err
	})
	return out, err
}

// ListMessages returns a task's messages ordered by start time.
func (s *Store) ListMessages(_ context.Context, taskID int64) ([]types.Message, error) {
	var out []types.Message
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = scan[types.Message](txn, messagePrefix(taskID))
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

// CreateLabelingTask creates the queued review item for a completed task,
// with one segment per attributed message of its transcript.
// Calling it twice returns the existing item.
func (s *Store) CreateLabelingTask(_ context.Context, taskID int64) (types.LabelingTask, error) {
	var lt types.LabelingTask
	err := s.db.Update(func(txn *badger.Txn) error {
		err := get(txn, labelingKey(taskID), &lt)
		if err == nil {
			lt.Segments, err = labelingSegments(txn, taskID)
			return err
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		task, err := getTask(txn, taskID)
		if err != nil {
			return err
		}
		if task.Status != types.StatusCompleted {
			return fmt.Errorf("labeling task for %s task %d", task.Status, taskID)
		}
		var tr types.Transcript
		if err := get(txn, transcriptKey(task.TranscriptID), &tr); err != nil {
			return fmt.Errorf("transcript %d: %w", task.TranscriptID, err)
		}
		if tr.TranscriptionResult == nil {
			return fmt.Errorf("transcript %d has no transcription", tr.ID)
		}

		id, err := s.nextID("labeling")
		if err != nil {
			return err
		}
		lt = types.LabelingTask{
			ID:           id,
			TaskID:       taskID,
			TranscriptID: tr.ID,
			FileName:     task.UploadedFileName,
			Status:       types.LabelingQueued,
			CreatedAt:    s.now(),
		}
		if err := put(txn, labelingKey(taskID), lt); err != nil {
			return err
		}
		for _, m := range tr.TranscriptionResult.Messages {
			segID, err := s.nextID("labelseg")
			if err != nil {
				return err
			}
			seg := types.LabelingSegment{
				ID:             segID,
				LabelingTaskID: id,
				Start:          m.Start,
				End:            m.End,
				Text:           m.Text,
				Speaker:        m.Speaker,
			}
			if err := put(txn, labelSegKey(taskID, segID), seg); err != nil {
				return err
			}
			lt.Segments = append(lt.Segments, seg)
		}
		sortSegments(lt.Segments)
		return nil
	})
	if err != nil {
		return types.LabelingTask{}, err
	}
	return lt, nil
}

// GetLabelingTask returns the review item of a task with its segments in
// start order.
func (s *Store) GetLabelingTask(_ context.Context, taskID int64) (types.LabelingTask, error) {
	var lt types.LabelingTask
	err := s.db.View(func(txn *badger.Txn) error {
		if err := get(txn, labelingKey(taskID), &lt); err != nil {
			return err
		}
		var err error
		lt.Segments, err = labelingSegments(txn, taskID)
		return err
	})
	if err != nil {
		return types.LabelingTask{}, err
	}
	return lt, nil
}

func labelingSegments(txn *badger.Txn, taskID int64) ([]types.LabelingSegment, error) {
	segs, err := scan[types.LabelingSegment](txn, labelSegPrefix(taskID))
	if err != nil {
		return nil, err
	}
	sortSegments(segs)
	return segs, nil
}

func sortSegments(segs []types.LabelingSegment) {
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
}
