// Package queue runs pipeline work on a fixed pool of in-process workers.
// Items live only in memory; a restart drops whatever was pending.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrClosed = errors.New("queue: closed")

// Item is one unit of pipeline work.
type Item struct {
	TaskID     int64
	TempFileID int64
}

// Handler processes one item. Returned errors and panics are logged and
// never stop the worker.
type Handler func(ctx context.Context, item Item) error

type Queue struct {
	items   chan *Item
	workers int
	log     *logrus.Entry

	mu       sync.Mutex
	closed   bool
	started  bool
	done     chan struct{}
	inflight sync.WaitGroup
	wg       sync.WaitGroup
}

// New creates a queue holding up to capacity pending items served by
// workers goroutines. A single worker guarantees runs never overlap.
func New(capacity, workers int, log *logrus.Entry) *Queue {
	if workers < 1 {
		workers = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = logrus.NewEntry(l)
	}
	return &Queue{
		// room for the shutdown sentinels on top of the pending items
		items:   make(chan *Item, capacity+workers),
		workers: workers,
		done:    make(chan struct{}),
		log:     log.WithField("component", "queue"),
	}
}

// Enqueue adds an item, blocking while the queue is full. Stop wakes
// blocked callers with ErrClosed.
func (q *Queue) Enqueue(ctx context.Context, taskID, tempFileID int64) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.inflight.Add(1)
	q.mu.Unlock()
	defer q.inflight.Done()

	select {
	case q.items <- &Item{TaskID: taskID, TempFileID: tempFileID}:
		q.log.WithFields(logrus.Fields{"task_id": taskID, "temp_file_id": tempFileID}).Debug("enqueued")
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (q *Queue) Start(h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(i, h)
	}
	q.log.WithField("workers", q.workers).Info("queue started")
}

// Stop rejects new items, lets workers drain what is already queued and
// waits for them to exit. Without started workers the pending items are
// dropped and returned so the caller can fail their tasks.
func (q *Queue) Stop() []Item {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	started := q.started
	q.mu.Unlock()

	q.inflight.Wait()

	if !started {
		var dropped []Item
		for {
			select {
			case item := <-q.items:
				dropped = append(dropped, *item)
				q.log.WithFields(logrus.Fields{"task_id": item.TaskID, "temp_file_id": item.TempFileID}).Warn("dropped pending item")
			default:
				return dropped
			}
		}
	}
	// a nil item tells one worker to exit
	for i := 0; i < q.workers; i++ {
		q.items <- nil
	}
	q.wg.Wait()
	q.log.Info("queue stopped")
	return nil
}

// Pending reports how many items wait for a worker.
func (q *Queue) Pending() int {
	return len(q.items)
}

func (q *Queue) work(id int, h Handler) {
	defer q.wg.Done()
	log := q.log.WithField("worker", id)
	for item := range q.items {
		if item == nil {
			return
		}
		q.handle(log, h, *item)
	}
}

func (q *Queue) handle(log *logrus.Entry, h Handler, item Item) {
	log = log.WithFields(logrus.Fields{"task_id": item.TaskID, "temp_file_id": item.TempFileID})
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("handler panicked")
		}
	}()
	if err := h(context.Background(), item); err != nil {
		log.WithFields(logrus.Fields{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Error("error processing task")
		return
	}
	log.WithField("duration_ms", time.Since(start).Milliseconds()).Info("task processed")
}
