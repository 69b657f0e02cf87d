// Package api exposes upload, status, export and live progress over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voice-transcripts-go/internal/events"
	"voice-transcripts-go/internal/export"
	"voice-transcripts-go/internal/logger"
	"voice-transcripts-go/internal/store"
	"voice-transcripts-go/internal/types"
)

const defaultMaxUploadBytes = 500 * 1024 * 1024

type Tasks interface {
	Upload(ctx context.Context, fileName string, data []byte) (types.Task, types.TempFile, error)
	GetTaskStatus(ctx context.Context, taskID int64) (types.TaskView, error)
	GetLabelingTask(ctx context.Context, taskID int64) (types.LabelingTask, error)
	Abandon(ctx context.Context, taskID, tempFileID int64, cause error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, taskID, tempFileID int64) error
}

type Options struct {
	Tasks          Tasks
	Queue          Enqueuer
	Events         *events.Bus
	Log            *logger.Logger
	MaxUploadBytes int64
}

type Server struct {
	tasks          Tasks
	queue          Enqueuer
	events         *events.Bus
	log            *logger.Logger
	maxUploadBytes int64
	router         *chi.Mux
	upgrader       websocket.Upgrader
}

func New(opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.Log == nil {
		opts.Log = logger.Discard()
	}
	if opts.Events == nil {
		opts.Events = events.NewBus(0)
	}
	s := &Server{
		tasks:          opts.Tasks,
		queue:          opts.Queue,
		events:         opts.Events,
		log:            opts.Log,
		maxUploadBytes: opts.MaxUploadBytes,
		router:         chi.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.health)
	s.router.Post("/upload", s.upload)
	s.router.Route("/tasks/{id}", func(r chi.Router) {
		r.Get("/", s.getTask)
		r.Get("/export.xlsx", s.exportTask)
		r.Get("/labeling", s.getLabeling)
		r.Get("/ws", s.taskWS)
	})
}

// reqLog tags entries with chi's request id when the client sent none.
func (s *Server) reqLog(r *http.Request, handler string) *logrus.Entry {
	if r.Header.Get("X-Request-ID") == "" {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r.Header.Set("X-Request-ID", id)
		}
	}
	return s.log.WithRequest(r).WithField("handler", handler)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.reqLog(r, "health").Debug("health check")
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "upload")

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		log.WithField("error", err.Error()).Warn("invalid multipart upload")
		http.Error(w, "invalid upload or file too large", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()
	if header.Size > s.maxUploadBytes {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		log.WithField("error", err.Error()).Error("reading upload failed")
		http.Error(w, "reading upload failed", http.StatusBadRequest)
		return
	}
	if ct := http.DetectContentType(data); !isMedia(ct) {
		log.WithField("content_type", ct).Warn("rejected non-audio upload")
		http.Error(w, "file is not audio", http.StatusUnsupportedMediaType)
		return
	}

	task, tf, err := s.tasks.Upload(r.Context(), header.Filename, data)
	if err != nil {
		log.WithField("error", err.Error()).Error("upload failed")
		http.Error(w, "could not store upload", http.StatusInternalServerError)
		return
	}
	log = log.WithFields(logrus.Fields{"task_id": task.ID, "temp_file_id": tf.ID})
	if err := s.queue.Enqueue(r.Context(), task.ID, tf.ID); err != nil {
		log.WithField("error", err.Error()).Error("enqueue failed")
		s.tasks.Abandon(r.Context(), task.ID, tf.ID, err)
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	log.Info("task queued")
	respondJSON(w, http.StatusAccepted, map[string]any{"task_id": task.ID, "status": task.Status})
}

// isMedia accepts what the converter can plausibly decode.
func isMedia(contentType string) bool {
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.HasPrefix(ct, "audio/") || strings.HasPrefix(ct, "video/") || ct == "application/ogg"
}

func (s *Server) loadTask(w http.ResponseWriter, r *http.Request, log *logrus.Entry) (types.TaskView, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return types.TaskView{}, false
	}
	view, err := s.tasks.GetTaskStatus(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "task not found", http.StatusNotFound)
		return types.TaskView{}, false
	}
	if err != nil {
		log.WithField("error", err.Error()).Error("loading task failed")
		http.Error(w, "loading task failed", http.StatusInternalServerError)
		return types.TaskView{}, false
	}
	return view, true
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	view, ok := s.loadTask(w, r, s.reqLog(r, "get_task"))
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) exportTask(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "export")
	view, ok := s.loadTask(w, r, log)
	if !ok {
		return
	}
	if view.Status != types.StatusCompleted {
		http.Error(w, "task is not completed", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(view)+`"`)
	if err := export.WriteXLSX(w, view); err != nil {
		log.WithField("error", err.Error()).Error("export failed")
	}
}

func (s *Server) getLabeling(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "get_labeling")
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	lt, err := s.tasks.GetLabelingTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "labeling task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.WithField("error", err.Error()).Error("loading labeling task failed")
		http.Error(w, "loading labeling task failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, lt)
}

// taskWS streams status and stage events for one task until it reaches a
// terminal status or the client goes away.
func (s *Server) taskWS(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "task_ws")
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}

	// Subscribe before reading the status so no transition falls between.
	ch, cancel := s.events.Subscribe(id)
	defer cancel()

	view, ok := s.loadTask(w, r, log)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("error", err.Error()).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	current := events.Event{TaskID: id, Type: events.TypeStatus, Status: view.Status, Timestamp: view.UpdatedAt}
	if err := conn.WriteJSON(current); err != nil || view.Status.IsTerminal() {
		closeWS(conn)
		return
	}

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.WithField("error", err.Error()).Debug("websocket write failed")
				return
			}
			if ev.Type == events.TypeStatus && ev.Status.IsTerminal() {
				closeWS(conn)
				return
			}
		}
	}
}

func closeWS(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
