// Package api is the HTTP ingress adapter: it translates enqueue requests
// into Tasks and streams QueueEvents to subscribers, refusing new work once
// shutdown has begun.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/kmkr/telegrab-go/internal/config"
	"github.com/kmkr/telegrab-go/internal/eventbus"
	"github.com/kmkr/telegrab-go/internal/queue"
	"github.com/kmkr/telegrab-go/internal/security"
	"github.com/kmkr/telegrab-go/internal/shutdown"
	"github.com/kmkr/telegrab-go/internal/task"
)

// Server is the chi-based control surface over the queue.
type Server struct {
	queue    *queue.State
	bus      *eventbus.Bus
	shutdown *shutdown.Coordinator
	cfg      *config.ConfigManager
	audit    *security.AuditLogger
	router   *chi.Mux
	upgrader websocket.Upgrader
}

func NewServer(q *queue.State, bus *eventbus.Bus, sh *shutdown.Coordinator, cfg *config.ConfigManager, audit *security.AuditLogger) *Server {
	s := &Server{
		queue:    q,
		bus:      bus,
		shutdown: sh,
		cfg:      cfg,
		audit:    audit,
		router:   chi.NewRouter(),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.setupRoutes()
	return s
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.shutdownGate)

	s.router.Post("/v1/docs/{id}/parse", s.handleEnqueueParse)
	s.router.Post("/v1/docs/parse-all", s.handleEnqueueParseAll)
	s.router.Post("/v1/docs/{id}/download", s.handleEnqueueDownload)
	s.router.Post("/v1/docs/{id}/archive", s.handleEnqueueArchive)
	s.router.Post("/v1/cbz/scan", s.handleEnqueueScan)
	s.router.Delete("/v1/cbz/{id}", s.handleEnqueueRemoveCbz)

	s.router.Get("/v1/tasks", s.handleListTasks)
	s.router.Get("/v1/tasks/active", s.handleListActive)
	s.router.Get("/v1/events", s.handleEventStream)
}

// shutdownGate rejects every request with 503 once shutdown has begun, so
// ingress never enqueues work the pool won't pick up.
func (s *Server) shutdownGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.shutdown.IsShuttingDown() {
			s.auditf(r, http.StatusServiceUnavailable, "shutting down")
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) auditf(r *http.Request, status int, reason string) {
	if s.audit == nil {
		return
	}
	s.audit.Log(r.RemoteAddr, r.UserAgent(), r.Method+" "+r.URL.Path, status, reason)
}

type enqueueResponse struct {
	TaskID string `json:"task_id"`
}

func (s *Server) enqueueDocTask(w http.ResponseWriter, r *http.Request, kind task.Kind) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 32)
	if err != nil {
		http.Error(w, "invalid doc id", http.StatusBadRequest)
		return
	}
	docID := int32(id)

	if existing, ok := s.queue.FindByKindAndDoc(kind, docID); ok {
		s.writeJSON(w, http.StatusOK, enqueueResponse{TaskID: existing.ID})
		return
	}

	t := task.New(kind, task.Payload{DocID: docID})
	s.queue.Enqueue(t)
	s.auditf(r, http.StatusOK, "enqueued")
	s.writeJSON(w, http.StatusAccepted, enqueueResponse{TaskID: t.ID})
}

func (s *Server) handleEnqueueParse(w http.ResponseWriter, r *http.Request) {
	s.enqueueDocTask(w, r, task.KindHtmlParse)
}

func (s *Server) handleEnqueueDownload(w http.ResponseWriter, r *http.Request) {
	s.enqueueDocTask(w, r, task.KindPicDownload)
}

func (s *Server) handleEnqueueArchive(w http.ResponseWriter, r *http.Request) {
	s.enqueueDocTask(w, r, task.KindCbzArchive)
}

// enqueueAllTask enqueues a whole-collection task (HtmlParseAll, ScanDir),
// rejecting with 409 if one of that kind is already pending or active.
func (s *Server) enqueueAllTask(w http.ResponseWriter, r *http.Request, kind task.Kind) {
	if s.queue.IsKindActive(kind) {
		s.auditf(r, http.StatusConflict, "already active")
		http.Error(w, "already in progress", http.StatusConflict)
		return
	}
	t := task.New(kind, task.Payload{})
	s.queue.Enqueue(t)
	s.auditf(r, http.StatusOK, "enqueued")
	s.writeJSON(w, http.StatusAccepted, enqueueResponse{TaskID: t.ID})
}

func (s *Server) handleEnqueueParseAll(w http.ResponseWriter, r *http.Request) {
	s.enqueueAllTask(w, r, task.KindHtmlParseAll)
}

func (s *Server) handleEnqueueScan(w http.ResponseWriter, r *http.Request) {
	s.enqueueAllTask(w, r, task.KindScanDir)
}

func (s *Server) handleEnqueueRemoveCbz(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 32)
	if err != nil {
		http.Error(w, "invalid cbz id", http.StatusBadRequest)
		return
	}
	t := task.New(task.KindRemoveCbz, task.Payload{CbzID: int32(id)})
	s.queue.Enqueue(t)
	s.auditf(r, http.StatusOK, "enqueued")
	s.writeJSON(w, http.StatusAccepted, enqueueResponse{TaskID: t.ID})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queue.GetTasks())
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queue.GetActive())
}

// handleEventStream upgrades to a websocket connection and relays
// QueueEvents until the client disconnects or the bus subscription closes.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cleanup := s.bus.Subscribe()
	defer cleanup()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
