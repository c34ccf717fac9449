package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	ws "github.com/gorilla/websocket"

	"walkin-queue/internal/dispatch"
	"walkin-queue/internal/errs"
	"walkin-queue/internal/models"
)

// Queue is the ticket lifecycle the API exposes.
type Queue interface {
	Enroll(ctx context.Context, name, phone, email string) (*models.Ticket, error)
	CallNext(ctx context.Context) (*models.Ticket, error)
	CompleteCurrentService(ctx context.Context) (*models.Ticket, error)
	Abandon(ctx context.Context, ticketID string) error
	Snapshot(ctx context.Context) (*models.QueueSnapshot, error)
}

// Jobs is the notification job queue the API exposes.
type Jobs interface {
	EnqueueBatch(ctx context.Context, reqs []models.JobRequest) ([]string, error)
	Stats(ctx context.Context) (models.Stats, error)
	List(ctx context.Context) ([]models.NotificationJob, error)
	ClearCompleted(ctx context.Context) (int, error)
}

// Tester sends a rendered template to an ad-hoc contact.
type Tester interface {
	SendTest(ctx context.Context, req models.TestNotificationRequest) ([]string, error)
}

type Limiter interface {
	Allow(key string) bool
}

// Board pushes live updates to connected displays.
type Board interface {
	AddClient(conn *ws.Conn)
	Broadcast()
}

// Server holds all HTTP handlers and dependencies
type Server struct {
	queue    Queue
	jobs     Jobs
	tester   Tester
	limiter  Limiter
	board    Board
	log      *slog.Logger
	upgrader ws.Upgrader
}

// NewServer creates a new API server
func NewServer(queue Queue, jobs Jobs, tester Tester, limiter Limiter, board Board, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		queue:   queue,
		jobs:    jobs,
		tester:  tester,
		limiter: limiter,
		board:   board,
		log:     log.With("component", "api"),
		upgrader: ws.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

type callResponse struct {
	Client *models.Ticket `json:"client"`
}

type completeResponse struct {
	Completed bool           `json:"completed"`
	Client    *models.Ticket `json:"client,omitempty"`
}

type batchResponse struct {
	JobIDs []string `json:"job_ids"`
	Count  int      `json:"count"`
}

type notificationsResponse struct {
	Stats models.Stats             `json:"stats"`
	Jobs  []models.NotificationJob `json:"jobs"`
}

// Enroll handles POST /api/queue
func (s *Server) Enroll(w http.ResponseWriter, r *http.Request) {
	const op = "api.Enroll"

	ip := clientIP(r)
	if s.limiter != nil && !s.limiter.Allow(ip) {
		s.log.Warn("[RATE_LIMIT] enrollment rejected", "op", op, "ip", ip)
		s.fail(w, r, http.StatusTooManyRequests, "too many enrollments, try again later")
		return
	}

	var req models.EnrollRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	ticket, err := s.queue.Enroll(r.Context(), req.Name, req.Phone, req.Email)
	if err != nil {
		s.respondError(w, r, op, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, ticket)
}

// ListQueue handles GET /api/queue
func (s *Server) ListQueue(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.queue.Snapshot(r.Context())
	if err != nil {
		s.respondError(w, r, "api.ListQueue", err)
		return
	}
	render.JSON(w, r, snapshot)
}

// CallNext handles POST /api/queue/next
func (s *Server) CallNext(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.queue.CallNext(r.Context())
	if err != nil {
		s.respondError(w, r, "api.CallNext", err)
		return
	}
	render.JSON(w, r, callResponse{Client: ticket})
}

// Complete handles POST /api/queue/complete
func (s *Server) Complete(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.queue.CompleteCurrentService(r.Context())
	if err != nil {
		s.respondError(w, r, "api.Complete", err)
		return
	}
	render.JSON(w, r, completeResponse{Completed: ticket != nil, Client: ticket})
}

// Abandon handles POST /api/queue/abandon
func (s *Server) Abandon(w http.ResponseWriter, r *http.Request) {
	var req models.AbandonRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.queue.Abandon(r.Context(), req.ClientID); err != nil {
		s.respondError(w, r, "api.Abandon", err)
		return
	}
	render.NoContent(w, r)
}

// EnqueueBatch handles POST /api/notifications
func (s *Server) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	var req models.BatchRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	ids, err := s.jobs.EnqueueBatch(r.Context(), dispatch.BatchRequests(req))
	if err != nil {
		s.respondError(w, r, "api.EnqueueBatch", err)
		return
	}

	s.log.Info("[SUBMIT] batch queued", "count", len(ids), "priority", req.Priority)
	s.board.Broadcast()

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, batchResponse{JobIDs: ids, Count: len(ids)})
}

// SendTestNotification handles POST /api/notifications/test
func (s *Server) SendTestNotification(w http.ResponseWriter, r *http.Request) {
	var req models.TestNotificationRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	ids, err := s.tester.SendTest(r.Context(), req)
	if err != nil {
		s.respondError(w, r, "api.SendTestNotification", err)
		return
	}
	s.board.Broadcast()

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, batchResponse{JobIDs: ids, Count: len(ids)})
}

// ListNotifications handles GET /api/notifications
func (s *Server) ListNotifications(w http.ResponseWriter, r *http.Request) {
	stats, err := s.jobs.Stats(r.Context())
	if err != nil {
		s.respondError(w, r, "api.ListNotifications", err)
		return
	}
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		s.respondError(w, r, "api.ListNotifications", err)
		return
	}
	render.JSON(w, r, notificationsResponse{Stats: stats, Jobs: jobs})
}

// ClearCompleted handles DELETE /api/notifications/completed
func (s *Server) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	removed, err := s.jobs.ClearCompleted(r.Context())
	if err != nil {
		s.respondError(w, r, "api.ClearCompleted", err)
		return
	}
	s.board.Broadcast()
	render.JSON(w, r, map[string]int{"removed": removed})
}

// HandleWebSocket handles WebSocket connections
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("[ERROR] WebSocket upgrade failed", "error", err)
		return
	}

	s.board.AddClient(conn)
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Post("/queue", s.Enroll)
		r.Get("/queue", s.ListQueue)
		r.Post("/queue/next", s.CallNext)
		r.Post("/queue/complete", s.Complete)
		r.Post("/queue/abandon", s.Abandon)

		r.Post("/notifications", s.EnqueueBatch)
		r.Post("/notifications/test", s.SendTestNotification)
		r.Get("/notifications", s.ListNotifications)
		r.Delete("/notifications/completed", s.ClearCompleted)
	})
	router.Get("/ws", s.HandleWebSocket)

	return router
}

// respondError maps err to a status code. Store failures are logged and hidden
// from the caller.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var v *errs.ValidationError
	switch {
	case errors.As(err, &v):
		details := make([]string, 0, len(v.Errors))
		for _, e := range v.Errors {
			details = append(details, e.Error())
		}
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "validation failed", Details: details})
	case errs.IsNotFound(err):
		s.fail(w, r, http.StatusNotFound, err.Error())
	default:
		s.log.Error("[ERROR] request failed", "op", op, "error", err)
		s.fail(w, r, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: msg})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
