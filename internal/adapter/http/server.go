package http

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bnema/transcoder/internal/adapter/http/middleware"
	"github.com/bnema/transcoder/internal/adapter/http/ratelimit"
	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/port"
	"github.com/bnema/transcoder/internal/queue"
	"github.com/bnema/transcoder/internal/service"
)

// JobService is the part of the orchestrator the API drives.
type JobService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*service.Submission, error)
	SubmitURL(ctx context.Context, req service.URLRequest) (*service.Submission, error)
	Retry(ctx context.Context, jobID string) (*domain.Job, error)
}

type EventSource interface {
	Subscribe(jobIDs ...string) chan domain.Event
	Unsubscribe(ch chan domain.Event)
}

type DeadLetterSource interface {
	DeadLetters(ctx context.Context, limit int) ([]queue.DeadLetter, error)
}

type Deps struct {
	Jobs     port.JobStore
	Files    port.FileStore
	Service  JobService
	Events   EventSource
	Queue    DeadLetterSource
	Health   func(ctx context.Context) error
	Limiter  *ratelimit.SubmitLimiter
	Storage  string
	BodyKB   int
	UploadMB int
}

type Server struct {
	router   chi.Router
	handlers *Handlers
	events   *eventStream
	limiter  *ratelimit.SubmitLimiter
	bodyKB   int
	uploadMB int
}

func NewServer(deps Deps) *Server {
	if deps.BodyKB < 1 {
		deps.BodyKB = 64
	}
	if deps.UploadMB < 1 {
		deps.UploadMB = 1024
	}

	s := &Server{
		router:   chi.NewRouter(),
		handlers: NewHandlers(deps),
		events:   newEventStream(deps.Jobs, deps.Events),
		limiter:  deps.Limiter,
		bodyKB:   deps.BodyKB,
		uploadMB: deps.UploadMB,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Logger)
	r.Use(middleware.Recovery)
	r.Use(middleware.Metrics)
	r.Use(middleware.SecurityHeaders)

	r.Get("/healthz", s.handlers.Health())
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/formats", s.handlers.Formats())

	r.Group(func(r chi.Router) {
		r.Use(RequireUser)

		r.Group(func(r chi.Router) {
			r.Use(middleware.BodyLimit(int64(s.bodyKB) * 1024))

			r.With(s.limitSubmissions).Post("/api/jobs", s.handlers.Submit())
			r.With(s.limitSubmissions).Post("/api/jobs/url", s.handlers.SubmitURL())
			r.Post("/api/jobs/{id}/retry", s.handlers.Retry())
		})

		r.With(middleware.BodyLimit(int64(s.uploadMB)<<20), s.limitSubmissions).
			Post("/api/uploads", s.handlers.Upload(int64(s.uploadMB)<<20))

		r.Get("/api/jobs", s.handlers.ListJobs())
		r.Get("/api/jobs/{id}", s.handlers.GetJob())
		r.Get("/api/jobs/{id}/events", s.events.Events())

		r.Get("/api/files/{id}", s.handlers.Download())
		r.Get("/api/files/{id}/metadata", s.handlers.Metadata())
		r.Get("/api/files/{id}/thumbnail", s.handlers.Thumbnail())

		r.Get("/api/queue/dead", s.handlers.DeadLetters())
	})
}

// limitSubmissions applies the per-user submission limit, when configured.
func (s *Server) limitSubmissions(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok, wait := s.limiter.Allow(userID(r)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			respondError(w, http.StatusTooManyRequests, "RATE_LIMITED",
				"too many submissions, retry in "+wait.Round(time.Second).String())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
