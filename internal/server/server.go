// Package server is the reference analytics backend: the remote data-query
// endpoint, the analysis endpoint and the push channel, over SQLite.
package server

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/abelbrown/studyboard/internal/analysis"
	"github.com/abelbrown/studyboard/internal/logging"
	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/otel"
)

// Repository is the persistence the handlers need. *storage.Store
// implements it.
type Repository interface {
	SaveSessions(ctx context.Context, sessions []model.Session) ([]model.Session, error)
	UpdateSession(ctx context.Context, id string, patch model.SessionPatch) (model.Session, error)
	DeleteSession(ctx context.Context, id string) error
	QuerySessions(ctx context.Context, f model.Filter) ([]model.Session, error)
	SaveMockExam(ctx context.Context, exam model.MockExamResult) (model.MockExamResult, error)
	MockExams(ctx context.Context, userID string, examTypes []string) ([]model.MockExamResult, error)
}

// Options configures a Server.
type Options struct {
	Location *time.Location  // day bucketing, default time.Local
	Scorer   analysis.Scorer // weakness scorer, default analysis.AdvancedScorer
	Trace    *otel.Logger
	Now      func() time.Time
}

// Server wires the handlers to a repository.
type Server struct {
	repo     Repository
	hub      *Hub
	validate *validator.Validate
	opts     Options
	router   chi.Router
}

// New builds the router.
func New(repo Repository, opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Scorer == nil {
		opts.Scorer = analysis.AdvancedScorer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		repo:     repo,
		hub:      NewHub(),
		validate: newValidator(),
		opts:     opts,
	}
	s.router = s.routes()
	return s
}

func newValidator() *validator.Validate {
	v := validator.New()
	// report JSON names instead of Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/analytics", func(r chi.Router) {
			r.Post("/sessions", s.querySessions)
			r.Get("/weakness", s.weaknesses)
			r.Get("/mock-exams", s.mockExams)
			r.Post("/metrics", s.metrics)
			r.Post("/analyze", s.analyze)
			r.Get("/ws/{userId}", s.events)
		})
		r.Post("/sessions/batch", s.saveSessions)
		r.Patch("/sessions/{id}", s.updateSession)
		r.Delete("/sessions/{id}", s.deleteSession)
		r.Post("/mock-exams", s.saveMockExam)
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the push-event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Close disconnects push subscribers.
func (s *Server) Close() { s.hub.Close() }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logging.Debug("http", "method", r.Method, "path", r.URL.Path, "status", status,
			"dur", time.Since(start), "req", middleware.GetReqID(r.Context()))

		level := otel.LevelInfo
		if status >= 500 {
			level = otel.LevelError
		}
		s.opts.Trace.Emit(otel.Event{
			Level: level,
			Kind:  otel.KindHTTPRequest,
			Comp:  "server",
			Op:    r.Method + " " + r.URL.Path,
			Count: status,
			Dur:   time.Since(start),
			Extra: map[string]any{"req": middleware.GetReqID(r.Context())},
		})
	})
}

// ListenAndServe serves h on addr until ctx ends, then shuts down within
// grace.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
