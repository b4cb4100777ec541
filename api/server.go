package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hupe1980/underwriter"
	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/logging"
	"github.com/hupe1980/underwriter/workflow"
)

const maxBodyBytes = 1 << 20

// Workflows is the part of the coordinator the HTTP surface drives.
type Workflows interface {
	Start(ctx context.Context, req core.Request) (string, error)
	Query(id string) (core.WorkflowState, error)
	Signal(ctx context.Context, id string, hd core.HumanDecision) error
	Cancel(ctx context.Context, id, reason string) error
	List(f workflow.Filter) []core.WorkflowState
	Stats() workflow.Stats
}

// Options configures a Server.
type Options struct {
	// Service name and version reported by the health endpoint.
	Service string
	Version string

	// Evaluators are reported by the health endpoint.
	Evaluators []underwriter.EvaluatorInfo

	// SignalTimeout bounds how long review and cancel requests wait for the
	// workflow to apply them.
	SignalTimeout time.Duration

	Logger logging.Logger
}

// Server is the HTTP handler for the underwriting API.
type Server struct {
	workflows Workflows
	opts      Options
	logger    logging.Logger
	router    chi.Router
}

// NewServer creates a Server with its routes mounted.
func NewServer(workflows Workflows, optFns ...func(o *Options)) *Server {
	opts := Options{
		Service:       "Loan Underwriting API",
		Version:       underwriter.Version,
		SignalTimeout: 30 * time.Second,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{workflows: workflows, opts: opts, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/", s.handleHealth)
	r.Post("/submit", s.handleSubmit)
	r.Get("/status/{id}", s.handleStatus)
	r.Get("/workflows", s.handleList)
	r.Get("/stats", s.handleStats)
	r.Post("/notify", s.handleNotify)

	r.Route("/workflow/{id}", func(wr chi.Router) {
		wr.Get("/", s.handleStatus)
		wr.Get("/summary", s.handleSummary)
		wr.Get("/final", s.handleFinal)
		wr.Post("/review", s.handleReview)
		wr.Post("/cancel", s.handleCancel)
	})

	s.router = r

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return invalid("malformed JSON body: " + err.Error())
	}

	return nil
}
