package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"darkroom/internal/config"
	"darkroom/internal/jobs"
	"darkroom/internal/logging"
	"darkroom/internal/orchestrator"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	engine *orchestrator.Engine

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, engine *orchestrator.Engine, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	srv := &apiServer{
		bind:   bind,
		token:  cfg.Paths.APIToken,
		logger: logging.NewComponentLogger(logger, "api-server"),
		engine: engine,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Get("/metrics", engine.Metrics().Handler().ServeHTTP)
	router.Get("/api/health", srv.handleHealth)

	router.Group(func(r chi.Router) {
		r.Use(bearerAuth(srv.token))
		r.Get("/api/status", srv.handleStatus)
		r.Post("/api/jobs", srv.handleSubmit)
		r.Get("/api/jobs", srv.handleList)
		r.Get("/api/jobs/{jobID}", srv.handleGet)
		r.Delete("/api/jobs/{jobID}", srv.handleCancel)
		r.Post("/api/jobs/{jobID}/retry", srv.handleRetry)
		r.Post("/api/jobs/{jobID}/release", srv.handleRelease)
	})

	srv.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)

	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// SubmitRequest is the POST /api/jobs payload. JobID is the idempotency
// key; the daemon mints one when it is omitted.
type SubmitRequest struct {
	JobID        string          `json:"job_id,omitempty"`
	Subject      string          `json:"subject"`
	Preset       string          `json:"preset,omitempty"`
	EditPlan     json.RawMessage `json:"edit_plan,omitempty"`
	PriorityTier int             `json:"priority_tier"`
	QualityScore float64         `json:"quality_score"`
	MemoryMB     int64           `json:"memory_mb,omitempty"`
}

// SubmitResponse reports the accepted (or already-active) job.
type SubmitResponse struct {
	Job       JobView `json:"job"`
	Duplicate bool    `json:"duplicate"`
}

// JobView is the wire representation of a job.
type JobView struct {
	JobID            string     `json:"job_id"`
	Subject          string     `json:"subject"`
	Preset           string     `json:"preset,omitempty"`
	PriorityTier     int        `json:"priority_tier"`
	QualityScore     float64    `json:"quality_score"`
	MemoryMB         int64      `json:"memory_mb,omitempty"`
	Status           string     `json:"status"`
	RetryCount       int        `json:"retry_count"`
	FailureKind      string     `json:"failure_kind,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	ResultPath       string     `json:"result_path,omitempty"`
	CheckpointHandle string     `json:"checkpoint_handle,omitempty"`
	NextAttemptAt    *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

func viewOf(job *jobs.Job) JobView {
	return JobView{
		JobID:            job.JobID,
		Subject:          job.Subject,
		Preset:           job.Preset,
		PriorityTier:     job.PriorityTier,
		QualityScore:     job.QualityScore,
		MemoryMB:         job.MemoryMB,
		Status:           string(job.Status),
		RetryCount:       job.RetryCount,
		FailureKind:      string(job.FailureKind),
		ErrorMessage:     job.ErrorMessage,
		ResultPath:       job.ResultPath,
		CheckpointHandle: job.CheckpointHandle,
		NextAttemptAt:    job.NextAttemptAt,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
		CompletedAt:      job.CompletedAt,
	}
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, duplicate, err := s.engine.Submit(r.Context(), jobs.Submission{
		JobID:        req.JobID,
		Subject:      req.Subject,
		Preset:       req.Preset,
		EditPlanJSON: string(req.EditPlan),
		PriorityTier: req.PriorityTier,
		QualityScore: req.QualityScore,
		MemoryMB:     req.MemoryMB,
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, jobs.ErrJobDeadLettered) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err.Error())
		return
	}

	code := http.StatusCreated
	if duplicate {
		code = http.StatusOK
	}
	s.writeJSON(w, code, SubmitResponse{Job: viewOf(job), Duplicate: duplicate})
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	var statuses []jobs.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := jobs.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, status)
	}
	subject := r.URL.Query().Get("subject")

	list, err := s.engine.ListJobs(r.Context(), statuses, subject)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]JobView, 0, len(list))
	for _, job := range list {
		views = append(views, viewOf(job))
	}
	s.writeJSON(w, http.StatusOK, map[string][]JobView{"jobs": views})
}

func (s *apiServer) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.engine.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(job))
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Cancel(r.Context(), chi.URLParam(r, "jobID"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, jobs.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	job, err := s.engine.Retry(r.Context(), chi.URLParam(r, "jobID"))
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, viewOf(job))
	case errors.Is(err, jobs.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) handleRelease(w http.ResponseWriter, r *http.Request) {
	job, err := s.engine.ReleaseDeadLetter(r.Context(), chi.URLParam(r, "jobID"))
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, viewOf(job))
	case errors.Is(err, jobs.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.engine.Health(r.Context())
	code := http.StatusOK
	if health.Error != "" || !health.IntegrityCheck {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, health)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
