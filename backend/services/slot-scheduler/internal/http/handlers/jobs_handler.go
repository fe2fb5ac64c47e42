package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"chargeslots/backend/services/slot-scheduler/internal/http/middleware"
	"chargeslots/backend/services/slot-scheduler/internal/jobs"
)

// ReportLister returns the last report of each named job.
type ReportLister interface {
	List(ctx context.Context, names []string) ([]jobs.Report, error)
}

// JobsHandlers serves the operator job endpoints.
type JobsHandlers struct {
	runner  *jobs.Runner
	jobs    map[string]jobs.Job
	names   []string
	reports ReportLister
	logger  *zap.Logger
}

// NewJobsHandlers builds handler set over the runnable jobs.
func NewJobsHandlers(runner *jobs.Runner, reports ReportLister, logger *zap.Logger, runnable ...jobs.Job) *JobsHandlers {
	h := &JobsHandlers{
		runner:  runner,
		jobs:    make(map[string]jobs.Job, len(runnable)),
		reports: reports,
		logger:  logger,
	}
	for _, j := range runnable {
		h.jobs[j.Name()] = j
		h.names = append(h.names, j.Name())
	}
	return h
}

// List handles GET /jobs.
func (h *JobsHandlers) List(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reports.List(r.Context(), h.names)
	if err != nil {
		h.logger.Error("list job reports failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch job reports")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":    h.names,
		"reports": reports,
	})
}

// Run handles POST /jobs/run?job=<name>. The run is synchronous; its failure is reported
// in the body.
func (h *JobsHandlers) Run(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("job")
	job, ok := h.jobs[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}

	fields := []zap.Field{zap.String("job", name)}
	if op, ok := middleware.OperatorFromContext(r.Context()); ok {
		fields = append(fields, zap.String("operator", op.Subject), zap.String("auth", op.Method))
	}
	h.logger.Info("manual job run requested", fields...)

	report, _ := h.runner.Execute(r.Context(), job)
	writeJSON(w, http.StatusOK, report)
}
