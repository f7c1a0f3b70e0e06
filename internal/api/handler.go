// Package api provides the read-only HTTP status API for the pipeline engine.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"lakerun/internal/domain"
	"lakerun/internal/middleware"
)

// Handler serves pipeline run status, committed table state, and quality
// reports. All endpoints are read-only; runs are triggered by the scheduler
// or the CLI, never over HTTP.
type Handler struct {
	def    *domain.PipelineDefinition
	state  domain.StateRepository
	runs   domain.RunRepository
	logger *slog.Logger
}

// Options configures the middleware stack of the status API router.
type Options struct {
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

// NewHandler creates a status API handler for one pipeline.
func NewHandler(def *domain.PipelineDefinition, state domain.StateRepository, runs domain.RunRepository, logger *slog.Logger) *Handler {
	return &Handler{def: def, state: state, runs: runs, logger: logger}
}

// Router builds the chi router with the standard middleware stack.
func (h *Handler) Router(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: opts.RateLimitRPS,
		Burst:             opts.RateLimitBurst,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)
		r.Get("/tables", h.listTables)
		r.Get("/tables/{name}/rows", h.tableRows)
		r.Get("/tables/{name}/quality", h.tableQuality)
	})

	return r
}

// --- response shapes ---

type runResponse struct {
	ID           string     `json:"id"`
	Pipeline     string     `json:"pipeline"`
	Status       string     `json:"status"`
	TriggerType  string     `json:"trigger_type"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

type tableRunResponse struct {
	ID           string     `json:"id"`
	TableName    string     `json:"table_name"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	RowsWritten  int64      `json:"rows_written"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

type runDetailResponse struct {
	runResponse
	Tables []tableRunResponse `json:"tables"`
}

type tableResponse struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Comment  string `json:"comment,omitempty"`
	RowCount int64  `json:"row_count"`
}

func runToAPI(run *domain.Run) runResponse {
	return runResponse{
		ID:           run.ID,
		Pipeline:     run.Pipeline,
		Status:       run.Status,
		TriggerType:  run.TriggerType,
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}
}

func tableRunToAPI(tr domain.TableRun) tableRunResponse {
	return tableRunResponse{
		ID:           tr.ID,
		TableName:    tr.TableName,
		Status:       tr.Status,
		ErrorMessage: tr.ErrorMessage,
		RowsWritten:  tr.RowsWritten,
		StartedAt:    tr.StartedAt,
		FinishedAt:   tr.FinishedAt,
	}
}

// --- handlers ---

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 50)

	runs, err := h.runs.ListRuns(r.Context(), h.def.Name, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]runResponse, 0, len(runs))
	for i := range runs {
		out = append(out, runToAPI(&runs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tableRuns, err := h.runs.ListTableRuns(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	detail := runDetailResponse{runResponse: runToAPI(run)}
	for _, tr := range tableRuns {
		detail.Tables = append(detail.Tables, tableRunToAPI(tr))
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) listTables(w http.ResponseWriter, r *http.Request) {
	out := make([]tableResponse, 0, len(h.def.Tables))
	for i := range h.def.Tables {
		t := &h.def.Tables[i]
		count, err := h.state.RowCount(r.Context(), t.Name)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		out = append(out, tableResponse{
			Name:     t.Name,
			Kind:     string(t.Kind),
			Comment:  t.Comment,
			RowCount: count,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": out})
}

func (h *Handler) tableRows(w http.ResponseWriter, r *http.Request) {
	table := h.def.Table(chi.URLParam(r, "name"))
	if table == nil {
		h.writeError(w, r, domain.ErrNotFound("table %q not found", chi.URLParam(r, "name")))
		return
	}

	rows, err := h.state.Rows(r.Context(), table.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if limit := intParam(r, "limit", 0); limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	if rows == nil {
		rows = []domain.Row{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table": table.Name,
		"count": len(rows),
		"rows":  rows,
	})
}

func (h *Handler) tableQuality(w http.ResponseWriter, r *http.Request) {
	table := h.def.Table(chi.URLParam(r, "name"))
	if table == nil {
		h.writeError(w, r, domain.ErrNotFound("table %q not found", chi.URLParam(r, "name")))
		return
	}

	reports, err := h.state.QualityReports(r.Context(), table.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if reports == nil {
		reports = []domain.QualityReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table":   table.Name,
		"reports": reports,
	})
}

// --- helpers ---

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("status api request failed",
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err)
	}
	writeJSON(w, status, map[string]any{"code": status, "message": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func intParam(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
