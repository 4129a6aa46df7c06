package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/store"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
	repoTimeout     = 3 * time.Second
)

// RunReader is the read side of store.RunRepository.
type RunReader interface {
	GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]store.Run, error)
}

// RunHandler exposes run history.
type RunHandler struct {
	repo    RunReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the repository and logger.
func NewRunHandler(repo RunReader, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{repo: repo, timeout: repoTimeout, logger: logger}
}

// Routes mounts the handler under /api/runs.
func (h *RunHandler) Routes(r chi.Router) {
	r.Get("/api/runs", h.ListRuns)
	r.Get("/api/runs/{run_id}", h.GetRun)
}

// ListRuns handles GET /api/runs. It answers {"runs": [...]}, 400 for bad
// paging parameters and 503 without a repository.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListRuns(ctx, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]runDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// GetRun handles GET /api/runs/{run_id}: 404 when unknown, 400 for a
// malformed ID.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run repository unavailable")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.String("run_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

func parseLimitOffset(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	limit := defaultRunLimit
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxRunLimit)
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

type runDTO struct {
	ID            string     `json:"id"`
	Mode          string     `json:"mode"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Status        string     `json:"status"`
	Entities      int64      `json:"entities"`
	Empty         int64      `json:"empty"`
	MissingFields int64      `json:"missing_fields"`
	Error         *string    `json:"error,omitempty"`
}

func toRunDTO(run store.Run) runDTO {
	return runDTO{
		ID:            run.ID.String(),
		Mode:          run.Mode,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
		Status:        string(run.Status),
		Entities:      run.Entities,
		Empty:         run.Empty,
		MissingFields: run.MissingFields,
		Error:         run.ErrorMessage,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
