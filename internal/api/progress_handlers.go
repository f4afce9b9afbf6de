package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-harvester/internal/progress/sinks"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// RunReader is the read side of the progress snapshot sink.
type RunReader interface {
	Runs() []sinks.RunSnapshot
	Run(runID string) (sinks.RunSnapshot, bool)
}

// RunsHandler exposes read-only run progress endpoints.
type RunsHandler struct {
	runs   RunReader
	logger *zap.Logger
}

// NewRunsHandler wires the snapshot reader and logger.
func NewRunsHandler(runs RunReader, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{runs: runs, logger: logger}
}

// ListRuns handles GET /v1/runs?state=&limit=. It returns {"runs": [...]}
// newest first, 400 for an invalid limit, or 503 without a reader.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "progress unavailable")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state := strings.TrimSpace(r.URL.Query().Get("state"))

	runs := h.runs.Runs()
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	out := make([]sinks.RunSnapshot, 0, min(limit, len(runs)))
	for _, run := range runs {
		if state != "" && run.State != state {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// GetRun handles GET /v1/runs/{run_id}. It returns {"run": {...}} or 404.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "progress unavailable")
		return
	}
	runID := chi.URLParam(r, "run_id")
	run, ok := h.runs.Run(runID)
	if !ok {
		h.logger.Debug("run not found", zap.String("run_id", runID))
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultRunLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errInvalidLimit
	}
	return min(n, maxRunLimit), nil
}

var errInvalidLimit = errors.New("limit must be a positive integer")
