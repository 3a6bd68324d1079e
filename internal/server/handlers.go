package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/michaelbrown/crucible/internal/judge"
	"github.com/michaelbrown/crucible/internal/runner"
	"github.com/michaelbrown/crucible/internal/sandbox"
	"github.com/michaelbrown/crucible/internal/storage"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Batch execution ---

type judgeRequest struct {
	Name             string           `json:"name"`
	Source           string           `json:"source"`
	TestCases        []judge.TestCase `json:"test_cases"`
	TimeLimitSeconds float64          `json:"time_limit_seconds"`
	MemoryLimitMB    float64          `json:"memory_limit_mb"`
}

type judgeResponse struct {
	judge.BatchResult
	Passed   bool    `json:"passed"`
	Fraction float64 `json:"fraction"`
}

func (s *Server) handleJudge(w http.ResponseWriter, r *http.Request) {
	var req judgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	limits := s.cfg.DefaultLimits()
	if req.TimeLimitSeconds > 0 {
		limits.TimeLimitSeconds = req.TimeLimitSeconds
	}
	if req.MemoryLimitMB > 0 {
		limits.MemoryLimitMB = req.MemoryLimitMB
	}

	name := req.Name
	if name == "" {
		name = "api"
	}

	result, err := s.runner.RunTests(r.Context(), runner.BatchRequest{
		Name:   name,
		Source: req.Source,
		Tests:  req.TestCases,
		Limits: limits,
	})
	if err != nil {
		var infra *sandbox.InfraError
		if errors.As(err, &infra) {
			writeError(w, http.StatusServiceUnavailable, infra.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, judgeResponse{
		BatchResult: result,
		Passed:      result.Passed(),
		Fraction:    result.Fraction(),
	})
}

// --- Execution history ---

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	opts := storage.ListOptions{}

	if status := r.URL.Query().Get("status"); status != "" {
		opts.Status = status
	}
	if mode := r.URL.Query().Get("mode"); mode != "" {
		opts.Mode = storage.Mode(mode)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	executions, err := s.store.ListExecutions(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if executions == nil {
		executions = []storage.Execution{}
	}
	writeJSON(w, http.StatusOK, executions)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := s.store.GetExecution(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, "execution not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, e)
}
