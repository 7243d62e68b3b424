package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cortexuvula/codeshare/internal/execute"
)

// executeRequest is the POST /api/execute body.
type executeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Input    string `json:"input"`
}

type apiError struct {
	Error string `json:"error"`
}

// handleExecute submits code to the judge on behalf of a participant
// and returns the normalized result. The relay is not involved: the
// requester emits the code-execution event itself once it has the
// result, exactly as if it had called the judge directly.
func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Exec == nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: "code execution is not enabled on this server"})
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}
	if req.Language == "" {
		req.Language = h.GetConfig().Rooms.DefaultLanguage
	}
	if !execute.SupportedLanguage(req.Language) {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "unsupported language: " + req.Language})
		return
	}

	result, err := h.Exec.Execute(r.Context(), req.Code, req.Language, req.Input)
	if err != nil {
		outcome := "error"
		code := http.StatusBadGateway
		if errors.Is(err, execute.ErrTimedOut) {
			outcome = "timeout"
			code = http.StatusGatewayTimeout
		}
		if h.Metrics != nil {
			h.Metrics.ExecutionsTotal.WithLabelValues(outcome).Inc()
		}
		slog.Warn("code execution failed", "language", req.Language, "error", err)
		writeJSON(w, code, apiError{Error: err.Error()})
		return
	}

	if h.Metrics != nil {
		outcome := "failed"
		if result.Success {
			outcome = "success"
		}
		h.Metrics.ExecutionsTotal.WithLabelValues(outcome).Inc()
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing JSON response", "error", err)
	}
}
