package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/core/retrieval"
	"github.com/markdave123-py/studykb/internal/logger"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var upstream *core.RetrievalUpstreamError
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, retrieval.ErrEmptyQuestion), errors.Is(err, core.ErrUnsupportedType):
		return http.StatusBadRequest
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, log logger.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", logger.Error(err), logger.Int("status", status))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
