package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/johndosdos/huddle/internal/chat"
	"github.com/johndosdos/huddle/internal/protocol"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := chat.ErrorCode(err)

	status := http.StatusInternalServerError
	switch code {
	case protocol.ErrCodeInvalidMsg:
		status = http.StatusBadRequest
	case protocol.ErrCodeForbidden:
		status = http.StatusForbidden
	case protocol.ErrCodeNotFound:
		status = http.StatusNotFound
	case protocol.ErrCodeConflict:
		status = http.StatusConflict
	default:
		slog.ErrorContext(r.Context(), "request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path)
	}

	respondJSON(w, status, errorBody{Code: code, Message: chat.PublicMessage(err)})
}

func badRequest(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusBadRequest, errorBody{Code: protocol.ErrCodeInvalidMsg, Message: message})
}
