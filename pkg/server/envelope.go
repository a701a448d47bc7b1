package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
)

// envelope is the uniform response body for every endpoint.
type envelope struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	env := envelope{
		Status:    status,
		Code:      "OK",
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RequestID: requestID(r.Context()),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := corpuserr.HTTPStatus(err)
	env := envelope{
		Status:    status,
		Code:      corpuserr.StatusLabel(err),
		Message:   err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RequestID: requestID(r.Context()),
	}
	w.Header().Set("Content-Type", "application/json")
	if errors.Is(err, corpuserr.ErrBackPressure) {
		w.Header().Set("Retry-After", "5")
	}
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(env); encErr != nil {
		slog.Error("response encode failed", "error", encErr)
	}
}
