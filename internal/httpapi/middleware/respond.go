package middleware

import (
	"encoding/json"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hamed0406/apimonitor/internal/apperror"
)

type ErrorBody struct {
	Kind    apperror.Kind `json:"kind"`
	Message string        `json:"message,omitempty"`
}

type ErrorResponse struct {
	RequestID string    `json:"request_id,omitempty"`
	Error     ErrorBody `json:"error"`
}

// WriteError writes the JSON error envelope shared by handlers and middleware.
func WriteError(w http.ResponseWriter, r *http.Request, status int, kind apperror.Kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		RequestID: chimw.GetReqID(r.Context()),
		Error:     ErrorBody{Kind: kind, Message: msg},
	})
}
