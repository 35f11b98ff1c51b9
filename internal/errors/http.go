package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Handler writes errors as JSON responses
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleError writes err with the status and code it maps to. Errors that
// are not SyncErrors are reported as internal without exposing their text.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	code := ErrCodeInternal
	message := "internal server error"

	var se *SyncError
	if errors.As(err, &se) {
		code = se.Code
		message = se.Message
	}

	status := HTTPStatus(err)
	requestID := r.Header.Get("X-Request-ID")

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("request_id", requestID),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	} else {
		h.logger.Debug("Request rejected",
			zap.String("request_id", requestID),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}

	WriteJSON(w, status, ErrorResponse{
		Status:    "error",
		ErrorCode: code.String(),
		Message:   message,
		RequestID: requestID,
	})
}

// WriteJSON writes body as a JSON response with the given status
func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
