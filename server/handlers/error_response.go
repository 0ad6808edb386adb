package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/locks"
	"github.com/ebogdum/hnsfs/metadata"
)

// ErrorResponse is the JSON document returned for every failed request
type ErrorResponse struct {
	Code      string `json:"code"`
	Exception string `json:"exception"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor maps an error to its HTTP status
func StatusFor(err error) int {
	if errors.Is(err, locks.ErrLockBusy) {
		return http.StatusServiceUnavailable
	}
	switch metadata.KindOf(err) {
	case metadata.KindInvalidArgument:
		return http.StatusBadRequest
	case metadata.KindNotFound:
		return http.StatusNotFound
	case metadata.KindAlreadyExists, metadata.KindNotEmpty, metadata.KindInvalidState:
		return http.StatusConflict
	case metadata.KindUnauthorized:
		return http.StatusUnauthorized
	case metadata.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// SendErrorResponse sends a standardized JSON error response
func SendErrorResponse(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	kind := metadata.KindOf(err)
	statusCode := StatusFor(err)

	message := err.Error()
	if statusCode == http.StatusInternalServerError {
		// Backend internals stay in the server log
		message = "internal error"
	}

	response := ErrorResponse{
		Code:      kind.Code(),
		Exception: kind.ExceptionName(),
		Message:   message,
		RequestID: metadata.RequestIDFromContext(r.Context()),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("Failed to encode error response", zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("error_code", response.Code),
		zap.Int("status_code", statusCode),
		zap.String("request_id", response.RequestID),
		zap.Error(err),
	}
	if statusCode >= http.StatusInternalServerError {
		logger.Error("Request failed", fields...)
	} else {
		logger.Debug("Error response sent", fields...)
	}
}

// SendJSONResponse sends a JSON response with any data structure
func SendJSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
