package api

import (
	"encoding/json"
	"net/http"

	"github.com/christosk92/wavee-go/internal/apperrors"
)

// ErrorResponse wraps an error payload.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the serialized error payload.
type ErrorBody struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Details map[string]any      `json:"details,omitempty"`
}

// WriteJSON sends a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteError serializes an AppError, mapping its code to an HTTP status.
func WriteError(w http.ResponseWriter, err error) {
	appErr := apperrors.EnsureAppError(err)
	_ = WriteJSON(w, statusFor(appErr.Code), ErrorResponse{
		Error: ErrorBody{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details},
	})
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrorCodeValidationError, apperrors.ErrorCodeInvalidURI:
		return http.StatusBadRequest
	case apperrors.ErrorCodeContextUnavailable, apperrors.ErrorCodeTrackUnavailable:
		return http.StatusNotFound
	case apperrors.ErrorCodeResolverUnavailable, apperrors.ErrorCodeAudioDeviceGone:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
