package apperrors

// ErrorCode identifies a playback failure kind. Codes are stable strings
// so they can cross the command reply and error channels unchanged.
type ErrorCode string

const (
	ErrorCodeInternalError       ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError     ErrorCode = "VALIDATION_ERROR"
	ErrorCodeContextUnavailable  ErrorCode = "CONTEXT_UNAVAILABLE"
	ErrorCodeResolverUnavailable ErrorCode = "CONTEXT_RESOLVER_UNAVAILABLE"
	ErrorCodeInvalidURI          ErrorCode = "INVALID_URI"
	ErrorCodeTrackUnavailable    ErrorCode = "TRACK_UNAVAILABLE"
	ErrorCodeAudioDeviceGone     ErrorCode = "AUDIO_DEVICE_UNAVAILABLE"
	ErrorCodeDecoderMissing      ErrorCode = "DECODER_MISSING"
	ErrorCodeTransientIO         ErrorCode = "TRANSIENT_IO"
	ErrorCodeCancelled           ErrorCode = "CANCELLED"
)

// AppError is the base error type carried on command replies and the
// engine error channel.
type AppError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
}

func (err *AppError) Error() string {
	return err.Message
}

func NewAppError(code ErrorCode, message string, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Details: details}
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, details)
}

func NewContextUnavailable(contextURI string, cause error) *AppError {
	details := map[string]any{"context_uri": contextURI}
	if cause != nil {
		details["cause"] = cause.Error()
	}
	return NewAppError(ErrorCodeContextUnavailable, "context unavailable: "+contextURI, details)
}

func NewResolverUnavailable(contextURI string) *AppError {
	return NewAppError(ErrorCodeResolverUnavailable,
		"no context resolver configured but a context URI was given",
		map[string]any{"context_uri": contextURI})
}

func NewInvalidURI(uri string) *AppError {
	return NewAppError(ErrorCodeInvalidURI, "URI is not playable: "+uri, map[string]any{"uri": uri})
}

func NewTrackUnavailable(trackURI string, cause error) *AppError {
	details := map[string]any{"track_uri": trackURI}
	if cause != nil {
		details["cause"] = cause.Error()
	}
	return NewAppError(ErrorCodeTrackUnavailable, "track unavailable: "+trackURI, details)
}

func NewAudioDeviceGone(message string) *AppError {
	return NewAppError(ErrorCodeAudioDeviceGone, message, nil)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, nil)
}

// EnsureAppError converts an arbitrary error into an AppError.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return &AppError{Code: ErrorCodeInternalError, Message: err.Error()}
}

// IsCode reports whether err is an AppError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}
