package apperrors

import (
	"errors"
	"net/http"
)

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode is the "error" field of a serialized error. The values match the
// error kinds clients of the speaker API already switch on.
type ErrorCode string

const (
	ErrorCodeSpeakerNotInitialized ErrorCode = "SpeakerNotInitialized"
	ErrorCodeInitializationError   ErrorCode = "InitializationError"
	ErrorCodeDisconnectionError    ErrorCode = "DisconnectionError"
	ErrorCodeAuthError             ErrorCode = "AuthError"
	ErrorCodeDeviceError           ErrorCode = "DeviceError"
	ErrorCodeValidationError       ErrorCode = "ValidationError"
	ErrorCodePresetError           ErrorCode = "PresetError"
	ErrorCodeNotFound              ErrorCode = "NotFound"
	ErrorCodeUnauthorized          ErrorCode = "Unauthorized"
	ErrorCodeTokenExpired          ErrorCode = "TokenExpired"
	ErrorCodeTokenInvalid          ErrorCode = "TokenInvalid"
	ErrorCodeInternalError         ErrorCode = "InternalError"
)

// Remediation provides guidance on how to fix an error.
type Remediation struct {
	Action   string `json:"action"`
	Endpoint string `json:"endpoint,omitempty"`
}

// ErrorBody is the serialized error payload.
// Format: {"error": "SpeakerNotInitialized", "message": "...", "code": 400}
type ErrorBody struct {
	Error       ErrorCode      `json:"error"`
	Message     string         `json:"message"`
	Code        int            `json:"code"`
	Details     map[string]any `json:"details,omitempty"`
	Remediation *Remediation   `json:"remediation,omitempty"`
}

// AppError is the base error type for HTTP responses.
type AppError struct {
	Code        ErrorCode
	Message     string
	StatusCode  int
	Details     map[string]any
	Remediation *Remediation
	Err         error
}

func (err *AppError) Error() string {
	return err.Message
}

func (err *AppError) Unwrap() error {
	return err.Err
}

func (err *AppError) ErrorBody() ErrorBody {
	return ErrorBody{
		Error:       err.Code,
		Message:     err.Message,
		Code:        err.StatusCode,
		Details:     err.Details,
		Remediation: err.Remediation,
	}
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any, remediation *Remediation) *AppError {
	return &AppError{
		Code:        code,
		Message:     message,
		StatusCode:  statusCode,
		Details:     details,
		Remediation: remediation,
	}
}

// WithCause records the underlying error for logging. It is never serialized.
func (err *AppError) WithCause(cause error) *AppError {
	err.Err = cause
	return err
}

func NewSpeakerNotInitializedError(message string) *AppError {
	return NewAppError(ErrorCodeSpeakerNotInitialized, message, http.StatusBadRequest, nil, &Remediation{
		Action:   "Initialize the speaker session",
		Endpoint: "POST /initialize",
	})
}

func NewInitializationError(message string) *AppError {
	return NewAppError(ErrorCodeInitializationError, message, http.StatusInternalServerError, nil, nil)
}

func NewDisconnectionError(message string) *AppError {
	return NewAppError(ErrorCodeDisconnectionError, message, http.StatusInternalServerError, nil, nil)
}

func NewAuthError(message string) *AppError {
	return NewAppError(ErrorCodeAuthError, message, http.StatusUnauthorized, nil, &Remediation{
		Action:   "Re-initialize the speaker session with valid credentials",
		Endpoint: "POST /initialize",
	})
}

func NewDeviceError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeDeviceError, message, http.StatusBadGateway, details, nil)
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, http.StatusUnprocessableEntity, details, nil)
}

func NewPresetError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodePresetError, message, http.StatusNotFound, details, nil)
}

func NewUnauthorizedError(message string, code ...ErrorCode) *AppError {
	errCode := ErrorCodeUnauthorized
	if len(code) > 0 {
		errCode = code[0]
	}
	return NewAppError(errCode, message, http.StatusUnauthorized, nil, nil)
}

func NewNotFoundResource(resource, id string) *AppError {
	message := resource + " not found"
	details := map[string]any{
		"resource": resource,
	}
	if id != "" {
		message = resource + " not found: " + id
		details["id"] = id
	}
	return NewAppError(ErrorCodeNotFound, message, http.StatusNotFound, details, nil)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, http.StatusInternalServerError, nil, nil)
}

// EnsureAppError converts an arbitrary error into an AppError.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("Internal server error").WithCause(err)
}
