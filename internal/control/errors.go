package control

import (
	"context"
	"errors"

	"github.com/strefethen/bose-hub-go/internal/apperrors"
	"github.com/strefethen/bose-hub-go/internal/session"
	"github.com/strefethen/bose-hub-go/internal/speaker"
)

const notInitializedMessage = "Speaker not initialized. Please call /initialize first."

// callError maps a failure of a privileged call to its HTTP form.
func callError(err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if errors.Is(err, session.ErrNotInitialized) {
		return apperrors.NewSpeakerNotInitializedError(notInitializedMessage)
	}

	var authErr *session.AuthError
	if errors.As(err, &authErr) {
		return apperrors.NewAuthError(authErr.Error()).WithCause(err)
	}

	var deviceErr *speaker.DeviceError
	if errors.As(err, &deviceErr) {
		details := map[string]any{
			"method":   deviceErr.Method,
			"resource": deviceErr.Resource,
		}
		if deviceErr.Status != 0 {
			details["device_status"] = deviceErr.Status
		}
		if errors.Is(err, context.DeadlineExceeded) {
			details["timeout"] = true
		}
		return apperrors.NewDeviceError(deviceErr.Error(), details).WithCause(err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewDeviceError("Speaker call timed out", map[string]any{"timeout": true}).WithCause(err)
	}

	return apperrors.NewInternalError("Internal server error").WithCause(err)
}

// initError maps an Initialize failure. Every cause is an InitializationError.
func initError(err error) error {
	return apperrors.NewInitializationError("Failed to initialize speaker: " + err.Error()).WithCause(err)
}

// disconnectError maps a Disconnect failure.
func disconnectError(err error) error {
	if errors.Is(err, session.ErrNotInitialized) {
		return apperrors.NewSpeakerNotInitializedError("Speaker not initialized")
	}
	return apperrors.NewDisconnectionError(err.Error()).WithCause(err)
}
