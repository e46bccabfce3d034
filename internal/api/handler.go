package api

import (
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/strefethen/bose-hub-go/internal/apperrors"
)

// Handler adapts handlers that return errors into http.Handler.
type Handler func(w http.ResponseWriter, r *http.Request) error

// ServeHTTP implements http.Handler.
func (handler Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := handler(w, r); err != nil {
		WriteError(w, r, err)
	}
}

// RecovererMiddleware converts panics into 500 responses.
func RecovererMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.WithFields(logrus.Fields{
						"panic":      recovered,
						"method":     r.Method,
						"path":       r.URL.Path,
						"request_id": GetRequestID(r),
						"stack":      string(debug.Stack()),
					}).Error("Panic recovered")
					WriteError(w, r, apperrors.NewInternalError("Internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
