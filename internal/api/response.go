package api

import (
	"encoding/json"
	"net/http"

	"github.com/strefethen/bose-hub-go/internal/apperrors"
)

// ErrorResponse wraps errors in the shape existing clients parse.
// Format: {"detail": {"error": "...", "message": "...", "code": 400}}
type ErrorResponse struct {
	Detail apperrors.ErrorBody `json:"detail"`
}

// ListResponse is the envelope for collection endpoints.
// Example: {"object": "list", "data": [...], "has_more": false, "url": "/audit/events"}
type ListResponse struct {
	Object  string `json:"object"`
	Data    any    `json:"data"`
	HasMore bool   `json:"has_more"`
	URL     string `json:"url"`
}

// StatusResponse is the {"status": "..."} acknowledgement used by action endpoints.
type StatusResponse struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
}

// WriteJSON sends a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteRaw sends an already-encoded JSON body unchanged.
func WriteRaw(w http.ResponseWriter, status int, body json.RawMessage) error {
	if len(body) == 0 {
		body = json.RawMessage(`{}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(body)
	return err
}

// WriteError serializes an error into the detail envelope.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.EnsureAppError(err)
	if recorder, ok := w.(errorRecorder); ok {
		recorder.RecordError(appErr)
	}
	_ = WriteJSON(w, appErr.StatusCode, ErrorResponse{Detail: appErr.ErrorBody()})
}

// errorRecorder is implemented by response writers that log the failure
// behind an error response.
type errorRecorder interface {
	RecordError(err *apperrors.AppError)
}

// WriteList writes a list response.
func WriteList(w http.ResponseWriter, url string, data any, hasMore bool) error {
	return WriteJSON(w, http.StatusOK, ListResponse{
		Object:  "list",
		Data:    data,
		HasMore: hasMore,
		URL:     url,
	})
}

// WriteStatus writes {"status": status, "result": result}.
func WriteStatus(w http.ResponseWriter, status string, result any) error {
	return WriteJSON(w, http.StatusOK, StatusResponse{Status: status, Result: result})
}
