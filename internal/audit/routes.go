package audit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/bose-hub-go/internal/api"
	"github.com/strefethen/bose-hub-go/internal/apperrors"
)

const eventsPath = "/audit/events"

// RegisterRoutes wires audit routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, eventsPath, api.Handler(queryEvents(service)))
	router.Method(http.MethodGet, eventsPath+"/{event_id}", api.Handler(getEvent(service)))
}

// GET /audit/events
func queryEvents(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		filters, err := parseQueryFilters(r)
		if err != nil {
			return err
		}

		events, _, hasMore, err := service.QueryEvents(filters)
		if err != nil {
			return apperrors.NewInternalError("Failed to query audit events").WithCause(err)
		}

		formatted := make([]map[string]any, 0, len(events))
		for i := range events {
			formatted = append(formatted, formatEvent(&events[i]))
		}
		return api.WriteList(w, eventsPath, formatted, hasMore)
	}
}

// GET /audit/events/{event_id}
func getEvent(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		eventID := chi.URLParam(r, "event_id")

		event, err := service.GetEvent(eventID)
		if err != nil {
			var notFound *EventNotFoundError
			if errors.As(err, &notFound) {
				return apperrors.NewNotFoundResource("Audit event", eventID)
			}
			return apperrors.NewInternalError("Failed to get audit event").WithCause(err)
		}

		return api.WriteJSON(w, http.StatusOK, formatEvent(event))
	}
}

func parseQueryFilters(r *http.Request) (EventQueryFilters, error) {
	filters := EventQueryFilters{Limit: DefaultQueryLimit}
	query := r.URL.Query()

	if from := query.Get("from"); from != "" {
		parsed, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filters, apperrors.NewValidationError("invalid 'from' datetime format, expected ISO 8601", map[string]any{"from": from})
		}
		filters.StartDate = &parsed
	}

	if to := query.Get("to"); to != "" {
		parsed, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filters, apperrors.NewValidationError("invalid 'to' datetime format, expected ISO 8601", map[string]any{"to": to})
		}
		filters.EndDate = &parsed
	}

	if eventType := query.Get("type"); eventType != "" {
		filters.Type = &eventType
	}

	if value := query.Get("level"); value != "" {
		level, ok := ParseLevel(value)
		if !ok {
			return filters, apperrors.NewValidationError("invalid level", map[string]any{
				"level":        value,
				"valid_levels": []string{"DEBUG", "INFO", "WARN", "ERROR"},
			})
		}
		filters.Level = &level
	}

	if deviceID := query.Get("device_id"); deviceID != "" {
		filters.DeviceID = &deviceID
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > MaxQueryLimit {
			return filters, apperrors.NewValidationError("invalid limit, must be between 1 and 1000", map[string]any{"limit": limitStr})
		}
		filters.Limit = limit
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filters, apperrors.NewValidationError("invalid offset, must be >= 0", map[string]any{"offset": offsetStr})
		}
		filters.Offset = offset
	}

	return filters, nil
}

func formatEvent(event *AuditEvent) map[string]any {
	result := map[string]any{
		"event_id":  event.EventID,
		"timestamp": event.Timestamp.UTC().Format(time.RFC3339Nano),
		"type":      event.Type,
		"level":     string(event.Level),
		"message":   event.Message,
	}

	correlation := map[string]any{}
	if event.RequestID != nil {
		correlation["request_id"] = *event.RequestID
	}
	if event.DeviceID != nil {
		correlation["device_id"] = *event.DeviceID
	}
	if event.Host != nil {
		correlation["host"] = *event.Host
	}
	if len(correlation) > 0 {
		result["correlation"] = correlation
	}

	if len(event.Payload) > 0 {
		result["payload"] = event.Payload
	}
	return result
}
