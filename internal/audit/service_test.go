package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/bose-hub-go/internal/logging"
	"github.com/strefethen/bose-hub-go/internal/session"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(setupTestDB(t), Options{RetentionDays: 7, Logger: logging.Discard()})
}

func TestService_RecordSessionEvent(t *testing.T) {
	service := setupTestService(t)

	service.RecordSessionEvent(session.Event{
		Type:     session.EventInitFailed,
		Error:    true,
		DeviceID: "device-1",
		Message:  "Speaker authentication failed",
		Payload:  map[string]any{"host": "10.0.0.5", "stage": "authenticate"},
	})

	events, total, hasMore, err := service.QueryEvents(EventQueryFilters{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.False(t, hasMore)

	event := events[0]
	require.Equal(t, string(EventSessionInitFailed), event.Type)
	require.Equal(t, EventLevelError, event.Level)
	require.Equal(t, "device-1", *event.DeviceID)
	require.Equal(t, "10.0.0.5", *event.Host)
	require.Equal(t, "authenticate", event.Payload["stage"])
}

func TestService_RecordSessionEventWithoutDevice(t *testing.T) {
	service := setupTestService(t)

	service.RecordSessionEvent(session.Event{Type: session.EventDisconnected, Message: "closed"})

	events, _, _, err := service.QueryEvents(EventQueryFilters{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventLevelInfo, events[0].Level)
	require.Nil(t, events[0].DeviceID)
	require.Nil(t, events[0].Host)
}

func TestService_QueryEventsClampsLimit(t *testing.T) {
	service := setupTestService(t)
	for i := 0; i < 3; i++ {
		_, err := service.RecordEvent(WriteEventInput{Type: string(EventSystemStartup), Message: "boot"})
		require.NoError(t, err)
	}

	events, total, hasMore, err := service.QueryEvents(EventQueryFilters{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, events, 2)
	require.True(t, hasMore)

	events, _, hasMore, err = service.QueryEvents(EventQueryFilters{Limit: MaxQueryLimit + 50})
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.False(t, hasMore)
}

func TestService_GetEventNotFound(t *testing.T) {
	service := setupTestService(t)

	_, err := service.GetEvent("missing")
	var notFound *EventNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "missing", notFound.EventID)
	require.True(t, service.IsHealthy())
}

func TestService_PruneUsesRetention(t *testing.T) {
	service := setupTestService(t)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	service.repo.now = func() time.Time { return now.AddDate(0, 0, -8) }
	_, err := service.RecordEvent(WriteEventInput{Type: string(EventSystemStartup), Message: "old"})
	require.NoError(t, err)
	service.repo.now = func() time.Time { return now.AddDate(0, 0, -6) }
	_, err = service.RecordEvent(WriteEventInput{Type: string(EventSystemStartup), Message: "recent"})
	require.NoError(t, err)

	service.now = func() time.Time { return now }
	count, err := service.Prune()
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestService_StartPruneJobRejectsBadSchedule(t *testing.T) {
	service := NewService(setupTestDB(t), Options{PruneSchedule: "not a schedule", Logger: logging.Discard()})

	require.Error(t, service.StartPruneJob())
	service.StopPruneJob()
}

func TestService_StartAndStopPruneJob(t *testing.T) {
	service := setupTestService(t)

	require.NoError(t, service.StartPruneJob())
	require.NoError(t, service.StartPruneJob())
	service.StopPruneJob()
	service.StopPruneJob()
}

func TestService_HealthTracking(t *testing.T) {
	dbPair := setupTestDB(t)
	service := NewService(dbPair, Options{Logger: logging.Discard()})
	require.True(t, service.IsHealthy())

	require.NoError(t, dbPair.Close())
	for i := 0; i < MaxConsecutiveFailures; i++ {
		_, err := service.RecordEvent(WriteEventInput{Type: string(EventSystemStartup), Message: "boot"})
		require.Error(t, err)
	}
	require.False(t, service.IsHealthy())
}
