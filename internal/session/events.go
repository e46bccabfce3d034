package session

// EventType names a lifecycle event reported to the EventRecorder.
type EventType string

const (
	EventInitialized            EventType = "SESSION_INITIALIZED"
	EventInitFailed             EventType = "SESSION_INIT_FAILED"
	EventReplaced               EventType = "SESSION_REPLACED"
	EventDisconnected           EventType = "SESSION_DISCONNECTED"
	EventDisconnectFailed       EventType = "SESSION_DISCONNECT_FAILED"
	EventCredentialRefreshed    EventType = "CREDENTIAL_REFRESHED"
	EventCredentialRefreshFail  EventType = "CREDENTIAL_REFRESH_FAILED"
	EventPresetCacheUnavailable EventType = "PRESET_CACHE_UNAVAILABLE"
	EventPresetCacheRefreshed   EventType = "PRESET_CACHE_REFRESHED"
)

// Event is one lifecycle notification.
type Event struct {
	Type     EventType
	Error    bool
	DeviceID string
	Message  string
	Payload  map[string]any
}

// EventRecorder receives lifecycle events. Implementations must not block for long.
type EventRecorder interface {
	RecordSessionEvent(event Event)
}

type noopRecorder struct{}

func (noopRecorder) RecordSessionEvent(Event) {}
