package audit

import "github.com/strefethen/bose-hub-go/internal/session"

// EventType represents the type of audit event.
type EventType string

const (
	EventSessionInitialized      EventType = EventType(session.EventInitialized)
	EventSessionInitFailed       EventType = EventType(session.EventInitFailed)
	EventSessionReplaced         EventType = EventType(session.EventReplaced)
	EventSessionDisconnected     EventType = EventType(session.EventDisconnected)
	EventSessionDisconnectFailed EventType = EventType(session.EventDisconnectFailed)
	EventCredentialRefreshed     EventType = EventType(session.EventCredentialRefreshed)
	EventCredentialRefreshFailed EventType = EventType(session.EventCredentialRefreshFail)
	EventPresetCacheUnavailable  EventType = EventType(session.EventPresetCacheUnavailable)
	EventPresetCacheRefreshed    EventType = EventType(session.EventPresetCacheRefreshed)
	EventSystemStartup           EventType = "SYSTEM_STARTUP"
	EventSystemShutdown          EventType = "SYSTEM_SHUTDOWN"
	EventSystemAutoInitFailed    EventType = "SYSTEM_AUTO_INIT_FAILED"
)

// EventLevel represents the severity level of an audit event.
type EventLevel string

const (
	EventLevelDebug EventLevel = "DEBUG"
	EventLevelInfo  EventLevel = "INFO"
	EventLevelWarn  EventLevel = "WARN"
	EventLevelError EventLevel = "ERROR"
)

// validEventLevels maps query values to levels.
var validEventLevels = map[string]EventLevel{
	"DEBUG": EventLevelDebug,
	"INFO":  EventLevelInfo,
	"WARN":  EventLevelWarn,
	"ERROR": EventLevelError,
}

// ParseLevel returns the level named by value, if any.
func ParseLevel(value string) (EventLevel, bool) {
	level, ok := validEventLevels[value]
	return level, ok
}
