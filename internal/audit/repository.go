package audit

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strefethen/bose-hub-go/internal/db"
)

// AuditEvent represents a single audit event.
type AuditEvent struct {
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Level     EventLevel     `json:"level"`
	RequestID *string        `json:"request_id,omitempty"`
	DeviceID  *string        `json:"device_id,omitempty"`
	Host      *string        `json:"host,omitempty"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload"`
}

// WriteEventInput contains the fields for creating a new audit event.
type WriteEventInput struct {
	Type      string
	Level     *EventLevel
	RequestID *string
	DeviceID  *string
	Host      *string
	Message   string
	Payload   map[string]any
}

// EventQueryFilters contains optional filters for querying events.
type EventQueryFilters struct {
	Type      *string
	Level     *EventLevel
	DeviceID  *string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for audit events.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
	now    func() time.Time
}

// NewRepository creates a new audit Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer(), now: time.Now}
}

const eventColumns = `event_id, timestamp, type, level, request_id, device_id, host, message, payload`

// InsertEvent writes a new audit event. Level defaults to INFO.
func (r *Repository) InsertEvent(input WriteEventInput) (*AuditEvent, error) {
	eventID := uuid.New().String()
	timestamp := db.FormatTime(r.now())

	level := EventLevelInfo
	if input.Level != nil {
		level = *input.Level
	}

	payload := input.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	_, err = r.writer.Exec(`
		INSERT INTO audit_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventID, timestamp, input.Type, string(level), input.RequestID, input.DeviceID, input.Host, input.Message, string(payloadJSON))
	if err != nil {
		return nil, err
	}

	return r.GetEvent(eventID)
}

// GetEvent retrieves a single event by ID.
// Returns nil, nil if not found.
func (r *Repository) GetEvent(eventID string) (*AuditEvent, error) {
	row := r.reader.QueryRow(`SELECT `+eventColumns+` FROM audit_events WHERE event_id = ?`, eventID)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return event, err
}

// QueryEvents retrieves events matching filters, newest first, along with
// the total number of matches.
func (r *Repository) QueryEvents(filters EventQueryFilters) ([]AuditEvent, int, error) {
	whereClause, args := buildWhereClause(filters)

	var total int
	if err := r.reader.QueryRow("SELECT COUNT(*) FROM audit_events "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	query := `SELECT ` + eventColumns + ` FROM audit_events ` + whereClause + `
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ? OFFSET ?`
	rows, err := r.reader.Query(query, append(args, limit, filters.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := []AuditEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

// PruneBefore deletes events older than cutoff and returns the number removed.
func (r *Repository) PruneBefore(cutoff time.Time) (int64, error) {
	result, err := r.writer.Exec(`DELETE FROM audit_events WHERE timestamp < ?`, db.FormatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func buildWhereClause(filters EventQueryFilters) (string, []any) {
	conditions := []string{}
	args := []any{}

	if filters.Type != nil {
		conditions = append(conditions, "type = ?")
		args = append(args, *filters.Type)
	}
	if filters.Level != nil {
		conditions = append(conditions, "level = ?")
		args = append(args, string(*filters.Level))
	}
	if filters.DeviceID != nil {
		conditions = append(conditions, "device_id = ?")
		args = append(args, *filters.DeviceID)
	}
	if filters.StartDate != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, db.FormatTime(*filters.StartDate))
	}
	if filters.EndDate != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, db.FormatTime(*filters.EndDate))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*AuditEvent, error) {
	var (
		event       AuditEvent
		timestamp   string
		level       string
		requestID   sql.NullString
		deviceID    sql.NullString
		host        sql.NullString
		payloadJSON string
	)

	if err := row.Scan(
		&event.EventID,
		&timestamp,
		&event.Type,
		&level,
		&requestID,
		&deviceID,
		&host,
		&event.Message,
		&payloadJSON,
	); err != nil {
		return nil, err
	}

	parsed, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return nil, err
	}
	event.Timestamp = parsed
	event.Level = EventLevel(level)
	event.RequestID = nullableString(requestID)
	event.DeviceID = nullableString(deviceID)
	event.Host = nullableString(host)

	if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
		return nil, err
	}
	return &event, nil
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
