package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/strefethen/bose-hub-go/internal/session"
)

const (
	DefaultRetentionDays   = 30
	DefaultPruneSchedule   = "0 3 * * *"
	DefaultQueryLimit      = 100
	MaxQueryLimit          = 1000
	MaxConsecutiveFailures = 3
)

// Options configures the audit service.
type Options struct {
	RetentionDays int
	PruneSchedule string
	Logger        *logrus.Logger
}

// Service records session lifecycle events and prunes them on a schedule.
type Service struct {
	logger        *logrus.Logger
	repo          *Repository
	retentionDays int
	pruneSchedule string
	now           func() time.Time

	cronMu sync.Mutex
	cron   *cron.Cron

	healthMu            sync.RWMutex
	healthy             bool
	consecutiveFailures int
}

// NewService creates a new audit service.
func NewService(dbPair DBPair, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	retention := opts.RetentionDays
	if retention <= 0 {
		retention = DefaultRetentionDays
	}
	schedule := opts.PruneSchedule
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}

	return &Service{
		logger:        logger,
		repo:          NewRepository(dbPair),
		retentionDays: retention,
		pruneSchedule: schedule,
		now:           time.Now,
		healthy:       true,
	}
}

// RecordEvent writes a new audit event.
func (s *Service) RecordEvent(input WriteEventInput) (*AuditEvent, error) {
	if input.Level == nil {
		level := EventLevelInfo
		input.Level = &level
	}

	s.logger.WithFields(logrus.Fields{
		"type":  input.Type,
		"level": *input.Level,
	}).Debug(input.Message)

	event, err := s.repo.InsertEvent(input)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to record audit event: %w", err)
	}

	s.recordSuccess()
	return event, nil
}

// RecordSessionEvent stores a session manager event. Failures are logged and
// never reach the session.
func (s *Service) RecordSessionEvent(event session.Event) {
	level := EventLevelInfo
	if event.Error {
		level = EventLevelError
	}

	input := WriteEventInput{
		Type:    string(event.Type),
		Level:   &level,
		Message: event.Message,
		Payload: event.Payload,
	}
	if event.DeviceID != "" {
		deviceID := event.DeviceID
		input.DeviceID = &deviceID
	}
	if host, ok := event.Payload["host"].(string); ok && host != "" {
		input.Host = &host
	}

	if _, err := s.RecordEvent(input); err != nil {
		s.logger.WithError(err).WithField("type", event.Type).Warn("Failed to store session event")
	}
}

// QueryEvents retrieves events with filters and pagination.
// Returns: events, total count, hasMore flag, error.
func (s *Service) QueryEvents(filters EventQueryFilters) ([]AuditEvent, int, bool, error) {
	if filters.Limit == 0 {
		filters.Limit = DefaultQueryLimit
	}
	if filters.Limit > MaxQueryLimit {
		filters.Limit = MaxQueryLimit
	}

	events, total, err := s.repo.QueryEvents(filters)
	if err != nil {
		s.recordFailure()
		return nil, 0, false, fmt.Errorf("failed to query audit events: %w", err)
	}

	s.recordSuccess()
	return events, total, filters.Offset+len(events) < total, nil
}

// GetEvent retrieves a single event by ID.
func (s *Service) GetEvent(eventID string) (*AuditEvent, error) {
	event, err := s.repo.GetEvent(eventID)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}
	s.recordSuccess()

	if event == nil {
		return nil, &EventNotFoundError{EventID: eventID}
	}
	return event, nil
}

// StartPruneJob prunes once and then schedules pruning on the cron schedule.
func (s *Service) StartPruneJob() error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cron != nil {
		return nil
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(s.pruneSchedule, s.runPrune); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", s.pruneSchedule, err)
	}

	s.logger.WithFields(logrus.Fields{
		"schedule":       s.pruneSchedule,
		"retention_days": s.retentionDays,
	}).Info("Starting audit prune job")

	s.runPrune()
	scheduler.Start()
	s.cron = scheduler
	return nil
}

// StopPruneJob stops the schedule and waits for a running prune to finish.
func (s *Service) StopPruneJob() {
	s.cronMu.Lock()
	scheduler := s.cron
	s.cron = nil
	s.cronMu.Unlock()

	if scheduler == nil {
		return
	}
	<-scheduler.Stop().Done()
	s.logger.Info("Audit prune job stopped")
}

func (s *Service) runPrune() {
	count, err := s.Prune()
	if err != nil {
		s.logger.WithError(err).Error("Error pruning audit events")
		return
	}
	if count > 0 {
		s.logger.WithField("count", count).Info("Pruned audit events")
	}
}

// Prune deletes events older than the retention window.
func (s *Service) Prune() (int64, error) {
	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	count, err := s.repo.PruneBefore(cutoff)
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}

	s.recordSuccess()
	return count, nil
}

// IsHealthy reports false after MaxConsecutiveFailures storage errors in a row.
func (s *Service) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

func (s *Service) recordSuccess() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures = 0
	s.healthy = true
}

func (s *Service) recordFailure() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= MaxConsecutiveFailures {
		s.healthy = false
	}
}

// EventNotFoundError is returned when an audit event is not found.
type EventNotFoundError struct {
	EventID string
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("audit event not found: %s", e.EventID)
}
