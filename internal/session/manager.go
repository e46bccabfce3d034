package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/strefethen/bose-hub-go/internal/speaker"
)

// Default timeouts applied when Options leaves them zero.
const (
	DefaultCallTimeout    = 5 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// State is the lifecycle position of the managed session.
type State int32

const (
	StateUninitialized State = iota
	StateAuthenticating
	StateConnecting
	StateReady
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAuthenticating:
		return "authenticating"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Params are the inputs of Initialize.
type Params struct {
	Email         string
	Password      string
	Host          string
	DeviceID      string
	Version       int
	AutoReconnect bool
}

// InitResult reports a successful Initialize. Warnings carry degraded-but-usable
// conditions such as an unavailable preset cache.
type InitResult struct {
	DeviceID string
	Warnings []string
}

// Info is a point-in-time view of the session for health and status endpoints.
type Info struct {
	State         string     `json:"state"`
	DeviceID      string     `json:"device_id,omitempty"`
	Host          string     `json:"host,omitempty"`
	ConnectedAt   *time.Time `json:"connected_at,omitempty"`
	PresetsCached bool       `json:"presets_cached"`
	PresetNumbers []int      `json:"preset_numbers"`
	Warnings      []string   `json:"warnings,omitempty"`
}

// Options wires the Manager's collaborators.
type Options struct {
	NewAuth        func() speaker.AuthProvider
	NewClient      speaker.ClientFactory
	Recorder       EventRecorder
	Logger         *logrus.Logger
	CallTimeout    time.Duration
	ConnectTimeout time.Duration
}

type session struct {
	client      speaker.Client
	auth        speaker.AuthProvider
	deviceID    string
	host        string
	connectedAt time.Time

	presetsMu     sync.RWMutex
	presets       speaker.PresetTable
	presetsLoaded bool
	presetErr     string
}

func (s *session) presetTable() (speaker.PresetTable, bool) {
	s.presetsMu.RLock()
	defer s.presetsMu.RUnlock()
	return s.presets, s.presetsLoaded
}

func (s *session) storePresets(table speaker.PresetTable) {
	s.presetsMu.Lock()
	defer s.presetsMu.Unlock()
	s.presets = table
	s.presetsLoaded = true
	s.presetErr = ""
}

func (s *session) storePresetError(err error) {
	s.presetsMu.Lock()
	defer s.presetsMu.Unlock()
	s.presetErr = fmt.Sprintf("preset cache unavailable: %v", err)
}

// Conn is handed to callers of Do for the duration of one privileged call.
type Conn struct {
	speaker.Client
	session *session
	manager *Manager
}

// Presets returns the cached preset table, possibly empty.
func (c Conn) Presets() speaker.PresetTable {
	table, _ := c.session.presetTable()
	return table
}

// DeviceID returns the session's device id, which falls back to the requested
// one when the client never learned it.
func (c Conn) DeviceID() string {
	return c.session.deviceID
}

// StorePresets replaces the cached preset table.
func (c Conn) StorePresets(table speaker.PresetTable) {
	c.session.storePresets(table)
}

// LookupPreset returns a cached preset. On a miss it reloads the cache from the
// device once, within the same call.
func (c Conn) LookupPreset(ctx context.Context, number int) (speaker.Preset, bool, error) {
	if preset, ok := c.Presets().Lookup(number); ok {
		return preset, true, nil
	}
	table, err := c.manager.reloadPresets(ctx, c)
	if err != nil {
		return speaker.Preset{}, false, err
	}
	preset, ok := table.Lookup(number)
	return preset, ok, nil
}

// Manager owns the single speaker session.
//
// Initialize, Disconnect and Close take the guard exclusively; EnsureReady and
// Do hold it shared across the readiness check and the device call, so a
// session is never torn down under an in-flight call.
type Manager struct {
	mu        sync.RWMutex
	refreshMu sync.Mutex
	current   atomic.Pointer[session]
	state     atomic.Int32

	newAuth        func() speaker.AuthProvider
	newClient      speaker.ClientFactory
	recorder       EventRecorder
	logger         *logrus.Logger
	callTimeout    time.Duration
	connectTimeout time.Duration
}

// NewManager creates a Manager in the uninitialized state.
func NewManager(options Options) *Manager {
	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	recorder := options.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}
	callTimeout := options.CallTimeout
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}

	return &Manager{
		newAuth:        options.NewAuth,
		newClient:      options.NewClient,
		recorder:       recorder,
		logger:         logger,
		callTimeout:    callTimeout,
		connectTimeout: connectTimeout,
	}
}

// State returns the current lifecycle state without blocking.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(state State) {
	m.state.Store(int32(state))
}

// Initialize authenticates, connects, and installs a new session, replacing
// any existing one. A failed Initialize leaves the previous session in place.
func (m *Manager) Initialize(ctx context.Context, params Params) (InitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.State()
	fields := logrus.Fields{"host": params.Host, "device_id": params.DeviceID}

	m.setState(StateAuthenticating)
	auth := m.newAuth()
	if _, err := auth.GetControlToken(ctx, params.Email, params.Password); err != nil {
		m.setState(previous)
		authErr := &AuthError{Op: "login", Err: err}
		m.logger.WithFields(fields).WithError(err).Error("Speaker authentication failed")
		m.recorder.RecordSessionEvent(Event{
			Type:     EventInitFailed,
			Error:    true,
			DeviceID: params.DeviceID,
			Message:  authErr.Error(),
			Payload:  map[string]any{"host": params.Host, "stage": "authenticate"},
		})
		return InitResult{}, authErr
	}
	m.logger.WithFields(fields).Info("Speaker authentication succeeded")

	m.setState(StateConnecting)
	client := m.newClient(speaker.ClientOptions{
		Host:          params.Host,
		DeviceID:      params.DeviceID,
		Version:       params.Version,
		AutoReconnect: params.AutoReconnect,
	}, auth)

	connectCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	err := client.Connect(connectCtx)
	cancel()
	if err != nil {
		m.setState(previous)
		connErr := &ConnectionError{Host: params.Host, Err: err}
		m.logger.WithFields(fields).WithError(err).Error("Speaker connection failed")
		m.recorder.RecordSessionEvent(Event{
			Type:     EventInitFailed,
			Error:    true,
			DeviceID: params.DeviceID,
			Message:  connErr.Error(),
			Payload:  map[string]any{"host": params.Host, "stage": "connect"},
		})
		return InitResult{}, connErr
	}

	next := &session{
		client:      client,
		auth:        auth,
		deviceID:    client.DeviceID(),
		host:        params.Host,
		connectedAt: time.Now().UTC(),
	}
	if next.deviceID == "" {
		next.deviceID = params.DeviceID
	}

	result := InitResult{DeviceID: next.deviceID}
	if err := m.loadPresets(ctx, next); err != nil {
		next.storePresetError(err)
		warning := fmt.Sprintf("preset cache unavailable: %v", err)
		result.Warnings = append(result.Warnings, warning)
		m.logger.WithFields(fields).WithError(err).Warn("Connected without preset cache")
		m.recorder.RecordSessionEvent(Event{
			Type:     EventPresetCacheUnavailable,
			Error:    true,
			DeviceID: next.deviceID,
			Message:  warning,
		})
	}

	old := m.current.Swap(next)
	m.setState(StateReady)

	if old != nil {
		m.recorder.RecordSessionEvent(Event{
			Type:     EventReplaced,
			DeviceID: old.deviceID,
			Message:  "Session replaced by a new initialize",
			Payload:  map[string]any{"new_device_id": next.deviceID},
		})
		go m.closeQuietly(old)
	}

	m.logger.WithFields(logrus.Fields{"host": next.host, "device_id": next.deviceID}).Info("Speaker session ready")
	m.recorder.RecordSessionEvent(Event{
		Type:     EventInitialized,
		DeviceID: next.deviceID,
		Message:  "Speaker session initialized",
		Payload:  map[string]any{"host": next.host, "presets": next.presets.Len()},
	})
	return result, nil
}

func (m *Manager) loadPresets(ctx context.Context, s *session) error {
	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	settings, err := s.client.GetProductSettings(callCtx)
	if err != nil {
		return err
	}
	s.storePresets(speaker.PresetTableFromSettings(settings))
	return nil
}

func (m *Manager) closeQuietly(s *session) {
	ctx, cancel := context.WithTimeout(context.Background(), m.callTimeout)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		m.logger.WithField("device_id", s.deviceID).WithError(err).Warn("Failed to close replaced speaker session")
	}
}

// EnsureReady verifies a session exists and its credential is valid,
// refreshing it once if needed. A failed refresh returns *AuthError and keeps
// the session; the next call tries the refresh again and recovers without a
// new Initialize if it succeeds.
func (m *Manager) EnsureReady(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, err := m.ensureReadyLocked(ctx)
	return err
}

// ensureReadyLocked must be called with mu held for reading.
func (m *Manager) ensureReadyLocked(ctx context.Context) (*session, error) {
	current := m.current.Load()
	if current == nil {
		return nil, ErrNotInitialized
	}
	if current.auth.IsTokenValid() {
		return current, nil
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	if current.auth.IsTokenValid() {
		return current, nil
	}

	m.setState(StateAuthenticating)
	refreshCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	if err := current.auth.RefreshToken(refreshCtx); err != nil {
		authErr := &AuthError{Op: "refresh", Err: err}
		m.logger.WithField("device_id", current.deviceID).WithError(err).Error("Credential refresh failed")
		m.recorder.RecordSessionEvent(Event{
			Type:     EventCredentialRefreshFail,
			Error:    true,
			DeviceID: current.deviceID,
			Message:  authErr.Error(),
		})
		return nil, authErr
	}

	m.setState(StateReady)
	m.logger.WithField("device_id", current.deviceID).Info("Credential refreshed")
	m.recorder.RecordSessionEvent(Event{
		Type:     EventCredentialRefreshed,
		DeviceID: current.deviceID,
		Message:  "Control credential refreshed",
	})
	return current, nil
}

// Do runs fn against the ready session. The call gets its own deadline.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, conn Conn) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	current, err := m.ensureReadyLocked(ctx)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	return fn(callCtx, Conn{Client: current.client, session: current, manager: m})
}

// Call is Do for callbacks that produce a value.
func Call[T any](ctx context.Context, m *Manager, fn func(ctx context.Context, conn Conn) (T, error)) (T, error) {
	var result T
	err := m.Do(ctx, func(ctx context.Context, conn Conn) error {
		var callErr error
		result, callErr = fn(ctx, conn)
		return callErr
	})
	return result, err
}

// Disconnect tears down the session. The session is cleared even when the
// remote teardown fails; that failure is returned as a *DisconnectionError.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.current.Load()
	if current == nil {
		return ErrNotInitialized
	}

	m.current.Store(nil)
	m.setState(StateDisconnected)

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	if err := current.client.Disconnect(callCtx); err != nil {
		discErr := &DisconnectionError{DeviceID: current.deviceID, Err: err}
		m.logger.WithField("device_id", current.deviceID).WithError(err).Warn("Speaker disconnect failed; session cleared")
		m.recorder.RecordSessionEvent(Event{
			Type:     EventDisconnectFailed,
			Error:    true,
			DeviceID: current.deviceID,
			Message:  discErr.Error(),
		})
		return discErr
	}

	m.logger.WithField("device_id", current.deviceID).Info("Speaker disconnected")
	m.recorder.RecordSessionEvent(Event{
		Type:     EventDisconnected,
		DeviceID: current.deviceID,
		Message:  "Speaker session disconnected",
	})
	return nil
}

// Close disconnects if a session exists. Used on process shutdown.
func (m *Manager) Close(ctx context.Context) error {
	err := m.Disconnect(ctx)
	if errors.Is(err, ErrNotInitialized) {
		return nil
	}
	return err
}

// RefreshPresets fetches product settings and replaces the preset cache.
func (m *Manager) RefreshPresets(ctx context.Context) (speaker.PresetTable, error) {
	return Call(ctx, m, m.reloadPresets)
}

func (m *Manager) reloadPresets(ctx context.Context, conn Conn) (speaker.PresetTable, error) {
	settings, err := conn.GetProductSettings(ctx)
	if err != nil {
		conn.session.storePresetError(err)
		return speaker.PresetTable{}, err
	}
	table := speaker.PresetTableFromSettings(settings)
	conn.StorePresets(table)
	m.recorder.RecordSessionEvent(Event{
		Type:     EventPresetCacheRefreshed,
		DeviceID: conn.session.deviceID,
		Message:  "Preset cache refreshed",
		Payload:  map[string]any{"presets": table.Len()},
	})
	return table, nil
}

// Info reports the session without taking the guard, so it never waits on an
// in-flight Initialize.
func (m *Manager) Info() Info {
	info := Info{State: m.State().String(), PresetNumbers: []int{}}

	current := m.current.Load()
	if current == nil {
		return info
	}

	connectedAt := current.connectedAt
	info.DeviceID = current.deviceID
	info.Host = current.host
	info.ConnectedAt = &connectedAt

	current.presetsMu.RLock()
	info.PresetsCached = current.presetsLoaded
	info.PresetNumbers = current.presets.Numbers()
	if current.presetErr != "" {
		info.Warnings = []string{current.presetErr}
	}
	current.presetsMu.RUnlock()

	return info
}
