package control

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/strefethen/bose-hub-go/internal/api"
	"github.com/strefethen/bose-hub-go/internal/apperrors"
	"github.com/strefethen/bose-hub-go/internal/playback"
	"github.com/strefethen/bose-hub-go/internal/session"
	"github.com/strefethen/bose-hub-go/internal/speaker"
)

const (
	minPresetNumber = 1
	maxPresetNumber = 6
)

// Options configures the control Service.
type Options struct {
	Logger      *logrus.Logger
	VolumeStep  int
	InitiatorID string
}

// Service serves the speaker control API on top of one session.Manager.
type Service struct {
	manager     *session.Manager
	logger      *logrus.Logger
	volumeStep  int
	initiatorID string
}

// NewService creates a control Service.
func NewService(manager *session.Manager, options Options) *Service {
	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	step := options.VolumeStep
	if step <= 0 {
		step = 5
	}
	initiator := options.InitiatorID
	if initiator == "" {
		initiator = "bose-hub"
	}
	return &Service{
		manager:     manager,
		logger:      logger,
		volumeStep:  step,
		initiatorID: initiator,
	}
}

// RegisterRoutes wires the session, playback and passthrough routes.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodPost, "/initialize", api.Handler(service.initialize))
	router.Method(http.MethodPost, "/disconnect", api.Handler(service.disconnect))
	router.Method(http.MethodGet, "/health", api.Handler(service.health))

	router.Method(http.MethodGet, "/session", api.Handler(service.sessionInfo))
	router.Method(http.MethodPost, "/session/presets/refresh", api.Handler(service.refreshPresets))

	router.Method(http.MethodGet, "/playback/status", api.Handler(service.playbackStatus))
	router.Method(http.MethodGet, "/playback/source-codes", api.Handler(service.sourceCodes))
	router.Method(http.MethodPost, "/playback/preset", api.Handler(service.playbackPreset))

	registerPassthroughRoutes(router, service)
}

// InitializeRequest is the body of POST /initialize.
type InitializeRequest struct {
	Email         string  `json:"email"`
	Password      string  `json:"password"`
	Host          string  `json:"host"`
	DeviceID      *string `json:"device_id,omitempty"`
	Version       *int    `json:"version,omitempty"`
	AutoReconnect *bool   `json:"auto_reconnect,omitempty"`
}

// Params converts the request into session parameters, applying defaults.
func (req InitializeRequest) Params() session.Params {
	params := session.Params{
		Email:         req.Email,
		Password:      req.Password,
		Host:          req.Host,
		Version:       1,
		AutoReconnect: true,
	}
	if req.DeviceID != nil {
		params.DeviceID = *req.DeviceID
	}
	if req.Version != nil {
		params.Version = *req.Version
	}
	if req.AutoReconnect != nil {
		params.AutoReconnect = *req.AutoReconnect
	}
	return params
}

func (req InitializeRequest) validate() error {
	missing := []string{}
	if strings.TrimSpace(req.Email) == "" {
		missing = append(missing, "email")
	}
	if req.Password == "" {
		missing = append(missing, "password")
	}
	if strings.TrimSpace(req.Host) == "" {
		missing = append(missing, "host")
	}
	if len(missing) > 0 {
		return apperrors.NewValidationError("Missing required fields: "+strings.Join(missing, ", "), map[string]any{"fields": missing})
	}
	if req.Version != nil && *req.Version < 1 {
		return apperrors.NewValidationError("version must be at least 1", map[string]any{"version": *req.Version})
	}
	return nil
}

// InitializeResponse is returned by POST /initialize.
type InitializeResponse struct {
	Status   string   `json:"status"`
	DeviceID string   `json:"device_id"`
	Warnings []string `json:"warnings,omitempty"`
}

// Initialize starts (or replaces) the session. Used by the HTTP handler and at startup.
func (s *Service) Initialize(ctx context.Context, params session.Params) (InitializeResponse, error) {
	result, err := s.manager.Initialize(ctx, params)
	if err != nil {
		return InitializeResponse{}, initError(err)
	}
	return InitializeResponse{Status: "connected", DeviceID: result.DeviceID, Warnings: result.Warnings}, nil
}

func (s *Service) initialize(w http.ResponseWriter, r *http.Request) error {
	var req InitializeRequest
	if err := api.DecodeJSON(r, &req, false); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	response, err := s.Initialize(r.Context(), req.Params())
	if err != nil {
		api.LogEntry(s.logger, r).WithField("host", req.Host).WithError(err).Error("Failed to initialize speaker")
		return err
	}
	return api.WriteJSON(w, http.StatusOK, response)
}

func (s *Service) disconnect(w http.ResponseWriter, r *http.Request) error {
	if err := s.manager.Disconnect(r.Context()); err != nil {
		return disconnectError(err)
	}
	return api.WriteJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	APIStatus        string  `json:"api_status"`
	SpeakerConnected bool    `json:"speaker_connected"`
	DeviceID         *string `json:"device_id"`
	SessionState     string  `json:"session_state"`
}

func (s *Service) health(w http.ResponseWriter, r *http.Request) error {
	info := s.manager.Info()
	response := HealthResponse{
		APIStatus:    "healthy",
		SessionState: info.State,
	}
	if info.ConnectedAt != nil {
		response.SpeakerConnected = true
		deviceID := info.DeviceID
		response.DeviceID = &deviceID
	}
	return api.WriteJSON(w, http.StatusOK, response)
}

func (s *Service) sessionInfo(w http.ResponseWriter, r *http.Request) error {
	return api.WriteJSON(w, http.StatusOK, s.manager.Info())
}

func (s *Service) refreshPresets(w http.ResponseWriter, r *http.Request) error {
	if _, err := s.manager.RefreshPresets(r.Context()); err != nil {
		return callError(err)
	}
	return api.WriteJSON(w, http.StatusOK, s.manager.Info())
}

func (s *Service) playbackStatus(w http.ResponseWriter, r *http.Request) error {
	status, err := session.Call(r.Context(), s.manager, func(ctx context.Context, conn session.Conn) (playback.Status, error) {
		power, err := conn.GetPowerState(ctx)
		if err != nil {
			return playback.Status{}, err
		}
		nowPlaying, err := conn.GetNowPlaying(ctx)
		if err != nil {
			return playback.Status{}, err
		}
		return playback.Normalize(power, nowPlaying, conn.Presets()), nil
	})
	if err != nil {
		return callError(err)
	}
	return api.WriteJSON(w, http.StatusOK, status)
}

// sourceCodes needs no session; the table is static.
func (s *Service) sourceCodes(w http.ResponseWriter, r *http.Request) error {
	return api.WriteJSON(w, http.StatusOK, playback.SourceNames())
}

// PresetRequest is the body of POST /playback/preset. Preset is either a
// stored preset number or a full preset descriptor.
type PresetRequest struct {
	Preset      json.RawMessage `json:"preset"`
	InitiatorID *string         `json:"initiator_id,omitempty"`
}

func (s *Service) playbackPreset(w http.ResponseWriter, r *http.Request) error {
	var req PresetRequest
	if err := api.DecodeJSON(r, &req, false); err != nil {
		return err
	}

	initiatorID := s.initiatorID
	if req.InitiatorID != nil && *req.InitiatorID != "" {
		initiatorID = *req.InitiatorID
	}

	selection, err := parsePresetSelection(req.Preset)
	if err != nil {
		return err
	}

	result, err := session.Call(r.Context(), s.manager, func(ctx context.Context, conn session.Conn) (json.RawMessage, error) {
		preset := selection.descriptor
		if selection.number != 0 {
			stored, err := lookupPreset(ctx, conn, selection.number)
			if err != nil {
				return nil, err
			}
			preset = stored
		}
		return conn.RequestPlaybackPreset(ctx, preset, initiatorID)
	})
	if err != nil {
		return callError(err)
	}
	return api.WriteStatus(w, "success", result)
}

// presetSelection is either a stored preset number or an inline descriptor.
type presetSelection struct {
	number     int
	descriptor speaker.Preset
}

func parsePresetSelection(raw json.RawMessage) (presetSelection, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return presetSelection{}, apperrors.NewValidationError("Missing required field: preset", map[string]any{"field": "preset"})
	}

	if strings.HasPrefix(trimmed, "{") {
		var preset speaker.Preset
		if err := json.Unmarshal(raw, &preset); err != nil {
			return presetSelection{}, apperrors.NewValidationError("Invalid preset descriptor", map[string]any{"reason": err.Error()})
		}
		if _, ok := preset.ContentItem(); !ok {
			return presetSelection{}, apperrors.NewValidationError("Preset descriptor has no actions", nil)
		}
		return presetSelection{descriptor: preset}, nil
	}

	var number int
	if err := json.Unmarshal(raw, &number); err != nil {
		return presetSelection{}, apperrors.NewValidationError("preset must be an integer between 1 and 6", map[string]any{"preset": trimmed})
	}
	if number < minPresetNumber || number > maxPresetNumber {
		return presetSelection{}, apperrors.NewValidationError("preset must be an integer between 1 and 6", map[string]any{"preset": number})
	}
	return presetSelection{number: number}, nil
}

// lookupPreset runs inside a session call so the preset and the request that
// uses it come from the same session.
func lookupPreset(ctx context.Context, conn session.Conn, number int) (speaker.Preset, error) {
	preset, ok, err := conn.LookupPreset(ctx, number)
	if err != nil {
		return speaker.Preset{}, err
	}
	if !ok {
		return speaker.Preset{}, apperrors.NewPresetError(
			"Could not fetch configuration for preset "+strconv.Itoa(number),
			map[string]any{"preset": number},
		)
	}
	return preset, nil
}
