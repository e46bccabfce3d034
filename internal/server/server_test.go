package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/bose-hub-go/internal/api"
	"github.com/strefethen/bose-hub-go/internal/auth"
	"github.com/strefethen/bose-hub-go/internal/config"
	"github.com/strefethen/bose-hub-go/internal/logging"
	"github.com/strefethen/bose-hub-go/internal/speaker"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeAuth struct{ loginErr error }

func (a fakeAuth) GetControlToken(context.Context, string, string) (speaker.Credential, error) {
	if a.loginErr != nil {
		return speaker.Credential{}, a.loginErr
	}
	return speaker.Credential{AccessToken: "control"}, nil
}
func (fakeAuth) IsTokenValid() bool                 { return true }
func (fakeAuth) RefreshToken(context.Context) error { return nil }
func (fakeAuth) AccessToken() string                { return "control" }

// fakeSpeaker implements the calls made while opening and closing a session.
type fakeSpeaker struct {
	speaker.Client
}

func (fakeSpeaker) Connect(context.Context) error    { return nil }
func (fakeSpeaker) Disconnect(context.Context) error { return nil }
func (fakeSpeaker) DeviceID() string                 { return "bose-1" }
func (fakeSpeaker) GetProductSettings(context.Context) (speaker.ProductSettings, error) {
	var settings speaker.ProductSettings
	err := json.Unmarshal([]byte(`{"presets":{"presets":{"1":{"actions":[{"payload":{"contentItem":{"source":"TUNEIN","location":"s1"}}}]}}}}`), &settings)
	return settings, err
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		Host:                    "127.0.0.1",
		Port:                    "0",
		LogLevel:                "error",
		SQLiteDBPath:            filepath.Join(t.TempDir(), "hub.db"),
		BoseDevicePort:          8082,
		VolumeStep:              5,
		SpeakerCallTimeoutMs:    1000,
		SpeakerConnectTimeoutMs: 1000,
		PresetInitiatorID:       "bose-hub",
		AuditRetentionDays:      30,
		AuditPruneSchedule:      "0 3 * * *",
	}
}

func newTestHandler(t *testing.T, cfg config.Config, provider speaker.AuthProvider) http.Handler {
	t.Helper()
	handler, shutdown, err := NewHandler(cfg, Options{
		Logger:  logging.Discard(),
		NewAuth: func() speaker.AuthProvider { return provider },
		NewClient: func(speaker.ClientOptions, speaker.AuthProvider) speaker.Client {
			return fakeSpeaker{}
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, shutdown(context.Background())) })
	return handler
}

func do(t *testing.T, handler http.Handler, method, target, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	request := httptest.NewRequest(method, target, strings.NewReader(body))
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	var decoded map[string]any
	if recorder.Body.Len() > 0 && strings.HasPrefix(recorder.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	}
	return recorder, decoded
}

func TestHealthWithoutSession(t *testing.T) {
	handler := newTestHandler(t, testConfig(t), fakeAuth{})

	recorder, body := do(t, handler, http.MethodGet, "/health/", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, false, body["speaker_connected"])
	require.NotEmpty(t, recorder.Header().Get(api.RequestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	handler := newTestHandler(t, testConfig(t), fakeAuth{})

	recorder, _ := do(t, handler, http.MethodGet, "/health", "", map[string]string{api.RequestIDHeader: "req-42"})
	require.Equal(t, "req-42", recorder.Header().Get(api.RequestIDHeader))
}

func TestUnknownRoute(t *testing.T) {
	handler := newTestHandler(t, testConfig(t), fakeAuth{})

	recorder, body := do(t, handler, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Equal(t, "NotFound", body["detail"].(map[string]any)["error"])
}

func TestInitializeRecordsAuditEvents(t *testing.T) {
	handler := newTestHandler(t, testConfig(t), fakeAuth{})

	recorder, body := do(t, handler, http.MethodPost, "/initialize",
		`{"email":"me@example.com","password":"pw","host":"10.0.0.9"}`, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "connected", body["status"])
	require.Equal(t, "bose-1", body["device_id"])

	_, body = do(t, handler, http.MethodGet, "/health", "", nil)
	require.Equal(t, true, body["speaker_connected"])
	require.Equal(t, "bose-1", body["device_id"])

	_, body = do(t, handler, http.MethodGet, "/audit/events?limit=10", "", nil)
	types := []string{}
	for _, item := range body["data"].([]any) {
		types = append(types, item.(map[string]any)["type"].(string))
	}
	require.Contains(t, types, "SYSTEM_STARTUP")
	require.Contains(t, types, "SESSION_INITIALIZED")
}

func TestAPIAuthEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.APIJWTSecret = testSecret
	handler := newTestHandler(t, cfg, fakeAuth{})

	recorder, _ := do(t, handler, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	recorder, _ = do(t, handler, http.MethodGet, "/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder, body := do(t, handler, http.MethodGet, "/session", "", nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.Equal(t, "Unauthorized", body["detail"].(map[string]any)["error"])

	token, err := auth.GenerateToken(testSecret, "tests", time.Minute)
	require.NoError(t, err)
	recorder, body = do(t, handler, http.MethodGet, "/session", "", map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "uninitialized", body["state"])
}

func TestAutoInitializeFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.BoseHost = "10.0.0.9"
	cfg.BoseUsername = "me@example.com"
	cfg.BosePassword = "pw"
	handler := newTestHandler(t, cfg, fakeAuth{})

	require.Eventually(t, func() bool {
		_, body := do(t, handler, http.MethodGet, "/health", "", nil)
		return body["speaker_connected"] == true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAutoInitializeFailureKeepsServing(t *testing.T) {
	cfg := testConfig(t)
	cfg.BoseHost = "10.0.0.9"
	handler := newTestHandler(t, cfg, fakeAuth{loginErr: errors.New("bad credentials")})

	require.Eventually(t, func() bool {
		_, body := do(t, handler, http.MethodGet, "/audit/events?type=SYSTEM_AUTO_INIT_FAILED", "", nil)
		return len(body["data"].([]any)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	recorder, body := do(t, handler, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, false, body["speaker_connected"])
}
