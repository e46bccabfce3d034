package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/strefethen/bose-hub-go/internal/logging"
	"github.com/strefethen/bose-hub-go/internal/speaker"
)

type fakeAuth struct {
	loginErr   error
	refreshErr error
	valid      atomic.Bool
	logins     atomic.Int32
	refreshes  atomic.Int32
}

func (a *fakeAuth) GetControlToken(_ context.Context, email, password string) (speaker.Credential, error) {
	a.logins.Add(1)
	if a.loginErr != nil {
		return speaker.Credential{}, a.loginErr
	}
	a.valid.Store(true)
	return speaker.Credential{AccessToken: "token-" + email}, nil
}

func (a *fakeAuth) IsTokenValid() bool { return a.valid.Load() }

func (a *fakeAuth) RefreshToken(context.Context) error {
	a.refreshes.Add(1)
	if a.refreshErr != nil {
		return a.refreshErr
	}
	a.valid.Store(true)
	return nil
}

func (a *fakeAuth) AccessToken() string { return "token" }

type fakeClient struct {
	mu sync.Mutex

	deviceID      string
	connectErr    error
	disconnectErr error
	settingsErr   error
	settings      speaker.ProductSettings
	power         speaker.PowerState
	nowPlaying    speaker.NowPlaying

	connects    int
	disconnects int
	calls       int
	lastPreset  speaker.Preset
}

func (c *fakeClient) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return c.connectErr
}

func (c *fakeClient) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return c.disconnectErr
}

func (c *fakeClient) DeviceID() string { return c.deviceID }

func (c *fakeClient) GetPowerState(context.Context) (speaker.PowerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.power, nil
}

func (c *fakeClient) SetPowerState(context.Context, bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *fakeClient) GetNowPlaying(context.Context) (speaker.NowPlaying, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.nowPlaying, nil
}

func (c *fakeClient) GetProductSettings(context.Context) (speaker.ProductSettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.settingsErr != nil {
		return speaker.ProductSettings{}, c.settingsErr
	}
	return c.settings, nil
}

func (c *fakeClient) RequestPlaybackPreset(_ context.Context, preset speaker.Preset, _ string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastPreset = preset
	return json.RawMessage(`{}`), nil
}

func (c *fakeClient) Request(context.Context, string, string, any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return json.RawMessage(`{}`), nil
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type recordedEvents struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordedEvents) RecordSessionEvent(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordedEvents) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]EventType, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.Type)
	}
	return types
}

type harness struct {
	manager  *Manager
	auths    []*fakeAuth
	clients  []*fakeClient
	recorder *recordedEvents

	nextAuth   func() *fakeAuth
	nextClient func() *fakeClient
}

func newHarness() *harness {
	h := &harness{
		recorder:   &recordedEvents{},
		nextAuth:   func() *fakeAuth { return &fakeAuth{} },
		nextClient: func() *fakeClient { return &fakeClient{deviceID: "device-1", settings: twoPresetSettings()} },
	}
	h.manager = NewManager(Options{
		NewAuth: func() speaker.AuthProvider {
			auth := h.nextAuth()
			h.auths = append(h.auths, auth)
			return auth
		},
		NewClient: func(speaker.ClientOptions, speaker.AuthProvider) speaker.Client {
			client := h.nextClient()
			h.clients = append(h.clients, client)
			return client
		},
		Recorder: h.recorder,
		Logger:   logging.Discard(),
	})
	return h
}

func (h *harness) lastAuth() *fakeAuth     { return h.auths[len(h.auths)-1] }
func (h *harness) lastClient() *fakeClient { return h.clients[len(h.clients)-1] }

func twoPresetSettings() speaker.ProductSettings {
	var settings speaker.ProductSettings
	settings.Presets.Presets = map[string]speaker.Preset{
		"1": {Actions: []speaker.PresetAction{{Payload: speaker.PresetPayload{ContentItem: speaker.ContentItem{SourceAccount: "spotify:user1"}}}}},
		"2": {Actions: []speaker.PresetAction{{Payload: speaker.PresetPayload{ContentItem: speaker.ContentItem{SourceAccount: "spotify:user1", Location: "playlistB"}}}}},
	}
	return settings
}

var errBoom = errors.New("boom")

func testParams() Params {
	return Params{Email: "user@example.com", Password: "secret", Host: "192.168.1.40", Version: 1, AutoReconnect: true}
}
