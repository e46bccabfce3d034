package speaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Resource paths understood by the speaker's control gateway.
const (
	ResourceSystemInfo         = "/system/info"
	ResourceCapabilities       = "/system/capabilities"
	ResourcePowerControl       = "/system/power/control"
	ResourceSystemTimeout      = "/system/power/timeouts"
	ResourceProductSettings    = "/system/productSettings"
	ResourceSources            = "/system/sources"
	ResourceBattery            = "/system/battery"
	ResourceVolume             = "/audio/volume"
	ResourceAudioMode          = "/audio/mode"
	ResourceDualMono           = "/audio/dualMonoSelect"
	ResourceRebroadcastLatency = "/audio/rebroadcastLatency/mode"
	ResourceNowPlaying         = "/content/nowPlaying"
	ResourceTransportControl   = "/content/transportControl"
	ResourcePlaybackRequest    = "/content/playbackRequest"
	ResourceBluetoothStatus    = "/bluetooth/source/status"
	ResourceAccessories        = "/accessories"
	ResourceActiveGroups       = "/grouping/activeGroups"
	ResourceCEC                = "/cec"
	ResourceNetworkStatus      = "/network/status"
	ResourceSubscription       = "/subscription"
)

// AudioSettingResource returns the resource for a named audio setting (bass, treble, ...).
func AudioSettingResource(setting string) string {
	return "/audio/" + setting
}

// Client is the remote speaker control surface the session depends on.
// Every call may fail with a *DeviceError.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	DeviceID() string

	GetPowerState(ctx context.Context) (PowerState, error)
	SetPowerState(ctx context.Context, on bool) error
	GetNowPlaying(ctx context.Context) (NowPlaying, error)
	GetProductSettings(ctx context.Context) (ProductSettings, error)
	RequestPlaybackPreset(ctx context.Context, preset Preset, initiatorID string) (json.RawMessage, error)

	// Request forwards one operation and returns the device body verbatim.
	Request(ctx context.Context, method, resource string, body any) (json.RawMessage, error)
}

// AuthProvider issues and refreshes the control credential.
type AuthProvider interface {
	GetControlToken(ctx context.Context, email, password string) (Credential, error)
	IsTokenValid() bool
	RefreshToken(ctx context.Context) error
	AccessToken() string
}

// ClientOptions describes the device a Client connects to.
type ClientOptions struct {
	Host          string
	DeviceID      string
	Version       int
	AutoReconnect bool
}

// ClientFactory builds a Client bound to an AuthProvider.
type ClientFactory func(options ClientOptions, auth AuthProvider) Client

// DeviceError is any failure of a forwarded speaker call.
type DeviceError struct {
	Method   string
	Resource string
	Status   int
	Message  string
	Err      error
}

func (e *DeviceError) Error() string {
	switch {
	case e.Message != "" && e.Status != 0:
		return fmt.Sprintf("speaker %s %s failed with status %d: %s", e.Method, e.Resource, e.Status, e.Message)
	case e.Message != "":
		return fmt.Sprintf("speaker %s %s failed: %s", e.Method, e.Resource, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("speaker %s %s failed: %v", e.Method, e.Resource, e.Err)
	default:
		return fmt.Sprintf("speaker %s %s failed", e.Method, e.Resource)
	}
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// ErrNotConnected is returned by a Client used before Connect or after Disconnect.
var ErrNotConnected = errors.New("speaker not connected")

// AsDeviceError wraps err into a DeviceError unless it already is one.
func AsDeviceError(method, resource string, err error) error {
	if err == nil {
		return nil
	}
	var deviceErr *DeviceError
	if errors.As(err, &deviceErr) {
		return err
	}
	return &DeviceError{Method: method, Resource: resource, Err: err}
}
