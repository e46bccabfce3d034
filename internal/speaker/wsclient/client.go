package wsclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/strefethen/bose-hub-go/internal/speaker"
)

const (
	msgTypeRequest  = "REQUEST"
	msgTypeResponse = "RESPONSE"
	msgTypeNotify   = "NOTIFY"

	defaultPort        = 8082
	defaultSubprotocol = "eco2"
)

var (
	// ErrConnectionLost is returned to callers waiting on a response when the socket drops.
	ErrConnectionLost = errors.New("speaker connection lost")
)

// Header is the routing part of every frame exchanged with the device.
type Header struct {
	Device   string `json:"device"`
	Method   string `json:"method"`
	MsgType  string `json:"msgType"`
	ReqID    int64  `json:"reqID"`
	Resource string `json:"resource"`
	Status   int    `json:"status,omitempty"`
	Token    string `json:"token,omitempty"`
	Version  int    `json:"version"`
}

// Envelope is one JSON frame.
type Envelope struct {
	Header Header          `json:"header"`
	Body   json.RawMessage `json:"body,omitempty"`
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Subcode int    `json:"subcode"`
}

// Options configures every Client a factory builds.
type Options struct {
	Port        int
	Scheme      string
	Subprotocol string
	InsecureTLS bool
	Logger      *logrus.Logger

	HandshakeTimeout time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
}

// Client speaks the speaker's JSON-over-WebSocket request protocol.
type Client struct {
	target speaker.ClientOptions
	auth   speaker.AuthProvider
	opts   Options
	logger *logrus.Logger
	dialer *websocket.Dialer

	mu       sync.RWMutex
	conn     *websocket.Conn
	pending  map[int64]chan Envelope
	deviceID string
	closed   bool
	stop     chan struct{}

	writeMu        sync.Mutex
	requestCounter atomic.Int64
}

// NewFactory returns a speaker.ClientFactory producing WebSocket clients.
func NewFactory(opts Options) speaker.ClientFactory {
	return func(target speaker.ClientOptions, auth speaker.AuthProvider) speaker.Client {
		return New(target, auth, opts)
	}
}

// New creates a Client. Nothing is dialed until Connect.
func New(target speaker.ClientOptions, auth speaker.AuthProvider, opts Options) *Client {
	if opts.Port <= 0 {
		opts.Port = defaultPort
	}
	if opts.Scheme == "" {
		opts.Scheme = "wss"
	}
	if opts.Subprotocol == "" {
		opts.Subprotocol = defaultSubprotocol
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30 * time.Second
	}
	if target.Version <= 0 {
		target.Version = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		target:   target,
		auth:     auth,
		opts:     opts,
		logger:   logger,
		deviceID: target.DeviceID,
		pending:  make(map[int64]chan Envelope),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
			Subprotocols:     []string{opts.Subprotocol},
			TLSClientConfig:  &tls.Config{InsecureSkipVerify: opts.InsecureTLS}, //nolint:gosec // speakers use self-signed certificates
		},
	}
}

func (c *Client) url() string {
	return fmt.Sprintf("%s://%s/", c.opts.Scheme, net.JoinHostPort(c.target.Host, strconv.Itoa(c.opts.Port)))
}

// Connect dials the device and starts the reader. When no device id was
// configured it is read from /system/info.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url(), err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.closed = false
	c.stop = make(chan struct{})
	c.mu.Unlock()

	go c.readMessages(conn)

	c.logger.WithFields(logrus.Fields{"host": c.target.Host, "port": c.opts.Port}).Info("Speaker socket connected")

	if c.DeviceID() == "" {
		if err := c.loadDeviceID(ctx); err != nil {
			c.shutdown()
			return err
		}
	}
	return nil
}

func (c *Client) loadDeviceID(ctx context.Context) error {
	raw, err := c.Request(ctx, http.MethodGet, speaker.ResourceSystemInfo, nil)
	if err != nil {
		return err
	}
	var info struct {
		GUID string `json:"guid"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return speaker.AsDeviceError(http.MethodGet, speaker.ResourceSystemInfo, err)
	}
	if info.GUID == "" {
		return &speaker.DeviceError{Method: http.MethodGet, Resource: speaker.ResourceSystemInfo, Message: "system info has no guid"}
	}

	c.mu.Lock()
	c.deviceID = info.GUID
	c.mu.Unlock()
	return nil
}

// Disconnect closes the socket and stops any reconnect loop.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		c.shutdown()
		return nil
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Second)
	}

	c.writeMu.Lock()
	writeErr := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.writeMu.Unlock()

	c.shutdown()

	if writeErr != nil && !errors.Is(writeErr, websocket.ErrCloseSent) {
		return fmt.Errorf("close speaker socket: %w", writeErr)
	}
	return nil
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
	}
	c.failPendingLocked()
}

// DeviceID returns the device guid once known.
func (c *Client) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID
}

func (c *Client) readMessages(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message []byte) {
	var envelope Envelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		c.logger.WithError(err).Warn("Failed to parse speaker message")
		return
	}

	if envelope.Header.MsgType == msgTypeNotify {
		c.logger.WithFields(logrus.Fields{
			"resource": envelope.Header.Resource,
			"method":   envelope.Header.Method,
		}).Debug("Unsolicited speaker message")
		return
	}

	c.mu.Lock()
	ch, exists := c.pending[envelope.Header.ReqID]
	if exists {
		delete(c.pending, envelope.Header.ReqID)
	}
	c.mu.Unlock()

	if !exists {
		c.logger.WithField("req_id", envelope.Header.ReqID).Debug("Response for unknown speaker request")
		return
	}
	ch <- envelope
}

func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.failPendingLocked()
	closed := c.closed
	stop := c.stop
	c.mu.Unlock()

	if closed {
		return
	}

	c.logger.WithField("host", c.target.Host).WithError(cause).Warn("Speaker socket dropped")
	if c.target.AutoReconnect {
		go c.reconnectLoop(stop)
	}
}

// failPendingLocked must be called with mu held.
func (c *Client) failPendingLocked() {
	for reqID, ch := range c.pending {
		close(ch)
		delete(c.pending, reqID)
	}
}

func (c *Client) reconnectLoop(stop chan struct{}) {
	delay := c.opts.ReconnectMin
	for {
		select {
		case <-stop:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
		conn, _, err := c.dialer.DialContext(ctx, c.url(), nil)
		cancel()
		if err != nil {
			c.logger.WithField("host", c.target.Host).WithError(err).Debug("Speaker reconnect attempt failed")
			delay *= 2
			if delay > c.opts.ReconnectMax {
				delay = c.opts.ReconnectMax
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		go c.readMessages(conn)
		c.logger.WithField("host", c.target.Host).Info("Speaker socket reconnected")
		return
	}
}

// Request sends one REQUEST frame and waits for the matching RESPONSE.
func (c *Client) Request(ctx context.Context, method, resource string, body any) (json.RawMessage, error) {
	c.mu.RLock()
	conn := c.conn
	deviceID := c.deviceID
	c.mu.RUnlock()

	if conn == nil {
		return nil, &speaker.DeviceError{Method: method, Resource: resource, Err: speaker.ErrNotConnected}
	}

	var encoded json.RawMessage
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &speaker.DeviceError{Method: method, Resource: resource, Err: err}
		}
		encoded = data
	}

	reqID := c.requestCounter.Add(1)
	frame := Envelope{
		Header: Header{
			Device:   deviceID,
			Method:   method,
			MsgType:  msgTypeRequest,
			ReqID:    reqID,
			Resource: resource,
			Token:    c.auth.AccessToken(),
			Version:  c.target.Version,
		},
		Body: encoded,
	}

	ch := make(chan Envelope, 1)
	c.mu.Lock()
	c.pending[reqID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	err := conn.WriteJSON(frame)
	_ = conn.SetWriteDeadline(time.Time{})
	c.writeMu.Unlock()

	if err != nil {
		c.forget(reqID)
		return nil, &speaker.DeviceError{Method: method, Resource: resource, Err: fmt.Errorf("send request: %w", err)}
	}

	select {
	case <-ctx.Done():
		c.forget(reqID)
		return nil, &speaker.DeviceError{Method: method, Resource: resource, Err: ctx.Err()}
	case response, ok := <-ch:
		if !ok {
			return nil, &speaker.DeviceError{Method: method, Resource: resource, Err: ErrConnectionLost}
		}
		return responseBody(method, resource, response)
	}
}

func (c *Client) forget(reqID int64) {
	c.mu.Lock()
	delete(c.pending, reqID)
	c.mu.Unlock()
}

func responseBody(method, resource string, response Envelope) (json.RawMessage, error) {
	status := response.Header.Status
	if status != 0 && (status < 200 || status > 299) {
		deviceErr := &speaker.DeviceError{Method: method, Resource: resource, Status: status}
		var body errorBody
		if json.Unmarshal(response.Body, &body) == nil && body.Message != "" {
			deviceErr.Message = body.Message
		}
		return nil, deviceErr
	}
	if len(response.Body) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return response.Body, nil
}

// GetPowerState reads the power resource.
func (c *Client) GetPowerState(ctx context.Context) (speaker.PowerState, error) {
	var power speaker.PowerState
	err := c.getInto(ctx, speaker.ResourcePowerControl, &power)
	return power, err
}

// SetPowerState switches the device on or off.
func (c *Client) SetPowerState(ctx context.Context, on bool) error {
	state := "OFF"
	if on {
		state = "ON"
	}
	_, err := c.Request(ctx, http.MethodPost, speaker.ResourcePowerControl, map[string]string{"power": state})
	return err
}

// GetNowPlaying reads the now-playing resource.
func (c *Client) GetNowPlaying(ctx context.Context) (speaker.NowPlaying, error) {
	var nowPlaying speaker.NowPlaying
	err := c.getInto(ctx, speaker.ResourceNowPlaying, &nowPlaying)
	return nowPlaying, err
}

// GetProductSettings reads product settings, including stored presets.
func (c *Client) GetProductSettings(ctx context.Context) (speaker.ProductSettings, error) {
	var settings speaker.ProductSettings
	err := c.getInto(ctx, speaker.ResourceProductSettings, &settings)
	return settings, err
}

// RequestPlaybackPreset asks the device to play the first action of preset.
func (c *Client) RequestPlaybackPreset(ctx context.Context, preset speaker.Preset, initiatorID string) (json.RawMessage, error) {
	contentItem, err := presetContentItem(preset)
	if err != nil {
		return nil, &speaker.DeviceError{Method: http.MethodPost, Resource: speaker.ResourcePlaybackRequest, Err: err}
	}
	body := map[string]any{
		"initiatorID": initiatorID,
		"contentItem": contentItem,
	}
	return c.Request(ctx, http.MethodPost, speaker.ResourcePlaybackRequest, body)
}

// presetContentItem keeps every field of the stored content item, not only the typed ones.
func presetContentItem(preset speaker.Preset) (json.RawMessage, error) {
	if len(preset.Raw) > 0 {
		var raw struct {
			Actions []struct {
				Payload struct {
					ContentItem json.RawMessage `json:"contentItem"`
				} `json:"payload"`
			} `json:"actions"`
		}
		if err := json.Unmarshal(preset.Raw, &raw); err == nil && len(raw.Actions) > 0 && len(raw.Actions[0].Payload.ContentItem) > 0 {
			return raw.Actions[0].Payload.ContentItem, nil
		}
	}

	item, ok := preset.ContentItem()
	if !ok {
		return nil, errors.New("preset has no actions")
	}
	return json.Marshal(item)
}

func (c *Client) getInto(ctx context.Context, resource string, target any) error {
	raw, err := c.Request(ctx, http.MethodGet, resource, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return &speaker.DeviceError{Method: http.MethodGet, Resource: resource, Err: fmt.Errorf("decode body: %w", err)}
	}
	return nil
}

var _ speaker.Client = (*Client)(nil)
