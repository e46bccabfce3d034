package control

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/strefethen/bose-hub-go/internal/api"
	"github.com/strefethen/bose-hub-go/internal/apperrors"
	"github.com/strefethen/bose-hub-go/internal/session"
	"github.com/strefethen/bose-hub-go/internal/speaker"
)

// responseShape says how a forwarded result is written back.
type responseShape int

const (
	// shapeRaw writes the device body unchanged.
	shapeRaw responseShape = iota
	// shapeStatus wraps it as {"status": "success", "result": ...}.
	shapeStatus
)

// bodyBuilder validates the HTTP request and returns the device request body.
type bodyBuilder func(r *http.Request) (any, error)

// passthrough forwards one HTTP route to one device resource.
type passthrough struct {
	method   string
	path     string
	device   string
	resource func(r *http.Request) string
	body     bodyBuilder
	shape    responseShape
}

func fixed(resource string) func(r *http.Request) string {
	return func(*http.Request) string { return resource }
}

var audioSettingPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]*$`)

func audioSetting(r *http.Request) string {
	return speaker.AudioSettingResource(chi.URLParam(r, "setting"))
}

func passthroughRoutes() []passthrough {
	get := func(path, resource string) passthrough {
		return passthrough{method: http.MethodGet, path: path, device: http.MethodGet, resource: fixed(resource)}
	}

	return []passthrough{
		get("/system/info", speaker.ResourceSystemInfo),
		get("/system/capabilities", speaker.ResourceCapabilities),
		get("/power", speaker.ResourcePowerControl),
		get("/audio/volume", speaker.ResourceVolume),
		{method: http.MethodPut, path: "/audio/volume", device: http.MethodPut, resource: fixed(speaker.ResourceVolume), body: volumeBody},
		{method: http.MethodPut, path: "/audio/volume/mute", device: http.MethodPut, resource: fixed(speaker.ResourceVolume), body: muteBody},
		get("/content/now-playing", speaker.ResourceNowPlaying),

		{method: http.MethodPost, path: "/playback/play", device: http.MethodPost, resource: fixed(speaker.ResourceTransportControl), body: transportBody("PLAY")},
		{method: http.MethodPost, path: "/playback/pause", device: http.MethodPost, resource: fixed(speaker.ResourceTransportControl), body: transportBody("PAUSE")},
		{method: http.MethodPost, path: "/playback/skip-next", device: http.MethodPost, resource: fixed(speaker.ResourceTransportControl), body: transportBody("SKIPNEXT")},
		{method: http.MethodPost, path: "/playback/skip-previous", device: http.MethodPost, resource: fixed(speaker.ResourceTransportControl), body: transportBody("SKIPPREVIOUS")},
		{method: http.MethodPost, path: "/playback/seek", device: http.MethodPost, resource: fixed(speaker.ResourceTransportControl), body: seekBody},

		get("/sources", speaker.ResourceSources),
		{method: http.MethodPost, path: "/sources/set", device: http.MethodPost, resource: fixed(speaker.ResourcePlaybackRequest), body: sourceBody},
		{method: http.MethodPost, path: "/sources/tv", device: http.MethodPost, resource: fixed(speaker.ResourcePlaybackRequest), body: staticSource("PRODUCT", "TV")},
		{method: http.MethodPost, path: "/sources/bluetooth", device: http.MethodPost, resource: fixed(speaker.ResourcePlaybackRequest), body: staticSource("BLUETOOTH", "")},

		get("/audio/mode", speaker.ResourceAudioMode),
		{method: http.MethodPost, path: "/audio/mode", device: http.MethodPost, resource: fixed(speaker.ResourceAudioMode), body: stringValueBody("mode", "value"), shape: shapeStatus},
		get("/audio/dual-mono", speaker.ResourceDualMono),
		{method: http.MethodPost, path: "/audio/dual-mono", device: http.MethodPost, resource: fixed(speaker.ResourceDualMono), body: dualMonoBody, shape: shapeStatus},
		get("/audio/rebroadcast-latency", speaker.ResourceRebroadcastLatency),
		{method: http.MethodPost, path: "/audio/rebroadcast-latency", device: http.MethodPut, resource: fixed(speaker.ResourceRebroadcastLatency), body: stringValueBody("mode", "mode"), shape: shapeStatus},
		{method: http.MethodGet, path: "/audio/{setting}", device: http.MethodGet, resource: audioSetting, body: validSetting},
		{method: http.MethodPost, path: "/audio/{setting}", device: http.MethodPost, resource: audioSetting, body: audioSettingBody},

		get("/bluetooth/status", speaker.ResourceBluetoothStatus),
		get("/accessories", speaker.ResourceAccessories),
		{method: http.MethodPut, path: "/accessories", device: http.MethodPut, resource: fixed(speaker.ResourceAccessories), body: accessoriesBody, shape: shapeStatus},
		get("/battery", speaker.ResourceBattery),

		get("/groups/active", speaker.ResourceActiveGroups),
		{method: http.MethodDelete, path: "/groups/active", device: http.MethodDelete, resource: fixed(speaker.ResourceActiveGroups), shape: shapeStatus},
		{method: http.MethodPut, path: "/groups/active/add", device: http.MethodPut, resource: fixed(speaker.ResourceActiveGroups), body: modifyGroupBody("addProducts"), shape: shapeStatus},
		{method: http.MethodPut, path: "/groups/active/remove", device: http.MethodPut, resource: fixed(speaker.ResourceActiveGroups), body: modifyGroupBody("removeProducts"), shape: shapeStatus},

		get("/system/timeout", speaker.ResourceSystemTimeout),
		{method: http.MethodPut, path: "/system/timeout", device: http.MethodPut, resource: fixed(speaker.ResourceSystemTimeout), body: systemTimeoutBody},
		get("/cec", speaker.ResourceCEC),
		{method: http.MethodPut, path: "/cec", device: http.MethodPut, resource: fixed(speaker.ResourceCEC), body: stringValueBody("mode", "mode")},
		get("/system/product-settings", speaker.ResourceProductSettings),
		get("/network/status", speaker.ResourceNetworkStatus),
		{method: http.MethodPut, path: "/subscription", device: http.MethodPut, resource: fixed(speaker.ResourceSubscription), body: subscriptionBody},
	}
}

func registerPassthroughRoutes(router chi.Router, service *Service) {
	for _, route := range passthroughRoutes() {
		router.Method(route.method, route.path, api.Handler(service.forward(route)))
	}

	router.Method(http.MethodGet, "/device-id", api.Handler(service.deviceID))
	router.Method(http.MethodPost, "/power", api.Handler(service.setPower))
	router.Method(http.MethodPut, "/audio/volume/up", api.Handler(service.stepVolume(1)))
	router.Method(http.MethodPut, "/audio/volume/down", api.Handler(service.stepVolume(-1)))
	router.Method(http.MethodPost, "/sources/preset", api.Handler(service.presetSource))
	router.Method(http.MethodPost, "/groups/active", api.Handler(service.setActiveGroup))
}

func (s *Service) forward(route passthrough) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		var body any
		if route.body != nil {
			built, err := route.body(r)
			if err != nil {
				return err
			}
			body = built
		}
		resource := route.resource(r)

		result, err := session.Call(r.Context(), s.manager, func(ctx context.Context, conn session.Conn) (json.RawMessage, error) {
			return conn.Request(ctx, route.device, resource, body)
		})
		if err != nil {
			return callError(err)
		}

		if route.shape == shapeStatus {
			return api.WriteStatus(w, "success", result)
		}
		return api.WriteRaw(w, http.StatusOK, result)
	}
}

func (s *Service) deviceID(w http.ResponseWriter, r *http.Request) error {
	deviceID, err := session.Call(r.Context(), s.manager, func(_ context.Context, conn session.Conn) (string, error) {
		return conn.DeviceID(), nil
	})
	if err != nil {
		return callError(err)
	}
	return api.WriteJSON(w, http.StatusOK, map[string]string{"device_id": deviceID})
}

type powerRequest struct {
	State *bool `json:"state"`
}

func (s *Service) setPower(w http.ResponseWriter, r *http.Request) error {
	var req powerRequest
	if err := api.DecodeJSON(r, &req, false); err != nil {
		return err
	}
	if req.State == nil {
		return missingField("state")
	}

	err := s.manager.Do(r.Context(), func(ctx context.Context, conn session.Conn) error {
		return conn.SetPowerState(ctx, *req.State)
	})
	if err != nil {
		return callError(err)
	}
	return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "success", "power_state": *req.State})
}

type volumeState struct {
	Value int `json:"value"`
}

// stepVolume moves the volume by the configured step in direction, clamped to 0..100.
func (s *Service) stepVolume(direction int) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		result, err := session.Call(r.Context(), s.manager, func(ctx context.Context, conn session.Conn) (json.RawMessage, error) {
			raw, err := conn.Request(ctx, http.MethodGet, speaker.ResourceVolume, nil)
			if err != nil {
				return nil, err
			}
			var current volumeState
			if err := json.Unmarshal(raw, &current); err != nil {
				return nil, &speaker.DeviceError{Method: http.MethodGet, Resource: speaker.ResourceVolume, Err: err}
			}
			target := clampVolume(current.Value + direction*s.volumeStep)
			return conn.Request(ctx, http.MethodPut, speaker.ResourceVolume, map[string]int{"value": target})
		})
		if err != nil {
			return callError(err)
		}
		return api.WriteRaw(w, http.StatusOK, result)
	}
}

func clampVolume(value int) int {
	switch {
	case value < 0:
		return 0
	case value > 100:
		return 100
	default:
		return value
	}
}

func (s *Service) presetSource(w http.ResponseWriter, r *http.Request) error {
	raw := r.URL.Query().Get("presetNo")
	number, err := strconv.Atoi(raw)
	if err != nil {
		return apperrors.NewValidationError("presetNo must be an integer", map[string]any{"presetNo": raw})
	}

	result, err := session.Call(r.Context(), s.manager, func(ctx context.Context, conn session.Conn) (json.RawMessage, error) {
		preset, err := lookupPreset(ctx, conn, number)
		if err != nil {
			return nil, err
		}
		item, _ := preset.ContentItem()
		api.LogEntry(s.logger, r).WithFields(logrus.Fields{"preset": number, "source": item.Source}).Info("Switching to preset source")

		return conn.Request(ctx, http.MethodPost, speaker.ResourcePlaybackRequest, map[string]string{
			"source":        item.Source,
			"sourceAccount": item.SourceAccount,
		})
	})
	if err != nil {
		return callError(err)
	}
	return api.WriteRaw(w, http.StatusOK, result)
}

type activeGroupRequest struct {
	OtherProductIDs []string `json:"other_product_ids"`
}

type groupProduct struct {
	ProductID string `json:"productId"`
	Role      string `json:"role"`
}

func groupProducts(ids []string) []groupProduct {
	products := make([]groupProduct, 0, len(ids))
	for _, id := range ids {
		products = append(products, groupProduct{ProductID: id, Role: "NORMAL"})
	}
	return products
}

// setActiveGroup groups this device with other products; the session's own
// device id leads the product list.
func (s *Service) setActiveGroup(w http.ResponseWriter, r *http.Request) error {
	var req activeGroupRequest
	if err := api.DecodeJSON(r, &req, false); err != nil {
		return err
	}
	if req.OtherProductIDs == nil {
		return missingField("other_product_ids")
	}

	result, err := session.Call(r.Context(), s.manager, func(ctx context.Context, conn session.Conn) (json.RawMessage, error) {
		ids := append([]string{conn.DeviceID()}, req.OtherProductIDs...)
		return conn.Request(ctx, http.MethodPost, speaker.ResourceActiveGroups, map[string]any{"products": groupProducts(ids)})
	})
	if err != nil {
		return callError(err)
	}
	return api.WriteStatus(w, "success", result)
}

func missingField(field string) error {
	return apperrors.NewValidationError("Missing required field: "+field, map[string]any{"field": field})
}

// =============================================================================
// Body builders
// =============================================================================

func volumeBody(r *http.Request) (any, error) {
	var req struct {
		Volume *int `json:"volume"`
	}
	if err := api.DecodeJSON(r, &req, false); err != nil {
		return nil, err
	}
	if req.Volume == nil {
		return nil, missingField("volume")
	}
	if *req.Volume < 0 || *req.Volume > 100 {
		return nil, apperrors.NewValidationError("volume must be between 0 and 100", map[string]any{"volume": *req.Volume})
	}
	return map[string]int{"value": *req.Volume}, nil
}

func muteBody(r *http.Request) (any, error) {
	var req struct {
		Muted *bool `json:"muted"`
	}
	if err := api.DecodeJSON(r, &req, false); err != nil {
		return nil, err
	}
	if req.Muted == nil {
		return nil, missingField("muted")
	}
	return map[string]bool{"muted": *req.Muted}, nil
}

func transportBody(state string) bodyBuilder {
	return func(*http.Request) (any, error) {
		return map[string]string{"state": state}, nil
	}
}

func seekBody(r *http.Request) (any, error) {
	var req struct {
		Position *float64 `json:"position"`
	}
	if err := api.DecodeJSON(r, &req, false); err != nil {
		return nil, err
	}
	if req.Position == nil {
		return nil, missingField("position")
	}
	if *req.Position < 0 {
		return nil, apperrors.NewValidationError("position must not be negative", map[string]any{"position": *req.Position})
	}
	return map[string]any{"state": "SEEK", "position": *req.Position}, nil
}

func sourceBody(r *http.Request) (any, error) {
	var req struct {
		Source        *string `json:"source"`
		SourceAccount *string `json:"source_account"`
	}
	if err := api.DecodeJSON(r, &req, false); err != nil {
		return nil, err
	}
	if req.Source == nil {
		return nil, missingField("source")
	}
	if req.SourceAccount == nil {
		return nil, missingField("source_account")
	}
	return map[string]string{"source": *req.Source, "sourceAccount": *req.SourceAccount}, nil
}

func staticSource(source, account string) bodyBuilder {
	return func(*http.Request) (any, error) {
		return map[string]string{"source": source, "sourceAccount": account}, nil
	}
}

// stringValueBody reads a required string field and sends it under deviceKey.
func stringValueBody(field, deviceKey string) bodyBuilder {
	return func(r *http.Request) (any, error) {
		var req map[string]json.RawMessage
		if err := api.DecodeJSON(r, &req, false); err != nil {
			return nil, err
		}
		raw, ok := req[field]
		if !ok {
			return nil, missingField(field)
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, apperrors.NewValidationError(field+" must be a string", map[string]any{"field": field})
		}
		return map[string]string{deviceKey: value}, nil
	}
}

func dualMonoBody(r *http.Request) (any, error) {
	var req struct {
		Value json.RawMessage `json:"value"`
	}
	if err := api.DecodeJSON(r, &req, false); err != nil {
		return nil, err
	}
	if len(req.Value) == 0 || string(req.Value) == "null" {
		return nil, missingField("value")
	}

	var number int
	if err := json.Unmarshal(req.Value, &number); err == nil {
		return map[string]int{"value": number}, nil
	}
	var text string
	if err := json.Unmarshal(req.Value, &text); err == nil {
		return map[string]string{"value": text}, nil
	}
	return nil, apperrors.NewValidationError("value must be an integer or a string", map[string]any{"field": "value"})
}

func validSetting(r *http.Request) (any, error) {
	setting := chi.URLParam(r, "setting")
	if !audioSettingPattern.MatchString(setting) {
		return nil, apperrors.NewValidationError("Invalid audio setting name", map[string]any{"setting": setting})
	}
	return nil, nil
}

func audioSettingBody(r *http.Request) (any, error) {
	if _, err := validSetting(r); err != nil {
		return nil, err
	}
	var req struct {
		Value *int `json:"value"`
	}
	if err := api.DecodeJSON(r, &req, false); err != nil {
		return nil, err
	}
	if req.Value == nil {
		return nil, missingField("value")
	}
	return map[string]int{"value": *req.Value}, nil
}

func accessoriesBody(r *http.Request) (any, error) {
	var req struct {
		SubsEnabled  *bool `json:"subs_enabled"`
		RearsEnabled *bool `json:"rears_enabled"`
	}
	if err := api.DecodeJSON(r, &req, false); err != nil {
		return nil, err
	}
	enabled := map[string]bool{}
	if req.SubsEnabled != nil {
		enabled["subs"] = *req.SubsEnabled
	}
	if req.RearsEnabled != nil {
		enabled["rears"] = *req.RearsEnabled
	}
	return map[string]any{"enabled": enabled}, nil
}

func modifyGroupBody(deviceKey string) bodyBuilder {
	return func(r *http.Request) (any, error) {
		var req struct {
			ActiveGroupID   *string  `json:"active_group_id"`
			OtherProductIDs []string `json:"other_product_ids"`
		}
		if err := api.DecodeJSON(r, &req, false); err != nil {
			return nil, err
		}
		if req.ActiveGroupID == nil {
			return nil, missingField("active_group_id")
		}
		if req.OtherProductIDs == nil {
			return nil, missingField("other_product_ids")
		}
		return map[string]any{
			"activeGroupId": *req.ActiveGroupID,
			deviceKey:       groupProducts(req.OtherProductIDs),
		}, nil
	}
}

func systemTimeoutBody(r *http.Request) (any, error) {
	var req struct {
		NoAudio *bool `json:"no_audio"`
		NoVideo *bool `json:"no_video"`
	}
	if err := api.DecodeJSON(r, &req, false); err != nil {
		return nil, err
	}
	if req.NoAudio == nil {
		return nil, missingField("no_audio")
	}
	if req.NoVideo == nil {
		return nil, missingField("no_video")
	}
	return map[string]bool{"noAudio": *req.NoAudio, "noVideo": *req.NoVideo}, nil
}

// defaultSubscriptions is used when PUT /subscription names no resources.
var defaultSubscriptions = []string{
	speaker.ResourcePowerControl,
	speaker.ResourceNowPlaying,
	speaker.ResourceVolume,
	speaker.ResourceSources,
}

func subscriptionBody(r *http.Request) (any, error) {
	var req struct {
		Resources []string `json:"resources"`
	}
	if err := api.DecodeJSON(r, &req, true); err != nil {
		return nil, err
	}
	resources := req.Resources
	if len(resources) == 0 {
		resources = defaultSubscriptions
	}

	notifications := make([]map[string]any, 0, len(resources))
	for _, resource := range resources {
		notifications = append(notifications, map[string]any{"resource": resource, "version": 1})
	}
	return map[string]any{"notifications": notifications}, nil
}
