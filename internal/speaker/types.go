package speaker

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// PlayingStatus is the now-playing state.status value reported while content plays.
const PlayingStatus = "PLAY"

// Credential is the control token issued by an AuthProvider.
type Credential struct {
	AccessToken  string
	RefreshToken string
	PersonID     string
	ExpiresAt    time.Time
}

// Expired reports whether the credential is past its expiry, allowing for skew.
func (c Credential) Expired(now time.Time, skew time.Duration) bool {
	if c.AccessToken == "" {
		return true
	}
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(c.ExpiresAt)
}

// PowerState is the decoded /system/power/control resource.
// Devices report power either as a bool or as "ON"/"OFF".
type PowerState struct {
	On bool
}

func (p *PowerState) UnmarshalJSON(data []byte) error {
	p.On = parsePowerFlag(objectFields(data)["power"])
	return nil
}

func (p PowerState) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"power": p.On})
}

func parsePowerFlag(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var flag bool
	if err := json.Unmarshal(raw, &flag); err == nil {
		return flag
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.EqualFold(text, "ON") || strings.EqualFold(text, "true")
	}
	return false
}

// ContentItem identifies a playable item on a source.
type ContentItem struct {
	Source        string `json:"source,omitempty"`
	SourceAccount string `json:"sourceAccount,omitempty"`
	Location      string `json:"location,omitempty"`
	Name          string `json:"name,omitempty"`
	ContainerArt  string `json:"containerArt,omitempty"`
}

func (c *ContentItem) UnmarshalJSON(data []byte) error {
	fields := objectFields(data)
	*c = ContentItem{
		Source:        stringField(fields, "source"),
		SourceAccount: stringField(fields, "sourceAccount"),
		Location:      stringField(fields, "location"),
		Name:          stringField(fields, "name"),
		ContainerArt:  stringField(fields, "containerArt"),
	}
	return nil
}

// NowPlaying is the subset of /content/nowPlaying the service interprets.
// Every nested object is optional; accessors return zero values when absent.
// Raw keeps the device payload for verbatim passthrough.
type NowPlaying struct {
	Container *NowPlayingContainer `json:"container,omitempty"`
	Source    *NowPlayingSource    `json:"source,omitempty"`
	State     *NowPlayingState     `json:"state,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type NowPlayingContainer struct {
	ContentItem *ContentItem `json:"contentItem,omitempty"`
}

type NowPlayingSource struct {
	SourceDisplayName string `json:"sourceDisplayName,omitempty"`
	SourceID          string `json:"sourceID,omitempty"`
}

type NowPlayingState struct {
	Status string `json:"status,omitempty"`
}

// UnmarshalJSON never fails on well-formed JSON: nested objects of the wrong
// type are dropped and mistyped strings read as "".
func (n *NowPlaying) UnmarshalJSON(data []byte) error {
	fields := objectFields(data)
	*n = NowPlaying{Raw: cloneRaw(data)}

	if container := objectFields(fields["container"]); container != nil {
		n.Container = &NowPlayingContainer{}
		if raw, ok := container["contentItem"]; ok && isObject(raw) {
			item := &ContentItem{}
			_ = item.UnmarshalJSON(raw)
			n.Container.ContentItem = item
		}
	}
	if source := objectFields(fields["source"]); source != nil {
		n.Source = &NowPlayingSource{
			SourceDisplayName: stringField(source, "sourceDisplayName"),
			SourceID:          stringField(source, "sourceID"),
		}
	}
	if state := objectFields(fields["state"]); state != nil {
		n.State = &NowPlayingState{Status: stringField(state, "status")}
	}
	return nil
}

// ContentItem returns the playing content item or an empty one.
func (n NowPlaying) ContentItem() ContentItem {
	if n.Container == nil || n.Container.ContentItem == nil {
		return ContentItem{}
	}
	return *n.Container.ContentItem
}

// SourceDisplayName returns source.sourceDisplayName or "".
func (n NowPlaying) SourceDisplayName() string {
	if n.Source == nil {
		return ""
	}
	return n.Source.SourceDisplayName
}

// Status returns state.status or "".
func (n NowPlaying) Status() string {
	if n.State == nil {
		return ""
	}
	return n.State.Status
}

// Preset is one stored preset as returned in product settings.
type Preset struct {
	Actions []PresetAction `json:"actions"`

	Raw json.RawMessage `json:"-"`
}

type PresetAction struct {
	ActionType string        `json:"actionType,omitempty"`
	Payload    PresetPayload `json:"payload"`
}

type PresetPayload struct {
	ContentItem ContentItem `json:"contentItem"`
}

// UnmarshalJSON keeps only the actions that are objects. A preset whose
// actions field is not an array decodes with no actions.
func (p *Preset) UnmarshalJSON(data []byte) error {
	*p = Preset{Raw: cloneRaw(data)}
	for _, rawAction := range arrayField(objectFields(data), "actions") {
		action := objectFields(rawAction)
		if action == nil {
			continue
		}
		decoded := PresetAction{ActionType: stringField(action, "actionType")}
		if payload := objectFields(action["payload"]); payload != nil {
			if raw, ok := payload["contentItem"]; ok {
				_ = decoded.Payload.ContentItem.UnmarshalJSON(raw)
			}
		}
		p.Actions = append(p.Actions, decoded)
	}
	return nil
}

func (p Preset) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	type plain Preset
	return json.Marshal(plain(p))
}

// ContentItem returns the content item of the first action, the one a device
// plays when the preset is requested.
func (p Preset) ContentItem() (ContentItem, bool) {
	if len(p.Actions) == 0 {
		return ContentItem{}, false
	}
	return p.Actions[0].Payload.ContentItem, true
}

// ProductSettings is the subset of /system/productSettings the service reads.
type ProductSettings struct {
	Presets struct {
		Presets map[string]Preset `json:"presets"`
	} `json:"presets"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON reads presets.presets entry by entry. Entries that are not
// objects are skipped without affecting the others.
func (s *ProductSettings) UnmarshalJSON(data []byte) error {
	*s = ProductSettings{Raw: cloneRaw(data)}

	entries := objectFields(objectFields(objectFields(data)["presets"])["presets"])
	if entries == nil {
		return nil
	}
	s.Presets.Presets = make(map[string]Preset, len(entries))
	for key, raw := range entries {
		if !isObject(raw) {
			continue
		}
		var preset Preset
		_ = preset.UnmarshalJSON(raw)
		s.Presets.Presets[key] = preset
	}
	return nil
}

// PresetEntry is one row of a PresetTable.
type PresetEntry struct {
	Number int
	Key    string
	Preset Preset
}

// PresetTable is an ordered, read-only view of the device presets.
// Entries are ordered by ascending preset number. Keys are kept exactly as the
// device returned them.
type PresetTable struct {
	entries []PresetEntry
}

// NewPresetTable builds a table from the device key → preset map. Keys that are
// not positive integers are ignored.
func NewPresetTable(presets map[string]Preset) PresetTable {
	entries := make([]PresetEntry, 0, len(presets))
	for key, preset := range presets {
		number, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || number <= 0 {
			continue
		}
		entries = append(entries, PresetEntry{Number: number, Key: key, Preset: preset})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Number == entries[j].Number {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].Number < entries[j].Number
	})
	return PresetTable{entries: entries}
}

// PresetTableFromSettings extracts the preset table from product settings.
func PresetTableFromSettings(settings ProductSettings) PresetTable {
	return NewPresetTable(settings.Presets.Presets)
}

// Entries returns the rows in table order. The slice must not be modified.
func (t PresetTable) Entries() []PresetEntry {
	return t.entries
}

// Len returns the number of presets.
func (t PresetTable) Len() int {
	return len(t.entries)
}

// Lookup returns the preset stored under number.
func (t PresetTable) Lookup(number int) (Preset, bool) {
	for _, entry := range t.entries {
		if entry.Number == number {
			return entry.Preset, true
		}
	}
	return Preset{}, false
}

// Numbers returns the preset numbers in table order.
func (t PresetTable) Numbers() []int {
	numbers := make([]int, 0, len(t.entries))
	for _, entry := range t.entries {
		numbers = append(numbers, entry.Number)
	}
	return numbers
}
