package speaker

import "encoding/json"

// Device payloads are decoded field by field. A field of the wrong JSON type
// reads as its zero value instead of failing the whole document.

// objectFields returns the members of a JSON object, or nil for any other value.
func objectFields(raw json.RawMessage) map[string]json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return value
}

// arrayField returns the elements of fields[key], or nil when it is not an array.
func arrayField(fields map[string]json.RawMessage, key string) []json.RawMessage {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

func isObject(raw json.RawMessage) bool {
	return objectFields(raw) != nil
}

func cloneRaw(data []byte) json.RawMessage {
	return append(json.RawMessage(nil), data...)
}
