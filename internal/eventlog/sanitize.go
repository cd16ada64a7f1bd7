package eventlog

import (
	"encoding/json"
	"sort"
)

const (
	maxMetaJSON         = 4000
	maxMetaString       = 200
	maxMetaNestedString = 120
	maxMetaEntries      = 10
)

// sanitizeMeta bounds a meta payload before storage: strings are truncated,
// collections are sampled, anything deeper than one level collapses to a
// placeholder. The result is capped at maxMetaJSON bytes.
func sanitizeMeta(meta map[string]any) json.RawMessage {
	if len(meta) == 0 {
		return nil
	}

	out := make(map[string]any, len(meta))
	for key, value := range meta {
		if sanitized := sanitizeShallowValue(value); sanitized != nil {
			out[key] = sanitized
		}
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	if len(raw) <= maxMetaJSON {
		return raw
	}

	keys := sortedKeys(out)
	if len(keys) > 12 {
		keys = keys[:12]
	}
	raw, err = json.Marshal(map[string]any{"note": "meta_truncated", "keys": keys})
	if err != nil {
		return nil
	}
	return raw
}

func sanitizeShallowValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return truncate(v, maxMetaString)
	case bool, int, int32, int64, float32, float64:
		return v
	case []any:
		return sanitizeSlice(v)
	case map[string]any:
		return sanitizeNestedMap(v)
	default:
		return "[complex]"
	}
}

func sanitizeSlice(items []any) any {
	sample := make([]any, 0, maxMetaEntries)
	for _, item := range items {
		if len(sample) == maxMetaEntries {
			break
		}
		switch v := item.(type) {
		case nil:
			sample = append(sample, "[null]")
		case string:
			sample = append(sample, truncate(v, maxMetaString))
		case bool, int, int32, int64, float32, float64:
			sample = append(sample, v)
		default:
			sample = append(sample, "[complex]")
		}
	}
	if len(items) > maxMetaEntries {
		return map[string]any{"length": len(items), "sample": sample}
	}
	return sample
}

func sanitizeNestedMap(nested map[string]any) any {
	if len(nested) > maxMetaEntries {
		keys := sortedKeys(nested)
		return map[string]any{"keys": keys[:maxMetaEntries]}
	}

	out := make(map[string]any, len(nested))
	for key, value := range nested {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			out[key] = truncate(v, maxMetaNestedString)
		case bool, int, int32, int64, float32, float64:
			out[key] = v
		default:
			out[key] = "[complex]"
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
