package queue

import (
	"encoding/json"
	"sort"
)

// knownUpdateTypes in the order the detector probes them.
var knownUpdateTypes = []string{
	"message",
	"edited_message",
	"callback_query",
	"inline_query",
	"chosen_inline_result",
	"channel_post",
	"edited_channel_post",
	"chat_member",
	"my_chat_member",
	"chat_join_request",
	"shipping_query",
	"pre_checkout_query",
	"poll",
	"poll_answer",
}

var messageBearingKeys = []string{
	"message",
	"edited_message",
	"channel_post",
	"edited_channel_post",
	"chat_join_request",
	"chat_member",
	"my_chat_member",
}

// extractUpdateMeta derives the update type and a bounded shape summary
// from an opaque payload, for failure diagnostics. It never includes user
// content, only structure.
func extractUpdateMeta(payload json.RawMessage) (string, map[string]any) {
	var update map[string]any
	if err := json.Unmarshal(payload, &update); err != nil {
		return "", map[string]any{"malformedPayload": true}
	}

	var updateType string
	for _, key := range knownUpdateTypes {
		if _, ok := update[key]; ok {
			updateType = key
			break
		}
	}

	message := findMessage(update)
	meta := map[string]any{
		"topKeys": keysOf(update),
	}
	if message != nil {
		meta["messageKeys"] = keysOf(message)
		meta["hasPhoto"] = hasNonEmptySlice(message, "photo")
		meta["hasText"] = hasString(message, "text")
		meta["hasCaption"] = hasString(message, "caption")
		if groupID, ok := message["media_group_id"].(string); ok {
			meta["mediaGroupId"] = groupID
		}
	}
	if cq, ok := update["callback_query"].(map[string]any); ok {
		if data, ok := cq["data"].(string); ok {
			if len(data) > 20 {
				data = data[:20]
			}
			meta["callbackDataPrefix"] = data
		}
	}
	return updateType, meta
}

func findMessage(update map[string]any) map[string]any {
	for _, key := range messageBearingKeys {
		if m, ok := update[key].(map[string]any); ok {
			return m
		}
	}
	if cq, ok := update["callback_query"].(map[string]any); ok {
		if m, ok := cq["message"].(map[string]any); ok {
			return m
		}
	}
	return nil
}

func keysOf(m map[string]any) []any {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, key := range keys {
		out[i] = key
	}
	return out
}

func hasNonEmptySlice(m map[string]any, key string) bool {
	items, ok := m[key].([]any)
	return ok && len(items) > 0
}

func hasString(m map[string]any, key string) bool {
	value, ok := m[key].(string)
	return ok && value != ""
}
