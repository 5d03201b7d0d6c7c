package timeline

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const summaryLimit = 180

func toString(v any) string {
	switch typed := v.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	default:
		return ""
	}
}

func hasField(data map[string]any, key string) bool {
	if data == nil {
		return false
	}
	_, ok := data[key]
	return ok
}

// stringField returns the first non-empty value among keys.
func stringField(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if value := toString(data[key]); value != "" {
			return value
		}
	}
	return ""
}

func boolField(data map[string]any, key string) bool {
	value, _ := data[key].(bool)
	return value
}

// numberField reads a JSON number stored as float64, json.Number or a
// numeric string.
func numberField(data map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		switch typed := data[key].(type) {
		case float64:
			return typed, true
		case int:
			return float64(typed), true
		case int64:
			return float64(typed), true
		case json.Number:
			if value, err := typed.Float64(); err == nil {
				return value, true
			}
		case string:
			if value, err := strconv.ParseFloat(strings.TrimSpace(typed), 64); err == nil {
				return value, true
			}
		}
	}
	return 0, false
}

func mapField(data map[string]any, key string) map[string]any {
	value, _ := data[key].(map[string]any)
	return value
}

// timeField parses RFC 3339 strings or unix milliseconds.
func timeField(data map[string]any, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		switch typed := data[key].(type) {
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(typed)); err == nil {
				return parsed.UTC(), true
			}
		case float64:
			return time.UnixMilli(int64(typed)).UTC(), true
		case json.Number:
			if ms, err := typed.Int64(); err == nil {
				return time.UnixMilli(ms).UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// toolCallID resolves the correlation id of a tool event.
func toolCallID(event *SemEvent) string {
	if id := stringField(event.Data, "toolCallId", "tool_call_id", "id"); id != "" {
		return id
	}
	return event.ID
}

// truncateText caps text at summaryLimit runes, ending in an ellipsis.
func truncateText(text string) string {
	if utf8.RuneCountInString(text) <= summaryLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:summaryLimit-1]) + "…"
}

// summarize renders v as JSON text and truncates it.
func summarize(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return truncateText(string(raw))
}
