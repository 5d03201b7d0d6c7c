package timeline

import (
	"strings"
	"time"
)

const (
	RoleUser      = "user"
	RoleSystem    = "system"
	RoleAssistant = "assistant"
)

const (
	ChatStatusStreaming = "streaming"
	ChatStatusComplete  = "complete"
	ChatStatusError     = "error"
)

type ChatMessage struct {
	ID     string     `json:"id"`
	Kind   EntityKind `json:"kind"`
	Role   string     `json:"role"`
	Text   string     `json:"text"`
	Status string     `json:"status"`
}

type WidgetKind string

const (
	WidgetCard     WidgetKind = "card"
	WidgetWidget   WidgetKind = "widget"
	WidgetTool     WidgetKind = "tool"
	WidgetTimeline WidgetKind = "timeline"
)

// TimelineWidgetItem is one row of the live work display. It is derived and
// never stored.
type TimelineWidgetItem struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Status     string     `json:"status"`
	Detail     string     `json:"detail"`
	Kind       WidgetKind `json:"kind"`
	Template   string     `json:"template,omitempty"`
	ArtifactID string     `json:"artifactId,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func ToChatMessage(entity TimelineEntity) ChatMessage {
	props := entity.Props
	msg := ChatMessage{
		ID:     entity.ID,
		Kind:   entity.Kind,
		Role:   RoleAssistant,
		Status: ChatStatusComplete,
	}
	switch entity.Kind {
	case KindMessage:
		switch toString(props["role"]) {
		case RoleUser:
			msg.Role = RoleUser
		case RoleSystem:
			msg.Role = RoleSystem
		}
		if streaming, _ := props["streaming"].(bool); streaming {
			msg.Status = ChatStatusStreaming
		}
		content, _ := props["content"].(string)
		msg.Text = content
	case KindToolCall:
		if !boolField(props, "done") {
			msg.Status = ChatStatusStreaming
		}
		msg.Text = firstNonEmpty(stringField(props, "name"), "tool call")
		if detail := stringField(props, "detail", "error"); detail != "" {
			msg.Text += ": " + detail
		}
	case KindToolResult:
		msg.Text = firstNonEmpty(stringField(props, "summary"), summarize(props["result"]))
	case KindCard, KindWidget:
		msg.Text = firstNonEmpty(stringField(props, "title"), stringField(props, "template"))
	case KindStatus:
		msg.Role = RoleSystem
		if toString(props["type"]) == "error" {
			msg.Status = ChatStatusError
		}
		msg.Text = stringField(props, "text", "title")
	case KindLog:
		msg.Role = RoleSystem
		msg.Text = stringField(props, "message")
	default:
		msg.Text = summarize(props)
	}
	if entity.Kind != KindMessage {
		msg.Text = truncateText(msg.Text)
	}
	return msg
}

// ChatMessages renders every entity of the timeline in log order.
func ChatMessages(tl ConversationTimeline) []ChatMessage {
	entities := tl.Entities()
	out := make([]ChatMessage, 0, len(entities))
	for _, entity := range entities {
		out = append(out, ToChatMessage(entity))
	}
	return out
}

// ToWidgetItem derives the work row for an entity. ok is false for kinds
// that have no work row.
func ToWidgetItem(entity TimelineEntity) (TimelineWidgetItem, bool) {
	props := entity.Props
	item := TimelineWidgetItem{
		ID:        entity.ID,
		Status:    stringField(props, "status"),
		UpdatedAt: entityUpdatedAt(entity),
	}
	switch entity.Kind {
	case KindToolCall:
		item.ID = "tool:" + firstNonEmpty(stringField(props, "toolCallId"), strings.TrimPrefix(entity.ID, "tool:"))
		item.Kind = WidgetTool
		item.Title = firstNonEmpty(stringField(props, "name"), "Tool call")
		item.Detail = stringField(props, "detail", "error")
	case KindToolResult:
		item.ID = "tool:" + firstNonEmpty(stringField(props, "toolCallId"), strings.TrimPrefix(entity.ID, "result:"))
		item.Kind = WidgetTool
		item.Title = firstNonEmpty(stringField(props, "title"), "Tool result")
		item.Detail = truncateText(stringField(props, "summary"))
	case KindCard:
		item.Kind = WidgetCard
		item.Title = stringField(props, "title")
		item.Template = stringField(props, "template")
		item.ArtifactID = stringField(props, "artifactId")
		item.Detail = item.Template
	case KindWidget:
		item.Kind = WidgetWidget
		item.Title = stringField(props, "title")
		item.Template = stringField(props, "template")
		item.ArtifactID = stringField(props, "artifactId")
		item.Detail = item.Template
	case KindStatus:
		item.Kind = WidgetTimeline
		if strings.HasPrefix(entity.ID, "card:") {
			item.Kind = WidgetCard
		}
		item.Title = firstNonEmpty(stringField(props, "title"), stringField(props, "type"))
		item.Detail = truncateText(stringField(props, "text"))
	default:
		return TimelineWidgetItem{}, false
	}
	return item, true
}

// WorkItems keeps one row per work id. The row with the later UpdatedAt wins,
// ties go to the entity later in the log, and rows keep first-seen order.
func WorkItems(tl ConversationTimeline) []TimelineWidgetItem {
	index := map[string]int{}
	out := make([]TimelineWidgetItem, 0)
	for _, entity := range tl.Entities() {
		item, ok := ToWidgetItem(entity)
		if !ok {
			continue
		}
		pos, seen := index[item.ID]
		if !seen {
			index[item.ID] = len(out)
			out = append(out, item)
			continue
		}
		if !item.UpdatedAt.Before(out[pos].UpdatedAt) {
			out[pos] = item
		}
	}
	return out
}

func entityUpdatedAt(entity TimelineEntity) time.Time {
	if raw, ok := entity.Props["updatedAt"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return parsed.UTC()
		}
	}
	return entity.CreatedAt
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
