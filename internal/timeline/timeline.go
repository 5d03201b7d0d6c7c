package timeline

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConversationClosed = errors.New("conversation closed")
	ErrNotImplemented     = errors.New("not implemented")
)

type EntityKind string

const (
	KindMessage    EntityKind = "message"
	KindToolCall   EntityKind = "tool_call"
	KindToolResult EntityKind = "tool_result"
	KindStatus     EntityKind = "status"
	KindLog        EntityKind = "log"
	KindCard       EntityKind = "card"
	KindWidget     EntityKind = "widget"
)

// TimelineEntity is one addressable row of a conversation log. Props are
// replaced wholesale on every upsert.
type TimelineEntity struct {
	ID        string         `json:"id"`
	Kind      EntityKind     `json:"kind"`
	CreatedAt time.Time      `json:"createdAt"`
	Props     map[string]any `json:"props"`
}

// ConversationTimeline keeps entities in first-seen order. Every id in Order
// has an entry in ByID and vice versa.
type ConversationTimeline struct {
	ByID  map[string]TimelineEntity `json:"byId"`
	Order []string                  `json:"order"`
}

func emptyTimeline() ConversationTimeline {
	return ConversationTimeline{ByID: map[string]TimelineEntity{}, Order: []string{}}
}

// Entities returns the entities in log order.
func (t ConversationTimeline) Entities() []TimelineEntity {
	out := make([]TimelineEntity, 0, len(t.Order))
	for _, id := range t.Order {
		if entity, ok := t.ByID[id]; ok {
			out = append(out, entity)
		}
	}
	return out
}

func (t ConversationTimeline) clone() ConversationTimeline {
	out := ConversationTimeline{
		ByID:  make(map[string]TimelineEntity, len(t.ByID)),
		Order: make([]string, len(t.Order)),
	}
	copy(out.Order, t.Order)
	for id, entity := range t.ByID {
		out.ByID[id] = entity.clone()
	}
	return out
}

// normalized drops ids that appear twice or have no entity and appends
// entities missing from Order, restoring the ByID/Order invariant.
func (t ConversationTimeline) normalized() ConversationTimeline {
	out := emptyTimeline()
	for _, id := range t.Order {
		entity, ok := t.ByID[id]
		if !ok {
			continue
		}
		if _, seen := out.ByID[id]; seen {
			continue
		}
		out.ByID[id] = entity.clone()
		out.Order = append(out.Order, id)
	}
	missing := make([]string, 0)
	for id := range t.ByID {
		if _, ok := out.ByID[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	for _, id := range missing {
		out.ByID[id] = t.ByID[id].clone()
		out.Order = append(out.Order, id)
	}
	return out
}

func (e TimelineEntity) clone() TimelineEntity {
	e.Props = cloneProps(e.Props)
	return e
}

func cloneProps(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneProps(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// AdapterError marks a custom-kind adapter failure. The pipeline recovers from
// it by projecting the generic result instead.
type AdapterError struct {
	CustomKind string
	Err        error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %v", e.CustomKind, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}
