package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ResultPayload is the decoded body of a tool result. The set of variants is
// closed: CardResult, WidgetResult and GenericResult.
type ResultPayload interface {
	resultKind() string
}

type CardResult struct {
	ToolCallID string
	Title      string
	Template   string
	ArtifactID string
	Failed     bool
	Record     map[string]any
}

type WidgetResult struct {
	ToolCallID string
	Title      string
	Template   string
	ArtifactID string
	Failed     bool
	Record     map[string]any
}

// GenericResult carries any result no adapter claimed, including records that
// failed to decode or format. Reason is empty when the result named no
// custom kind; otherwise it says why the adapter path was not taken.
type GenericResult struct {
	ToolCallID string
	CustomKind string
	Raw        any
	Failed     bool
	Reason     string
	Detail     string
}

func newGenericResult(in toolResultInput, reason, detail string) GenericResult {
	return GenericResult{
		ToolCallID: in.toolCallID,
		CustomKind: in.customKind,
		Raw:        in.raw,
		Failed:     in.failed,
		Reason:     reason,
		Detail:     detail,
	}
}

func (CardResult) resultKind() string    { return string(KindCard) }
func (WidgetResult) resultKind() string  { return string(KindWidget) }
func (GenericResult) resultKind() string { return string(KindToolResult) }

var errRecordNotObject = errors.New("result record is not an object")

// decodeResultRecord accepts a structured object, or a string holding a JSON
// object. Arrays and scalars are rejected.
func decodeResultRecord(raw any) (map[string]any, error) {
	switch typed := raw.(type) {
	case map[string]any:
		return typed, nil
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return nil, errRecordNotObject
		}
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
			return nil, fmt.Errorf("parse result record: %w", err)
		}
		obj, ok := parsed.(map[string]any)
		if !ok {
			return nil, errRecordNotObject
		}
		return obj, nil
	default:
		return nil, errRecordNotObject
	}
}

// toolResultInput is the part of a tool result event the pipeline reads.
type toolResultInput struct {
	toolCallID string
	customKind string
	raw        any
	failed     bool
}

func readToolResult(event *SemEvent) toolResultInput {
	data := event.Data
	in := toolResultInput{
		toolCallID: toolCallID(event),
		customKind: stringField(data, "customKind", "custom_kind"),
	}
	switch {
	case hasField(data, "result"):
		in.raw = data["result"]
	case hasField(data, "output"):
		in.raw = data["output"]
	default:
		in.raw = cloneProps(data)
	}
	if hasField(data, "error") && data["error"] != nil {
		in.failed = true
	}
	if status := stringField(data, "status"); status == "failed" || status == "error" {
		in.failed = true
	}
	if record, ok := in.raw.(map[string]any); ok {
		if _, hasErr := record["error"]; hasErr && record["error"] != nil {
			in.failed = true
		}
	}
	return in
}

func resultStatus(failed bool) string {
	if failed {
		return "error"
	}
	return "success"
}
