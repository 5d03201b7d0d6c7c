package timeline

import (
	"errors"
	"fmt"
	"strings"
)

const (
	CustomKindHypercardCard   = "hypercard.card.v2"
	CustomKindHypercardWidget = "hypercard.widget.v1"
)

// ResultProjection is what an adapter returns for a decoded result. Remove
// asks the pipeline to delete the entity instead of upserting it.
type ResultProjection struct {
	IDPrefix   string
	Kind       EntityKind
	Title      string
	Template   string
	ArtifactID string
	Status     string
	Remove     bool
}

// ResultAdapter handles one custom result kind.
type ResultAdapter interface {
	CustomKind() string
	Decode(toolCallID string, record map[string]any, failed bool) (ResultPayload, error)
	Project(payload ResultPayload) (ResultProjection, error)
}

// AdapterRegistry is an ordered, immutable table of adapters keyed by custom
// kind. The first registration of a kind wins.
type AdapterRegistry struct {
	order    []string
	adapters map[string]ResultAdapter
}

func NewAdapterRegistry(adapters ...ResultAdapter) *AdapterRegistry {
	registry := &AdapterRegistry{adapters: map[string]ResultAdapter{}}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		kind := normalizeCustomKind(adapter.CustomKind())
		if kind == "" {
			continue
		}
		if _, exists := registry.adapters[kind]; exists {
			continue
		}
		registry.adapters[kind] = adapter
		registry.order = append(registry.order, kind)
	}
	return registry
}

// DefaultAdapters returns the built-in hypercard adapters.
func DefaultAdapters() []ResultAdapter {
	return []ResultAdapter{NewHypercardCardAdapter(), NewHypercardWidgetAdapter()}
}

// BuiltinAdapter looks up a built-in adapter by custom kind.
func BuiltinAdapter(customKind string) (ResultAdapter, bool) {
	switch normalizeCustomKind(customKind) {
	case CustomKindHypercardCard:
		return NewHypercardCardAdapter(), true
	case CustomKindHypercardWidget:
		return NewHypercardWidgetAdapter(), true
	default:
		return nil, false
	}
}

func (r *AdapterRegistry) Lookup(customKind string) (ResultAdapter, bool) {
	if r == nil {
		return nil, false
	}
	adapter, ok := r.adapters[normalizeCustomKind(customKind)]
	return adapter, ok
}

func (r *AdapterRegistry) Kinds() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func normalizeCustomKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

var errUnexpectedPayload = errors.New("unexpected payload variant")

type HypercardCardAdapter struct {
	schema *recordSchema
}

func NewHypercardCardAdapter() HypercardCardAdapter {
	return HypercardCardAdapter{schema: cardSchema}
}

func (HypercardCardAdapter) CustomKind() string {
	return CustomKindHypercardCard
}

func (a HypercardCardAdapter) Decode(toolCallID string, record map[string]any, failed bool) (ResultPayload, error) {
	if err := a.schema.Validate(record); err != nil {
		return nil, fmt.Errorf("card record: %w", err)
	}
	return CardResult{
		ToolCallID: toolCallID,
		Title:      stringField(record, "title"),
		Template:   stringField(record, "template"),
		ArtifactID: artifactID(record),
		Failed:     failed || record["error"] != nil,
		Record:     record,
	}, nil
}

func (HypercardCardAdapter) Project(payload ResultPayload) (ResultProjection, error) {
	card, ok := payload.(CardResult)
	if !ok {
		return ResultProjection{}, errUnexpectedPayload
	}
	return ResultProjection{
		IDPrefix:   "card",
		Kind:       KindCard,
		Title:      card.Title,
		Template:   card.Template,
		ArtifactID: card.ArtifactID,
		Status:     resultStatus(card.Failed),
	}, nil
}

type HypercardWidgetAdapter struct {
	schema *recordSchema
}

func NewHypercardWidgetAdapter() HypercardWidgetAdapter {
	return HypercardWidgetAdapter{schema: widgetSchema}
}

func (HypercardWidgetAdapter) CustomKind() string {
	return CustomKindHypercardWidget
}

func (a HypercardWidgetAdapter) Decode(toolCallID string, record map[string]any, failed bool) (ResultPayload, error) {
	if err := a.schema.Validate(record); err != nil {
		return nil, fmt.Errorf("widget record: %w", err)
	}
	title := stringField(record, "title")
	template := stringField(record, "template")
	switch widget := record["widget"].(type) {
	case string:
		if template == "" {
			template = strings.TrimSpace(widget)
		}
	case map[string]any:
		if title == "" {
			title = stringField(widget, "title")
		}
		if template == "" {
			template = stringField(widget, "template", "type")
		}
	}
	return WidgetResult{
		ToolCallID: toolCallID,
		Title:      title,
		Template:   template,
		ArtifactID: artifactID(record),
		Failed:     failed || record["error"] != nil,
		Record:     record,
	}, nil
}

func (HypercardWidgetAdapter) Project(payload ResultPayload) (ResultProjection, error) {
	widget, ok := payload.(WidgetResult)
	if !ok {
		return ResultProjection{}, errUnexpectedPayload
	}
	title := widget.Title
	if title == "" {
		title = "Widget"
	}
	return ResultProjection{
		IDPrefix:   "widget",
		Kind:       KindWidget,
		Title:      title,
		Template:   widget.Template,
		ArtifactID: widget.ArtifactID,
		Status:     resultStatus(widget.Failed),
	}, nil
}

// artifactID reads data.artifact.id, falling back to a top-level artifactId.
func artifactID(record map[string]any) string {
	if data, ok := record["data"].(map[string]any); ok {
		if artifact, ok := data["artifact"].(map[string]any); ok {
			if id := stringField(artifact, "id"); id != "" {
				return id
			}
		}
	}
	return stringField(record, "artifactId", "artifact_id")
}

var (
	cardSchema   = mustCompileRecordSchema("hypercard-card-v2", hypercardCardSchema)
	widgetSchema = mustCompileRecordSchema("hypercard-widget-v1", hypercardWidgetSchema)
)
