package timeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ActionType string

const (
	ActionUpsert ActionType = "upsert"
	ActionRemove ActionType = "remove"
)

// Action is one write against the timeline store.
type Action struct {
	Type           ActionType
	ConversationID string
	Entity         TimelineEntity
	EntityID       string
}

type Dispatch func(action Action)

// ProjectionInput is what a SemHandler sees for one event.
type ProjectionInput struct {
	ConversationID string
	Event          *SemEvent
	Adapters       *AdapterRegistry
	// Existing returns the entity currently stored under id, if any.
	Existing func(entityID string) (TimelineEntity, bool)
	Now      time.Time
}

// SemHandler maps one semantic event to store writes.
type SemHandler func(in ProjectionInput) ([]Action, error)

// SemRegistry resolves event types to handlers. Exact matches win over
// prefix matches; longer prefixes win over shorter ones.
type SemRegistry struct {
	exact    map[string]SemHandler
	prefixes []prefixHandler
}

type prefixHandler struct {
	prefix  string
	handler SemHandler
}

func NewSemRegistry() *SemRegistry {
	return &SemRegistry{exact: map[string]SemHandler{}}
}

func (r *SemRegistry) Register(eventType string, handler SemHandler) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" || handler == nil {
		return
	}
	r.exact[eventType] = handler
}

// RegisterPrefix handles every type starting with prefix, e.g. "status.".
func (r *SemRegistry) RegisterPrefix(prefix string, handler SemHandler) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || handler == nil {
		return
	}
	r.prefixes = append(r.prefixes, prefixHandler{prefix: prefix, handler: handler})
	sort.SliceStable(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix)
	})
}

func (r *SemRegistry) Resolve(eventType string) (SemHandler, bool) {
	if r == nil {
		return nil, false
	}
	if handler, ok := r.exact[eventType]; ok {
		return handler, true
	}
	for _, entry := range r.prefixes {
		if strings.HasPrefix(eventType, entry.prefix) {
			return entry.handler, true
		}
	}
	return nil, false
}

// DefaultSemRegistry wires the built-in mapping rules.
func DefaultSemRegistry() *SemRegistry {
	r := NewSemRegistry()
	for _, eventType := range []string{"llm.start", "llm.delta", "llm.final", "chat.message"} {
		r.Register(eventType, projectMessage)
	}
	for _, eventType := range []string{"tool.start", "tool.delta", "tool.update", "tool.done"} {
		r.Register(eventType, projectToolCall)
	}
	r.Register("tool.result", projectToolResult)
	r.Register("status", projectStatus)
	r.RegisterPrefix("status.", projectStatus)
	r.Register("error", projectStatus)
	r.Register("llm.error", projectStatus)
	r.Register("log", projectLog)
	r.RegisterPrefix("log.", projectLog)
	return r
}

type PipelineOptions struct {
	Registry *SemRegistry
	Adapters *AdapterRegistry
	Logger   *zap.Logger
	Observer Observer
	Now      func() time.Time
}

// Pipeline turns ordered envelopes into timeline writes. It never fails:
// handler errors and panics degrade to a generic projection.
type Pipeline struct {
	registry *SemRegistry
	adapters *AdapterRegistry
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

func NewPipeline(opts PipelineOptions) *Pipeline {
	p := &Pipeline{
		registry: opts.Registry,
		adapters: opts.Adapters,
		logger:   opts.Logger,
		observer: opts.Observer,
		now:      opts.Now,
	}
	if p.registry == nil {
		p.registry = DefaultSemRegistry()
	}
	if p.adapters == nil {
		p.adapters = NewAdapterRegistry(DefaultAdapters()...)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.observer == nil {
		p.observer = NopObserver{}
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p
}

// Project maps env to store writes, hands each to dispatch and returns them.
// existing may be nil when the caller has no stored state.
func (p *Pipeline) Project(conversationID string, env Envelope, existing func(entityID string) (TimelineEntity, bool), dispatch Dispatch) []Action {
	if env.Heartbeat() {
		return nil
	}
	if existing == nil {
		existing = func(string) (TimelineEntity, bool) { return TimelineEntity{}, false }
	}
	in := ProjectionInput{
		ConversationID: conversationID,
		Event:          env.Event,
		Adapters:       p.adapters,
		Existing:       existing,
		Now:            p.now(),
	}

	var actions []Action
	handler, ok := p.registry.Resolve(env.Event.Type)
	if ok {
		var err error
		actions, err = p.runHandler(handler, in)
		if err != nil {
			p.observer.Degraded("handler")
			p.logger.Warn("projection degraded",
				zap.String("conversation_id", conversationID),
				zap.String("event_type", env.Event.Type),
				zap.Error(err),
			)
			actions = nil
			ok = false
		}
	}
	if !ok {
		actions = []Action{projectUnknown(in)}
	}
	if in.Event.Type == "tool.result" {
		actions = p.degradeResultFailures(in, actions)
	}

	for i := range actions {
		actions[i].ConversationID = conversationID
		if actions[i].Type == ActionUpsert {
			p.observer.Projected(actions[i].Entity.Kind)
		}
		if dispatch != nil {
			dispatch(actions[i])
		}
	}
	return actions
}

func (p *Pipeline) runHandler(handler SemHandler, in ProjectionInput) (actions []Action, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			actions = nil
			err = fmt.Errorf("handler panic: %v", recovered)
		}
	}()
	return handler(in)
}

// degradeResultFailures logs adapter failures reported by projectToolResult.
func (p *Pipeline) degradeResultFailures(in ProjectionInput, actions []Action) []Action {
	for _, action := range actions {
		if action.Type != ActionUpsert || action.Entity.Kind != KindToolResult {
			continue
		}
		reason := toString(action.Entity.Props["degraded"])
		if reason == "" {
			continue
		}
		p.observer.Degraded(reason)
		p.logger.Warn("tool result projected generically",
			zap.String("conversation_id", in.ConversationID),
			zap.String("custom_kind", toString(action.Entity.Props["customKind"])),
			zap.String("reason", reason),
			zap.String("detail", toString(action.Entity.Props["degradedDetail"])),
		)
	}
	return actions
}

// upsertEntity builds an upsert that keeps the stored CreatedAt and overlays
// fields on the stored props, so re-projecting an event is a no-op.
func upsertEntity(in ProjectionInput, id string, kind EntityKind, fields map[string]any) Action {
	props := map[string]any{}
	createdAt, hasTime := timeField(in.Event.Data, "createdAt", "timestamp", "ts")
	if !hasTime {
		createdAt = in.Now
	}
	if stored, ok := in.Existing(id); ok {
		createdAt = stored.CreatedAt
		if stored.Kind == kind {
			props = cloneProps(stored.Props)
		}
	}
	for key, value := range fields {
		props[key] = cloneValue(value)
	}
	if updatedAt, ok := timeField(in.Event.Data, "updatedAt", "timestamp", "ts"); ok {
		props["updatedAt"] = updatedAt.Format(time.RFC3339Nano)
	}
	return Action{
		Type:     ActionUpsert,
		EntityID: id,
		Entity: TimelineEntity{
			ID:        id,
			Kind:      kind,
			CreatedAt: createdAt,
			Props:     props,
		},
	}
}

// fallbackID gives identity to events that carry none of their own.
// fallbackID gives events without an id a stable one: the stream position
// when there is one, else a name-based uuid over the type and data so a
// redelivered event maps to the same entity.
func fallbackID(event *SemEvent) string {
	if event.ID != "" {
		return event.ID
	}
	if event.StreamID != "" {
		return event.Type + ":" + event.StreamID
	}
	if event.Seq != "" {
		return event.Type + ":" + string(event.Seq)
	}
	// json.Marshal sorts map keys, so equal data gives equal bytes.
	content, err := json.Marshal(event.Data)
	if err != nil {
		content = []byte(fmt.Sprint(event.Data))
	}
	name := append([]byte(event.Type+"\n"), content...)
	return event.Type + ":" + uuid.NewSHA1(uuid.NameSpaceOID, name).String()
}

func projectMessage(in ProjectionInput) ([]Action, error) {
	event := in.Event
	data := event.Data
	messageID := event.ID
	if messageID == "" {
		messageID = stringField(data, "messageId", "message_id")
	}
	if messageID == "" {
		messageID = fallbackID(event)
	}
	id := "message:" + messageID

	final := event.Type == "llm.final" || boolField(data, "final")
	if event.Type == "chat.message" && !boolField(data, "streaming") {
		final = true
	}

	fields := map[string]any{
		"streaming": !final,
		"status":    "streaming",
	}
	if final {
		fields["status"] = "complete"
	}
	if role := stringField(data, "role"); role != "" {
		fields["role"] = role
	}
	if content, ok := messageContent(data); ok {
		fields["content"] = content
	}
	if model := stringField(data, "model"); model != "" {
		fields["model"] = model
	}
	action := upsertEntity(in, id, KindMessage, fields)
	if _, ok := action.Entity.Props["role"]; !ok {
		action.Entity.Props["role"] = "assistant"
	}
	if _, ok := action.Entity.Props["content"]; !ok {
		action.Entity.Props["content"] = ""
	}
	return []Action{action}, nil
}

// messageContent prefers the cumulative text over a single delta.
func messageContent(data map[string]any) (string, bool) {
	for _, key := range []string{"cumulative", "text", "content", "delta"} {
		if value, ok := data[key].(string); ok {
			return value, true
		}
	}
	return "", false
}

func projectToolCall(in ProjectionInput) ([]Action, error) {
	event := in.Event
	data := event.Data
	callID := toolCallID(event)
	if callID == "" {
		return nil, fmt.Errorf("%w: tool event without id", ErrInvalidInput)
	}
	id := "tool:" + callID

	done := event.Type == "tool.done" || boolField(data, "done")
	if stored, ok := in.Existing(id); ok && boolField(stored.Props, "done") {
		done = true
	}
	status := "running"
	if done {
		status = "complete"
		if stringField(data, "status") == "failed" {
			status = "error"
		}
	}
	fields := map[string]any{
		"toolCallId": callID,
		"done":       done,
		"status":     status,
	}
	if name := stringField(data, "name", "tool", "toolName"); name != "" {
		fields["name"] = name
	}
	for _, key := range []string{"input", "arguments", "args"} {
		if value, ok := data[key]; ok {
			fields["input"] = value
			break
		}
	}
	if detail := stringField(data, "message", "detail", "progress"); detail != "" {
		fields["detail"] = detail
	}
	if errText := stringField(data, "error"); errText != "" {
		fields["error"] = errText
	}
	action := upsertEntity(in, id, KindToolCall, fields)
	if stored, ok := in.Existing(id); ok && toString(stored.Props["status"]) == "error" {
		action.Entity.Props["status"] = "error"
	}
	return []Action{action}, nil
}

func projectToolResult(in ProjectionInput) ([]Action, error) {
	result := readToolResult(in.Event)
	if result.toolCallID == "" {
		return nil, fmt.Errorf("%w: tool result without tool call id", ErrInvalidInput)
	}
	payload, adapter := decodeResultPayload(in.Adapters, result)
	if adapter != nil {
		projection, err := projectWithAdapter(adapter, payload)
		if err == nil {
			return []Action{adaptedResult(in, result, projection)}, nil
		}
		payload = newGenericResult(result, "adapter", err.Error())
	}
	generic, ok := payload.(GenericResult)
	if !ok {
		generic = newGenericResult(result, "adapter", fmt.Sprintf("unexpected payload %T", payload))
	}
	return []Action{genericResult(in, generic)}, nil
}

// decodeResultPayload resolves a tool result to its typed variant. The
// adapter is returned only when it decoded the record; every other outcome is
// a GenericResult whose Reason names the fallback.
func decodeResultPayload(adapters *AdapterRegistry, result toolResultInput) (payload ResultPayload, adapter ResultAdapter) {
	if result.customKind == "" {
		return newGenericResult(result, "", ""), nil
	}
	adapter, ok := adapters.Lookup(result.customKind)
	if !ok {
		return newGenericResult(result, "unknown_custom_kind", ""), nil
	}
	record, err := decodeResultRecord(result.raw)
	if err != nil {
		return newGenericResult(result, "decode", err.Error()), nil
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			payload = newGenericResult(result, "adapter", fmt.Sprintf("decode panic: %v", recovered))
			adapter = nil
		}
	}()
	payload, err = adapter.Decode(result.toolCallID, record, result.failed)
	if err != nil {
		return newGenericResult(result, "decode", (&AdapterError{CustomKind: result.customKind, Err: err}).Error()), nil
	}
	if payload == nil {
		return newGenericResult(result, "decode", "adapter returned no payload"), nil
	}
	return payload, adapter
}

func projectWithAdapter(adapter ResultAdapter, payload ResultPayload) (projection ResultProjection, err error) {
	if adapter == nil {
		return ResultProjection{}, ErrNotFound
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &AdapterError{CustomKind: adapter.CustomKind(), Err: fmt.Errorf("panic: %v", recovered)}
		}
	}()
	projection, err = adapter.Project(payload)
	if err != nil {
		return ResultProjection{}, &AdapterError{CustomKind: adapter.CustomKind(), Err: err}
	}
	if strings.TrimSpace(projection.IDPrefix) == "" {
		return ResultProjection{}, &AdapterError{CustomKind: adapter.CustomKind(), Err: fmt.Errorf("%w: empty id prefix", ErrInvalidInput)}
	}
	return projection, nil
}

func adaptedResult(in ProjectionInput, result toolResultInput, projection ResultProjection) Action {
	id := strings.TrimSpace(projection.IDPrefix) + ":" + result.toolCallID
	if projection.Remove {
		return Action{Type: ActionRemove, EntityID: id}
	}
	kind := projection.Kind
	if kind == "" {
		kind = KindToolResult
	}
	fields := map[string]any{
		"toolCallId": result.toolCallID,
		"customKind": normalizeCustomKind(result.customKind),
		"title":      projection.Title,
		"status":     projection.Status,
	}
	if projection.Template != "" {
		fields["template"] = projection.Template
	}
	if projection.ArtifactID != "" {
		fields["artifactId"] = projection.ArtifactID
	}
	return upsertEntity(in, id, kind, fields)
}

func genericResult(in ProjectionInput, result GenericResult) Action {
	fields := map[string]any{
		"toolCallId": result.ToolCallID,
		"summary":    summarize(result.Raw),
		"result":     result.Raw,
		"status":     resultStatus(result.Failed),
	}
	if result.CustomKind != "" {
		fields["customKind"] = result.CustomKind
	}
	action := upsertEntity(in, "result:"+result.ToolCallID, KindToolResult, fields)
	delete(action.Entity.Props, "degraded")
	delete(action.Entity.Props, "degradedDetail")
	if result.Reason != "" {
		action.Entity.Props["degraded"] = result.Reason
		if result.Detail != "" {
			action.Entity.Props["degradedDetail"] = result.Detail
		}
	}
	return action
}

var cardProposalPattern = regexp.MustCompile(`^(?:hypercard\.)?card[._-]proposal[._:-]`)

func projectStatus(in ProjectionInput) ([]Action, error) {
	event := in.Event
	data := event.Data
	sourceID := stringField(data, "sourceId", "source_id", "id")
	if sourceID == "" {
		sourceID = fallbackID(event)
	}
	prefix := "timeline"
	if cardProposalPattern.MatchString(sourceID) {
		prefix = "card"
	}

	statusType := stringField(data, "type")
	if event.Type == "error" || event.Type == "llm.error" {
		statusType = "error"
	}
	if statusType == "" {
		statusType = "info"
	}
	status := "info"
	switch {
	case statusType == "error":
		status = "error"
	case stringField(data, "status") != "":
		status = stringField(data, "status")
	case boolField(data, "running"):
		status = "running"
	}
	fields := map[string]any{
		"sourceId": sourceID,
		"type":     statusType,
		"status":   status,
		"text":     stringField(data, "text", "message", "status"),
	}
	if title := stringField(data, "title"); title != "" {
		fields["title"] = title
	}
	return []Action{upsertEntity(in, prefix+":"+sourceID, KindStatus, fields)}, nil
}

func projectLog(in ProjectionInput) ([]Action, error) {
	event := in.Event
	data := event.Data
	logID := event.ID
	if logID == "" {
		logID = stringField(data, "id")
	}
	if logID == "" {
		logID = fallbackID(event)
	}
	level := stringField(data, "level")
	if level == "" {
		level = strings.TrimPrefix(strings.TrimPrefix(event.Type, "log"), ".")
	}
	if level == "" {
		level = "info"
	}
	fields := map[string]any{
		"level":   level,
		"message": stringField(data, "message", "text"),
		"status":  "complete",
	}
	if extra := mapField(data, "fields"); extra != nil {
		fields["fields"] = extra
	}
	return []Action{upsertEntity(in, "log:"+logID, KindLog, fields)}, nil
}

// projectUnknown keeps events no rule understands: kind is the raw type and
// props are the raw data.
func projectUnknown(in ProjectionInput) Action {
	event := in.Event
	kind := EntityKind(event.Type)
	if kind == "" {
		kind = "event"
	}
	// Unknown types share no id space, so the type is part of the id.
	id := fallbackID(event)
	if event.ID != "" {
		id = event.Type + ":" + event.ID
	}
	createdAt := in.Now
	if stored, ok := in.Existing(id); ok {
		createdAt = stored.CreatedAt
	} else if at, ok := timeField(event.Data, "createdAt", "timestamp", "ts"); ok {
		createdAt = at
	}
	return Action{
		Type:     ActionUpsert,
		EntityID: id,
		Entity: TimelineEntity{
			ID:        id,
			Kind:      kind,
			CreatedAt: createdAt,
			Props:     cloneProps(event.Data),
		},
	}
}
