package timeline

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EngineHooks are called synchronously. OnRawEnvelope and OnEnvelope run
// while the conversation's router lock is held and must not call back into
// the engine for the same conversation.
type EngineHooks struct {
	OnRawEnvelope func(conversationID string, env Envelope)
	OnEnvelope    func(conversationID string, env Envelope)
	OnStatus      func(conversationID string, status ConnectionStatus)
	OnError       func(conversationID string, err error)
}

type EngineOptions struct {
	Registry *SemRegistry
	Adapters *AdapterRegistry
	Backend  StateBackend
	RawSink  RawSink
	Observer Observer
	Logger   *zap.Logger
	Hooks    EngineHooks
	Now      func() time.Time
}

// Engine wires one Router per conversation to the pipeline and both stores.
// Conversations are independent; only the router map is shared.
type Engine struct {
	mu      sync.Mutex
	routers map[string]*Router

	timelines *TimelineStore
	meta      *ChatMetaStore
	pipeline  *Pipeline
	backend   StateBackend
	rawSink   RawSink
	observer  Observer
	logger    *zap.Logger
	hooks     EngineHooks
	now       func() time.Time
}

func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		routers:   map[string]*Router{},
		timelines: NewTimelineStore(),
		meta:      NewChatMetaStore(),
		backend:   opts.Backend,
		rawSink:   opts.RawSink,
		observer:  opts.Observer,
		logger:    opts.Logger,
		hooks:     opts.Hooks,
		now:       opts.Now,
	}
	if e.rawSink == nil {
		e.rawSink = nopRawSink{}
	}
	if e.observer == nil {
		e.observer = NopObserver{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	e.pipeline = NewPipeline(PipelineOptions{
		Registry: opts.Registry,
		Adapters: opts.Adapters,
		Logger:   e.logger,
		Observer: e.observer,
		Now:      e.now,
	})
	return e
}

// Open starts a new session for the conversation. It lifts a removal guard
// and loads the persisted snapshot when the timeline is not in memory yet.
// A router that is still waiting for hydration is kept with its buffer; a
// hydrated one is replaced by a fresh unhydrated router.
func (e *Engine) Open(conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ErrInvalidInput
	}
	e.timelines.Reopen(conversationID)
	e.meta.Reopen(conversationID)

	e.mu.Lock()
	previous := e.routers[conversationID]
	kept := previous != nil && previous.active()
	if !kept {
		e.routers[conversationID] = e.newRouter(conversationID)
	}
	e.mu.Unlock()
	if previous != nil && !kept {
		if dropped := previous.Dispose(); dropped > 0 {
			e.observer.BufferedDelta(-dropped)
			e.logger.Warn("buffered envelopes dropped on reopen",
				zap.String("conversation_id", conversationID),
				zap.Int("dropped", dropped),
			)
		}
	}

	if err := e.restore(conversationID); err != nil {
		e.logger.Warn("timeline restore failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
	e.logger.Info("conversation opened", zap.String("conversation_id", conversationID))
	return e.SetStatus(conversationID, StatusConnecting)
}

func (e *Engine) restore(conversationID string) error {
	if e.backend == nil {
		return nil
	}
	if len(e.timelines.Get(conversationID).Order) > 0 {
		return nil
	}
	snapshot, err := e.backend.Load(conversationID)
	if err != nil || snapshot == nil {
		return err
	}
	return e.timelines.Replace(conversationID, *snapshot)
}

func (e *Engine) newRouter(conversationID string) *Router {
	return NewRouter(RouteHandlers{
		OnRawEnvelope: func(env Envelope) {
			e.rawSink.Publish(conversationID, env)
			if e.hooks.OnRawEnvelope != nil {
				e.hooks.OnRawEnvelope(conversationID, env)
			}
		},
		OnEnvelope: func(env Envelope) {
			e.apply(conversationID, env)
		},
	})
}

func (e *Engine) router(conversationID string) (*Router, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	router, ok := e.routers[conversationID]
	return router, ok
}

// Ingest routes one envelope. A conversation that was never opened is opened
// implicitly. Envelopes for removed conversations reach the raw observers and
// are then dropped with ErrConversationClosed.
func (e *Engine) Ingest(conversationID string, env Envelope) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ErrInvalidInput
	}
	router, ok := e.router(conversationID)
	if !ok {
		if e.timelines.Terminated(conversationID) {
			e.rawSink.Publish(conversationID, env)
			if e.hooks.OnRawEnvelope != nil {
				e.hooks.OnRawEnvelope(conversationID, env)
			}
			return e.dropLate(conversationID, env)
		}
		if err := e.Open(conversationID); err != nil {
			return err
		}
		router, _ = e.router(conversationID)
	}

	disposition := router.Route(env)
	if disposition == DispositionDropped {
		// A concurrent Open may have replaced the router. The raw observers
		// already saw env on the old one.
		if current, ok := e.router(conversationID); ok && current != router {
			disposition = current.reroute(env)
		}
	}
	switch disposition {
	case DispositionDropped:
		return e.dropLate(conversationID, env)
	case DispositionBuffered:
		e.observer.BufferedDelta(1)
		e.logger.Debug("envelope buffered",
			zap.String("conversation_id", conversationID),
			zap.String("event_type", eventType(env)),
		)
	}
	e.observer.EnvelopeRouted(disposition)
	return nil
}

func (e *Engine) dropLate(conversationID string, env Envelope) error {
	e.observer.EnvelopeRouted(DispositionDropped)
	e.logger.Warn("late envelope for closed conversation",
		zap.String("conversation_id", conversationID),
		zap.String("event_type", eventType(env)),
	)
	return ErrConversationClosed
}

// apply runs for every envelope the router forwards, live or from a flush.
func (e *Engine) apply(conversationID string, env Envelope) {
	if e.hooks.OnEnvelope != nil {
		e.hooks.OnEnvelope(conversationID, env)
	}
	if env.Heartbeat() {
		return
	}
	existing := func(entityID string) (TimelineEntity, bool) {
		return e.timelines.Entity(conversationID, entityID)
	}
	e.pipeline.Project(conversationID, env, existing, func(action Action) {
		var err error
		switch action.Type {
		case ActionUpsert:
			err = e.timelines.Upsert(conversationID, action.Entity)
		case ActionRemove:
			err = e.timelines.Remove(conversationID, action.EntityID)
		}
		if err != nil {
			e.logger.Debug("timeline write skipped",
				zap.String("conversation_id", conversationID),
				zap.String("entity_id", action.EntityID),
				zap.Error(err),
			)
		}
	})
	e.deriveChatMeta(conversationID, env.Event)
	e.persist(conversationID)
}

func (e *Engine) deriveChatMeta(conversationID string, event *SemEvent) {
	data := event.Data
	var err error
	switch event.Type {
	case "llm.start":
		if model := stringField(data, "model"); model != "" {
			err = e.meta.SetModelName(conversationID, model)
		}
		if err == nil {
			err = e.meta.MarkStreamStart(conversationID, e.now())
		}
	case "llm.delta":
		if tokens, ok := usageTokens(data, "outputTokens", "output_tokens"); ok {
			err = e.meta.UpdateStreamTokens(conversationID, tokens)
		}
	case "llm.final":
		input, _ := usageTokens(data, "inputTokens", "input_tokens")
		output, _ := usageTokens(data, "outputTokens", "output_tokens")
		err = e.meta.SetTurnStats(conversationID, input, output, e.turnDuration(conversationID, data))
	case "llm.error", "error":
		message := stringField(data, "message", "error", "text")
		if message == "" {
			message = event.Type
		}
		err = e.meta.SetStreamError(conversationID, message)
	}
	if err != nil {
		e.logger.Debug("chat meta update skipped",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
}

func (e *Engine) turnDuration(conversationID string, data map[string]any) int64 {
	if ms, ok := numberField(data, "durationMs", "duration_ms"); ok && ms > 0 {
		return int64(ms)
	}
	meta, ok := e.meta.Get(conversationID)
	if !ok || meta.StreamStartTime == nil {
		return 0
	}
	elapsed := e.now().Sub(*meta.StreamStartTime)
	if elapsed < 0 {
		return 0
	}
	return elapsed.Milliseconds()
}

// usageTokens reads a token count from data.usage or from data itself.
func usageTokens(data map[string]any, keys ...string) (int, bool) {
	if usage := mapField(data, "usage"); usage != nil {
		if value, ok := numberField(usage, keys...); ok {
			return int(value), true
		}
	}
	value, ok := numberField(data, keys...)
	return int(value), ok
}

func (e *Engine) persist(conversationID string) {
	if e.backend == nil || e.timelines.Terminated(conversationID) {
		return
	}
	snapshot := e.timelines.Get(conversationID)
	if err := e.backend.Save(conversationID, &snapshot); err != nil {
		e.logger.Warn("timeline save failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
}

// Hydrate flushes the conversation's buffer in sequence order and switches
// the router to passthrough. It returns the number of envelopes flushed.
func (e *Engine) Hydrate(conversationID string) (int, error) {
	conversationID = strings.TrimSpace(conversationID)
	router, ok := e.router(conversationID)
	if !ok {
		if e.timelines.Terminated(conversationID) {
			return 0, ErrConversationClosed
		}
		return 0, ErrNotFound
	}
	flushed := router.Hydrate()
	e.observer.BufferedDelta(-flushed)
	e.observer.HydrationFlushed(flushed)
	e.logger.Info("conversation hydrated",
		zap.String("conversation_id", conversationID),
		zap.Int("flushed", flushed),
	)
	return flushed, e.SetStatus(conversationID, StatusConnected)
}

func (e *Engine) SetStatus(conversationID string, status ConnectionStatus) error {
	if err := e.meta.SetConnectionStatus(conversationID, status); err != nil {
		return err
	}
	if e.hooks.OnStatus != nil {
		e.hooks.OnStatus(conversationID, status)
	}
	return nil
}

// ReportError records a transport fault. The timeline is left intact.
func (e *Engine) ReportError(conversationID string, cause error) error {
	if cause == nil {
		return nil
	}
	e.logger.Error("conversation transport error",
		zap.String("conversation_id", conversationID),
		zap.Error(cause),
	)
	if err := e.meta.SetStreamError(conversationID, cause.Error()); err != nil {
		return err
	}
	if e.hooks.OnError != nil {
		e.hooks.OnError(conversationID, cause)
	}
	return e.SetStatus(conversationID, StatusError)
}

// Reset clears the per-turn chat metadata. Connection status is kept.
func (e *Engine) Reset(conversationID string) error {
	return e.meta.ResetConversation(conversationID)
}

// Remove tears the conversation down. Later envelopes for the id are dropped
// until it is opened again. Removing a conversation the engine never saw
// returns false and leaves the id usable.
func (e *Engine) Remove(conversationID string) bool {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return false
	}
	e.mu.Lock()
	router, hadRouter := e.routers[conversationID]
	delete(e.routers, conversationID)
	e.mu.Unlock()
	if hadRouter {
		e.observer.BufferedDelta(-router.Dispose())
	}
	hadTimeline := e.timelines.RemoveConversation(conversationID)
	hadMeta := e.meta.RemoveConversation(conversationID)
	hadSnapshot := e.deleteSnapshot(conversationID)

	existed := hadRouter || hadTimeline || hadMeta || hadSnapshot
	if !existed {
		e.logger.Debug("remove of unknown conversation", zap.String("conversation_id", conversationID))
		return false
	}
	e.timelines.terminate(conversationID)
	e.meta.terminate(conversationID)
	if e.hooks.OnStatus != nil {
		e.hooks.OnStatus(conversationID, StatusClosed)
	}
	e.logger.Info("conversation removed", zap.String("conversation_id", conversationID))
	return true
}

// deleteSnapshot drops the persisted timeline and reports whether one existed.
func (e *Engine) deleteSnapshot(conversationID string) bool {
	if e.backend == nil {
		return false
	}
	snapshot, err := e.backend.Load(conversationID)
	if err != nil {
		e.logger.Warn("timeline load before delete failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
	if err := e.backend.Delete(conversationID); err != nil {
		e.logger.Warn("timeline delete failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
	return snapshot != nil
}

func (e *Engine) Timeline(conversationID string) ConversationTimeline {
	return e.timelines.Get(strings.TrimSpace(conversationID))
}

func (e *Engine) ChatMeta(conversationID string) ConversationChatMeta {
	meta, _ := e.meta.Get(strings.TrimSpace(conversationID))
	return meta
}

func (e *Engine) ChatMessages(conversationID string) []ChatMessage {
	return ChatMessages(e.Timeline(conversationID))
}

func (e *Engine) WorkItems(conversationID string) []TimelineWidgetItem {
	return WorkItems(e.Timeline(conversationID))
}

func (e *Engine) Hydrated(conversationID string) bool {
	router, ok := e.router(strings.TrimSpace(conversationID))
	return ok && router.Hydrated()
}

func (e *Engine) Buffered(conversationID string) int {
	router, ok := e.router(strings.TrimSpace(conversationID))
	if !ok {
		return 0
	}
	return len(router.Buffered())
}

// Conversations lists every conversation with a router or stored state.
func (e *Engine) Conversations() []string {
	seen := map[string]struct{}{}
	e.mu.Lock()
	for id := range e.routers {
		seen[id] = struct{}{}
	}
	e.mu.Unlock()
	for _, id := range e.timelines.Conversations() {
		seen[id] = struct{}{}
	}
	for _, id := range e.meta.Conversations() {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func eventType(env Envelope) string {
	if env.Event == nil {
		return "heartbeat"
	}
	return env.Event.Type
}
