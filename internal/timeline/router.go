package timeline

import "sync"

// RouterState is the per-connection hydration gate.
type RouterState struct {
	Hydrated bool
	Buffered []Envelope
}

type RouteHandlers struct {
	OnRawEnvelope func(env Envelope)
	OnEnvelope    func(env Envelope)
}

// Route hands env to OnRawEnvelope, then either buffers it (not hydrated) or
// forwards it to OnEnvelope (hydrated).
func Route(state *RouterState, env Envelope, handlers RouteHandlers) {
	if handlers.OnRawEnvelope != nil {
		handlers.OnRawEnvelope(env)
	}
	if state == nil {
		return
	}
	if !state.Hydrated {
		state.Buffered = append(state.Buffered, env)
		return
	}
	if handlers.OnEnvelope != nil {
		handlers.OnEnvelope(env)
	}
}

// Router serializes routing for one conversation. Handlers run while the
// router lock is held and must not call back into the same Router.
type Router struct {
	mu       sync.Mutex
	state    RouterState
	handlers RouteHandlers
	disposed bool
}

func NewRouter(handlers RouteHandlers) *Router {
	return &Router{handlers: handlers}
}

// Route returns how env was handled: DispositionBuffered,
// DispositionForwarded, or DispositionDropped once the router is disposed.
// Raw observers still see envelopes that arrive after disposal.
func (r *Router) Route(env Envelope) string {
	return r.route(env, true)
}

// reroute delivers an envelope whose raw observation already happened on
// another router.
func (r *Router) reroute(env Envelope) string {
	return r.route(env, false)
}

func (r *Router) route(env Envelope, observeRaw bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	handlers := r.handlers
	if !observeRaw {
		handlers.OnRawEnvelope = nil
	}
	if r.disposed {
		if handlers.OnRawEnvelope != nil {
			handlers.OnRawEnvelope(env)
		}
		return DispositionDropped
	}
	hydrated := r.state.Hydrated
	Route(&r.state, env, handlers)
	if hydrated {
		return DispositionForwarded
	}
	return DispositionBuffered
}

// Hydrate drains the buffer in sequence order, clears it, marks the router
// hydrated and returns the number of envelopes flushed. Routing that arrives
// during the flush waits for it to complete.
func (r *Router) Hydrate() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed || r.state.Hydrated {
		return 0
	}
	pending := SortEnvelopes(r.state.Buffered)
	for _, env := range pending {
		if r.handlers.OnEnvelope != nil {
			r.handlers.OnEnvelope(env)
		}
	}
	r.state.Buffered = nil
	r.state.Hydrated = true
	return len(pending)
}

// active reports whether the router still gates envelopes: not disposed and
// not hydrated yet.
func (r *Router) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.disposed && !r.state.Hydrated
}

func (r *Router) Hydrated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Hydrated
}

// Buffered returns a copy of the envelopes waiting for hydration.
func (r *Router) Buffered() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.state.Buffered))
	copy(out, r.state.Buffered)
	return out
}

// Dispose drops any buffered envelopes, stops forwarding and returns the
// number of envelopes dropped.
func (r *Router) Dispose() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := len(r.state.Buffered)
	r.disposed = true
	r.state.Buffered = nil
	return dropped
}
