package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/relaytimeline/internal/metrics"
	"github.com/agentworkforce/relaytimeline/internal/timeline"
	"go.uber.org/zap"
)

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	Logger          *zap.Logger
	Metrics         *metrics.Recorder
}

type Server struct {
	engine      *timeline.Engine
	cfg         ServerConfig
	logger      *zap.Logger
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(engine *timeline.Engine) *Server {
	return NewServerWithConfig(engine, ServerConfig{})
}

func NewServerWithConfig(engine *timeline.Engine, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		engine:      engine,
		cfg:         cfg,
		logger:      logger,
		rateLimiter: limiter,
	}
}

type route struct {
	name           string
	scope          string
	conversationID string
}

// resolveRoute maps a request onto a named route. ok is false for unknown
// paths and methods.
func resolveRoute(r *http.Request) (route, bool) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" || parts[1] != "conversations" {
		return route{}, false
	}
	if len(parts) == 2 {
		if r.Method == http.MethodGet {
			return route{name: "list", scope: scopeRead}, true
		}
		return route{}, false
	}
	conversationID := strings.TrimSpace(parts[2])
	if conversationID == "" {
		return route{}, false
	}
	if len(parts) == 3 {
		if r.Method == http.MethodDelete {
			return route{name: "remove", scope: scopeWrite, conversationID: conversationID}, true
		}
		return route{}, false
	}
	if len(parts) != 4 {
		return route{}, false
	}
	rt := route{conversationID: conversationID}
	switch {
	case parts[3] == "open" && r.Method == http.MethodPost:
		rt.name, rt.scope = "open", scopeWrite
	case parts[3] == "envelopes" && r.Method == http.MethodPost:
		rt.name, rt.scope = "envelopes", scopeWrite
	case parts[3] == "hydrate" && r.Method == http.MethodPost:
		rt.name, rt.scope = "hydrate", scopeWrite
	case parts[3] == "reset" && r.Method == http.MethodPost:
		rt.name, rt.scope = "reset", scopeWrite
	case parts[3] == "stream" && r.Method == http.MethodGet:
		rt.name, rt.scope = "stream", scopeWrite
	case parts[3] == "timeline" && r.Method == http.MethodGet:
		rt.name, rt.scope = "timeline", scopeRead
	case parts[3] == "chat-meta" && r.Method == http.MethodGet:
		rt.name, rt.scope = "chat_meta", scopeRead
	case parts[3] == "messages" && r.Method == http.MethodGet:
		rt.name, rt.scope = "messages", scopeRead
	case parts[3] == "work-items" && r.Method == http.MethodGet:
		rt.name, rt.scope = "work_items", scopeRead
	default:
		return route{}, false
	}
	return rt, true
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/metrics" && r.Method == http.MethodGet && s.cfg.Metrics != nil {
		s.cfg.Metrics.Handler().ServeHTTP(w, r)
		return
	}

	rt, ok := resolveRoute(r)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, rt.conversationID, rt.scope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return
	}
	if s.rateLimiter != nil {
		key := rt.conversationID + "|" + claims.AgentName
		if !s.rateLimiter.allow(key, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	// The stream route hijacks the connection and is not timed.
	if rt.name == "stream" {
		s.handleStream(w, r, rt.conversationID, correlationID)
		return
	}

	started := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.dispatch(rec, r, rt, correlationID)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveHTTP(r.Method, rt.name, strconv.Itoa(rec.status), time.Since(started).Seconds())
	}
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, rt route, correlationID string) {
	switch rt.name {
	case "list":
		s.handleList(w)
	case "open":
		s.handleOpen(w, rt.conversationID, correlationID)
	case "envelopes":
		s.handleEnvelopes(w, r, rt.conversationID, correlationID)
	case "hydrate":
		s.handleHydrate(w, rt.conversationID, correlationID)
	case "reset":
		s.handleReset(w, rt.conversationID, correlationID)
	case "remove":
		s.handleRemove(w, rt.conversationID, correlationID)
	case "timeline":
		s.handleTimeline(w, rt.conversationID)
	case "chat_meta":
		writeJSON(w, http.StatusOK, s.engine.ChatMeta(rt.conversationID))
	case "messages":
		writeJSON(w, http.StatusOK, map[string]any{
			"conversationId": rt.conversationID,
			"messages":       s.engine.ChatMessages(rt.conversationID),
		})
	case "work_items":
		writeJSON(w, http.StatusOK, map[string]any{
			"conversationId": rt.conversationID,
			"items":          s.engine.WorkItems(rt.conversationID),
		})
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

func (s *Server) handleList(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"conversations": s.engine.Conversations()})
}

func (s *Server) handleOpen(w http.ResponseWriter, conversationID, correlationID string) {
	if err := s.engine.Open(conversationID); err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, s.conversationState(conversationID))
}

func (s *Server) handleEnvelopes(w http.ResponseWriter, r *http.Request, conversationID, correlationID string) {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	envelopes, err := timeline.DecodeEnvelopes(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		return
	}
	accepted := 0
	for _, env := range envelopes {
		if err := s.engine.Ingest(conversationID, env); err != nil {
			s.writeEngineError(w, err, correlationID)
			return
		}
		accepted++
	}
	state := s.conversationState(conversationID)
	state["accepted"] = accepted
	writeJSON(w, http.StatusAccepted, state)
}

func (s *Server) handleHydrate(w http.ResponseWriter, conversationID, correlationID string) {
	flushed, err := s.engine.Hydrate(conversationID)
	if err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	state := s.conversationState(conversationID)
	state["flushed"] = flushed
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleReset(w http.ResponseWriter, conversationID, correlationID string) {
	if err := s.engine.Reset(conversationID); err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.ChatMeta(conversationID))
}

func (s *Server) handleRemove(w http.ResponseWriter, conversationID, correlationID string) {
	if !s.engine.Remove(conversationID) {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found", correlationID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTimeline(w http.ResponseWriter, conversationID string) {
	state := s.conversationState(conversationID)
	state["entities"] = s.engine.Timeline(conversationID).Entities()
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) conversationState(conversationID string) map[string]any {
	return map[string]any{
		"conversationId": conversationID,
		"hydrated":       s.engine.Hydrated(conversationID),
		"buffered":       s.engine.Buffered(conversationID),
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, timeline.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	case errors.Is(err, timeline.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case errors.Is(err, timeline.ErrConversationClosed):
		writeError(w, http.StatusConflict, "conversation_closed", err.Error(), correlationID)
	case errors.Is(err, timeline.ErrNotImplemented):
		writeError(w, http.StatusNotImplemented, "not_implemented", err.Error(), correlationID)
	default:
		s.logger.Error("request failed", zap.String("correlation_id", correlationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
