package timeline

import (
	"math"
	"strings"
	"time"
)

type ConnectionStatus string

const (
	StatusConnecting ConnectionStatus = "connecting"
	StatusConnected  ConnectionStatus = "connected"
	StatusError      ConnectionStatus = "error"
	StatusClosed     ConnectionStatus = "closed"
)

func ParseConnectionStatus(raw string) (ConnectionStatus, bool) {
	switch status := ConnectionStatus(strings.ToLower(strings.TrimSpace(raw))); status {
	case StatusConnecting, StatusConnected, StatusError, StatusClosed:
		return status, true
	default:
		return "", false
	}
}

type TurnStats struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	DurationMs   int64   `json:"durationMs"`
	TPS          float64 `json:"tps"`
}

// ConversationChatMeta is transient per-conversation session metadata.
type ConversationChatMeta struct {
	ConnectionStatus   ConnectionStatus `json:"connectionStatus"`
	ModelName          *string          `json:"modelName"`
	StreamStartTime    *time.Time       `json:"streamStartTime"`
	StreamOutputTokens int              `json:"streamOutputTokens"`
	CurrentTurnStats   *TurnStats       `json:"currentTurnStats"`
	LastError          *string          `json:"lastError"`
}

func newChatMeta() *ConversationChatMeta {
	return &ConversationChatMeta{ConnectionStatus: StatusConnecting}
}

func (m ConversationChatMeta) clone() ConversationChatMeta {
	if m.ModelName != nil {
		name := *m.ModelName
		m.ModelName = &name
	}
	if m.StreamStartTime != nil {
		start := *m.StreamStartTime
		m.StreamStartTime = &start
	}
	if m.CurrentTurnStats != nil {
		stats := *m.CurrentTurnStats
		m.CurrentTurnStats = &stats
	}
	if m.LastError != nil {
		msg := *m.LastError
		m.LastError = &msg
	}
	return m
}

// ChatMetaStore is a keyed reducer: every operation creates the record on
// first use and touches only the fields it names.
type ChatMetaStore struct {
	records *keyedStore[ConversationChatMeta]
}

func NewChatMetaStore() *ChatMetaStore {
	return &ChatMetaStore{records: newKeyedStore(newChatMeta)}
}

func (s *ChatMetaStore) SetConnectionStatus(conversationID string, status ConnectionStatus) error {
	return s.records.update(conversationID, func(m *ConversationChatMeta) {
		m.ConnectionStatus = status
	})
}

func (s *ChatMetaStore) SetModelName(conversationID, modelName string) error {
	return s.records.update(conversationID, func(m *ConversationChatMeta) {
		name := modelName
		m.ModelName = &name
	})
}

func (s *ChatMetaStore) MarkStreamStart(conversationID string, at time.Time) error {
	return s.records.update(conversationID, func(m *ConversationChatMeta) {
		start := at
		m.StreamStartTime = &start
		m.StreamOutputTokens = 0
	})
}

// UpdateStreamTokens stores the authoritative running output token count.
func (s *ChatMetaStore) UpdateStreamTokens(conversationID string, outputTokens int) error {
	if outputTokens < 0 {
		outputTokens = 0
	}
	return s.records.update(conversationID, func(m *ConversationChatMeta) {
		m.StreamOutputTokens = outputTokens
	})
}

// SetTurnStats records a completed turn and clears the in-flight counters.
func (s *ChatMetaStore) SetTurnStats(conversationID string, inputTokens, outputTokens int, durationMs int64) error {
	stats := TurnStats{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		DurationMs:   durationMs,
		TPS:          tokensPerSecond(outputTokens, durationMs),
	}
	return s.records.update(conversationID, func(m *ConversationChatMeta) {
		m.CurrentTurnStats = &stats
		m.StreamStartTime = nil
		m.StreamOutputTokens = 0
	})
}

func (s *ChatMetaStore) SetStreamError(conversationID, message string) error {
	return s.records.update(conversationID, func(m *ConversationChatMeta) {
		msg := message
		m.LastError = &msg
		m.StreamStartTime = nil
	})
}

// ResetConversation clears per-turn fields and keeps the connection status.
func (s *ChatMetaStore) ResetConversation(conversationID string) error {
	return s.records.update(conversationID, func(m *ConversationChatMeta) {
		status := m.ConnectionStatus
		*m = ConversationChatMeta{ConnectionStatus: status}
	})
}

func (s *ChatMetaStore) RemoveConversation(conversationID string) bool {
	return s.records.remove(conversationID)
}

func (s *ChatMetaStore) terminate(conversationID string) {
	s.records.terminate(conversationID)
}

func (s *ChatMetaStore) Reopen(conversationID string) {
	s.records.reopen(conversationID)
}

// Get returns the record, or the defaults when none exists. It never creates
// a record.
func (s *ChatMetaStore) Get(conversationID string) (ConversationChatMeta, bool) {
	out := *newChatMeta()
	found := s.records.view(conversationID, func(m *ConversationChatMeta) {
		out = m.clone()
	})
	return out, found
}

func (s *ChatMetaStore) Conversations() []string {
	return s.records.keys()
}

func tokensPerSecond(outputTokens int, durationMs int64) float64 {
	if durationMs <= 0 {
		return 0
	}
	tps := float64(outputTokens) / (float64(durationMs) / 1000)
	if math.IsNaN(tps) || math.IsInf(tps, 0) {
		return 0
	}
	return tps
}
