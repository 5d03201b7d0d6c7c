package rawbus

import (
	"sync"
	"time"

	"github.com/agentworkforce/relaytimeline/internal/timeline"
)

// MemorySink keeps the most recent envelopes in a ring.
type MemorySink struct {
	mu      sync.Mutex
	limit   int
	records []Record
	next    int
	full    bool
	now     func() time.Time
}

var _ timeline.RawSink = (*MemorySink)(nil)

func NewMemorySink(limit int) *MemorySink {
	if limit <= 0 {
		limit = DefaultBuffer
	}
	return &MemorySink{
		limit:   limit,
		records: make([]Record, limit),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemorySink) Publish(conversationID string, env timeline.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[m.next] = Record{ConversationID: conversationID, ReceivedAt: m.now(), Envelope: env}
	m.next = (m.next + 1) % m.limit
	if m.next == 0 {
		m.full = true
	}
}

// Records returns the retained envelopes, oldest first.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return append([]Record(nil), m.records[:m.next]...)
	}
	out := make([]Record, 0, m.limit)
	out = append(out, m.records[m.next:]...)
	return append(out, m.records[:m.next]...)
}

// Conversation filters Records by conversation id.
func (m *MemorySink) Conversation(conversationID string) []Record {
	var out []Record
	for _, record := range m.Records() {
		if record.ConversationID == conversationID {
			out = append(out, record)
		}
	}
	return out
}
