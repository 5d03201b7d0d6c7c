package timeline

import (
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// StateBackend persists conversation timeline snapshots. Load returns nil
// without error when nothing is stored.
type StateBackend interface {
	Load(conversationID string) (*ConversationTimeline, error)
	Save(conversationID string, snapshot *ConversationTimeline) error
	Delete(conversationID string) error
}

type InMemoryStateBackend struct {
	mu        sync.Mutex
	snapshots map[string][]byte
}

func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{snapshots: map[string][]byte{}}
}

func (b *InMemoryStateBackend) Load(conversationID string) (*ConversationTimeline, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	data, ok := b.snapshots[strings.TrimSpace(conversationID)]
	b.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decodeSnapshot(data)
}

func (b *InMemoryStateBackend) Save(conversationID string, snapshot *ConversationTimeline) error {
	if b == nil || snapshot == nil {
		return nil
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots[conversationID] = data
	return nil
}

func (b *InMemoryStateBackend) Delete(conversationID string) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.snapshots, strings.TrimSpace(conversationID))
	return nil
}

// Conversations lists stored conversation ids, sorted.
func (b *InMemoryStateBackend) Conversations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.snapshots))
	for id := range b.snapshots {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// JSONDirStateBackend stores one JSON file per conversation under Dir.
type JSONDirStateBackend struct {
	Dir string
}

func NewJSONDirStateBackend(dir string) *JSONDirStateBackend {
	return &JSONDirStateBackend{Dir: strings.TrimSpace(dir)}
}

func (b *JSONDirStateBackend) path(conversationID string) (string, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return "", ErrInvalidInput
	}
	return filepath.Join(b.Dir, url.PathEscape(conversationID)+".json"), nil
}

func (b *JSONDirStateBackend) Load(conversationID string) (*ConversationTimeline, error) {
	if b == nil || b.Dir == "" {
		return nil, nil
	}
	path, err := b.path(conversationID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return decodeSnapshot(data)
}

func (b *JSONDirStateBackend) Save(conversationID string, snapshot *ConversationTimeline) error {
	if b == nil || b.Dir == "" || snapshot == nil {
		return nil
	}
	path, err := b.path(conversationID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (b *JSONDirStateBackend) Delete(conversationID string) error {
	if b == nil || b.Dir == "" {
		return nil
	}
	path, err := b.path(conversationID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func decodeSnapshot(data []byte) (*ConversationTimeline, error) {
	var snapshot ConversationTimeline
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	normalized := snapshot.normalized()
	return &normalized, nil
}
