package timeline

import (
	"sort"
	"strings"
	"sync"
)

// keyedStore holds one record per conversation id with get-or-create writes.
// Removing an existing key marks it terminated so late writes cannot
// recreate it; reopen lifts the mark. Removing an unknown key changes nothing.
type keyedStore[T any] struct {
	mu         sync.RWMutex
	items      map[string]*T
	terminated map[string]struct{}
	newItem    func() *T
}

func newKeyedStore[T any](newItem func() *T) *keyedStore[T] {
	return &keyedStore[T]{
		items:      map[string]*T{},
		terminated: map[string]struct{}{},
		newItem:    newItem,
	}
}

func (s *keyedStore[T]) update(key string, fn func(item *T)) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, closed := s.terminated[key]; closed {
		return ErrConversationClosed
	}
	item, ok := s.items[key]
	if !ok {
		item = s.newItem()
		s.items[key] = item
	}
	fn(item)
	return nil
}

// updateExisting applies fn only when the key already has a record.
func (s *keyedStore[T]) updateExisting(key string, fn func(item *T)) error {
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, closed := s.terminated[key]; closed {
		return ErrConversationClosed
	}
	item, ok := s.items[key]
	if !ok {
		return ErrNotFound
	}
	fn(item)
	return nil
}

func (s *keyedStore[T]) view(key string, fn func(item *T)) bool {
	key = strings.TrimSpace(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[key]
	if !ok {
		return false
	}
	fn(item)
	return true
}

func (s *keyedStore[T]) remove(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.items[key]
	if !existed {
		return false
	}
	delete(s.items, key)
	s.terminated[key] = struct{}{}
	return true
}

// terminate marks key closed whether or not it has a record.
func (s *keyedStore[T]) terminate(key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	s.terminated[key] = struct{}{}
}

func (s *keyedStore[T]) reopen(key string) {
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.terminated, key)
}

func (s *keyedStore[T]) isTerminated(key string) bool {
	key = strings.TrimSpace(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, closed := s.terminated[key]
	return closed
}

func (s *keyedStore[T]) keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.items))
	for key := range s.items {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
