package timeline

import "strings"

// TimelineStore keeps the entity log of every conversation.
type TimelineStore struct {
	conversations *keyedStore[ConversationTimeline]
}

func NewTimelineStore() *TimelineStore {
	return &TimelineStore{
		conversations: newKeyedStore(func() *ConversationTimeline {
			tl := emptyTimeline()
			return &tl
		}),
	}
}

// Upsert appends a new id to the order or replaces the existing entry in
// place. Updates never move an entity.
func (s *TimelineStore) Upsert(conversationID string, entity TimelineEntity) error {
	entity.ID = strings.TrimSpace(entity.ID)
	if entity.ID == "" {
		return ErrInvalidInput
	}
	entity = entity.clone()
	return s.conversations.update(conversationID, func(tl *ConversationTimeline) {
		if _, exists := tl.ByID[entity.ID]; !exists {
			tl.Order = append(tl.Order, entity.ID)
		}
		tl.ByID[entity.ID] = entity
	})
}

// Remove deletes one entity. Removing an unknown id is a no-op.
func (s *TimelineStore) Remove(conversationID, entityID string) error {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return ErrInvalidInput
	}
	err := s.conversations.updateExisting(conversationID, func(tl *ConversationTimeline) {
		if _, exists := tl.ByID[entityID]; !exists {
			return
		}
		delete(tl.ByID, entityID)
		for i, id := range tl.Order {
			if id == entityID {
				tl.Order = append(tl.Order[:i], tl.Order[i+1:]...)
				break
			}
		}
	})
	if err == ErrNotFound {
		return nil
	}
	return err
}

// Get returns a copy of the conversation timeline. Unknown conversations
// yield an empty timeline.
func (s *TimelineStore) Get(conversationID string) ConversationTimeline {
	out := emptyTimeline()
	s.conversations.view(conversationID, func(tl *ConversationTimeline) {
		out = tl.clone()
	})
	return out
}

func (s *TimelineStore) Entity(conversationID, entityID string) (TimelineEntity, bool) {
	var (
		out   TimelineEntity
		found bool
	)
	s.conversations.view(conversationID, func(tl *ConversationTimeline) {
		entity, ok := tl.ByID[entityID]
		if ok {
			out = entity.clone()
			found = true
		}
	})
	return out, found
}

// Replace installs a whole timeline, e.g. one loaded from a state backend.
func (s *TimelineStore) Replace(conversationID string, snapshot ConversationTimeline) error {
	normalized := snapshot.normalized()
	return s.conversations.update(conversationID, func(tl *ConversationTimeline) {
		*tl = normalized
	})
}

// RemoveConversation deletes the conversation and rejects later writes to it
// until Reopen.
func (s *TimelineStore) RemoveConversation(conversationID string) bool {
	return s.conversations.remove(conversationID)
}

func (s *TimelineStore) terminate(conversationID string) {
	s.conversations.terminate(conversationID)
}

func (s *TimelineStore) Reopen(conversationID string) {
	s.conversations.reopen(conversationID)
}

func (s *TimelineStore) Terminated(conversationID string) bool {
	return s.conversations.isTerminated(conversationID)
}

func (s *TimelineStore) Conversations() []string {
	return s.conversations.keys()
}
