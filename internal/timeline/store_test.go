package timeline

import (
	"errors"
	"testing"
	"time"
)

func testEntity(id string, kind EntityKind, props map[string]any) TimelineEntity {
	return TimelineEntity{
		ID:        id,
		Kind:      kind,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Props:     props,
	}
}

func TestTimelineStoreUpsertKeepsFirstSeenOrder(t *testing.T) {
	store := NewTimelineStore()
	ids := []string{"a", "b", "a", "c", "b", "a"}
	for i, id := range ids {
		if err := store.Upsert("conv-1", testEntity(id, KindMessage, map[string]any{"n": i})); err != nil {
			t.Fatalf("upsert %s failed: %v", id, err)
		}
	}
	tl := store.Get("conv-1")
	if len(tl.Order) != 3 {
		t.Fatalf("expected 3 distinct ids, got %v", tl.Order)
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if tl.Order[i] != id {
			t.Fatalf("expected order %v, got %v", want, tl.Order)
		}
	}
	if len(tl.ByID) != len(tl.Order) {
		t.Fatalf("byId and order disagree: %d vs %d", len(tl.ByID), len(tl.Order))
	}
	if got := tl.ByID["a"].Props["n"]; got != 5 {
		t.Fatalf("expected latest props for a, got %v", got)
	}
}

func TestTimelineStorePropsAreReplacedNotMerged(t *testing.T) {
	store := NewTimelineStore()
	_ = store.Upsert("c", testEntity("x", KindLog, map[string]any{"level": "info", "message": "one"}))
	_ = store.Upsert("c", testEntity("x", KindLog, map[string]any{"message": "two"}))
	entity, ok := store.Entity("c", "x")
	if !ok {
		t.Fatalf("expected entity x")
	}
	if _, has := entity.Props["level"]; has {
		t.Fatalf("expected props to be replaced wholesale, got %+v", entity.Props)
	}
}

func TestTimelineStoreUnknownConversationIsEmpty(t *testing.T) {
	store := NewTimelineStore()
	tl := store.Get("missing")
	if tl.ByID == nil || tl.Order == nil {
		t.Fatalf("expected non-nil empty timeline, got %+v", tl)
	}
	if len(tl.ByID) != 0 || len(tl.Order) != 0 {
		t.Fatalf("expected empty timeline, got %+v", tl)
	}
	if len(store.Conversations()) != 0 {
		t.Fatalf("expected Get not to create state")
	}
}

func TestTimelineStoreGetReturnsCopy(t *testing.T) {
	store := NewTimelineStore()
	_ = store.Upsert("c", testEntity("x", KindLog, map[string]any{"message": "one"}))
	tl := store.Get("c")
	tl.ByID["x"].Props["message"] = "mutated"
	tl.Order[0] = "y"
	again := store.Get("c")
	if again.Order[0] != "x" || again.ByID["x"].Props["message"] != "one" {
		t.Fatalf("expected stored timeline unaffected by caller mutation, got %+v", again)
	}
}

func TestTimelineStoreRemove(t *testing.T) {
	store := NewTimelineStore()
	for _, id := range []string{"a", "b", "c"} {
		_ = store.Upsert("c1", testEntity(id, KindLog, nil))
	}
	if err := store.Remove("c1", "b"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	tl := store.Get("c1")
	if len(tl.Order) != 2 || tl.Order[0] != "a" || tl.Order[1] != "c" {
		t.Fatalf("expected [a c], got %v", tl.Order)
	}
	if err := store.Remove("c1", "zzz"); err != nil {
		t.Fatalf("expected removing unknown entity to be a no-op, got %v", err)
	}
	if err := store.Remove("nope", "a"); err != nil {
		t.Fatalf("expected removing from unknown conversation to be a no-op, got %v", err)
	}
}

func TestTimelineStoreRejectsWritesAfterRemoval(t *testing.T) {
	store := NewTimelineStore()
	_ = store.Upsert("c1", testEntity("a", KindLog, nil))
	_ = store.Upsert("c2", testEntity("a", KindLog, nil))
	if !store.RemoveConversation("c1") {
		t.Fatalf("expected removal of existing conversation")
	}
	err := store.Upsert("c1", testEntity("late", KindLog, nil))
	if !errors.Is(err, ErrConversationClosed) {
		t.Fatalf("expected conversation closed, got %v", err)
	}
	if len(store.Get("c1").Order) != 0 {
		t.Fatalf("expected removed conversation not to be resurrected")
	}
	if len(store.Get("c2").Order) != 1 {
		t.Fatalf("expected other conversation untouched")
	}

	store.Reopen("c1")
	if err := store.Upsert("c1", testEntity("fresh", KindLog, nil)); err != nil {
		t.Fatalf("expected writes after reopen, got %v", err)
	}
}

func TestTimelineStoreRejectsEmptyIDs(t *testing.T) {
	store := NewTimelineStore()
	if err := store.Upsert("c", testEntity("  ", KindLog, nil)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty entity id, got %v", err)
	}
	if err := store.Upsert("", testEntity("a", KindLog, nil)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty conversation id, got %v", err)
	}
}

func TestTimelineStoreReplaceNormalizes(t *testing.T) {
	store := NewTimelineStore()
	snapshot := ConversationTimeline{
		ByID: map[string]TimelineEntity{
			"a": testEntity("a", KindLog, nil),
			"b": testEntity("b", KindLog, nil),
		},
		Order: []string{"a", "ghost", "a"},
	}
	if err := store.Replace("c", snapshot); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	tl := store.Get("c")
	if len(tl.Order) != 2 || tl.Order[0] != "a" || tl.Order[1] != "b" {
		t.Fatalf("expected normalized order [a b], got %v", tl.Order)
	}
}

func TestTimelineStoreRemovingUnknownConversationDoesNotGuard(t *testing.T) {
	store := NewTimelineStore()
	if store.RemoveConversation("ghost") {
		t.Fatalf("expected removal of unknown conversation to report false")
	}
	if store.Terminated("ghost") {
		t.Fatalf("expected unknown conversation not to be terminated")
	}
	if err := store.Upsert("ghost", testEntity("a", KindLog, nil)); err != nil {
		t.Fatalf("expected writes to proceed, got %v", err)
	}
}
