package memory

import (
	"context"
	"testing"
)

func TestInMemoryStoreRecentTurns(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for i, content := range []string{"hello", "hi there", "how are you"} {
		role := RoleLearner
		if i%2 == 1 {
			role = RoleTutor
		}
		if err := s.SaveTurn(ctx, TurnRecord{LearnerID: "l1", SessionID: "s1", Role: role, Content: content}); err != nil {
			t.Fatalf("SaveTurn error = %v", err)
		}
	}

	turns, err := s.RecentTurns(ctx, "l1", 2)
	if err != nil {
		t.Fatalf("RecentTurns error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("len = %d, want 2", len(turns))
	}
	if turns[0].Content != "hi there" || turns[1].Content != "how are you" {
		t.Fatalf("turns out of order: %q, %q", turns[0].Content, turns[1].Content)
	}
	if turns[0].ID == "" || turns[0].CreatedAt.IsZero() {
		t.Fatalf("SaveTurn did not assign id/timestamp")
	}
}

func TestInMemoryStoreSessionTurns(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	_ = s.SaveTurn(ctx, TurnRecord{LearnerID: "l1", SessionID: "s1", Role: RoleLearner, Content: "first session"})
	_ = s.SaveTurn(ctx, TurnRecord{LearnerID: "l1", SessionID: "s2", Role: RoleLearner, Content: "second session"})

	turns, err := s.SessionTurns(ctx, "s2", 10)
	if err != nil {
		t.Fatalf("SessionTurns error = %v", err)
	}
	if len(turns) != 1 || turns[0].Content != "second session" {
		t.Fatalf("SessionTurns = %+v", turns)
	}

	none, err := s.SessionTurns(ctx, "missing", 10)
	if err != nil || none != nil {
		t.Fatalf("SessionTurns(missing) = %v, %v", none, err)
	}
}
