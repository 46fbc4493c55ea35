package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/edmondsbay/consult/dialog"
)

func TestFetchUnknownConversationIsEmpty(t *testing.T) {
	m := NewManager(NewInMemoryStore())
	history, err := m.Fetch(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if !history.Empty() {
		t.Fatal("expected empty context for unknown conversation")
	}
	if history.ConversationID != "never-seen" {
		t.Errorf("conversation id not carried: %q", history.ConversationID)
	}
}

func TestAppendAndFetchRoundTrip(t *testing.T) {
	m := NewManager(NewInMemoryStore())
	ctx := context.Background()
	q := dialog.NewQuery("c1", "Does whitening damage enamel?")
	resp := dialog.FinalResponse{Text: "No, when done professionally.", Intent: dialog.IntentTreatment, ConversationID: "c1"}
	if err := m.Append(ctx, q, resp); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	history, err := m.Fetch(ctx, "c1")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(history.Turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(history.Turns))
	}
	if history.Turns[0].Query.ID != q.ID {
		t.Error("wrong query stored")
	}
}

func TestAppendEnforcesWindow(t *testing.T) {
	m := NewManager(NewInMemoryStore(), WithWindowSize(3))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		q := dialog.NewQuery("c1", fmt.Sprintf("question %d", i))
		if err := m.Append(ctx, q, dialog.FinalResponse{ConversationID: "c1"}); err != nil {
			t.Fatalf("Append %d returned error: %v", i, err)
		}
	}
	history, _ := m.Fetch(ctx, "c1")
	if len(history.Turns) != 3 {
		t.Fatalf("expected window of 3, got %d", len(history.Turns))
	}
	if history.Turns[2].Query.RawText != "question 4" {
		t.Errorf("latest turn missing: %q", history.Turns[2].Query.RawText)
	}
}

func TestConcurrentAppendsNoLossNoDuplicates(t *testing.T) {
	const turns = 50
	m := NewManager(NewInMemoryStore(), WithWindowSize(turns))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := dialog.NewQuery("c1", fmt.Sprintf("q%d", i))
			if err := m.Append(ctx, q, dialog.FinalResponse{ConversationID: "c1"}); err != nil {
				t.Errorf("Append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	history, err := m.Fetch(ctx, "c1")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(history.Turns) != turns {
		t.Fatalf("expected %d turns, got %d (lost or duplicated appends)", turns, len(history.Turns))
	}
	seen := make(map[string]struct{}, turns)
	for _, turn := range history.Turns {
		if _, dup := seen[turn.Query.ID]; dup {
			t.Fatalf("duplicate turn %s", turn.Query.ID)
		}
		seen[turn.Query.ID] = struct{}{}
	}
	// arrival order: AppendedAt must be non-decreasing
	for i := 1; i < len(history.Turns); i++ {
		if history.Turns[i].AppendedAt.Before(history.Turns[i-1].AppendedAt) {
			t.Fatalf("turns out of arrival order at index %d", i)
		}
	}
}

func TestFetchSnapshotIsolation(t *testing.T) {
	m := NewManager(NewInMemoryStore())
	ctx := context.Background()
	q := dialog.NewQuery("c1", "first")
	_ = m.Append(ctx, q, dialog.FinalResponse{ConversationID: "c1"})

	snapshot, _ := m.Fetch(ctx, "c1")
	_ = m.Append(ctx, dialog.NewQuery("c1", "second"), dialog.FinalResponse{ConversationID: "c1"})

	if len(snapshot.Turns) != 1 {
		t.Fatal("snapshot observed a later append")
	}
}

func TestForget(t *testing.T) {
	m := NewManager(NewInMemoryStore())
	ctx := context.Background()
	_ = m.Append(ctx, dialog.NewQuery("c1", "q"), dialog.FinalResponse{ConversationID: "c1"})
	if err := m.Forget(ctx, "c1"); err != nil {
		t.Fatalf("Forget returned error: %v", err)
	}
	history, _ := m.Fetch(ctx, "c1")
	if !history.Empty() {
		t.Fatal("history survived Forget")
	}
}
