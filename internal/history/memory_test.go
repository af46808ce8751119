package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestAppendAssignsSequentialTurnNums(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		turn, err := s.AppendTurn(ctx, "c1", "u1", fmt.Sprintf("msg %d", i), "")
		if err != nil {
			t.Fatalf("AppendTurn() error = %v", err)
		}
		if turn.TurnNum != int64(i) {
			t.Fatalf("TurnNum = %d, want %d", turn.TurnNum, i)
		}
		if turn.ID == "" {
			t.Fatalf("turn ID should not be empty")
		}
	}

	// An independent conversation starts over at 1.
	turn, err := s.AppendTurn(ctx, "c2", "u1", "hello", "")
	if err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if turn.TurnNum != 1 {
		t.Fatalf("TurnNum in new conversation = %d, want 1", turn.TurnNum)
	}
}

func TestAppendRejectsEmptyContent(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.AppendTurn(context.Background(), "c1", "u1", "   ", ""); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("AppendTurn() error = %v, want ErrEmptyContent", err)
	}
	turns, err := s.All(context.Background(), "c1")
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("rejected append wrote %d turns", len(turns))
	}
}

func TestConcurrentAppendsNoGapsNoDuplicates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const conversations = 4
	const perConv = 50

	var wg sync.WaitGroup
	for c := 0; c < conversations; c++ {
		convID := fmt.Sprintf("conv-%d", c)
		for i := 0; i < perConv; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.AppendTurn(ctx, convID, "u1", "x", ""); err != nil {
					t.Errorf("AppendTurn() error = %v", err)
				}
			}()
		}
	}
	wg.Wait()

	for c := 0; c < conversations; c++ {
		convID := fmt.Sprintf("conv-%d", c)
		turns, err := s.All(ctx, convID)
		if err != nil {
			t.Fatalf("All() error = %v", err)
		}
		if len(turns) != perConv {
			t.Fatalf("%s has %d turns, want %d", convID, len(turns), perConv)
		}
		for i, turn := range turns {
			if turn.TurnNum != int64(i)+1 {
				t.Fatalf("%s turn[%d].TurnNum = %d, want %d", convID, i, turn.TurnNum, i+1)
			}
		}
	}
}

func TestRecentReturnsChronologicalWindow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		if _, err := s.AppendTurn(ctx, "c1", "u1", fmt.Sprintf("msg %d", i), ""); err != nil {
			t.Fatalf("AppendTurn() error = %v", err)
		}
	}

	turns, err := s.Recent(ctx, "c1", 3)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("Recent() returned %d turns, want 3", len(turns))
	}
	if turns[0].TurnNum != 8 || turns[2].TurnNum != 10 {
		t.Fatalf("window = [%d..%d], want [8..10]", turns[0].TurnNum, turns[2].TurnNum)
	}

	all, err := s.Recent(ctx, "c1", 50)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(all) != 10 {
		t.Fatalf("oversized limit returned %d turns, want 10", len(all))
	}
}
