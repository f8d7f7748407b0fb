package message

import (
	"testing"

	"github.com/szhu33/bspgraph/internal/graph"
)

func sumCombiner() *graph.Combiner {
	return &graph.Combiner{
		Initial: func() any { return 0.0 },
		Combine: func(a, b any) any { return a.(float64) + b.(float64) },
	}
}

func TestAddMessageWithoutCombinerAppends(t *testing.T) {
	s := New(nil)
	s.AddMessage(0, 1, "a")
	s.AddMessage(0, 1, "b")
	s.Swap()

	got := s.GetMessages(0, 1)
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
}

func TestAddMessageWithCombinerReducesToOne(t *testing.T) {
	s := New(sumCombiner())
	s.AddMessage(0, 1, 1.0)
	s.AddMessage(0, 1, 2.0)
	s.AddMessage(0, 1, 3.0)
	s.Swap()

	got := s.GetMessages(0, 1)
	if len(got) != 1 {
		t.Fatalf("got %d messages, want exactly 1 under a combiner", len(got))
	}
	if got[0].(float64) != 6.0 {
		t.Fatalf("got %v, want 6", got[0])
	}
}

func TestSwapMakesNextVisibleAndClearsNext(t *testing.T) {
	s := New(nil)
	s.AddMessage(0, 1, "hello")

	if got := s.GetMessages(0, 1); got != nil {
		t.Fatalf("got %v, want nil before Swap (next inbox isn't visible yet)", got)
	}

	s.Swap()
	if got := s.GetMessages(0, 1); len(got) != 1 {
		t.Fatalf("got %d messages after Swap, want 1", len(got))
	}

	s.Swap() // rolling an empty next in should clear what was current
	if got := s.GetMessages(0, 1); got != nil {
		t.Fatalf("got %v after second Swap, want nil", got)
	}
}

func TestGetDestinationVerticesOnlyListsVerticesWithMail(t *testing.T) {
	s := New(nil)
	s.AddMessage(0, 1, "a")
	s.AddMessage(0, 2, "b")
	s.Swap()

	ids := s.GetDestinationVertices(0)
	if len(ids) != 2 {
		t.Fatalf("got %d destination vertices, want 2", len(ids))
	}
}

func TestTotalPendingCountsVerticesWithPendingMail(t *testing.T) {
	s := New(nil)
	if s.TotalPending() != 0 {
		t.Fatalf("expected 0 pending before any AddMessage")
	}
	s.AddMessage(0, 1, "a")
	s.AddMessage(0, 2, "b")
	if s.TotalPending() != 2 {
		t.Fatalf("got %d, want 2", s.TotalPending())
	}
}

func TestSnapshotFlattensNextInbox(t *testing.T) {
	s := New(nil)
	s.AddMessage(0, 1, "a")
	s.AddMessage(1, 2, "b")

	entries := s.Snapshot()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
}

func TestClearPartitionDropsOnlyThatPartitionsCurrentInbox(t *testing.T) {
	s := New(nil)
	s.AddMessage(0, 1, "a")
	s.AddMessage(1, 2, "b")
	s.Swap()

	s.ClearPartition(0)
	if got := s.GetMessages(0, 1); got != nil {
		t.Fatalf("expected partition 0's inbox to be cleared")
	}
	if got := s.GetMessages(1, 2); len(got) != 1 {
		t.Fatalf("expected partition 1's inbox to be untouched")
	}
}
