package memory

import (
	"context"
	"testing"
)

func TestStore_RememberAndRecall(t *testing.T) {
	s, err := NewStore(Config{})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	ctx := context.Background()

	if _, err := s.Remember(ctx, "s1", "the quick brown fox jumps over the lazy dog"); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if _, err := s.Remember(ctx, "s1", "completely unrelated content about oceans"); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}

	results, err := s.Recall(ctx, "quick fox", 5, "")
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Recall() returned no results")
	}
	if results[0].Entry.Content != "the quick brown fox jumps over the lazy dog" {
		t.Errorf("top result = %q, want the fox entry", results[0].Entry.Content)
	}
}

func TestStore_ForgetRemovesFromBothIndexes(t *testing.T) {
	s, _ := NewStore(Config{})
	ctx := context.Background()

	entry, err := s.Remember(ctx, "s1", "unique searchable phrase")
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}

	if err := s.Forget([]string{entry.ID}); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}

	results, err := s.Recall(ctx, "unique searchable phrase", 5, "")
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	for _, r := range results {
		if r.Entry.ID == entry.ID {
			t.Errorf("Recall() still returned forgotten entry %s", entry.ID)
		}
	}
}

func TestStore_RecallFusesMissingListWithPenaltyRank(t *testing.T) {
	s, _ := NewStore(Config{})
	ctx := context.Background()

	// Content whose tokens never overlap the query's BM25 terms but
	// whose embedding is still comparable, exercising the RRF penalty
	// path for the BM25 leg.
	if _, err := s.Remember(ctx, "", "zzz yyy xxx"); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}

	results, err := s.Recall(ctx, "completely different query terms", 5, "")
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Recall() = %+v, want 1 result even with no BM25 overlap", results)
	}
}

func TestStore_Count(t *testing.T) {
	s, _ := NewStore(Config{})
	ctx := context.Background()
	s.Remember(ctx, "", "one")
	s.Remember(ctx, "", "two")
	if s.Count() != 2 {
		t.Errorf("Count() = %d, want 2", s.Count())
	}
}
