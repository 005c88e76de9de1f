package memory

import "testing"

func TestBM25Index_RanksMoreFrequentTermHigher(t *testing.T) {
	idx := NewBM25Index()
	idx.Add("doc1", "the quick brown fox jumps over the lazy dog")
	idx.Add("doc2", "fox fox fox everywhere in the forest")
	idx.Add("doc3", "nothing relevant here at all")

	results := idx.Search("fox", 10)
	if len(results) != 2 {
		t.Fatalf("Search() returned %d results, want 2", len(results))
	}
	if results[0].docID != "doc2" {
		t.Errorf("top result = %s, want doc2 (more fox occurrences)", results[0].docID)
	}
}

func TestBM25Index_RemoveDropsFromResults(t *testing.T) {
	idx := NewBM25Index()
	idx.Add("doc1", "apples and oranges")
	idx.Remove("doc1")

	results := idx.Search("apples", 10)
	if len(results) != 0 {
		t.Fatalf("Search() after Remove = %+v, want empty", results)
	}
}

func TestBM25Index_EmptyQueryOrIndex(t *testing.T) {
	idx := NewBM25Index()
	if results := idx.Search("anything", 10); results != nil {
		t.Errorf("Search() on empty index = %+v, want nil", results)
	}

	idx.Add("doc1", "some content")
	if results := idx.Search("", 10); results != nil {
		t.Errorf("Search(\"\") = %+v, want nil", results)
	}
}

func TestBM25Index_ReAddReplacesPosting(t *testing.T) {
	idx := NewBM25Index()
	idx.Add("doc1", "cats and dogs")
	idx.Add("doc1", "only birds now")

	if results := idx.Search("cats", 10); len(results) != 0 {
		t.Errorf("Search(cats) after re-add = %+v, want empty", results)
	}
	if results := idx.Search("birds", 10); len(results) != 1 {
		t.Errorf("Search(birds) after re-add = %+v, want 1 hit", results)
	}
}
