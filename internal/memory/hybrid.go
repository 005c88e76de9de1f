package memory

import (
	"context"
	"fmt"
	"sort"
)

const (
	defaultRRFAlpha = 0.5
	defaultRRFK     = 60
	missingListRank = 1000
)

// Store composes an embedder, a vector store, and a BM25 index into
// the hybrid retrieval surface: indexing writes to both, search fuses
// both ranked lists with Reciprocal Rank Fusion.
type Store struct {
	embedder Embedder
	vectors  *VectorStore
	bm25     *BM25Index

	alpha float64
	k     float64
}

// Config configures a Store. Alpha and K default to the spec's
// defaults (0.5 and 60) when zero.
type Config struct {
	Path  string
	Alpha float64
	K     float64
}

// NewStore constructs a Store backed by a HashEmbedder and a JSONL
// vector store at cfg.Path (empty for in-memory only).
func NewStore(cfg Config) (*Store, error) {
	vs, err := NewVectorStore(cfg.Path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		embedder: NewHashEmbedder(256),
		vectors:  vs,
		bm25:     NewBM25Index(),
		alpha:    cfg.Alpha,
		k:        cfg.K,
	}
	if s.alpha == 0 {
		s.alpha = defaultRRFAlpha
	}
	if s.k == 0 {
		s.k = defaultRRFK
	}
	for _, e := range vs.List() {
		s.bm25.Add(e.ID, e.Content)
	}
	return s, nil
}

// WithEmbedder overrides the default hash embedder, e.g. with a
// remote provider.
func (s *Store) WithEmbedder(e Embedder) *Store {
	s.embedder = e
	return s
}

// Remember embeds and indexes content into both the vector store and
// the BM25 index.
func (s *Store) Remember(ctx context.Context, sessionID, content string) (Entry, error) {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return Entry{}, fmt.Errorf("memory: embed: %w", err)
	}
	entry, err := s.vectors.Insert(Entry{SessionID: sessionID, Content: content, Embedding: vec})
	if err != nil {
		return Entry{}, err
	}
	s.bm25.Add(entry.ID, content)
	return entry, nil
}

// Forget removes entries by ID from both indexes.
func (s *Store) Forget(ids []string) error {
	for _, id := range ids {
		s.bm25.Remove(id)
	}
	return s.vectors.Delete(ids)
}

// Recall runs a hybrid search: a vector-similarity ranked list and a
// BM25 ranked list, fused with Reciprocal Rank Fusion. sessionID
// restricts the vector leg to one session when non-empty; the BM25
// leg is not session-scoped since the index has no per-session
// structure.
func (s *Store) Recall(ctx context.Context, query string, topK int, sessionID string) ([]Scored, error) {
	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	vectorRanked := s.vectors.Search(queryEmbedding, 0, sessionID)
	bm25Ranked := s.bm25.Search(query, 0)

	vectorRank := make(map[string]int, len(vectorRanked))
	for i, r := range vectorRanked {
		vectorRank[r.Entry.ID] = i + 1
	}
	bm25Rank := make(map[string]int, len(bm25Ranked))
	for i, r := range bm25Ranked {
		bm25Rank[r.docID] = i + 1
	}

	byID := make(map[string]Entry, len(vectorRanked))
	for _, r := range vectorRanked {
		byID[r.Entry.ID] = r.Entry
	}

	candidates := make(map[string]struct{}, len(vectorRank)+len(bm25Rank))
	for id := range vectorRank {
		candidates[id] = struct{}{}
	}
	for id := range bm25Rank {
		candidates[id] = struct{}{}
	}

	fused := make([]Scored, 0, len(candidates))
	for id := range candidates {
		rv, ok := vectorRank[id]
		if !ok {
			rv = missingListRank
		}
		rb, ok := bm25Rank[id]
		if !ok {
			rb = missingListRank
		}
		score := s.alpha/(s.k+float64(rv)) + (1-s.alpha)/(s.k+float64(rb))

		entry, ok := byID[id]
		if !ok {
			entry = s.lookup(id)
		}
		fused = append(fused, Scored{Entry: entry, Score: float32(score)})
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].Entry.ID < fused[j].Entry.ID
	})
	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, nil
}

func (s *Store) lookup(id string) Entry {
	for _, e := range s.vectors.List() {
		if e.ID == id {
			return e
		}
	}
	return Entry{ID: id}
}

// Count returns the number of entries currently stored.
func (s *Store) Count() int { return s.vectors.Count() }

// List returns every stored entry.
func (s *Store) List() []Entry { return s.vectors.List() }
