package memory

import (
	"math"
	"sort"
	"sync"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// BM25Index is a term → (doc → term frequency) inverted index plus the
// per-document length and corpus average needed for Okapi BM25
// scoring with the Robertson IDF variant.
type BM25Index struct {
	mu        sync.RWMutex
	postings  map[string]map[string]int // term -> docID -> tf
	docLength map[string]int
	totalLen  int
}

// NewBM25Index constructs an empty index.
func NewBM25Index() *BM25Index {
	return &BM25Index{
		postings:  make(map[string]map[string]int),
		docLength: make(map[string]int),
	}
}

// Add indexes docID's content, replacing any prior posting for the
// same docID.
func (idx *BM25Index) Add(docID, content string) {
	terms := tokenize(content)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(docID)

	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	for term, count := range tf {
		bucket, ok := idx.postings[term]
		if !ok {
			bucket = make(map[string]int)
			idx.postings[term] = bucket
		}
		bucket[docID] = count
	}
	idx.docLength[docID] = len(terms)
	idx.totalLen += len(terms)
}

// Remove drops docID from the index.
func (idx *BM25Index) Remove(docID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(docID)
}

func (idx *BM25Index) removeLocked(docID string) {
	length, ok := idx.docLength[docID]
	if !ok {
		return
	}
	idx.totalLen -= length
	delete(idx.docLength, docID)
	for term, bucket := range idx.postings {
		if _, ok := bucket[docID]; ok {
			delete(bucket, docID)
			if len(bucket) == 0 {
				delete(idx.postings, term)
			}
		}
	}
}

// docScore is one document's BM25 score for a query, used internally
// before sorting into a ranked list.
type docScore struct {
	docID string
	score float64
}

// Search scores every document containing at least one query term and
// returns the topK ranked highest-score-first.
func (idx *BM25Index) Search(query string, topK int) []docScore {
	terms := tokenize(query)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docLength)
	if n == 0 || len(terms) == 0 {
		return nil
	}
	avgdl := float64(idx.totalLen) / float64(n)

	scores := make(map[string]float64)
	for _, term := range terms {
		bucket, ok := idx.postings[term]
		if !ok {
			continue
		}
		idf := robertsonIDF(n, len(bucket))
		for docID, tf := range bucket {
			dl := float64(idx.docLength[docID])
			denom := float64(tf) + bm25K1*(1-bm25B+bm25B*dl/avgdl)
			scores[docID] += idf * float64(tf) * (bm25K1 + 1) / denom
		}
	}

	out := make([]docScore, 0, len(scores))
	for docID, score := range scores {
		out = append(out, docScore{docID: docID, score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].docID < out[j].docID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// robertsonIDF computes the Robertson/BM25 IDF variant, floored at
// zero so that terms appearing in most of the corpus never produce a
// negative contribution.
func robertsonIDF(n, df int) float64 {
	idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
	if idf < 0 {
		return 0
	}
	return idf
}
