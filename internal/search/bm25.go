// Package search maintains an in-memory Okapi BM25 index over a mutable
// document corpus. The tool catalog, the memory corpus and the guide
// corpus each hold their own Index; every one is a derived projection,
// rebuildable by replaying the owning table.
package search

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// Default Okapi BM25 parameters.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Match is one scored search result.
type Match struct {
	Name  string
	Score float64
}

// Stats describes the current corpus.
type Stats struct {
	Documents int     `json:"documents"`
	AvgLength float64 `json:"avgLength"`
	Indexed   bool    `json:"indexed"`
}

type document struct {
	terms  map[string]int
	length int
}

// Index is a thread-safe inverted index. Writers (add/remove) are
// serialized; readers may run concurrently.
type Index struct {
	mu          sync.RWMutex
	docs        map[string]*document
	termDocs    map[string]int // number of documents containing the term
	totalLength int
	k1          float64
	b           float64
}

// NewIndex creates an empty index with default BM25 parameters.
func NewIndex() *Index {
	return &Index{
		docs:     make(map[string]*document),
		termDocs: make(map[string]int),
		k1:       DefaultK1,
		b:        DefaultB,
	}
}

// SetParams overrides the saturation (k1) and length-normalization (b)
// parameters. Non-positive k1 or negative b keep the current value.
func (idx *Index) SetParams(k1, b float64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if k1 > 0 {
		idx.k1 = k1
	}
	if b >= 0 {
		idx.b = b
	}
}

// AddOrReplace indexes text under name, overwriting any previous entry.
func (idx *Index) AddOrReplace(name, text string) {
	terms := tokenize(text)
	doc := &document{terms: make(map[string]int, len(terms)), length: len(terms)}
	for _, t := range terms {
		doc.terms[t]++
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(name)
	idx.docs[name] = doc
	idx.totalLength += doc.length
	for t := range doc.terms {
		idx.termDocs[t]++
	}
}

// Remove drops the entry; absent names are a no-op.
func (idx *Index) Remove(name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(name)
}

func (idx *Index) removeLocked(name string) {
	doc, ok := idx.docs[name]
	if !ok {
		return
	}
	delete(idx.docs, name)
	idx.totalLength -= doc.length
	for t := range doc.terms {
		if idx.termDocs[t] <= 1 {
			delete(idx.termDocs, t)
		} else {
			idx.termDocs[t]--
		}
	}
}

// Search returns up to limit matches scored above scoreFloor, sorted by
// score descending with name ascending as the tie-break. An empty query
// returns nothing.
func (idx *Index) Search(query string, limit int, scoreFloor float64) []Match {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docs)
	if n == 0 {
		return nil
	}
	avgLen := float64(idx.totalLength) / float64(n)
	if avgLen == 0 {
		avgLen = 1
	}

	// IDF recomputed from the current corpus; the catalog changes on
	// provider connect/disconnect, not per query.
	seen := make(map[string]struct{}, len(queryTerms))
	matches := make([]Match, 0, 16)
	scores := make(map[string]float64)
	for _, term := range queryTerms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		df := idx.termDocs[term]
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
		for name, doc := range idx.docs {
			tf := float64(doc.terms[term])
			if tf == 0 {
				continue
			}
			norm := idx.k1 * (1 - idx.b + idx.b*float64(doc.length)/avgLen)
			scores[name] += idf * tf * (idx.k1 + 1) / (tf + norm)
		}
	}

	for name, score := range scores {
		if score > scoreFloor {
			matches = append(matches, Match{Name: name, Score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Name < matches[j].Name
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// Stats reports corpus size and average document length.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	s := Stats{Documents: len(idx.docs), Indexed: len(idx.docs) > 0}
	if s.Documents > 0 {
		s.AvgLength = float64(idx.totalLength) / float64(s.Documents)
	}
	return s
}

// DocumentText builds the indexable text for a tool descriptor: the name
// twice (weighting), then description, keywords and category.
func DocumentText(name, description string, keywords []string, category string) string {
	parts := make([]string, 0, 4+len(keywords))
	parts = append(parts, name, name, description)
	parts = append(parts, keywords...)
	if category != "" {
		parts = append(parts, category)
	}
	return strings.ToLower(strings.Join(parts, " "))
}
