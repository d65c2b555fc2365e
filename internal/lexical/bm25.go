// Package lexical implements the in-memory keyword index (Okapi BM25).
//
// An Index is a snapshot: it reflects exactly the documents it was built from and has
// no incremental update path. Rebuild it to see new documents.
package lexical

import (
	"math"
	"sort"

	"github.com/kailas-cloud/bmae/internal/domain"
)

// minIDF keeps terms common to most of a tiny corpus matchable.
const minIDF = 1e-6

// Params are the BM25 tuning constants.
type Params struct {
	K1 float64
	B  float64
	// Epsilon floors non-positive idf values at Epsilon * mean idf.
	Epsilon float64
}

// DefaultParams returns the Okapi defaults (k1=1.5, b=0.75, epsilon=0.25).
func DefaultParams() Params {
	return Params{K1: 1.5, B: 0.75, Epsilon: 0.25}
}

// Index is an immutable BM25 snapshot over a document set.
type Index struct {
	params Params
	docs   []domain.Document
	tf     []map[string]int
	docLen []int
	avgdl  float64
	idf    map[string]float64
}

// Build indexes docs with default parameters.
func Build(docs []domain.Document) *Index {
	return BuildWithParams(docs, DefaultParams())
}

// BuildWithParams indexes docs. Document order is kept and used for tie-breaking.
func BuildWithParams(docs []domain.Document, p Params) *Index {
	idx := &Index{
		params: p,
		docs:   append([]domain.Document(nil), docs...),
		tf:     make([]map[string]int, len(docs)),
		docLen: make([]int, len(docs)),
		idf:    make(map[string]float64),
	}

	df := make(map[string]int)
	total := 0
	for i, d := range idx.docs {
		terms := Tokenize(d.Content())
		freqs := make(map[string]int, len(terms))
		for _, term := range terms {
			freqs[term]++
		}
		for term := range freqs {
			df[term]++
		}
		idx.tf[i] = freqs
		idx.docLen[i] = len(terms)
		total += len(terms)
	}
	if len(docs) > 0 {
		idx.avgdl = float64(total) / float64(len(docs))
	}

	n := float64(len(docs))
	var idfSum float64
	var floored []string
	for term, freq := range df {
		v := math.Log(n-float64(freq)+0.5) - math.Log(float64(freq)+0.5)
		idx.idf[term] = v
		idfSum += v
		if v < minIDF {
			floored = append(floored, term)
		}
	}
	if len(df) > 0 {
		eps := p.Epsilon * idfSum / float64(len(df))
		if eps < minIDF {
			eps = minIDF
		}
		for _, term := range floored {
			idx.idf[term] = eps
		}
	}

	return idx
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int { return len(idx.docs) }

// Search returns up to k documents with a positive BM25 score for query, best first.
// Scores are divided by the best score so the top hit scores 1. Equal scores keep
// index order.
func (idx *Index) Search(query string, k int) []domain.ScoredDocument {
	if k <= 0 || len(idx.docs) == 0 {
		return nil
	}
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	type hit struct {
		pos   int
		score float64
	}
	hits := make([]hit, 0, len(idx.docs))
	for i := range idx.docs {
		if s := idx.score(i, terms); s > 0 {
			hits = append(hits, hit{pos: i, score: s})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	if len(hits) == 0 {
		return nil
	}

	top := hits[0].score
	out := make([]domain.ScoredDocument, len(hits))
	for i, h := range hits {
		out[i] = domain.ScoredDocument{Document: idx.docs[h.pos], Score: h.score / top}
	}
	return out
}

func (idx *Index) score(pos int, terms []string) float64 {
	freqs := idx.tf[pos]
	norm := idx.params.K1 * (1 - idx.params.B + idx.params.B*float64(idx.docLen[pos])/idx.avgdl)
	var s float64
	for _, term := range terms {
		f := float64(freqs[term])
		if f == 0 {
			continue
		}
		s += idx.idf[term] * f * (idx.params.K1 + 1) / (f + norm)
	}
	return s
}
