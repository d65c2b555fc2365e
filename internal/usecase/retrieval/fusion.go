package retrieval

import (
	"sort"

	"github.com/kailas-cloud/bmae/internal/domain"
)

// DefaultRRFK is the Reciprocal Rank Fusion constant (Cormack et al. 2009).
const DefaultRRFK = 60

// WeightedSum adds up weighted relevance scores of the same document across lists.
// A list without a configured weight gets 1/len(lists).
type WeightedSum struct {
	Weights []float64
}

// Combine implements Combiner.
func (w WeightedSum) Combine(lists [][]domain.ScoredDocument) []domain.ScoredDocument {
	return fuse(lists, func(list, _ int, score float64) float64 {
		return weightAt(w.Weights, list, len(lists)) * score
	})
}

// RRF fuses lists by rank: weight / (K + rank), rank starting at 1.
type RRF struct {
	Weights []float64
	K       int
}

// Combine implements Combiner.
func (r RRF) Combine(lists [][]domain.ScoredDocument) []domain.ScoredDocument {
	k := r.K
	if k <= 0 {
		k = DefaultRRFK
	}
	return fuse(lists, func(list, rank int, _ float64) float64 {
		return weightAt(r.Weights, list, len(lists)) / float64(k+rank+1)
	})
}

func weightAt(weights []float64, i, n int) float64 {
	if i < len(weights) {
		return weights[i]
	}
	return 1 / float64(n)
}

// fuse merges lists by document content. Order of first appearance breaks ties,
// lists scanned in order and each list by rank. Within one list only the first
// occurrence of a document counts, and ranks are taken over distinct documents.
func fuse(lists [][]domain.ScoredDocument, contribution func(list, rank int, score float64) float64) []domain.ScoredDocument {
	pos := make(map[string]int)
	var out []domain.ScoredDocument
	for li, list := range lists {
		seen := make(map[string]struct{}, len(list))
		rank := 0
		for _, sd := range list {
			key := sd.Document.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			i, ok := pos[key]
			if !ok {
				i = len(out)
				pos[key] = i
				out = append(out, domain.ScoredDocument{Document: sd.Document})
			}
			out[i].Score += contribution(li, rank, sd.Score)
			rank++
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Score > out[b].Score
	})
	return out
}
