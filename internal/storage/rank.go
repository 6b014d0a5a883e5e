package storage

import (
	"math"
	"sort"
)

// scored is a query candidate with its tie-break keys.
type scored struct {
	result    Result
	insertSeq uint64
}

// rankResults orders candidates by score desc, SequenceIndex asc, insertion
// order asc and keeps the first k.
func rankResults(candidates []scored, k int) []Result {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.result.Score != b.result.Score {
			return a.result.Score > b.result.Score
		}
		if a.result.SequenceIndex != b.result.SequenceIndex {
			return a.result.SequenceIndex < b.result.SequenceIndex
		}
		return a.insertSeq < b.insertSeq
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	results := make([]Result, k)
	for i := 0; i < k; i++ {
		results[i] = candidates[i].result
	}
	return results
}

// vectorNorm returns the Euclidean norm of v.
func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine returns the cosine similarity of a and b given their norms.
// A zero vector has similarity 0 with everything.
func cosine(a []float32, normA float64, b []float32, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}
