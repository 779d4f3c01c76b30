package search

import "sort"

// RRFK is the reciprocal rank fusion constant.
const RRFK = 60

// RRFScore is the contribution of a 0-based rank.
func RRFScore(rank int) float64 {
	return 1.0 / float64(RRFK+rank+1)
}

// Fuse merges ranked lists with reciprocal rank fusion. Candidates sharing an
// identity are merged: the first occurrence keeps its content and gains the
// other lists' scores. An identity scores at most once per list, at its best rank.
func Fuse(lists ...[]Candidate) []Candidate {
	index := make(map[string]int)
	var merged []Candidate
	var scores []float64

	for _, list := range lists {
		seen := make(map[string]bool, len(list))
		for rank, c := range list {
			key := c.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			pos, ok := index[key]
			if !ok {
				pos = len(merged)
				index[key] = pos
				merged = append(merged, c)
				scores = append(scores, 0)
			} else {
				mergeScores(&merged[pos], c)
			}
			scores[pos] += RRFScore(rank)
		}
	}

	order := make([]int, len(merged))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	out := make([]Candidate, len(order))
	for i, pos := range order {
		c := merged[pos]
		c.FusedScore = Float(scores[pos])
		out[i] = c
	}
	return out
}

func mergeScores(dst *Candidate, src Candidate) {
	if dst.LexicalScore == 0 {
		dst.LexicalScore = src.LexicalScore
	}
	if dst.VectorDistance == nil && src.VectorDistance != nil {
		dst.VectorDistance = Float(*src.VectorDistance)
	}
	if dst.Source == "" {
		dst.Source = src.Source
	}
}
