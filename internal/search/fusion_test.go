package search

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func cand(q string) Candidate {
	return Candidate{Question: q, Answer: "a-" + q}
}

func TestFuseMergesSharedRecords(t *testing.T) {
	lex := []Candidate{cand("a"), cand("b"), cand("c")}
	lex[1].LexicalScore = 9
	vec := []Candidate{cand("b"), cand("d")}
	vec[0].VectorDistance = Float(0.2)

	got := Fuse(lex, vec)
	require.Len(t, got, 4)
	assert.Equal(t, "b", got[0].Question)
	assert.Equal(t, 9.0, got[0].LexicalScore)
	require.NotNil(t, got[0].VectorDistance)
	assert.Equal(t, 0.2, *got[0].VectorDistance)
	assert.InDelta(t, RRFScore(1)+RRFScore(0), *got[0].FusedScore, 1e-12)
	assert.Equal(t, "a", got[1].Question)
}

func TestFuseCountsDuplicateOncePerList(t *testing.T) {
	a := cand("a")
	b := cand("b")
	lex := []Candidate{a, a, b}
	vec := []Candidate{b}

	got := Fuse(lex, vec)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Question)
	assert.InDelta(t, RRFScore(2)+RRFScore(0), *got[0].FusedScore, 1e-12)
	assert.InDelta(t, RRFScore(0), *got[1].FusedScore, 1e-12)

	got = Fuse([]Candidate{a, b}, []Candidate{b, b, a})
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Question)
	assert.InDelta(t, RRFScore(1)+RRFScore(0), *got[0].FusedScore, 1e-12)
	assert.InDelta(t, RRFScore(0)+RRFScore(2), *got[1].FusedScore, 1e-12)
}

func TestRRFScore(t *testing.T) {
	assert.InDelta(t, 1.0/61, RRFScore(0), 1e-12)
	assert.InDelta(t, 1.0/65, RRFScore(4), 1e-12)
}

// A record in both lists outranks any record found in only one list at an equal or worse rank.
func TestFuseSharedRecordDominatesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 20).Draw(t, "n")
		perm := rapid.Permutation(rangeInts(n)).Draw(t, "lexical")
		inVector := rapid.SliceOfNDistinct(rapid.IntRange(0, n-1), 1, n, rapid.ID[int]).Draw(t, "vector")

		lex := make([]Candidate, n)
		lexRank := make(map[string]int)
		for rank, id := range perm {
			lex[rank] = cand(fmt.Sprint(id))
			lexRank[fmt.Sprint(id)] = rank
		}
		vec := make([]Candidate, len(inVector))
		shared := make(map[string]bool)
		for rank, id := range inVector {
			vec[rank] = cand(fmt.Sprint(id))
			shared[fmt.Sprint(id)] = true
		}

		fused := Fuse(lex, vec)
		if len(fused) != n {
			t.Fatalf("fused %d records, want %d", len(fused), n)
		}
		score := make(map[string]float64)
		for _, c := range fused {
			score[c.Question] = *c.FusedScore
		}

		for both := range shared {
			for q, r := range lexRank {
				if shared[q] || r < lexRank[both] {
					continue
				}
				if score[both] <= score[q] {
					t.Fatalf("shared %s (%.5f) not above lexical-only %s (%.5f)", both, score[both], q, score[q])
				}
			}
		}
	})
}

func rangeInts(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
