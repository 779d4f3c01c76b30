package search

import (
	"sort"
	"strings"
)

const (
	exactMatchScore    = 15
	bigramMatchScore   = 8
	questionWordScore  = 3
	answerWordScore    = 1
	minLexicalWordSize = 2
)

// LexicalScore scores one record against an already normalized query.
func LexicalScore(normQuery string, rec Record) float64 {
	if normQuery == "" {
		return 0
	}
	question := Normalize(rec.Question)
	answer := Normalize(rec.Answer)

	var score float64
	if strings.Contains(question, normQuery) {
		score += exactMatchScore
	}

	words := strings.Fields(normQuery)
	for i := 0; i+1 < len(words); i++ {
		if strings.Contains(question, words[i]+" "+words[i+1]) {
			score += bigramMatchScore
		}
	}

	for _, w := range words {
		if len([]rune(w)) < minLexicalWordSize {
			continue
		}
		if strings.Contains(question, w) {
			score += questionWordScore
		}
		if strings.Contains(answer, w) {
			score += answerWordScore
		}
	}

	return score
}

// LexicalSearch returns records with a positive score, best first, at most
// limit. Duplicate records are returned once.
func LexicalSearch(query string, kb []Record, limit int) []Candidate {
	normQuery := Normalize(query)
	if normQuery == "" || limit <= 0 {
		return nil
	}

	var out []Candidate
	seen := make(map[string]bool, len(kb))
	for _, rec := range kb {
		score := LexicalScore(normQuery, rec)
		if score <= 0 {
			continue
		}
		key := IdentityKey(rec.Question, rec.Answer)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Candidate{
			Question:     rec.Question,
			Answer:       rec.Answer,
			Source:       rec.Source,
			LexicalScore: score,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LexicalScore > out[j].LexicalScore
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
