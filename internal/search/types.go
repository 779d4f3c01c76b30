package search

import (
	"strings"

	"github.com/support-rag/backend/pkg/utils"
)

const keyPrefixRunes = 80

// Record is one knowledge-base entry.
type Record struct {
	Question string `json:"question" yaml:"question"`
	Answer   string `json:"answer" yaml:"answer"`
	Source   string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Candidate is a retrieved record. Stages add scores and never replace the
// question/answer pair.
type Candidate struct {
	Question       string   `json:"question"`
	Answer         string   `json:"answer"`
	Source         string   `json:"source,omitempty"`
	LexicalScore   float64  `json:"lexicalScore,omitempty"`
	VectorDistance *float64 `json:"vectorDistance,omitempty"`
	FusedScore     *float64 `json:"fusedScore,omitempty"`
	RerankScore    *float64 `json:"rerankScore,omitempty"`
}

// Key identifies a candidate across retrieval lists.
func (c Candidate) Key() string {
	return IdentityKey(c.Question, c.Answer)
}

func IdentityKey(question, answer string) string {
	return utils.TruncateRunes(strings.TrimSpace(question), keyPrefixRunes) + "\x1f" +
		utils.TruncateRunes(strings.TrimSpace(answer), keyPrefixRunes)
}

// Float returns a pointer to v, for the optional score fields.
func Float(v float64) *float64 {
	return &v
}
