package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/support-rag/backend/internal/search"
)

func TestAssembleOrder(t *testing.T) {
	out := Assemble(Context{
		Persona:         "PERSONA",
		TopicIndex:      "TOPICS",
		DetectedTopic:   "yazici",
		TopicDetail:     "DETAIL",
		State:           "STATE",
		CollectedFields: map[string]string{"phone": "555", "name": "Ayse", "empty": " "},
		Memory:          "MEMORY",
		Warnings:        "DIKKAT: WARN",
		Graph:           "A --[R]--> B (t)",
		Evidence:        []search.Candidate{{Question: "Yazici nasil kurulur?", Answer: "Ayarlari kontrol edin", Source: "kb"}},
	})

	order := []string{"PERSONA", "TOPICS", "DETAIL", "STATE", "- name: Ayse", "- phone: 555", "MEMORY", "DIKKAT: WARN", "A --[R]--> B", "[1] Soru: Yazici nasil kurulur?"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(out, marker)
		require.GreaterOrEqual(t, idx, 0, marker)
		assert.Greater(t, idx, last, marker)
		last = idx
	}
	assert.NotContains(t, out, "empty")
	assert.NotContains(t, out, NoEvidenceInstruction)
	assert.Contains(t, out, "Kaynak: kb")
}

func TestAssembleNoEvidenceInstruction(t *testing.T) {
	out := Assemble(Context{})
	assert.True(t, strings.HasPrefix(out, DefaultPersona))
	assert.True(t, strings.HasSuffix(out, NoEvidenceInstruction))
	assert.Contains(t, out, "Tahmin yurutme")
}

func TestAssembleEvidenceBudget(t *testing.T) {
	long := strings.Repeat("x", 500)
	evidence := []search.Candidate{{Question: "q1", Answer: long}, {Question: "q2", Answer: long}}

	out := Assemble(Context{Persona: "P", Evidence: evidence, EvidenceBudget: 100})
	section := out[strings.Index(out, "## Bilgi Bankasi\n")+len("## Bilgi Bankasi\n"):]
	assert.Len(t, []rune(section), 100)
	assert.NotContains(t, out, "q2")
}

func TestAssembleEscalationHint(t *testing.T) {
	out := Assemble(Context{SuggestHandoff: true})
	assert.Contains(t, out, "canli destek temsilcisine aktarilmayi teklif et")
}

func TestEvidenceBlockNumbering(t *testing.T) {
	block := EvidenceBlock([]search.Candidate{{Question: "a", Answer: "b"}, {Question: "c", Answer: "d"}})
	assert.Equal(t, "[1] Soru: a\nCevap: b\n\n[2] Soru: c\nCevap: d", block)
}

func TestLoadPersona(t *testing.T) {
	p, err := LoadPersona("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPersona, p)

	path := filepath.Join(t.TempDir(), "persona.md")
	require.NoError(t, os.WriteFile(path, []byte("  Custom policy\n"), 0o600))
	p, err = LoadPersona(path)
	require.NoError(t, err)
	assert.Equal(t, "Custom policy", p)

	_, err = LoadPersona(filepath.Join(t.TempDir(), "missing.md"))
	assert.Error(t, err)
}
