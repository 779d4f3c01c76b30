package prompt

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/support-rag/backend/internal/search"
	"github.com/support-rag/backend/pkg/utils"
)

const DefaultEvidenceBudget = 6000

const DefaultPersona = `Sen bir musteri destek asistanisin. Kisa, nazik ve net yanit ver.
Yalnizca asagidaki bilgilere dayan; emin olmadigin konularda bunu acikca belirt.`

// NoEvidenceInstruction replaces the evidence block when retrieval found nothing.
const NoEvidenceInstruction = `## Bilgi Bankasi
Bu soru icin bilgi bankasinda ilgili kayit bulunamadi.
Tahmin yurutme. Urun adi, fiyat, tarih, adim veya politika uydurma.
Bilmedigini acikca soyle, musteriden ek ayrinti iste ya da canli destek temsilcisine yonlendir.`

const escalationHint = `Son yanitlar musteriye yardimci olmadi. Musteriye canli destek temsilcisine aktarilmayi teklif et.`

// Context is everything rendered into one instruction block.
type Context struct {
	Persona         string
	TopicIndex      string
	DetectedTopic   string
	TopicDetail     string
	State           string
	CollectedFields map[string]string
	SuggestHandoff  bool
	Memory          string
	Warnings        string
	Graph           string
	Evidence        []search.Candidate
	EvidenceBudget  int
}

// Assemble concatenates the sections in fixed order. With no evidence the
// no-evidence instruction is always emitted in place of the evidence block.
func Assemble(c Context) string {
	persona := strings.TrimSpace(c.Persona)
	if persona == "" {
		persona = DefaultPersona
	}

	sections := []string{persona}
	add := func(title, body string) {
		body = strings.TrimSpace(body)
		if body == "" {
			return
		}
		sections = append(sections, "## "+title+"\n"+body)
	}

	add("Konu Basliklari", c.TopicIndex)
	if c.DetectedTopic != "" || c.TopicDetail != "" {
		add("Tespit Edilen Konu", strings.TrimSpace(c.DetectedTopic+"\n"+c.TopicDetail))
	}
	add("Konusma Durumu", stateBlock(c.State, c.SuggestHandoff))
	add("Toplanan Bilgiler", fieldsBlock(c.CollectedFields))
	add("Musteri Hafizasi", c.Memory)
	add("Onceki Hatalardan Dersler", c.Warnings)
	add("Iliskili Bilgiler", c.Graph)

	if len(c.Evidence) == 0 {
		sections = append(sections, NoEvidenceInstruction)
	} else {
		budget := c.EvidenceBudget
		if budget <= 0 {
			budget = DefaultEvidenceBudget
		}
		sections = append(sections, "## Bilgi Bankasi\n"+utils.TruncateRunes(EvidenceBlock(c.Evidence), budget))
	}

	return strings.Join(sections, "\n\n")
}

// EvidenceBlock renders numbered records; the numbers are the citation ids.
func EvidenceBlock(evidence []search.Candidate) string {
	var b strings.Builder
	for i, e := range evidence {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] Soru: %s\nCevap: %s", i+1, e.Question, e.Answer)
		if e.Source != "" {
			fmt.Fprintf(&b, "\nKaynak: %s", e.Source)
		}
	}
	return b.String()
}

func stateBlock(state string, handoff bool) string {
	var lines []string
	if s := strings.TrimSpace(state); s != "" {
		lines = append(lines, s)
	}
	if handoff {
		lines = append(lines, escalationHint)
	}
	return strings.Join(lines, "\n")
}

func fieldsBlock(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = "- " + k + ": " + strings.TrimSpace(fields[k])
	}
	return strings.Join(lines, "\n")
}

// LoadPersona reads the persona/policy text; an empty path yields the default.
func LoadPersona(path string) (string, error) {
	if path == "" {
		return DefaultPersona, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read persona file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
