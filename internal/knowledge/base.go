package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/support-rag/backend/internal/metrics"
	"github.com/support-rag/backend/internal/search"
	"github.com/support-rag/backend/pkg/logger"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	markup     = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)
)

type file struct {
	Records []search.Record `json:"records" yaml:"records"`
}

// Base holds the active knowledge base. Readers take a snapshot so a reload
// never changes a turn already in flight.
type Base struct {
	mu      sync.RWMutex
	records []search.Record
	path    string
}

func NewBase(records []search.Record) *Base {
	b := &Base{}
	b.Replace(records)
	return b
}

// Load reads a YAML or JSON knowledge file.
func Load(path string) (*Base, error) {
	b := &Base{path: path}
	if err := b.Reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// Reload re-reads the file the base was loaded from.
func (b *Base) Reload() error {
	if b.path == "" {
		return fmt.Errorf("knowledge base has no source file")
	}
	data, err := os.ReadFile(b.path)
	if err != nil {
		return fmt.Errorf("failed to read knowledge file: %w", err)
	}
	records, err := Parse(data, filepath.Ext(b.path))
	if err != nil {
		return err
	}
	b.Replace(records)

	logger.Info("Knowledge base loaded",
		zap.String("path", b.path),
		zap.Int("records", len(b.records)),
	)
	return nil
}

func (b *Base) Replace(records []search.Record) {
	cleaned := Clean(records)

	b.mu.Lock()
	b.records = cleaned
	b.mu.Unlock()

	metrics.KnowledgeRecords.Set(float64(len(cleaned)))
}

// Snapshot returns a copy of the current records.
func (b *Base) Snapshot() []search.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]search.Record, len(b.records))
	copy(out, b.records)
	return out
}

func (b *Base) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Parse decodes either a bare list of records or an object with a records key.
func Parse(data []byte, ext string) ([]search.Record, error) {
	var records []search.Record
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &records); err == nil {
			return records, nil
		}
		var f file
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse knowledge json: %w", err)
		}
		return f.Records, nil
	default:
		if err := yaml.Unmarshal(data, &records); err == nil {
			return records, nil
		}
		var f file
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse knowledge yaml: %w", err)
		}
		return f.Records, nil
	}
}

// Clean strips markup, collapses whitespace, drops incomplete records and
// removes duplicates by identity, keeping the first occurrence.
func Clean(records []search.Record) []search.Record {
	seen := make(map[string]bool, len(records))
	out := make([]search.Record, 0, len(records))
	for _, r := range records {
		r.Question = cleanText(r.Question)
		r.Answer = cleanText(r.Answer)
		r.Source = strings.TrimSpace(r.Source)
		if r.Question == "" || r.Answer == "" {
			continue
		}
		key := search.IdentityKey(r.Question, r.Answer)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func cleanText(s string) string {
	if markup.MatchString(s) {
		s = htmlText(s)
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func htmlText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	doc.Find("script, style").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})
	doc.Find("br, p, li, div").Each(func(i int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return doc.Text()
}
