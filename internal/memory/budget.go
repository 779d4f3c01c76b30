package memory

import "strings"

// CharsPerToken approximates token budgets in characters.
const CharsPerToken = 2.5

// budgetWriter accumulates lines until the next one would exceed the budget.
type budgetWriter struct {
	b         strings.Builder
	max       int
	used      int
	full      bool
	bodyLines int
}

func newBudgetWriter(tokenBudget int) *budgetWriter {
	return &budgetWriter{max: int(float64(tokenBudget) * CharsPerToken)}
}

// add appends line and reports whether it fit.
func (w *budgetWriter) add(line string) bool {
	if w.full {
		return false
	}
	n := len([]rune(line)) + 1
	if w.used+n > w.max {
		w.full = true
		return false
	}
	w.b.WriteString(line)
	w.b.WriteByte('\n')
	w.used += n
	return true
}

// addBody appends a content line under the header.
func (w *budgetWriter) addBody(line string) bool {
	if !w.add(line) {
		return false
	}
	w.bodyLines++
	return true
}

// String returns the rendered block, or "" when only the header was written.
func (w *budgetWriter) String() string {
	if w.bodyLines == 0 {
		return ""
	}
	return strings.TrimRight(w.b.String(), "\n")
}
