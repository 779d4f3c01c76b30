package analyzer

import "strings"

type Route string

const (
	RouteFast     Route = "FAST"
	RouteStandard Route = "STANDARD"
	RouteDeep     Route = "DEEP"
)

const (
	ComplexitySimple  = "simple"
	ComplexityMedium  = "medium"
	ComplexityComplex = "complex"
)

const (
	IntentGreeting       = "greeting"
	IntentFAQ            = "faq"
	IntentProductSupport = "product_support"
	IntentComplaint      = "complaint"
	IntentEscalation     = "escalation"
	IntentChitchat       = "chitchat"
)

var (
	complexities = map[string]bool{ComplexitySimple: true, ComplexityMedium: true, ComplexityComplex: true}
	intents      = map[string]bool{
		IntentGreeting: true, IntentFAQ: true, IntentProductSupport: true,
		IntentComplaint: true, IntentEscalation: true, IntentChitchat: true,
	}
)

// Analysis is the per-turn classification. It is recomputed every turn.
type Analysis struct {
	Complexity      string   `json:"complexity"`
	Intent          string   `json:"intent"`
	SubQueries      []string `json:"subQueries"`
	RequiresMemory  bool     `json:"requiresMemory"`
	RequiresGraph   bool     `json:"requiresGraph"`
	StandaloneQuery string   `json:"standaloneQuery"`
	Entities        []string `json:"entities,omitempty"`
	Route           Route    `json:"route"`
	// Fallback marks an analysis built without a usable classification.
	Fallback bool `json:"fallback,omitempty"`
}

// RouteFor maps (complexity, intent) to a route.
func RouteFor(complexity, intent string) Route {
	switch {
	case complexity == ComplexityComplex:
		return RouteDeep
	case complexity == ComplexitySimple && (intent == IntentGreeting || intent == IntentChitchat):
		return RouteFast
	default:
		return RouteStandard
	}
}

// Fallback is the analysis used when classification fails.
func Fallback(utterance string) Analysis {
	return Analysis{
		Complexity:      ComplexityMedium,
		Intent:          IntentProductSupport,
		SubQueries:      []string{},
		StandaloneQuery: strings.TrimSpace(utterance),
		Route:           RouteStandard,
		Fallback:        true,
	}
}
