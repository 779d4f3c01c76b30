package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/support-rag/backend/internal/llm"
)

func replyGen(reply string, err error) llm.Generator {
	return llm.GeneratorFunc(func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
		if err != nil {
			return nil, err
		}
		return &llm.GenerateResponse{Reply: reply}, nil
	})
}

func TestRouteFor(t *testing.T) {
	tests := []struct {
		complexity string
		intent     string
		want       Route
	}{
		{ComplexitySimple, IntentGreeting, RouteFast},
		{ComplexitySimple, IntentChitchat, RouteFast},
		{ComplexitySimple, IntentFAQ, RouteStandard},
		{ComplexityMedium, IntentGreeting, RouteStandard},
		{ComplexityMedium, IntentProductSupport, RouteStandard},
		{ComplexityComplex, IntentGreeting, RouteDeep},
		{ComplexityComplex, IntentComplaint, RouteDeep},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RouteFor(tt.complexity, tt.intent), "%s/%s", tt.complexity, tt.intent)
	}
}

func TestAnalyzeGreetingIsFast(t *testing.T) {
	a := NewAnalyzer(replyGen("```json\n{\"complexity\":\"simple\",\"intent\":\"greeting\",\"subQueries\":[],\"requiresMemory\":false,\"requiresGraph\":false,\"standaloneQuery\":\"Merhaba\"}\n```", nil), 6, 0)

	got := a.Analyze(context.Background(), "Merhaba", nil)
	assert.Equal(t, RouteFast, got.Route)
	assert.Equal(t, IntentGreeting, got.Intent)
	assert.False(t, got.Fallback)
}

func TestAnalyzeComparisonIsDeep(t *testing.T) {
	a := NewAnalyzer(replyGen(`{"complexity":"complex","intent":"faq","subQueries":["A modeli fiyati","B modeli fiyati","A modeli fiyati",""],"standaloneQuery":"A ve B modelini karsilastir","entities":["A modeli"]}`, nil), 6, 0)

	got := a.Analyze(context.Background(), "A ile B farki ne, hangisi daha iyi?", nil)
	assert.Equal(t, RouteDeep, got.Route)
	assert.Equal(t, []string{"A modeli fiyati", "B modeli fiyati"}, got.SubQueries)
	assert.Equal(t, []string{"A modeli"}, got.Entities)
	assert.Equal(t, "A ve B modelini karsilastir", got.StandaloneQuery)
}

func TestAnalyzeDefaultsInvalidFields(t *testing.T) {
	a := NewAnalyzer(replyGen(`{"complexity":"extreme","intent":"SHOPPING","requiresMemory":"true","requiresGraph":42,"standaloneQuery":"   ","subQueries":"nope"}`, nil), 6, 0)

	got := a.Analyze(context.Background(), "  o ne zaman gelir ", nil)
	assert.Equal(t, ComplexityMedium, got.Complexity)
	assert.Equal(t, IntentProductSupport, got.Intent)
	assert.True(t, got.RequiresMemory)
	assert.False(t, got.RequiresGraph)
	assert.Equal(t, "o ne zaman gelir", got.StandaloneQuery)
	assert.Equal(t, []string{}, got.SubQueries)
	assert.Equal(t, RouteStandard, got.Route)
	assert.False(t, got.Fallback)
}

func TestAnalyzeFailureFallsBackToStandard(t *testing.T) {
	for _, gen := range []llm.Generator{
		replyGen("", errors.New("503")),
		replyGen("Sure! This is a greeting.", nil),
	} {
		got := NewAnalyzer(gen, 6, 0).Analyze(context.Background(), "Merhaba", nil)
		assert.True(t, got.Fallback)
		assert.Equal(t, RouteStandard, got.Route)
		assert.Equal(t, ComplexityMedium, got.Complexity)
		assert.Equal(t, IntentProductSupport, got.Intent)
		assert.Equal(t, "Merhaba", got.StandaloneQuery)
	}
}

func TestAnalyzeSendsBoundedHistory(t *testing.T) {
	var prompt string
	gen := llm.GeneratorFunc(func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
		prompt = req.Messages[0].Content
		return &llm.GenerateResponse{Reply: `{}`}, nil
	})
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "turn-1"},
		{Role: llm.RoleAssistant, Content: "turn-2"},
		{Role: llm.RoleUser, Content: "turn-3"},
	}

	got := NewAnalyzer(gen, 2, 0).Analyze(context.Background(), "peki o?", history)
	require.NotEmpty(t, prompt)
	assert.NotContains(t, prompt, "turn-1")
	assert.Contains(t, prompt, "turn-3")
	assert.Contains(t, prompt, "Current message: peki o?")
	assert.Equal(t, "peki o?", got.StandaloneQuery)
	assert.Len(t, history, 3)
}
