package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json tag", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n[1,2]\n```", `[1,2]`},
		{"inline fence", "```{\"a\":1}```", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFences(tt.in))
		})
	}
}

func TestDecodeJSONFindsEmbeddedObject(t *testing.T) {
	var out struct {
		Intent string `json:"intent"`
	}
	require.NoError(t, DecodeJSON("Sure! Here it is: {\"intent\":\"faq\"} hope that helps", &out))
	assert.Equal(t, "faq", out.Intent)

	var arr []int
	require.NoError(t, DecodeJSON("```json\n[3,4]\n```", &arr))
	assert.Equal(t, []int{3, 4}, arr)

	assert.Error(t, DecodeJSON("no json here", &out))
}
