package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashPartsSeparatesBoundaries(t *testing.T) {
	assert.NotEqual(t, HashParts("ab", "c"), HashParts("a", "bc"))
	assert.Equal(t, HashParts("a", "b"), HashParts("a", "b"))
	assert.Len(t, HashString("x"), 64)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "yazı", TruncateRunes("yazıcı", 4))
	assert.Equal(t, "abc", TruncateRunes("abc", 10))
	assert.Equal(t, "", TruncateRunes("abc", 0))
}
