package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", HashString(""))
	assert.Equal(t, HashString("acme"), HashString("acme"))
	assert.NotEqual(t, HashString("acme"), HashString("globex"))
	assert.Len(t, HashString("anything"), 32)
}

func TestHashParams_BoundariesMatter(t *testing.T) {
	assert.Equal(t, HashParams("a", "b"), HashParams("a", "b"))
	assert.NotEqual(t, HashParams("ab", "c"), HashParams("a", "bc"))
	assert.NotEqual(t, HashParams("a"), HashParams("a", ""))
}
