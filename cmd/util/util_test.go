package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapString(t *testing.T) {
	wrapped := WrapString("the quick brown fox jumps over the lazy dog and keeps running far away from here")
	lines := strings.Split(wrapped, "\n")
	assert.Greater(t, len(lines), 1)
	for _, line := range lines {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, strings.Fields(wrapped), strings.Fields("the quick brown fox jumps over the lazy dog and keeps running far away from here"))
}

func TestWrapStringLongWord(t *testing.T) {
	word := strings.Repeat("x", Wrap+10)
	assert.Equal(t, word, WrapString(word))
}
