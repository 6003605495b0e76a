// ABOUTME: Tests for the oversized-fragment splitter
// ABOUTME: Covers threshold boundaries, breakpoint preference, and exact reassembly

package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reassemble(pieces []string) string {
	return strings.Join(pieces, "")
}

func TestSplitFragment_AtThresholdNotSplit(t *testing.T) {
	text := strings.Repeat("a", 100)
	pieces := splitFragment(text, 100)
	require.Len(t, pieces, 1)
	assert.Equal(t, text, pieces[0])
}

func TestSplitFragment_OneOverThresholdSplits(t *testing.T) {
	text := strings.Repeat("a", 50) + " " + strings.Repeat("b", 50)
	pieces := splitFragment(text, 100)

	require.GreaterOrEqual(t, len(pieces), 2)
	for _, p := range pieces {
		assert.LessOrEqual(t, len(p), 100)
	}
	assert.Equal(t, text, reassemble(pieces))
}

func TestSplitFragment_PrefersParagraphBoundary(t *testing.T) {
	text := "First paragraph. It has sentences.\n\nSecond paragraph here."
	pieces := splitFragment(text, 40)

	require.GreaterOrEqual(t, len(pieces), 2)
	assert.Equal(t, "First paragraph. It has sentences.\n\n", pieces[0])
	assert.Equal(t, text, reassemble(pieces))
}

func TestSplitFragment_FallsBackToSentenceBoundary(t *testing.T) {
	text := "One sentence here. Another sentence follows it directly after."
	pieces := splitFragment(text, 30)

	require.GreaterOrEqual(t, len(pieces), 2)
	assert.Equal(t, "One sentence here. ", pieces[0])
	assert.Equal(t, text, reassemble(pieces))
}

func TestSplitFragment_FallsBackToWhitespace(t *testing.T) {
	text := "nopunctuation just words all the way down without any stops"
	pieces := splitFragment(text, 25)

	require.GreaterOrEqual(t, len(pieces), 2)
	for _, p := range pieces {
		assert.LessOrEqual(t, len(p), 25)
	}
	assert.True(t, strings.HasSuffix(pieces[0], " "))
	assert.Equal(t, text, reassemble(pieces))
}

func TestSplitFragment_HardCutWhenNoBreakpoints(t *testing.T) {
	text := strings.Repeat("x", 250)
	pieces := splitFragment(text, 100)

	require.Len(t, pieces, 3)
	assert.Equal(t, 100, len(pieces[0]))
	assert.Equal(t, 100, len(pieces[1]))
	assert.Equal(t, 50, len(pieces[2]))
	assert.Equal(t, text, reassemble(pieces))
}

func TestSplitFragment_HardCutRespectsRuneBoundaries(t *testing.T) {
	// Three-byte runes; a threshold of 10 falls mid-rune without backoff.
	text := strings.Repeat("日", 20)
	pieces := splitFragment(text, 10)

	require.GreaterOrEqual(t, len(pieces), 2)
	for _, p := range pieces {
		assert.LessOrEqual(t, len(p), 10)
		assert.True(t, strings.HasPrefix(text, p) || len(p)%3 == 0)
	}
	assert.Equal(t, text, reassemble(pieces))
}

func TestSplitFragment_EmptyAndTinyInputs(t *testing.T) {
	assert.Equal(t, []string{""}, splitFragment("", 10))
	assert.Equal(t, []string{"short"}, splitFragment("short", 10))
}
