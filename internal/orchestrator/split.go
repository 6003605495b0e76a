// ABOUTME: Oversized-fragment splitter bounding per-event payload size
// ABOUTME: Cuts at paragraph, sentence, whitespace, then hard rune boundary; reassembly is exact

package orchestrator

import (
	"strings"
	"unicode/utf8"
)

// sentenceMarkers are the boundaries tried after paragraphs. The marker stays
// with the preceding piece so concatenation reproduces the original text.
var sentenceMarkers = []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}

// splitFragment breaks text into pieces of at most threshold bytes. A text at
// or under the threshold comes back as a single piece. Break preference:
// paragraph boundary, then sentence boundary, then whitespace, then a hard
// cut backed off to a rune boundary. Concatenating the pieces in order
// reproduces the input exactly.
func splitFragment(text string, threshold int) []string {
	if threshold <= 0 || len(text) <= threshold {
		return []string{text}
	}

	var pieces []string
	rest := text
	for len(rest) > threshold {
		cut := splitPoint(rest, threshold)
		pieces = append(pieces, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		pieces = append(pieces, rest)
	}
	return pieces
}

// splitPoint picks the rightmost highest-priority breakpoint within the first
// threshold bytes.
func splitPoint(s string, threshold int) int {
	window := s[:threshold]

	if i := strings.LastIndex(window, "\n\n"); i >= 0 {
		return i + 2
	}

	best := -1
	for _, marker := range sentenceMarkers {
		if i := strings.LastIndex(window, marker); i >= 0 && i+len(marker) > best {
			best = i + len(marker)
		}
	}
	if best > 0 {
		return best
	}

	if i := strings.LastIndexAny(window, " \t\n"); i >= 0 {
		return i + 1
	}

	// Hard cut: back off so a multi-byte rune is never bisected. If the
	// window is all continuation bytes (threshold smaller than one rune),
	// advance to the next boundary instead so the loop always progresses.
	cut := threshold
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		cut = threshold
		for cut < len(s) && !utf8.RuneStart(s[cut]) {
			cut++
		}
	}
	return cut
}
