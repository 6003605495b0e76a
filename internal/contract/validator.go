// ABOUTME: Structural tag-grammar validator and corrector for structured model output
// ABOUTME: Normalizes tag casing, escapes nested collisions, and rejects uncorrectable structure

package contract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Sentinel replaces the entire output when the structure cannot be
// corrected. It is delivered as a single delta: partial delivery of an
// invalid structure is meaningless.
const Sentinel = "[structured output unavailable: the upstream response did not satisfy the output contract]"

// The expected document shape, in order:
//
//	[<scratch>...</scratch>]
//	[<search_intent>...</search_intent>]
//	<reasoning>
//	  <phase n="1" title="...">...</phase>   (one or more, n strictly 1..k)
//	</reasoning>
//	<final_answer>
//	  ...answer text...
//	  <!-- followups: ["...", ...] -->
//	</final_answer>

// ViolationError describes an uncorrectable structural violation.
type ViolationError struct {
	Detail string
}

func (e *ViolationError) Error() string {
	return "output contract violation: " + e.Detail
}

var (
	// Known tags, matched case-insensitively for normalization.
	knownTagRe = regexp.MustCompile(`(?i)</?(scratch|search_intent|reasoning|final_answer|phase)\b`)

	scratchRe   = regexp.MustCompile(`(?s)<scratch>(.*?)</scratch>`)
	searchRe    = regexp.MustCompile(`(?s)<search_intent>(.*?)</search_intent>`)
	reasoningRe = regexp.MustCompile(`(?s)<reasoning>(.*)</reasoning>`)
	answerRe    = regexp.MustCompile(`(?s)<final_answer>(.*?)</final_answer>`)
	phaseRe     = regexp.MustCompile(`(?s)<phase\s+n="(\d+)"\s+title="([^"]*)"\s*>(.*?)</phase>`)
	phaseOpenRe = regexp.MustCompile(`<phase\b[^>]*>`)
	followupRe  = regexp.MustCompile(`(?s)<!--\s*followups:\s*(\[.*?\])\s*-->\s*$`)
)

// HasContractTags reports whether the text contains any of the grammar's
// tags. Auto mode uses this to decide between validation and pass-through.
func HasContractTags(text string) bool {
	return knownTagRe.MatchString(text)
}

// Validate checks the reconstructed output against the tag grammar,
// returning the corrected text. Correction is limited to superficial
// tag-casing drift and escaping accidental nested reasoning tags; any other
// structural violation returns a *ViolationError and the caller substitutes
// Sentinel.
func Validate(text string) (string, error) {
	corrected := NormalizeTagCase(text)
	corrected = escapeNestedReasoning(corrected)

	if err := checkStructure(corrected); err != nil {
		return "", err
	}
	return corrected, nil
}

// NormalizeTagCase lowercases known tag names without touching any other
// content. "<Reasoning>" and "<REASONING>" both become "<reasoning>".
func NormalizeTagCase(text string) string {
	return knownTagRe.ReplaceAllStringFunc(text, strings.ToLower)
}

// escapeNestedReasoning escapes literal reasoning tags that appear inside
// the reasoning block body, which would otherwise collide with the real
// closing tag. The outermost open and final close survive.
func escapeNestedReasoning(text string) string {
	open := strings.Index(text, "<reasoning>")
	close := strings.LastIndex(text, "</reasoning>")
	if open < 0 || close < 0 || close <= open {
		return text
	}

	body := text[open+len("<reasoning>") : close]
	body = strings.ReplaceAll(body, "<reasoning>", "&lt;reasoning&gt;")
	body = strings.ReplaceAll(body, "</reasoning>", "&lt;/reasoning&gt;")

	return text[:open+len("<reasoning>")] + body + text[close:]
}

// checkStructure enforces the grammar over already-normalized text.
func checkStructure(text string) error {
	rest := strings.TrimSpace(text)

	// Optional scratch block first.
	if loc := scratchRe.FindStringIndex(rest); loc != nil {
		if strings.TrimSpace(rest[:loc[0]]) != "" {
			return &ViolationError{Detail: "content before scratch block"}
		}
		rest = strings.TrimSpace(rest[loc[1]:])
	}

	// Optional search-intent block next.
	if loc := searchRe.FindStringIndex(rest); loc != nil {
		if strings.TrimSpace(rest[:loc[0]]) != "" {
			return &ViolationError{Detail: "content before search_intent block"}
		}
		rest = strings.TrimSpace(rest[loc[1]:])
	}

	// Exactly one reasoning block.
	if strings.Count(rest, "<reasoning>") != 1 || strings.Count(rest, "</reasoning>") != 1 {
		return &ViolationError{Detail: "expected exactly one reasoning block"}
	}
	reasoningLoc := reasoningRe.FindStringSubmatchIndex(rest)
	if reasoningLoc == nil {
		return &ViolationError{Detail: "malformed reasoning block"}
	}
	if strings.TrimSpace(rest[:reasoningLoc[0]]) != "" {
		return &ViolationError{Detail: "content before reasoning block"}
	}
	reasoningBody := rest[reasoningLoc[2]:reasoningLoc[3]]
	if err := checkPhases(reasoningBody); err != nil {
		return err
	}
	rest = strings.TrimSpace(rest[reasoningLoc[1]:])

	// Immediately followed by exactly one final-answer block.
	if strings.Count(rest, "<final_answer>") != 1 {
		return &ViolationError{Detail: "expected exactly one final_answer block"}
	}
	answerLoc := answerRe.FindStringSubmatchIndex(rest)
	if answerLoc == nil {
		return &ViolationError{Detail: "malformed final_answer block"}
	}
	if strings.TrimSpace(rest[:answerLoc[0]]) != "" {
		return &ViolationError{Detail: "content between reasoning and final_answer"}
	}
	if strings.TrimSpace(rest[answerLoc[1]:]) != "" {
		return &ViolationError{Detail: "content after final_answer block"}
	}

	answerBody := strings.TrimSpace(rest[answerLoc[2]:answerLoc[3]])
	if _, err := Followups(answerBody); err != nil {
		return err
	}
	return nil
}

// checkPhases verifies the reasoning body holds one or more phases with
// strictly increasing numbers starting at 1, each with exactly one title.
func checkPhases(body string) error {
	opens := phaseOpenRe.FindAllString(body, -1)
	phases := phaseRe.FindAllStringSubmatch(body, -1)

	if len(phases) == 0 {
		return &ViolationError{Detail: "reasoning block has no phases"}
	}
	if len(opens) != len(phases) {
		return &ViolationError{Detail: "malformed phase tag"}
	}

	for i, ph := range phases {
		n, err := strconv.Atoi(ph[1])
		if err != nil || n != i+1 {
			return &ViolationError{Detail: fmt.Sprintf("phase %d out of order (got n=%q)", i+1, ph[1])}
		}
	}

	// Nothing outside phase tags besides whitespace.
	stripped := phaseRe.ReplaceAllString(body, "")
	if strings.TrimSpace(stripped) != "" {
		return &ViolationError{Detail: "content outside phase tags in reasoning block"}
	}
	return nil
}

// Followups extracts the machine-parseable follow-up query list embedded as
// a trailing comment of the final-answer body.
func Followups(answerBody string) ([]string, error) {
	m := followupRe.FindStringSubmatch(answerBody)
	if m == nil {
		return nil, &ViolationError{Detail: "final_answer missing trailing followups comment"}
	}

	var queries []string
	if err := json.Unmarshal([]byte(m[1]), &queries); err != nil {
		return nil, &ViolationError{Detail: "followups comment is not a JSON string array"}
	}
	return queries, nil
}
