package choices

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Small models produce almost-JSON: single quotes, bare keys, missing
// closing brackets, prose around the array. The helpers here carve out the
// array substring and repair the common malformations before parsing.

var (
	jsonFence     = regexp.MustCompile("(?s)```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	unquotedKeys  = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	singleQuoted  = regexp.MustCompile(`'([^']*)'`)
	bareValues    = regexp.MustCompile(`:\s*([A-Za-z][^",:{}\[\]\n]*?)\s*([,}\]])`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

func isValidJSON(s string) bool {
	var js json.RawMessage
	return json.Unmarshal([]byte(s), &js) == nil
}

// extractJSONArray returns the best candidate array substring from raw
// model output, or "" when nothing array-like is present. Code fences win
// over bare brackets.
func extractJSONArray(rawText string) string {
	rawText = strings.TrimSpace(rawText)

	if matches := jsonFence.FindStringSubmatch(rawText); len(matches) > 1 {
		if candidate := arrayCandidate(matches[1]); candidate != "" {
			return candidate
		}
	}
	return arrayCandidate(rawText)
}

func arrayCandidate(text string) string {
	first := strings.Index(text, "[")
	if first == -1 {
		return ""
	}
	last := strings.LastIndex(text, "]")
	if last > first {
		return strings.TrimSpace(text[first : last+1])
	}
	// Unterminated array: take the tail and let bracket balancing close it.
	return strings.TrimSpace(text[first:])
}

// repairJSON applies repairs in escalating order, returning the first
// variant that parses. Returns "" when no variant is valid JSON.
func repairJSON(candidate string) string {
	if isValidJSON(candidate) {
		return candidate
	}

	repaired := singleQuoted.ReplaceAllString(candidate, `"$1"`)
	repaired = unquotedKeys.ReplaceAllString(repaired, `$1"$2":`)
	repaired = bareValues.ReplaceAllString(repaired, `: "$1"$2`)
	repaired = trailingComma.ReplaceAllString(repaired, `$1`)
	if isValidJSON(repaired) {
		return repaired
	}

	balanced := balanceBrackets(repaired)
	if isValidJSON(balanced) {
		return balanced
	}
	return ""
}

// balanceBrackets appends the closing brackets an interrupted completion
// dropped. Brackets inside string literals are ignored.
func balanceBrackets(text string) string {
	curly, square := 0, 0
	inString, escape := false, false

	for _, r := range text {
		if escape {
			escape = false
			continue
		}
		switch {
		case r == '\\':
			escape = true
		case r == '"':
			inString = !inString
		case inString:
		case r == '{':
			curly++
		case r == '}':
			curly--
		case r == '[':
			square++
		case r == ']':
			square--
		}
	}

	// A cut-off string literal needs its quote closed first.
	if inString {
		text += `"`
	}
	for curly > 0 {
		text += "}"
		curly--
	}
	for square > 0 {
		text += "]"
		square--
	}
	return text
}
