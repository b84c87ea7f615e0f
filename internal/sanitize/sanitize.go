// Package sanitize turns raw model completions into presentable prose.
// Small local models echo prompts, loop on sentences and leak template
// instructions; every step here is a total function over its input.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	// MaxSegmentLength caps cleaned prose, cut at a sentence boundary.
	MaxSegmentLength = 300
	// FallbackSentence is returned when cleaning leaves nothing usable.
	FallbackSentence = "The adventure continues..."
)

// jsonArrayStart detects a choice-JSON fragment bleeding into prose, a sign
// the model ran past the continuation into the next prompt's instructions.
var jsonArrayStart = regexp.MustCompile(`\[\s*\{`)

// instructionPatterns match template phrases that leak from prompts into
// completions. Matched spans are removed wholesale.
var instructionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)continue the story[^.!?\n]*[.!?:]?`),
	regexp.MustCompile(`(?i)\bstory so far:\s*`),
	regexp.MustCompile(`(?i)\bsetting:\s*`),
	regexp.MustCompile(`(?i)\bsummary:\s*`),
	regexp.MustCompile(`(?i)\bprevious scene:\s*`),
	regexp.MustCompile(`(?i)\bchosen action:\s*`),
	regexp.MustCompile(`(?i)\bwrite one short paragraph[^.!?\n]*[.!?:]?`),
	regexp.MustCompile(`(?i)\bdo not repeat[^.!?\n]*[.!?:]?`),
	regexp.MustCompile(`(?i)\brespond (?:only )?with[^.!?\n]*[.!?:]?`),
	regexp.MustCompile(`(?i)\bas an ai(?: language model)?[^.!?\n]*[.!?:]?`),
	regexp.MustCompile(`(?i)\byour (?:response|answer|task)[^.!?\n]*[.!?:]?`),
}

var (
	whitespaceRuns   = regexp.MustCompile(`\s+`)
	spaceBeforePunct = regexp.MustCompile(`\s+([.!?,;:])`)
	bangRuns         = regexp.MustCompile(`[!]{2,}`)
	questionRuns     = regexp.MustCompile(`[?]{2,}`)
	commaRuns        = regexp.MustCompile(`,{2,}`)
	dotRuns          = regexp.MustCompile(`\.{2,}`)
)

// Clean sanitizes a raw completion. Deterministic and pure; the cleanup
// steps (dedup, cap, normalization, fallback) are idempotent, so cleaning
// already-clean text is a no-op.
func Clean(rawText, prompt string) string {
	text := strings.TrimSpace(rawText)

	// 1. Drop an echoed prompt prefix.
	if p := strings.TrimSpace(prompt); p != "" && strings.HasPrefix(text, p) {
		text = strings.TrimSpace(text[len(p):])
	}

	// 2. Truncate runaway continuation at the first JSON-array fragment.
	if loc := jsonArrayStart.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}

	// 3. Strip leaked template instructions.
	for _, pattern := range instructionPatterns {
		text = pattern.ReplaceAllString(text, "")
	}

	// 4. Deduplicate exact-repeat sentences, keeping first-occurrence order.
	sentences := splitSentences(text)
	if len(sentences) > 1 {
		seen := make(map[string]bool, len(sentences))
		kept := sentences[:0]
		for _, sentence := range sentences {
			key := strings.TrimSpace(sentence)
			if seen[key] {
				continue
			}
			seen[key] = true
			kept = append(kept, sentence)
		}
		text = strings.Join(kept, " ")
	}

	// 5. Hard length cap, cut at the last sentence boundary that fits.
	text = capAtSentenceBoundary(strings.TrimSpace(text), MaxSegmentLength)

	// 6. Normalize whitespace and punctuation.
	text = whitespaceRuns.ReplaceAllString(text, " ")
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	text = bangRuns.ReplaceAllString(text, "!")
	text = questionRuns.ReplaceAllString(text, "?")
	text = commaRuns.ReplaceAllString(text, ",")
	text = dotRuns.ReplaceAllStringFunc(text, func(run string) string {
		if len(run) >= 3 {
			return "..."
		}
		return "."
	})
	text = strings.TrimSpace(text)
	if text != "" {
		runes := []rune(text)
		if !isTerminal(runes[len(runes)-1]) {
			text += "."
		}
	}

	// 7. Never return an empty string.
	if text == "" {
		return FallbackSentence
	}
	return text
}

// splitSentences cuts text after runs of terminal punctuation, keeping the
// punctuation attached to its sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])
		if isTerminal(runes[i]) && (i+1 == len(runes) || !isTerminal(runes[i+1])) {
			sentence := strings.TrimSpace(current.String())
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			current.Reset()
		}
	}
	if tail := strings.TrimSpace(current.String()); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// capAtSentenceBoundary truncates text to at most max runes, cutting at the
// last sentence end that fits. Falls back to a raw rune cut when the first
// sentence alone overruns.
func capAtSentenceBoundary(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	lastBoundary := -1
	for i := 0; i < max; i++ {
		if isTerminal(runes[i]) && (i+1 == len(runes) || !isTerminal(runes[i+1])) {
			lastBoundary = i
		}
	}
	if lastBoundary >= 0 {
		return strings.TrimSpace(string(runes[:lastBoundary+1]))
	}
	// Leave room for the terminal period appended later.
	return strings.TrimSpace(string(runes[:max-1]))
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return unicode.Is(unicode.Sentence_Terminal, r)
}
