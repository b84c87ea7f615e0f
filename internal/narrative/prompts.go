package narrative

import (
	"fmt"
	"strings"

	"fable-server/internal/models"
)

const (
	narratorSystemPrompt = "You are the narrator of an atmospheric fantasy adventure. " +
		"Write vivid second-person prose in English. Keep responses short."

	choiceSystemPrompt = "You design branching choices for an interactive story. " +
		"Respond only with JSON, no prose before or after."

	summarySystemPrompt = "You compress story text into short summaries that preserve " +
		"key events, named places and the current goal."
)

// lastSentenceCount is how much of the prior segment the continuation
// prompt echoes for local coherence.
const lastSentenceCount = 2

func openingPrompt() string {
	var b strings.Builder
	b.WriteString("Begin a new adventure. The hero stands at the edge of a vast forest at dusk.\n")
	b.WriteString("Write one short paragraph (2-4 sentences) describing the opening scene ")
	b.WriteString("in second person. End at a moment that invites a decision.")
	return b.String()
}

// continuationPrompt builds the next-scene prompt. The refreshed variant
// runs right after a summary reset, so it re-anchors the model with
// metadata and warns it off repeating summary phrasing; the regular
// variant instead echoes the chosen option directly.
func continuationPrompt(summary, priorTail string, choice models.Choice, setting models.EnvironmentKey, refreshed bool, meta models.StoryMetadata) string {
	var b strings.Builder
	b.WriteString("Story so far: ")
	b.WriteString(summary)
	b.WriteString("\n")
	if priorTail != "" {
		b.WriteString("Previous scene: ")
		b.WriteString(priorTail)
		b.WriteString("\n")
	}
	if refreshed {
		fmt.Fprintf(&b, "Mood: %s. Time of day: %s. Weather: %s.\n", meta.Mood, meta.TimeOfDay, meta.Weather)
		b.WriteString("The hero chose: ")
		b.WriteString(choice.Consequence)
		b.WriteString("\n")
		b.WriteString("Do not repeat phrases from the story so far.\n")
	} else {
		fmt.Fprintf(&b, "Chosen action: %s. %s\n", choice.Text, choice.Consequence)
	}
	fmt.Fprintf(&b, "Setting: %s.\n", setting)
	b.WriteString("Continue the story with one short paragraph (2-3 sentences) in second person.")
	return b.String()
}

func choicesPrompt(segmentText string) string {
	var b strings.Builder
	b.WriteString("Scene: ")
	b.WriteString(segmentText)
	b.WriteString("\n")
	b.WriteString(`Respond only with a JSON array of exactly 2 objects, each with "text" `)
	b.WriteString(`(a short action, max 8 words) and "consequence" (one sentence of what happens). `)
	b.WriteString("The two actions must lead in clearly different directions.\n")
	b.WriteString(`Example: [{"text":"Enter the cave","consequence":"Darkness swallows you."},` +
		`{"text":"Circle around","consequence":"You keep to the fading light."}]`)
	return b.String()
}

// summaryPrompt folds new text into the running summary.
func summaryPrompt(newText, previousSummary string) string {
	var b strings.Builder
	if previousSummary != "" {
		b.WriteString("Summary: ")
		b.WriteString(previousSummary)
		b.WriteString("\n")
	}
	b.WriteString("New events: ")
	b.WriteString(newText)
	b.WriteString("\n")
	b.WriteString("Summarize everything above in at most 3 sentences.")
	return b.String()
}

// freshSummaryPrompt rewrites the accumulated summary from scratch. Used on
// refresh turns to shed stale phrasing the model has started to loop on.
func freshSummaryPrompt(accumulated string) string {
	var b strings.Builder
	b.WriteString("Story so far: ")
	b.WriteString(accumulated)
	b.WriteString("\n")
	b.WriteString("Write a fresh, concise summary of this story in at most 3 sentences. ")
	b.WriteString("Use your own wording; keep only the essential events and the hero's current situation.")
	return b.String()
}

// tailSentences returns the last n sentences of text, used to anchor the
// continuation prompt to the immediate scene.
func tailSentences(text string, n int) string {
	var boundaries []int
	runes := []rune(text)
	for i, r := range runes {
		switch r {
		case '.', '!', '?':
			if i+1 == len(runes) || runes[i+1] != r {
				boundaries = append(boundaries, i)
			}
		}
	}
	if len(boundaries) <= n {
		return strings.TrimSpace(text)
	}
	start := boundaries[len(boundaries)-1-n] + 1
	return strings.TrimSpace(string(runes[start:]))
}
