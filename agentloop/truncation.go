package agentloop

import (
	"fmt"
	"unicode/utf8"
)

// TruncationMode picks which part of an oversized text survives.
type TruncationMode string

const (
	// TruncateHeadTail keeps both ends and drops the middle.
	TruncateHeadTail TruncationMode = "head_tail"
	// TruncateTail keeps the end only.
	TruncateTail TruncationMode = "tail"
)

// ValidationOutputLimit caps the build output quoted back to the model.
const ValidationOutputLimit = 4000

type observationBudget struct {
	chars int
	mode  TruncationMode
}

// observationBudgets bound each verb's observation. READ_FILE trims to
// whole lines itself, so its budget only has to cover the framing. Results
// of mutating verbs matter most at the end, where errors are reported.
var observationBudgets = map[Verb]observationBudget{
	VerbReadFile:   {52000, TruncateHeadTail},
	VerbListDir:    {20000, TruncateHeadTail},
	VerbEditFile:   {10000, TruncateTail},
	VerbWriteFile:  {2000, TruncateTail},
	VerbApplyPatch: {10000, TruncateTail},
}

// defaultBudget covers corrective messages and verbs without an entry.
var defaultBudget = observationBudget{30000, TruncateHeadTail}

// TruncateOutput shortens s to at most maxChars bytes of content plus a
// marker saying how much was removed. Cuts fall on rune boundaries.
// maxChars <= 0 disables it.
func TruncateOutput(s string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	if mode == TruncateTail {
		start := runeCeil(s, len(s)-maxChars)
		return fmt.Sprintf("[WARNING: output truncated. The first %d characters were removed.]\n\n%s", start, s[start:])
	}
	half := maxChars / 2
	head := s[:runeFloor(s, half)]
	tail := s[runeCeil(s, len(s)-half):]
	cut := len(s) - len(head) - len(tail)
	return fmt.Sprintf("%s\n\n[WARNING: output truncated. %d characters were removed from the middle. "+
		"The run log transcript has the full text.]\n\n%s", head, cut, tail)
}

// runeFloor returns the largest rune start in s at or before i.
func runeFloor(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// runeCeil returns the smallest rune start in s at or after i.
func runeCeil(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

// TruncateObservation bounds text before it enters the transcript.
// overrides replaces the character budget for the verbs it names.
func TruncateObservation(verb Verb, text string, overrides map[Verb]int) string {
	b, ok := observationBudgets[verb]
	if !ok {
		b = defaultBudget
	}
	if n, ok := overrides[verb]; ok {
		b.chars = n
	}
	return TruncateOutput(text, b.chars, b.mode)
}
