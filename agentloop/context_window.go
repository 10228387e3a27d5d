package agentloop

import (
	"fmt"

	"github.com/martinemde/janitor/unifiedllm"
)

// WindowConfig sizes the prompt budget.
type WindowConfig struct {
	MaxContext     int
	MaxReplyTokens int
	SafetyMargin   int
}

// Budget is the number of tokens the prompt may use.
func (c WindowConfig) Budget() int {
	return c.MaxContext - c.MaxReplyTokens - c.SafetyMargin
}

// Window is the prompt chosen for one model call.
type Window struct {
	Messages      []unifiedllm.Message
	Tokens        int
	Budget        int
	DroppedTurns  int
	DroppedTokens int
	// Overflow is set when even the pinned messages and the latest turn
	// exceed the budget. They are sent anyway.
	Overflow bool
}

// ContextWindow fits a transcript into a token budget by dropping the
// oldest turns first.
type ContextWindow struct {
	counter TokenCounter
	cfg     WindowConfig
}

// NewContextWindow returns a window manager. A nil counter falls back to
// ApproxCounter.
func NewContextWindow(counter TokenCounter, cfg WindowConfig) *ContextWindow {
	if counter == nil {
		counter = ApproxCounter{}
	}
	return &ContextWindow{counter: counter, cfg: cfg}
}

// Budget is the configured prompt budget.
func (w *ContextWindow) Budget() int { return w.cfg.Budget() }

// Fit assembles pinned followed by as many of the most recent turns as fit.
// The pinned messages and the latest turn are always included.
func (w *ContextWindow) Fit(pinned []unifiedllm.Message, turns []Turn) Window {
	return w.FitBudget(pinned, turns, w.cfg.Budget())
}

// FitBudget is Fit with an explicit budget, used after a provider rejects
// a prompt the configured budget allowed.
func (w *ContextWindow) FitBudget(pinned []unifiedllm.Message, turns []Turn, budget int) Window {
	pinnedTokens := 0
	for _, m := range pinned {
		pinnedTokens += CountMessage(w.counter, m)
	}
	costs := make([]int, len(turns))
	turnTokens := 0
	for i, t := range turns {
		for _, m := range t.Messages() {
			costs[i] += CountMessage(w.counter, m)
		}
		turnTokens += costs[i]
	}

	first := 0
	dropped := 0
	used := pinnedTokens + turnTokens
	noteTokens := 0
	for used+noteTokens > budget && first < len(turns)-1 {
		used -= costs[first]
		dropped += costs[first]
		first++
		noteTokens = CountMessage(w.counter, unifiedllm.UserMessage(omissionNote(first, dropped)))
	}

	msgs := make([]unifiedllm.Message, 0, len(pinned)+1+2*(len(turns)-first))
	msgs = append(msgs, pinned...)
	if first > 0 {
		msgs = append(msgs, unifiedllm.UserMessage(omissionNote(first, dropped)))
	}
	for _, t := range turns[first:] {
		msgs = append(msgs, t.Messages()...)
	}

	return Window{
		Messages:      msgs,
		Tokens:        used + noteTokens,
		Budget:        budget,
		DroppedTurns:  first,
		DroppedTokens: dropped,
		Overflow:      used+noteTokens > budget,
	}
}

func omissionNote(turns, tokens int) string {
	return fmt.Sprintf("[%d earlier turns (about %d tokens) were omitted to fit the context window. Re-read files if you need their current contents.]", turns, tokens)
}
