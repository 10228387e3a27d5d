package agentloop

import (
	"time"

	"github.com/martinemde/janitor/unifiedllm"
)

// Turn is one model exchange: the prompt it answered, its reply, what the
// reply decoded to and the observation fed back.
type Turn struct {
	Step      int
	Timestamp time.Time
	// Prompt is the user message the reply answered.
	Prompt   string
	Reply    string
	Action   *Action
	ParseErr error
	// Observation is the text sent back to the model for the next step.
	Observation string
	Validation  []ValidationAttempt
	Usage       unifiedllm.Usage
}

// Messages renders the turn as the assistant reply and the observation
// that followed it.
func (t Turn) Messages() []unifiedllm.Message {
	msgs := []unifiedllm.Message{unifiedllm.AssistantMessage(t.Reply)}
	if t.Observation != "" {
		msgs = append(msgs, unifiedllm.UserMessage(t.Observation))
	}
	return msgs
}

// Transcript is the append-only history of a run.
type Transcript struct {
	turns []Turn
}

// Append adds a turn to the end.
func (t *Transcript) Append(turn Turn) {
	t.turns = append(t.turns, turn)
}

// Turns returns a copy of the history.
func (t *Transcript) Turns() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns recorded.
func (t *Transcript) Len() int { return len(t.turns) }

// Last returns the most recent turn, if any.
func (t *Transcript) Last() (Turn, bool) {
	if len(t.turns) == 0 {
		return Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}

// ActionSignatures returns the signatures of the last count parsed actions
// in chronological order. Turns without an action are skipped.
func (t *Transcript) ActionSignatures(count int) []string {
	var sigs []string
	for i := len(t.turns) - 1; i >= 0 && len(sigs) < count; i-- {
		if a := t.turns[i].Action; a != nil {
			sigs = append(sigs, a.Signature())
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}
