package agentloop

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/janitor/unifiedllm"
)

// byteCounter charges one token per byte so budgets are easy to reason about.
type byteCounter struct{}

func (byteCounter) Count(text string) int { return len(text) }

// makeTurns returns n turns costing 200 tokens each under byteCounter.
func makeTurns(n int) []Turn {
	turns := make([]Turn, n)
	for i := range turns {
		turns[i] = Turn{
			Step:        i + 1,
			Reply:       strings.Repeat(string(rune('a'+i)), 96),
			Observation: strings.Repeat(string(rune('A'+i)), 96),
		}
	}
	return turns
}

func TestContextWindowFitsEverything(t *testing.T) {
	w := NewContextWindow(byteCounter{}, WindowConfig{MaxContext: 10000, MaxReplyTokens: 1000})
	pinned := []unifiedllm.Message{unifiedllm.SystemMessage("system")}

	win := w.Fit(pinned, makeTurns(3))
	assert.Len(t, win.Messages, 7)
	assert.Equal(t, 0, win.DroppedTurns)
	assert.Equal(t, 10+600, win.Tokens)
	assert.Equal(t, 9000, win.Budget)
	assert.False(t, win.Overflow)
}

func TestContextWindowDropsOldestTurns(t *testing.T) {
	w := NewContextWindow(byteCounter{}, WindowConfig{MaxContext: 700, MaxReplyTokens: 100})
	pinned := []unifiedllm.Message{
		unifiedllm.SystemMessage("system"),
		unifiedllm.UserMessage("bootstrap"),
	}
	turns := makeTurns(5)

	win := w.Fit(pinned, turns)
	require.Equal(t, 3, win.DroppedTurns)
	assert.Equal(t, 600, win.DroppedTokens)
	assert.False(t, win.Overflow)
	assert.LessOrEqual(t, win.Tokens, win.Budget)

	require.Len(t, win.Messages, 2+1+4)
	assert.Equal(t, "system", win.Messages[0].Text)
	assert.Equal(t, "bootstrap", win.Messages[1].Text)
	assert.Equal(t, omissionNote(3, 600), win.Messages[2].Text)
	assert.Equal(t, turns[3].Reply, win.Messages[3].Text)
	assert.Equal(t, turns[4].Observation, win.Messages[6].Text)
}

func TestContextWindowKeepsLatestTurnOnOverflow(t *testing.T) {
	w := NewContextWindow(byteCounter{}, WindowConfig{MaxContext: 150, MaxReplyTokens: 50, SafetyMargin: 20})
	pinned := []unifiedllm.Message{unifiedllm.SystemMessage("system")}
	turns := makeTurns(4)

	win := w.Fit(pinned, turns)
	assert.True(t, win.Overflow)
	assert.Equal(t, 3, win.DroppedTurns)
	assert.Equal(t, 80, win.Budget)
	require.Len(t, win.Messages, 1+1+2)
	assert.Equal(t, turns[3].Reply, win.Messages[2].Text)
}

func TestContextWindowFitBudget(t *testing.T) {
	w := NewContextWindow(byteCounter{}, WindowConfig{MaxContext: 10000, MaxReplyTokens: 1000})
	pinned := []unifiedllm.Message{unifiedllm.SystemMessage("system")}
	turns := makeTurns(3)

	assert.Equal(t, 9000, w.Budget())
	assert.Equal(t, 0, w.Fit(pinned, turns).DroppedTurns)

	win := w.FitBudget(pinned, turns, 300)
	assert.Equal(t, 300, win.Budget)
	assert.Equal(t, 2, win.DroppedTurns)
	require.Len(t, win.Messages, 1+1+2)
	assert.Equal(t, turns[2].Reply, win.Messages[2].Text)
}

func TestContextWindowWithoutTurns(t *testing.T) {
	w := NewContextWindow(nil, WindowConfig{MaxContext: 10, MaxReplyTokens: 5})
	win := w.Fit([]unifiedllm.Message{unifiedllm.SystemMessage(strings.Repeat("x", 400))}, nil)
	assert.Len(t, win.Messages, 1)
	assert.True(t, win.Overflow)
	assert.Equal(t, 0, win.DroppedTurns)
}

func TestApproxCounter(t *testing.T) {
	c := ApproxCounter{}
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("a"))
	assert.Equal(t, 1, c.Count("abcd"))
	assert.Equal(t, 2, c.Count("abcde"))
	assert.Equal(t, 2+messageOverhead, CountMessage(c, unifiedllm.UserMessage("abcdefgh")))
}

func TestBPECounter(t *testing.T) {
	c, err := NewBPECounter()
	require.NoError(t, err)
	assert.Equal(t, 0, c.Count(""))
	n := c.Count("The quick brown fox jumps over the lazy dog.")
	assert.Greater(t, n, 5)
	assert.Less(t, n, 20)
	assert.Greater(t, c.Count(strings.Repeat("func main() {}\n", 100)), c.Count("func main() {}\n"))
}
