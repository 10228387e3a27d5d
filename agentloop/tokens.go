package agentloop

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"github.com/martinemde/janitor/unifiedllm"
)

// TokenCounter estimates how many tokens a piece of text costs.
type TokenCounter interface {
	Count(text string) int
}

// messageOverhead approximates the role and separator tokens each message
// adds on top of its text.
const messageOverhead = 4

// CountMessage returns the estimated cost of m under c.
func CountMessage(c TokenCounter, m unifiedllm.Message) int {
	return c.Count(m.Text) + messageOverhead
}

// ApproxCounter charges one token per four bytes, rounded up.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

// BPECounter counts with the cl100k_base vocabulary. It is an estimate for
// models with other tokenizers, which is all the window manager needs.
type BPECounter struct {
	codec    tokenizer.Codec
	fallback ApproxCounter
}

// NewBPECounter loads the embedded cl100k_base vocabulary.
func NewBPECounter() (*BPECounter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &BPECounter{codec: codec}, nil
}

func (c *BPECounter) Count(text string) int {
	n, err := c.codec.Count(text)
	if err != nil {
		return c.fallback.Count(text)
	}
	return n
}
