package agentloop

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateOutputShortInputUnchanged(t *testing.T) {
	assert.Equal(t, "hello", TruncateOutput("hello", 10, TruncateHeadTail))
	assert.Equal(t, "hello", TruncateOutput("hello", 5, TruncateTail))
	assert.Equal(t, "hello", TruncateOutput("hello", 0, TruncateTail), "non-positive limit disables truncation")
}

func TestTruncateOutputHeadTail(t *testing.T) {
	in := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	out := TruncateOutput(in, 20, TruncateHeadTail)

	assert.True(t, strings.HasPrefix(out, strings.Repeat("a", 10)+"\n\n[WARNING"))
	assert.True(t, strings.HasSuffix(out, "]\n\n"+strings.Repeat("b", 10)))
	assert.Contains(t, out, "80 characters were removed from the middle")
}

func TestTruncateOutputTail(t *testing.T) {
	in := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	out := TruncateOutput(in, 20, TruncateTail)

	assert.Equal(t, "[WARNING: output truncated. The first 80 characters were removed.]\n\n"+strings.Repeat("b", 20), out)
}

func TestTruncateObservation(t *testing.T) {
	long := strings.Repeat("x", 40000)

	out := TruncateObservation(VerbWriteFile, long, nil)
	assert.Contains(t, out, "The first 38000 characters were removed")

	out = TruncateObservation(VerbListDir, long, map[Verb]int{VerbListDir: 100})
	assert.Contains(t, out, "39900 characters were removed from the middle")

	out = TruncateObservation(Verb("CORRECTION"), long, nil)
	assert.Contains(t, out, "10000 characters were removed from the middle")

	assert.Equal(t, "short", TruncateObservation(VerbReadFile, "short", nil))
}

func TestTruncateOutputKeepsRunesWhole(t *testing.T) {
	in := strings.Repeat("é", 30) // 60 bytes, two per rune

	tail := TruncateOutput(in, 21, TruncateTail)
	assert.True(t, utf8.ValidString(tail))
	assert.Contains(t, tail, "The first 40 characters were removed")
	assert.True(t, strings.HasSuffix(tail, strings.Repeat("é", 10)))

	mid := TruncateOutput(in, 23, TruncateHeadTail)
	assert.True(t, utf8.ValidString(mid))
	assert.True(t, strings.HasPrefix(mid, strings.Repeat("é", 5)+"\n\n[WARNING"))
	assert.True(t, strings.HasSuffix(mid, "]\n\n"+strings.Repeat("é", 5)))
	assert.Contains(t, mid, "40 characters were removed from the middle")
}
