package agentloop

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunLogLayout(t *testing.T) {
	root := t.TempDir()
	var console bytes.Buffer
	l, err := NewRunLog(root, &console, slog.LevelInfo)
	require.NoError(t, err)
	defer l.Close()

	assert.Len(t, l.ID, 8)
	rel, err := filepath.Rel(root, l.Dir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.ToSlash(rel), LogDirName+"/logs/"))
	assert.True(t, strings.HasSuffix(rel, "-"+l.ID))

	ignore, err := os.ReadFile(filepath.Join(root, LogDirName, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "*\n", string(ignore))
	assert.FileExists(t, filepath.Join(l.Dir, "transcript.md"))
	assert.FileExists(t, filepath.Join(l.Dir, "session.log"))
}

func TestRunLogFansOutByLevel(t *testing.T) {
	var console bytes.Buffer
	l, err := NewRunLog(t.TempDir(), &console, slog.LevelInfo)
	require.NoError(t, err)

	l.Logger.Debug("detail only on disk")
	l.Logger.Info("visible everywhere", "step", 3)
	require.NoError(t, l.Close())

	assert.NotContains(t, console.String(), "detail only on disk")
	assert.Contains(t, console.String(), "visible everywhere")
	assert.Contains(t, console.String(), "run="+l.ID)

	data, err := os.ReadFile(filepath.Join(l.Dir, "session.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "detail only on disk")
	assert.Contains(t, string(data), "step=3")
}

func TestRunLogTranscript(t *testing.T) {
	l, err := NewRunLog(t.TempDir(), nil, nil)
	require.NoError(t, err)

	l.WriteHeader("janitor run", map[string]string{"model": "m1", "repo": "/r"}, []string{"repo", "model"})
	l.RecordPinned("system text", "bootstrap text")
	action := Action{Verb: VerbEditFile, Path: "a.go", Old: "x", New: "y", Warnings: []string{"OLD block closed with <<<"}}
	l.RecordTurn(Turn{
		Step:        1,
		Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Prompt:      "bootstrap text",
		Reply:       "ACTION: EDIT_FILE a.go",
		Action:      &action,
		Observation: "EDIT_FILE_OK",
		Validation:  []ValidationAttempt{{Attempt: 1, CommitMessage: "[janitor] edit a.go", Committed: true, Outcome: OutcomeFailed, ExitCode: 1, Output: "FAIL"}},
	})
	l.RecordTurn(Turn{Step: 2, Reply: "hmm", ParseErr: errors.New("no ACTION line found")})
	l.RecordNote("Result", "- state: halted")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(l.Dir, "transcript.md"))
	require.NoError(t, err)
	md := string(data)

	assert.True(t, strings.HasPrefix(md, "# janitor run\n"))
	assert.Less(t, strings.Index(md, "- repo: `/r`"), strings.Index(md, "- model: `m1`"))
	assert.Contains(t, md, "## Step 1 (2026-01-02T03:04:05Z)")
	assert.Contains(t, md, "`verb=EDIT_FILE path=\"a.go\" old_len=1 new_len=1 warnings=1`")
	assert.Contains(t, md, "- warning: OLD block closed with <<<\n\n### Validation attempt 1")
	assert.Contains(t, md, "### Validation attempt 1: failed")
	assert.Contains(t, md, "### Parse error")
	assert.Contains(t, md, "## Result\n\n- state: halted")

	// Writes after Close are dropped.
	l.RecordNote("late", "ignored")
}

func TestFenced(t *testing.T) {
	assert.Equal(t, "```text\nhello\n```\n\n", fenced("text", "hello"))
	assert.Equal(t, "````\nsee ```go\n````\n\n", fenced("", "see ```go\n"))
}
