package agentloop

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	slogmulti "github.com/samber/slog-multi"
)

// LogDirName is the top-level directory that holds run logs. The sandbox
// refuses it and commits exclude it.
const LogDirName = ".janitor"

// RunLog is the on-disk record of one run: a markdown transcript for
// people and a structured session log.
type RunLog struct {
	ID  string
	Dir string
	// Logger writes to the console handler and, at debug level, to
	// session.log.
	Logger *slog.Logger

	transcript *os.File
	sessionLog *os.File
	mu         sync.Mutex
}

// NewRunLog creates <root>/.janitor/logs/<UTC timestamp>-<id>/. console may
// be nil to log only to the file.
func NewRunLog(root string, console io.Writer, consoleLevel slog.Leveler) (*RunLog, error) {
	id := uuid.NewString()[:8]
	base := filepath.Join(root, LogDirName)
	dir := filepath.Join(base, "logs", time.Now().UTC().Format("20060102T150405Z")+"-"+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run log dir: %w", err)
	}
	ignore := filepath.Join(base, ".gitignore")
	if _, err := os.Stat(ignore); os.IsNotExist(err) {
		_ = os.WriteFile(ignore, []byte("*\n"), 0o644)
	}

	transcript, err := os.OpenFile(filepath.Join(dir, "transcript.md"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	sessionLog, err := os.OpenFile(filepath.Join(dir, "session.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		transcript.Close()
		return nil, fmt.Errorf("open session log: %w", err)
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(sessionLog, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	if console != nil {
		handlers = append(handlers, slog.NewTextHandler(console, &slog.HandlerOptions{Level: consoleLevel}))
	}

	return &RunLog{
		ID:         id,
		Dir:        dir,
		Logger:     slog.New(slogmulti.Fanout(handlers...)).With("run", id),
		transcript: transcript,
		sessionLog: sessionLog,
	}, nil
}

// WriteHeader starts the transcript with the run's settings.
func (l *RunLog) WriteHeader(title string, fields map[string]string, keys []string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "- run: `%s`\n- started: %s\n", l.ID, time.Now().UTC().Format(time.RFC3339))
	for _, k := range keys {
		fmt.Fprintf(&sb, "- %s: `%s`\n", k, fields[k])
	}
	sb.WriteString("\n")
	l.write(sb.String())
}

// RecordPinned writes the system and bootstrap messages once.
func (l *RunLog) RecordPinned(system, bootstrap string) {
	var sb strings.Builder
	sb.WriteString("## System prompt\n\n")
	sb.WriteString(fenced("text", system))
	if bootstrap != "" {
		sb.WriteString("## Bootstrap\n\n")
		sb.WriteString(fenced("markdown", bootstrap))
	}
	l.write(sb.String())
}

// RecordTurn appends one step to the transcript.
func (l *RunLog) RecordTurn(t Turn) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Step %d (%s)\n\n", t.Step, t.Timestamp.UTC().Format(time.RFC3339))
	sb.WriteString("### Prompt\n\n")
	sb.WriteString(fenced("text", t.Prompt))
	sb.WriteString("### Reply\n\n")
	sb.WriteString(fenced("text", t.Reply))
	switch {
	case t.Action != nil:
		fmt.Fprintf(&sb, "### Action\n\n`%s`\n\n", t.Action.Summary())
		for _, w := range t.Action.Warnings {
			fmt.Fprintf(&sb, "- warning: %s\n", w)
		}
		if len(t.Action.Warnings) > 0 {
			sb.WriteString("\n")
		}
	case t.ParseErr != nil:
		sb.WriteString("### Parse error\n\n")
		sb.WriteString(fenced("text", t.ParseErr.Error()))
	}
	for _, v := range t.Validation {
		fmt.Fprintf(&sb, "### Validation attempt %d: %s\n\n", v.Attempt, v.Outcome)
		fmt.Fprintf(&sb, "- commit: `%s` (committed: %v)\n- exit code: %d\n- duration: %s\n\n", v.CommitMessage, v.Committed, v.ExitCode, v.Duration)
		if v.Output != "" {
			sb.WriteString(fenced("text", v.Output))
		}
	}
	sb.WriteString("### Observation\n\n")
	sb.WriteString(fenced("text", t.Observation))
	l.write(sb.String())
}

// RecordNote appends a free-form section, used for the final summary.
func (l *RunLog) RecordNote(title, body string) {
	l.write(fmt.Sprintf("## %s\n\n%s\n\n", title, body))
}

func (l *RunLog) write(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.transcript == nil {
		return
	}
	if _, err := l.transcript.WriteString(s); err != nil {
		l.Logger.Warn("transcript write failed", "error", err)
	}
}

// Close flushes and closes both files.
func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, f := range []*os.File{l.transcript, l.sessionLog} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.transcript, l.sessionLog = nil, nil
	return firstErr
}

// fenced wraps body in a markdown code fence longer than any backtick run
// inside it.
func fenced(lang, body string) string {
	longest, run := 0, 0
	for _, r := range body {
		if r == '`' {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	fence := strings.Repeat("`", max(3, longest+1))
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return fence + lang + "\n" + body + fence + "\n\n"
}
