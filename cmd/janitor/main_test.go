package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/janitor/agentloop"
	"github.com/martinemde/janitor/config"
	"github.com/martinemde/janitor/unifiedllm"
)

// fixedCompleter gives the same reply, or the same error, to every request.
type fixedCompleter struct {
	reply string
	err   error
	calls int
}

func (c *fixedCompleter) Complete(context.Context, unifiedllm.Request) (*unifiedllm.Response, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &unifiedllm.Response{Message: unifiedllm.AssistantMessage(c.reply)}, nil
}

func useCompleter(t *testing.T, c agentloop.Completer) {
	t.Helper()
	orig := newCompleter
	newCompleter = func(*config.Config, *slog.Logger) (agentloop.Completer, error) { return c, nil }
	t.Cleanup(func() { newCompleter = orig })
}

func runInRepo(t *testing.T, extra ...string) (int, string, string) {
	t.Helper()
	t.Setenv("JANITOR_REPO_ROOT", t.TempDir())
	var stdout, stderr bytes.Buffer
	args := append([]string{"-provider", "ollama", "-validate", "", "-log-level", "error"}, extra...)
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsageErrors(t *testing.T) {
	t.Setenv("JANITOR_REPO_ROOT", t.TempDir())
	var stdout, stderr bytes.Buffer

	assert.Equal(t, exitUsage, run([]string{"-provider", "acme"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "janitor: invalid configuration")

	stderr.Reset()
	assert.Equal(t, exitUsage, run([]string{"-max-steps", "x"}, &stdout, &stderr))
}

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitHalted, run([]string{"-h"}, &stdout, &stderr))
}

func TestRunExitCodes(t *testing.T) {
	cases := []struct {
		name      string
		completer *fixedCompleter
		want      int
		summary   string
		calls     int
	}{
		{"halted", &fixedCompleter{reply: "Nothing to do.\nACTION: HALT"}, exitHalted, "halted after 1 steps", 1},
		{"step limit", &fixedCompleter{reply: "ACTION: LIST_DIR"}, exitStepLimit, "step_limit_reached after 2 steps", 2},
		{"aborted", &fixedCompleter{err: unifiedllm.ErrorFromStatusCode(401, "invalid api key", "ollama", nil)}, exitAborted, "aborted after 0 steps", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			useCompleter(t, tc.completer)
			code, stdout, stderr := runInRepo(t, "-max-steps", "2")
			require.Equal(t, tc.want, code, "stderr: %s", stderr)
			assert.Contains(t, stdout, tc.summary)
			assert.Equal(t, tc.calls, tc.completer.calls)
			if tc.want == exitAborted {
				assert.Contains(t, stderr, "janitor: ")
				assert.Contains(t, stderr, "invalid api key")
			}
		})
	}
}
