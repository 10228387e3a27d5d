package agentloop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// CommandSpec describes one external process invocation.
type CommandSpec struct {
	Name    string
	Args    []string
	Dir     string
	Stdin   string
	Timeout time.Duration
	// Env entries are appended to the filtered parent environment.
	Env map[string]string
}

// ShellCommand builds a spec that runs command through /bin/sh -c.
func ShellCommand(command, dir string, timeout time.Duration) CommandSpec {
	return CommandSpec{Name: "/bin/sh", Args: []string{"-c", command}, Dir: dir, Timeout: timeout}
}

// Argv renders the command line for logs.
func (c CommandSpec) Argv() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Output returns combined stdout and stderr.
func (r ExecResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Success reports a clean exit within the deadline.
func (r ExecResult) Success() bool { return !r.TimedOut && r.ExitCode == 0 }

// TransportTimeout is returned by collaborators when a subprocess outlives
// its deadline and is killed.
type TransportTimeout struct {
	Command string
	Timeout time.Duration
}

func (e *TransportTimeout) Error() string {
	return fmt.Sprintf("command %q timed out after %s", e.Command, e.Timeout)
}

// CommandError is a subprocess that ran to completion with a non-zero exit.
type CommandError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %q exited with status %d: %s", e.Command, e.ExitCode, TruncateOutput(out, 500, TruncateTail))
}

// Runner executes external processes.
type Runner interface {
	// Run starts the command and waits for it. A non-zero exit or a timeout
	// is reported through ExecResult, not as an error; the error is reserved
	// for commands that could not be started or a cancelled ctx.
	Run(ctx context.Context, spec CommandSpec) (*ExecResult, error)
}

// LocalRunner runs commands on this machine in their own process group so
// that a timeout kills the whole tree.
type LocalRunner struct {
	logger   *slog.Logger
	logLimit int
}

// NewLocalRunner returns a runner that logs every command it runs.
func NewLocalRunner(logger *slog.Logger) *LocalRunner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LocalRunner{logger: logger, logLimit: 2000}
}

func (r *LocalRunner) Run(ctx context.Context, spec CommandSpec) (*ExecResult, error) {
	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	env := filterEnvironment(os.Environ())
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return result, ctx.Err()
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			result.TimedOut = true
			result.ExitCode = -1
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			r.logger.Warn("command failed to start", "argv", spec.Argv(), "dir", spec.Dir, "error", err)
			return nil, fmt.Errorf("run %s: %w", spec.Name, err)
		}
	}

	level := slog.LevelDebug
	if result.TimedOut {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "command finished",
		"argv", spec.Argv(),
		"dir", spec.Dir,
		"exit_code", result.ExitCode,
		"timed_out", result.TimedOut,
		"duration", result.Duration,
		"output", TruncateOutput(result.Output(), r.logLimit, TruncateHeadTail),
	)
	return result, nil
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that are withheld from child processes.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always passed through.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"SSH_AUTH_SOCK": true, "GIT_SSH_COMMAND": true,
	"GIT_AUTHOR_NAME": true, "GIT_AUTHOR_EMAIL": true,
	"GIT_COMMITTER_NAME": true, "GIT_COMMITTER_EMAIL": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// filterEnvironment drops credential-looking variables from environ.
func filterEnvironment(environ []string) []string {
	filtered := make([]string, 0, len(environ))
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, kv)
		}
	}
	return filtered
}
