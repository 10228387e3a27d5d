package agentloop

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// VersionControl records and publishes the working tree.
type VersionControl interface {
	// CommitAll stages every change outside the log directory and commits it.
	// It reports false when there was nothing to commit.
	CommitAll(ctx context.Context, message string) (bool, error)
	Push(ctx context.Context) error
}

// IgnoreChecker reports which of the given absolute paths are ignored.
type IgnoreChecker interface {
	CheckIgnore(ctx context.Context, paths []string) (map[string]bool, error)
}

// GitClient drives the git CLI in a repository checkout.
type GitClient struct {
	runner  Runner
	root    string
	logDir  string
	remote  string
	branch  string
	timeout time.Duration
}

// GitOption configures a GitClient.
type GitOption func(*GitClient)

// WithRemote pushes to remote and branch instead of the upstream default.
func WithRemote(remote, branch string) GitOption {
	return func(g *GitClient) {
		g.remote = remote
		g.branch = branch
	}
}

// WithGitTimeout bounds every git invocation.
func WithGitTimeout(d time.Duration) GitOption {
	return func(g *GitClient) { g.timeout = d }
}

// WithExcludedDir keeps dir (relative to root) out of every commit.
func WithExcludedDir(dir string) GitOption {
	return func(g *GitClient) { g.logDir = dir }
}

// NewGitClient returns a client rooted at root.
func NewGitClient(runner Runner, root string, opts ...GitOption) *GitClient {
	g := &GitClient{runner: runner, root: root, logDir: LogDirName, timeout: 5 * time.Minute}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GitClient) git(ctx context.Context, stdin string, args ...string) (*ExecResult, error) {
	spec := CommandSpec{Name: "git", Args: args, Dir: g.root, Stdin: stdin, Timeout: g.timeout}
	res, err := g.runner.Run(ctx, spec)
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		return res, &TransportTimeout{Command: spec.Argv(), Timeout: g.timeout}
	}
	return res, nil
}

func (g *GitClient) CommitAll(ctx context.Context, message string) (bool, error) {
	addArgs := []string{"add", "-A", "--", "."}
	if g.logDir != "" {
		addArgs = append(addArgs, ":(exclude)"+g.logDir)
	}
	res, err := g.git(ctx, "", addArgs...)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		return false, &CommandError{Command: "git add", ExitCode: res.ExitCode, Output: res.Output()}
	}

	res, err = g.git(ctx, "", "diff", "--cached", "--quiet")
	if err != nil {
		return false, err
	}
	if res.ExitCode == 0 {
		return false, nil
	}

	res, err = g.git(ctx, "", "commit", "-m", message)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		if strings.Contains(res.Output(), "nothing to commit") {
			return false, nil
		}
		return false, &CommandError{Command: "git commit", ExitCode: res.ExitCode, Output: res.Output()}
	}
	return true, nil
}

func (g *GitClient) Push(ctx context.Context) error {
	args := []string{"push"}
	if g.remote != "" {
		args = append(args, g.remote)
		if g.branch != "" {
			args = append(args, g.branch)
		}
	}
	res, err := g.git(ctx, "", args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &CommandError{Command: "git push", ExitCode: res.ExitCode, Output: res.Output()}
	}
	return nil
}

// CheckIgnore asks git which paths match an ignore rule. Exit status 1
// means none did.
func (g *GitClient) CheckIgnore(ctx context.Context, paths []string) (map[string]bool, error) {
	ignored := make(map[string]bool, len(paths))
	if len(paths) == 0 {
		return ignored, nil
	}
	stdin := strings.Join(paths, "\x00") + "\x00"
	res, err := g.git(ctx, stdin, "check-ignore", "--stdin", "-z")
	if err != nil {
		return nil, err
	}
	switch res.ExitCode {
	case 0:
		for _, p := range strings.Split(res.Stdout, "\x00") {
			if p != "" {
				ignored[p] = true
			}
		}
		return ignored, nil
	case 1:
		return ignored, nil
	default:
		return nil, fmt.Errorf("git check-ignore: %w", &CommandError{Command: "git check-ignore", ExitCode: res.ExitCode, Output: res.Output()})
	}
}
