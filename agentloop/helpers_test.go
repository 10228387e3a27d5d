package agentloop

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeIgnore marks paths whose base name is in names as ignored.
type fakeIgnore struct {
	names map[string]bool
	calls int
	err   error
}

func (f *fakeIgnore) CheckIgnore(_ context.Context, paths []string) (map[string]bool, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]bool)
	for _, p := range paths {
		if f.names[filepath.Base(p)] {
			out[p] = true
		}
	}
	return out, nil
}

// scriptedRunner returns canned results in order and records every spec.
type scriptedRunner struct {
	mu      sync.Mutex
	results []*ExecResult
	errs    []error
	specs   []CommandSpec
}

func (r *scriptedRunner) Run(_ context.Context, spec CommandSpec) (*ExecResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
	i := len(r.specs) - 1
	var err error
	if i < len(r.errs) {
		err = r.errs[i]
	}
	if i < len(r.results) && r.results[i] != nil {
		return r.results[i], err
	}
	return &ExecResult{}, err
}

func writeTestFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	return abs
}

func readTestFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

// initGitRepo creates a repository with one commit and a fixed identity.
func initGitRepo(t *testing.T, root string) {
	t.Helper()
	requireBinary(t, "git")
	t.Setenv("GIT_AUTHOR_NAME", "Test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "Test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@example.com")
	t.Setenv("GIT_CONFIG_GLOBAL", os.DevNull)
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")

	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "commit.gpgsign", "false"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	writeTestFile(t, root, "README.md", "# test\n")
	for _, args := range [][]string{
		{"add", "README.md"},
		{"commit", "-q", "-m", "initial"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
}

func gitOutput(t *testing.T, root string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = root
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return string(out)
}
