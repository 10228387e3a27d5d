package agentloop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGitRepo(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	initGitRepo(t, root)
	return root
}

func TestGitClientCommitAll(t *testing.T) {
	root := newGitRepo(t)
	g := NewGitClient(NewLocalRunner(nil), root)
	ctx := context.Background()

	writeTestFile(t, root, "src/main.go", "package main\n")
	writeTestFile(t, root, LogDirName+"/logs/run/transcript.md", "# run\n")

	committed, err := g.CommitAll(ctx, CommitPrefix+" write src/main.go")
	require.NoError(t, err)
	assert.True(t, committed)

	assert.Equal(t, CommitPrefix+" write src/main.go\n", gitOutput(t, root, "log", "-1", "--format=%s"))
	files := gitOutput(t, root, "show", "--name-only", "--format=", "HEAD")
	assert.Contains(t, files, "src/main.go")
	assert.NotContains(t, files, LogDirName)

	committed, err = g.CommitAll(ctx, CommitPrefix+" nothing")
	require.NoError(t, err)
	assert.False(t, committed, "a clean tree has nothing to commit")
}

func TestGitClientCommitsDeletions(t *testing.T) {
	root := newGitRepo(t)
	g := NewGitClient(NewLocalRunner(nil), root)

	require.NoError(t, os.Remove(filepath.Join(root, "README.md")))
	committed, err := g.CommitAll(context.Background(), "remove readme")
	require.NoError(t, err)
	assert.True(t, committed)
	assert.Contains(t, gitOutput(t, root, "show", "--name-status", "--format=", "HEAD"), "D\tREADME.md")
}

func TestGitClientPush(t *testing.T) {
	root := newGitRepo(t)
	bare := t.TempDir()
	gitOutput(t, bare, "init", "-q", "--bare")
	gitOutput(t, root, "remote", "add", "origin", bare)

	g := NewGitClient(NewLocalRunner(nil), root, WithRemote("origin", "HEAD:refs/heads/janitor"))
	require.NoError(t, g.Push(context.Background()))

	head := gitOutput(t, root, "rev-parse", "HEAD")
	assert.Equal(t, head, gitOutput(t, bare, "rev-parse", "refs/heads/janitor"))
}

func TestGitClientPushWithoutRemoteFails(t *testing.T) {
	root := newGitRepo(t)
	g := NewGitClient(NewLocalRunner(nil), root, WithRemote("nowhere", ""))

	err := g.Push(context.Background())
	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "git push", cmdErr.Command)
	assert.NotZero(t, cmdErr.ExitCode)
}

func TestGitClientCheckIgnore(t *testing.T) {
	root := newGitRepo(t)
	writeTestFile(t, root, ".gitignore", "*.log\nbuild\n")
	writeTestFile(t, root, "app.log", "")
	writeTestFile(t, root, "build/out.bin", "")
	writeTestFile(t, root, "main.go", "")
	g := NewGitClient(NewLocalRunner(nil), root)

	paths := []string{
		filepath.Join(root, "app.log"),
		filepath.Join(root, "build"),
		filepath.Join(root, "main.go"),
	}
	ignored, err := g.CheckIgnore(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{paths[0]: true, paths[1]: true}, ignored)

	ignored, err = g.CheckIgnore(context.Background(), paths[2:])
	require.NoError(t, err)
	assert.Empty(t, ignored)
}

func TestGitClientArgs(t *testing.T) {
	runner := &scriptedRunner{results: []*ExecResult{
		{},
		{ExitCode: 1},
		{},
		{},
	}}
	g := NewGitClient(runner, "/repo", WithRemote("origin", "main"), WithGitTimeout(time.Minute))
	ctx := context.Background()

	committed, err := g.CommitAll(ctx, "msg")
	require.NoError(t, err)
	assert.True(t, committed)
	require.NoError(t, g.Push(ctx))

	var argv []string
	for _, spec := range runner.specs {
		argv = append(argv, spec.Argv())
		assert.Equal(t, "/repo", spec.Dir)
		assert.Equal(t, time.Minute, spec.Timeout)
	}
	assert.Equal(t, []string{
		"git add -A -- . :(exclude)" + LogDirName,
		"git diff --cached --quiet",
		"git commit -m msg",
		"git push origin main",
	}, argv)
}

func TestGitClientTimeout(t *testing.T) {
	runner := &scriptedRunner{results: []*ExecResult{{TimedOut: true, ExitCode: -1}}}
	g := NewGitClient(runner, "/repo", WithGitTimeout(time.Second))

	err := g.Push(context.Background())
	var timeout *TransportTimeout
	require.True(t, errors.As(err, &timeout))
	assert.True(t, strings.HasPrefix(timeout.Command, "git push"))
	assert.Equal(t, time.Second, timeout.Timeout)
}
