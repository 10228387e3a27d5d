package agentloop

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	sb, err := NewSandbox(t.TempDir(), LogDirName)
	require.NoError(t, err)
	return sb
}

func TestSandboxRejectsTextually(t *testing.T) {
	sb := newTestSandbox(t)

	cases := map[string]string{
		"empty":          "",
		"blank":          "   ",
		"absolute":       "/etc/passwd",
		"backslash":      `\windows\system32`,
		"parent":         "../outside",
		"nested parent":  "src/../../outside",
		"dotdot in name": "a..b",
		"home":           "~/.ssh/id_rsa",
		"tilde inside":   "src/~backup",
		"nul":            "src/\x00.go",
		"git dir":        ".git/hooks/pre-commit",
		"git root":       ".git",
		"log dir":        ".janitor/logs/x",
		"dot git prefix": "./.git/config",
		"git upper case": ".GIT/hooks/pre-commit",
		"git mixed case": ".Git/config",
		"log dir case":   ".Janitor/logs/x",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := sb.Resolve(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPath)

			var v *SandboxViolation
			require.True(t, errors.As(err, &v))
			assert.Equal(t, path, v.Path)
		})
	}
}

func TestSandboxResolvesInsideRoot(t *testing.T) {
	sb := newTestSandbox(t)
	require.NoError(t, os.MkdirAll(filepath.Join(sb.Root(), "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sb.Root(), "src", "main.go"), []byte("package main\n"), 0o644))

	for _, p := range []string{"src/main.go", "src", ".", "src/new/deep/file.txt", "./README.md", ".gitignore", ".github/workflows/ci.yml"} {
		abs, err := sb.Resolve(p)
		require.NoError(t, err, p)
		assert.True(t, filepath.IsAbs(abs))
		rel, err := filepath.Rel(sb.Root(), abs)
		require.NoError(t, err)
		assert.True(t, isWithin(rel), "%s resolved to %s", p, abs)
	}
}

func TestSandboxRejectsEscapingSymlink(t *testing.T) {
	outside := t.TempDir()
	sb := newTestSandbox(t)
	require.NoError(t, os.Symlink(outside, filepath.Join(sb.Root(), "escape")))

	_, err := sb.Resolve("escape/secret.txt")
	require.ErrorIs(t, err, ErrInvalidPath)

	_, err = sb.Resolve("escape")
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestSandboxFollowsInternalSymlink(t *testing.T) {
	sb := newTestSandbox(t)
	require.NoError(t, os.MkdirAll(filepath.Join(sb.Root(), "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(sb.Root(), "real"), filepath.Join(sb.Root(), "alias")))

	abs, err := sb.Resolve("alias/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sb.Root(), "real", "file.txt"), abs)
}

func TestSandboxRejectsSymlinkIntoGitDir(t *testing.T) {
	sb := newTestSandbox(t)
	require.NoError(t, os.MkdirAll(filepath.Join(sb.Root(), ".git", "hooks"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(sb.Root(), ".git", "hooks"), filepath.Join(sb.Root(), "hooks")))

	_, err := sb.Resolve("hooks/pre-commit")
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestSandboxRejectsDanglingSymlink(t *testing.T) {
	sb := newTestSandbox(t)
	require.NoError(t, os.Symlink(filepath.Join(t.TempDir(), "missing"), filepath.Join(sb.Root(), "dangling")))

	_, err := sb.Resolve("dangling")
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestSandboxRootIsCanonical(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(dir, link))

	sb, err := NewSandbox(link)
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, normalizePlatformPath(runtime.GOOS, want), sb.Root())
}

func TestNewSandboxRequiresDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := NewSandbox(file)
	require.Error(t, err)

	_, err = NewSandbox(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestSandboxRel(t *testing.T) {
	sb := newTestSandbox(t)
	assert.Equal(t, "src/a.go", sb.Rel(filepath.Join(sb.Root(), "src", "a.go")))
	assert.Equal(t, ".", sb.Rel(sb.Root()))
	assert.Equal(t, "/elsewhere", sb.Rel("/elsewhere"))
}

func TestNormalizePlatformPath(t *testing.T) {
	assert.Equal(t, "/var/folders/x", normalizePlatformPath("darwin", "/private/var/folders/x"))
	assert.Equal(t, "/tmp", normalizePlatformPath("darwin", "/private/tmp"))
	assert.Equal(t, "/private/varnish", normalizePlatformPath("darwin", "/private/varnish"))
	assert.Equal(t, "/private/var/x", normalizePlatformPath("linux", "/private/var/x"))
}

func TestSandboxReserved(t *testing.T) {
	sb := newTestSandbox(t)
	assert.True(t, sb.Reserved(".git"))
	assert.True(t, sb.Reserved(".GIT"))
	assert.True(t, sb.Reserved(LogDirName))
	assert.False(t, sb.Reserved("src"))
}
