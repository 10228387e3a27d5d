package agentloop

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrInvalidPath is matched by every sandbox rejection.
var ErrInvalidPath = errors.New("invalid path")

// SandboxViolation reports a path the sandbox refused. The action that
// carried it is never executed.
type SandboxViolation struct {
	Path   string
	Reason string
}

func (e *SandboxViolation) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

func (e *SandboxViolation) Unwrap() error { return ErrInvalidPath }

// Sandbox confines repository-relative paths to a fixed root.
type Sandbox struct {
	root     string
	reserved map[string]bool
}

// NewSandbox resolves root to its canonical form. Entries in reserved are
// top-level names that may never be addressed (".git" always is).
func NewSandbox(root string, reserved ...string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("sandbox root: %w", err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, fmt.Errorf("sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %s is not a directory", real)
	}

	s := &Sandbox{
		root:     normalizePlatformPath(runtime.GOOS, filepath.Clean(real)),
		reserved: map[string]bool{".git": true},
	}
	for _, name := range reserved {
		if name != "" {
			s.reserved[strings.ToLower(name)] = true
		}
	}
	return s, nil
}

// Root returns the canonical absolute repository root.
func (s *Sandbox) Root() string { return s.root }

// Reserved reports whether name is a top-level entry the sandbox refuses.
// Names compare case-insensitively since darwin and windows filesystems
// usually do.
func (s *Sandbox) Reserved(name string) bool { return s.reserved[strings.ToLower(name)] }

// Rel returns abs relative to the root in slash form, or abs unchanged if
// it lies outside.
func (s *Sandbox) Rel(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || !isWithin(rel) {
		return abs
	}
	return filepath.ToSlash(rel)
}

// Check applies the textual rules only. It never touches the filesystem.
func (s *Sandbox) Check(path string) error {
	switch {
	case strings.TrimSpace(path) == "":
		return &SandboxViolation{Path: path, Reason: "empty path"}
	case strings.ContainsRune(path, 0):
		return &SandboxViolation{Path: path, Reason: "contains a NUL byte"}
	case strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\`) || filepath.IsAbs(path):
		return &SandboxViolation{Path: path, Reason: "absolute paths are not allowed; use a path relative to the repository root"}
	case strings.Contains(path, ".."):
		return &SandboxViolation{Path: path, Reason: "parent directory references are not allowed"}
	case strings.Contains(path, "~"):
		return &SandboxViolation{Path: path, Reason: "home directory shorthand is not allowed"}
	}
	if first := firstSegment(filepath.ToSlash(filepath.Clean(path))); s.Reserved(first) {
		return &SandboxViolation{Path: path, Reason: fmt.Sprintf("%s is off limits", first)}
	}
	return nil
}

// Resolve validates path and returns its canonical absolute form. Symlinks
// are followed and the real target must still lie inside the root. Paths
// that do not exist yet are resolved through their deepest existing
// ancestor.
func (s *Sandbox) Resolve(path string) (string, error) {
	if err := s.Check(path); err != nil {
		return "", err
	}

	joined := filepath.Join(s.root, filepath.FromSlash(path))
	real, err := resolveExisting(joined)
	if err != nil {
		var v *SandboxViolation
		if errors.As(err, &v) {
			v.Path = path
			return "", v
		}
		return "", err
	}
	real = normalizePlatformPath(runtime.GOOS, real)

	rel, err := filepath.Rel(s.root, real)
	if err != nil || !isWithin(rel) {
		return "", &SandboxViolation{Path: path, Reason: "resolves outside the repository root"}
	}
	if first := firstSegment(filepath.ToSlash(rel)); s.Reserved(first) {
		return "", &SandboxViolation{Path: path, Reason: fmt.Sprintf("resolves into %s, which is off limits", first)}
	}
	return real, nil
}

// resolveExisting evaluates symlinks on the deepest existing ancestor of p
// and re-appends the missing tail. A link whose target is missing is
// rejected since writing through it would land wherever it points.
func resolveExisting(p string) (string, error) {
	var tail []string
	cur := p
	for {
		_, err := os.Lstat(cur)
		if err == nil {
			real, err := filepath.EvalSymlinks(cur)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return "", &SandboxViolation{Reason: "dangling symbolic link"}
				}
				return "", err
			}
			for i := len(tail) - 1; i >= 0; i-- {
				real = filepath.Join(real, tail[i])
			}
			return real, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

// normalizePlatformPath maps paths that the OS aliases transparently onto
// one spelling. On darwin /var, /tmp and /etc are symlinks into /private.
func normalizePlatformPath(goos, p string) string {
	if goos != "darwin" {
		return p
	}
	for _, prefix := range []string{"/private/var", "/private/tmp", "/private/etc"} {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return strings.TrimPrefix(p, "/private")
		}
	}
	return p
}

func isWithin(rel string) bool {
	if filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func firstSegment(slashPath string) string {
	first, _, _ := strings.Cut(strings.TrimPrefix(slashPath, "./"), "/")
	return first
}
