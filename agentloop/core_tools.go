package agentloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ExecutorConfig bounds what a single action may read or run.
type ExecutorConfig struct {
	ReadCharLimit   int
	ReadLineLimit   int
	CommandTimeout  time.Duration
	IgnoreCacheSize int
}

// DefaultExecutorConfig returns the standard limits.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		ReadCharLimit:   50000,
		ReadLineLimit:   2000,
		CommandTimeout:  5 * time.Minute,
		IgnoreCacheSize: 4096,
	}
}

// Executor performs parsed actions against the sandboxed tree.
type Executor struct {
	sandbox     *Sandbox
	ignore      IgnoreChecker
	runner      Runner
	cfg         ExecutorConfig
	registry    *ToolRegistry
	ignoreCache *lru.Cache[string, bool]
	logger      *slog.Logger
}

// NewExecutor wires the core verbs. ignore may be nil, in which case
// LIST_DIR shows every entry.
func NewExecutor(sandbox *Sandbox, ignore IgnoreChecker, runner Runner, cfg ExecutorConfig, logger *slog.Logger) (*Executor, error) {
	def := DefaultExecutorConfig()
	if cfg.ReadCharLimit <= 0 {
		cfg.ReadCharLimit = def.ReadCharLimit
	}
	if cfg.ReadLineLimit <= 0 {
		cfg.ReadLineLimit = def.ReadLineLimit
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.IgnoreCacheSize <= 0 {
		cfg.IgnoreCacheSize = def.IgnoreCacheSize
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cache, err := lru.New[string, bool](cfg.IgnoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("ignore cache: %w", err)
	}

	e := &Executor{
		sandbox:     sandbox,
		ignore:      ignore,
		runner:      runner,
		cfg:         cfg,
		registry:    NewToolRegistry(),
		ignoreCache: cache,
		logger:      logger,
	}
	e.registerCoreTools()
	return e, nil
}

// Registry exposes the verb table, used to render the protocol help.
func (e *Executor) Registry() *ToolRegistry { return e.registry }

// Execute runs a. Errors are *ToolError values, or ctx.Err() when the
// caller gave up.
func (e *Executor) Execute(ctx context.Context, a Action) (ToolResult, error) {
	tool := e.registry.Get(a.Verb)
	if tool == nil {
		return ToolResult{Verb: a.Verb}, &ToolError{Verb: a.Verb, Err: ErrUnknownAction}
	}
	e.logger.Debug("executing action", "action", a.Summary())

	start := time.Now()
	res, err := tool.Run(ctx, a)
	res.Verb = a.Verb
	if res.Mutating {
		e.ignoreCache.Purge()
	}
	if err != nil {
		e.logger.Info("action failed", "verb", a.Verb, "path", a.Path, "error", err, "duration", time.Since(start))
		return res, err
	}
	e.logger.Debug("action done", "verb", a.Verb, "path", res.Path, "mutating", res.Mutating, "truncated", res.Truncated, "duration", time.Since(start))
	return res, nil
}

func (e *Executor) registerCoreTools() {
	e.registry.Register(RegisteredTool{
		Verb:        VerbReadFile,
		Usage:       "ACTION: READ_FILE path/to/file",
		Description: "Show the contents of a file.",
		Run:         e.readFile,
	})
	e.registry.Register(RegisteredTool{
		Verb:        VerbListDir,
		Usage:       "ACTION: LIST_DIR [path] [--all]",
		Description: "List a directory. Ignored files are hidden unless --all is given.",
		Run:         e.listDir,
	})
	e.registry.Register(RegisteredTool{
		Verb:        VerbEditFile,
		Usage:       grammarEditFile,
		Description: "Replace one exact occurrence of OLD with NEW. OLD must match exactly once.",
		Mutating:    true,
		Run:         e.editFile,
	})
	e.registry.Register(RegisteredTool{
		Verb:        VerbWriteFile,
		Usage:       grammarWrite,
		Description: "Create or overwrite a whole file.",
		Mutating:    true,
		Run:         e.writeFile,
	})
	e.registry.Register(RegisteredTool{
		Verb:        VerbApplyPatch,
		Usage:       grammarPatch,
		Description: "Apply a unified diff. Everything after the ACTION line is the patch.",
		Mutating:    true,
		Run:         e.applyPatch,
	})
	e.registry.Register(RegisteredTool{
		Verb:        VerbHalt,
		Usage:       "ACTION: HALT",
		Description: "Stop when the work is done.",
		Run: func(context.Context, Action) (ToolResult, error) {
			return ToolResult{Halt: true, Observation: "HALT acknowledged."}, nil
		},
	})
}

func (e *Executor) resolve(verb Verb, path string) (string, error) {
	abs, err := e.sandbox.Resolve(path)
	if err != nil {
		var v *SandboxViolation
		if errors.As(err, &v) {
			return "", &ToolError{Verb: verb, Path: path, Err: ErrInvalidPath, Cause: err, Detail: err.Error()}
		}
		return "", mapFSError(verb, path, err)
	}
	return abs, nil
}

func (e *Executor) readFile(_ context.Context, a Action) (ToolResult, error) {
	abs, err := e.resolve(a.Verb, a.Path)
	if err != nil {
		return ToolResult{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return ToolResult{}, mapFSError(a.Verb, a.Path, err)
	}
	if info.IsDir() {
		return ToolResult{}, &ToolError{Verb: a.Verb, Path: a.Path, Err: ErrIsDirectory, Hint: "Use LIST_DIR to see its entries"}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return ToolResult{}, mapFSError(a.Verb, a.Path, err)
	}

	rel := e.sandbox.Rel(abs)
	text := string(data)
	shown, marker := truncateFileContent(text, e.cfg.ReadCharLimit, e.cfg.ReadLineLimit)

	var sb strings.Builder
	fmt.Fprintf(&sb, "READ_FILE_RESULT for %s:\n```text\n%s", rel, shown)
	if !strings.HasSuffix(shown, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("```")
	if marker != "" {
		sb.WriteString("\n")
		sb.WriteString(marker)
	}
	return ToolResult{Path: rel, Content: text, Observation: sb.String(), Truncated: marker != ""}, nil
}

// truncateFileContent keeps leading whole lines within both limits and
// returns the kept text plus a marker stating how much was shown. The
// marker is empty when nothing was cut.
func truncateFileContent(text string, charLimit, lineLimit int) (string, string) {
	lines := strings.SplitAfter(text, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	total := len(lines)
	if len(text) <= charLimit && total <= lineLimit {
		return text, ""
	}

	var sb strings.Builder
	kept := 0
	for _, line := range lines {
		if kept >= lineLimit || sb.Len()+len(line) > charLimit {
			break
		}
		sb.WriteString(line)
		kept++
	}
	if kept == 0 && total > 0 {
		// A single line longer than the ceiling: cut it on a rune boundary.
		sb.WriteString(lines[0][:runeFloor(lines[0], charLimit)])
	}
	marker := fmt.Sprintf("[... FILE TRUNCATED: showing %d/%d lines (%d/%d chars) ...]", kept, total, sb.Len(), len(text))
	return sb.String(), marker
}

func (e *Executor) listDir(ctx context.Context, a Action) (ToolResult, error) {
	path := a.Path
	if path == "" {
		path = "."
	}
	abs, err := e.resolve(a.Verb, path)
	if err != nil {
		return ToolResult{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return ToolResult{}, mapFSError(a.Verb, path, err)
	}
	if !info.IsDir() {
		return ToolResult{}, &ToolError{Verb: a.Verb, Path: path, Err: ErrNotDirectory, Hint: "Use READ_FILE to see a file"}
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return ToolResult{}, mapFSError(a.Verb, path, err)
	}

	atRoot := abs == e.sandbox.Root()
	type listed struct {
		name  string
		abs   string
		isDir bool
	}
	var items []listed
	for _, entry := range entries {
		if atRoot && e.sandbox.Reserved(entry.Name()) {
			continue
		}
		full := filepath.Join(abs, entry.Name())
		isDir := entry.IsDir()
		if entry.Type()&fs.ModeSymlink != 0 {
			if target, err := os.Stat(full); err == nil {
				isDir = target.IsDir()
			}
		}
		items = append(items, listed{name: entry.Name(), abs: full, isDir: isDir})
	}

	hidden := 0
	if !a.ShowIgnored {
		paths := make([]string, len(items))
		for i, it := range items {
			paths[i] = it.abs
		}
		ignored := e.ignoredPaths(ctx, paths)
		kept := items[:0]
		for _, it := range items {
			if ignored[it.abs] {
				hidden++
				continue
			}
			kept = append(kept, it)
		}
		items = kept
	}

	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.name
		if it.isDir {
			names[i] += "/"
		}
	}
	content := strings.Join(names, "\n")
	if content == "" {
		content = "(empty or all files ignored)"
	}

	rel := e.sandbox.Rel(abs)
	var sb strings.Builder
	fmt.Fprintf(&sb, "LIST_DIR_RESULT for %s:\n%s", rel, content)
	if hidden > 0 {
		fmt.Fprintf(&sb, "\n(%d ignored entries hidden; use LIST_DIR %s --all to include them)", hidden, rel)
	}
	return ToolResult{Path: rel, Content: content, Observation: sb.String()}, nil
}

// ignoredPaths returns the ignore verdict for each path, consulting the
// cache first. Checker failures are logged and treated as not ignored.
func (e *Executor) ignoredPaths(ctx context.Context, paths []string) map[string]bool {
	verdicts := make(map[string]bool, len(paths))
	if e.ignore == nil {
		return verdicts
	}
	var missing []string
	for _, p := range paths {
		if v, ok := e.ignoreCache.Get(p); ok {
			verdicts[p] = v
		} else {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return verdicts
	}
	ignored, err := e.ignore.CheckIgnore(ctx, missing)
	if err != nil {
		e.logger.Warn("ignore check failed; listing everything", "error", err)
		return verdicts
	}
	for _, p := range missing {
		verdicts[p] = ignored[p]
		e.ignoreCache.Add(p, ignored[p])
	}
	return verdicts
}

func (e *Executor) writeFile(_ context.Context, a Action) (ToolResult, error) {
	abs, err := e.resolve(a.Verb, a.Path)
	if err != nil {
		return ToolResult{}, err
	}
	perm := fs.FileMode(0o644)
	existed := false
	if info, err := os.Stat(abs); err == nil {
		if info.IsDir() {
			return ToolResult{}, &ToolError{Verb: a.Verb, Path: a.Path, Err: ErrIsDirectory}
		}
		perm = info.Mode().Perm()
		existed = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return ToolResult{}, mapFSError(a.Verb, a.Path, err)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return ToolResult{}, mapFSError(a.Verb, a.Path, err)
	}
	if err := renameio.WriteFile(abs, []byte(a.Content), perm); err != nil {
		return ToolResult{}, mapFSError(a.Verb, a.Path, err)
	}

	rel := e.sandbox.Rel(abs)
	verb := "created"
	if existed {
		verb = "overwrote"
	}
	obs := fmt.Sprintf("WRITE_FILE_OK: %s %s (%d bytes, %d lines)", verb, rel, len(a.Content), lineCount(a.Content))
	return ToolResult{Path: rel, Content: a.Content, Observation: obs, Mutating: true}, nil
}

func (e *Executor) editFile(_ context.Context, a Action) (ToolResult, error) {
	abs, err := e.resolve(a.Verb, a.Path)
	if err != nil {
		return ToolResult{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return ToolResult{}, mapFSError(a.Verb, a.Path, err)
	}
	if info.IsDir() {
		return ToolResult{}, &ToolError{Verb: a.Verb, Path: a.Path, Err: ErrIsDirectory}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return ToolResult{}, mapFSError(a.Verb, a.Path, err)
	}
	text := string(data)

	if a.Old == "" {
		return ToolResult{}, &ToolError{Verb: a.Verb, Path: a.Path, Err: ErrAmbiguousMatch,
			Detail: "the OLD block is empty", Hint: "Use WRITE_FILE to replace a whole file"}
	}
	switch n := strings.Count(text, a.Old); n {
	case 1:
	case 0:
		return ToolResult{}, &ToolError{Verb: a.Verb, Path: a.Path, Err: ErrAmbiguousMatch,
			Detail: "could not find the OLD text in the file",
			Hint:   "READ_FILE it again and copy the exact text, including indentation"}
	default:
		return ToolResult{}, &ToolError{Verb: a.Verb, Path: a.Path, Err: ErrAmbiguousMatch,
			Detail: fmt.Sprintf("the OLD text appears %d times in the file", n),
			Hint:   "Include more surrounding context so it matches exactly once"}
	}

	updated := strings.Replace(text, a.Old, a.New, 1)
	if err := renameio.WriteFile(abs, []byte(updated), info.Mode().Perm()); err != nil {
		return ToolResult{}, mapFSError(a.Verb, a.Path, err)
	}
	rel := e.sandbox.Rel(abs)
	obs := fmt.Sprintf("EDIT_FILE_OK: replaced 1 occurrence in %s (%d bytes, was %d)", rel, len(updated), len(text))
	return ToolResult{Path: rel, Content: updated, Observation: obs, Mutating: true}, nil
}

func mapFSError(verb Verb, path string, err error) *ToolError {
	te := &ToolError{Verb: verb, Path: path, Cause: err}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		te.Err = ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		te.Err = ErrPermission
	case errors.Is(err, syscall.EISDIR):
		te.Err = ErrIsDirectory
	case errors.Is(err, syscall.ENOTDIR):
		te.Err = ErrNotDirectory
	default:
		te.Detail = err.Error()
	}
	return te
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
