package agentloop

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotFound       = errors.New("no such file or directory")
	ErrPermission     = errors.New("permission denied")
	ErrIsDirectory    = errors.New("is a directory")
	ErrNotDirectory   = errors.New("not a directory")
	ErrAmbiguousMatch = errors.New("OLD text must match exactly once")
	ErrEmptyPatch     = errors.New("patch has no hunks")
	ErrPatchRejected  = errors.New("no hunks applied")
)

// ToolError is an executor failure reported back to the model as an
// observation. Err is one of the sentinels above or ErrInvalidPath; Cause
// carries the underlying error when there is one.
type ToolError struct {
	Verb   Verb
	Path   string
	Err    error
	Detail string
	Hint   string
	Cause  error
}

func (e *ToolError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Verb))
	if e.Path != "" {
		fmt.Fprintf(&sb, " %s", e.Path)
	}
	sb.WriteString(": ")
	if e.Detail != "" {
		sb.WriteString(e.Detail)
	} else if e.Err != nil {
		sb.WriteString(e.Err.Error())
	} else if e.Cause != nil {
		sb.WriteString(e.Cause.Error())
	}
	if e.Hint != "" {
		sb.WriteString(". ")
		sb.WriteString(e.Hint)
	}
	return sb.String()
}

func (e *ToolError) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// HunkReport summarizes an APPLY_PATCH attempt.
type HunkReport struct {
	Level    int
	Total    int
	Applied  int
	Rejected int
}

// ToolResult is the outcome of one executed action.
type ToolResult struct {
	Verb Verb
	Path string
	// Content is the raw payload (file text, directory listing, patch output).
	Content string
	// Observation is the text fed back to the model.
	Observation string
	Mutating    bool
	Truncated   bool
	Halt        bool
	Hunks       *HunkReport
}

// ToolFunc executes one verb.
type ToolFunc func(ctx context.Context, a Action) (ToolResult, error)

// RegisteredTool pairs a verb with its handler and model-facing help.
type RegisteredTool struct {
	Verb        Verb
	Usage       string
	Description string
	Mutating    bool
	Run         ToolFunc
}

// ToolRegistry maps verbs to their handlers.
type ToolRegistry struct {
	tools map[Verb]*RegisteredTool
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[Verb]*RegisteredTool),
	}
}

// Register adds or replaces a tool in the registry.
func (r *ToolRegistry) Register(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Verb] = &tool
}

// Get returns a registered tool by verb, or nil if not found.
func (r *ToolRegistry) Get(verb Verb) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[verb]
}

// Tools returns the registered tools in documentation order. Verbs outside
// the built-in set sort last by name.
func (r *ToolRegistry) Tools() []RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegisteredTool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, *t)
	}
	order := make(map[Verb]int, len(Verbs))
	for i, v := range Verbs {
		order[v] = i
	}
	sort.Slice(out, func(i, j int) bool {
		oi, iok := order[out[i].Verb]
		oj, jok := order[out[j].Verb]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		}
		return out[i].Verb < out[j].Verb
	})
	return out
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
