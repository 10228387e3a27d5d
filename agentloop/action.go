package agentloop

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Verb names one of the operations a model reply may request.
type Verb string

const (
	VerbReadFile   Verb = "READ_FILE"
	VerbListDir    Verb = "LIST_DIR"
	VerbWriteFile  Verb = "WRITE_FILE"
	VerbEditFile   Verb = "EDIT_FILE"
	VerbApplyPatch Verb = "APPLY_PATCH"
	VerbHalt       Verb = "HALT"
)

// Verbs lists every verb in the order they are documented to the model.
var Verbs = []Verb{VerbReadFile, VerbListDir, VerbEditFile, VerbWriteFile, VerbApplyPatch, VerbHalt}

// Known reports whether v is a recognised verb.
func (v Verb) Known() bool {
	for _, k := range Verbs {
		if v == k {
			return true
		}
	}
	return false
}

// Mutating reports whether actions with this verb may change the tree.
func (v Verb) Mutating() bool {
	switch v {
	case VerbWriteFile, VerbEditFile, VerbApplyPatch:
		return true
	}
	return false
}

// Action is a single command decoded from a model reply. Only the fields
// relevant to Verb are set.
type Action struct {
	Verb        Verb
	Path        string
	ShowIgnored bool
	Content     string
	Old         string
	New         string
	Patch       string

	// Warnings records grammar deviations the parser tolerated.
	Warnings []string
}

// Summary is a one-line audit description: verb, argument and payload sizes.
func (a Action) Summary() string {
	var sb strings.Builder
	sb.WriteString("verb=")
	sb.WriteString(string(a.Verb))
	if a.Path != "" {
		fmt.Fprintf(&sb, " path=%q", a.Path)
	}
	switch a.Verb {
	case VerbListDir:
		if a.ShowIgnored {
			sb.WriteString(" show_ignored=true")
		}
	case VerbWriteFile:
		fmt.Fprintf(&sb, " content_len=%d", len(a.Content))
	case VerbEditFile:
		fmt.Fprintf(&sb, " old_len=%d new_len=%d", len(a.Old), len(a.New))
	case VerbApplyPatch:
		fmt.Fprintf(&sb, " patch_len=%d", len(a.Patch))
	}
	if len(a.Warnings) > 0 {
		fmt.Fprintf(&sb, " warnings=%d", len(a.Warnings))
	}
	return sb.String()
}

// Describe renders a short commit-message description of a mutating action.
func (a Action) Describe() string {
	switch a.Verb {
	case VerbWriteFile:
		return "write " + a.Path
	case VerbEditFile:
		return "edit " + a.Path
	case VerbApplyPatch:
		if targets := patchTargets(a.Patch); len(targets) > 0 {
			if len(targets) == 1 {
				return "patch " + targets[0]
			}
			return fmt.Sprintf("patch %s (+%d more)", targets[0], len(targets)-1)
		}
		return "apply patch"
	}
	return strings.ToLower(string(a.Verb)) + " " + a.Path
}

// Signature is a stable fingerprint of the action, used to spot a model
// repeating itself.
func (a Action) Signature() string {
	h := sha256.New()
	for _, part := range []string{string(a.Verb), a.Path, fmt.Sprint(a.ShowIgnored), a.Content, a.Old, a.New, a.Patch} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s:%x", a.Verb, h.Sum(nil)[:8])
}
