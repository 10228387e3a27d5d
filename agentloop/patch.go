package agentloop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var hunkFailureRE = regexp.MustCompile(`(\d+) out of (\d+) hunks? (?:FAILED|ignored)`)

// patchHeaderPaths returns the raw paths named by ---/+++ headers, in
// order of appearance, without /dev/null or trailing timestamps.
func patchHeaderPaths(patch string) []string {
	var paths []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(patch, "\n") {
		var rest string
		switch {
		case strings.HasPrefix(line, "--- "):
			rest = line[4:]
		case strings.HasPrefix(line, "+++ "):
			rest = line[4:]
		default:
			continue
		}
		if tab := strings.IndexByte(rest, '\t'); tab >= 0 {
			rest = rest[:tab]
		}
		rest = strings.TrimSpace(rest)
		if rest == "" || rest == "/dev/null" || seen[rest] {
			continue
		}
		seen[rest] = true
		paths = append(paths, rest)
	}
	return paths
}

// patchTargets returns the files a diff touches, with git's a/ and b/
// prefixes removed.
func patchTargets(patch string) []string {
	var targets []string
	seen := make(map[string]bool)
	for _, p := range patchHeaderPaths(patch) {
		if stripped, ok := stripComponents(p, 1); ok && (strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/")) {
			p = stripped
		}
		if !seen[p] {
			seen[p] = true
			targets = append(targets, p)
		}
	}
	return targets
}

// stripComponents drops the first n slash-separated components of p, the
// way patch -pN does.
func stripComponents(p string, n int) (string, bool) {
	for i := 0; i < n; i++ {
		_, rest, ok := strings.Cut(p, "/")
		if !ok || rest == "" {
			return "", false
		}
		p = rest
	}
	return p, true
}

func countHunks(patch string) int {
	n := 0
	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "@@ ") {
			n++
		}
	}
	return n
}

func hasChangeLines(patch string) bool {
	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "+++ ") || strings.HasPrefix(line, "--- ") {
			continue
		}
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			return true
		}
	}
	return false
}

// rejectedHunks sums the per-file failure counts patch(1) prints.
func rejectedHunks(output string) int {
	rejected := 0
	for _, m := range hunkFailureRE.FindAllStringSubmatch(output, -1) {
		n, _ := strconv.Atoi(m[1])
		rejected += n
	}
	return rejected
}

// checkPatchPaths validates every header path at strip level n and returns
// the resolved targets.
func (e *Executor) checkPatchPaths(headers []string, level int) ([]string, error) {
	var resolved []string
	for _, h := range headers {
		p, ok := stripComponents(h, level)
		if !ok {
			return nil, &SandboxViolation{Path: h, Reason: fmt.Sprintf("cannot strip %d leading components", level)}
		}
		abs, err := e.sandbox.Resolve(p)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, abs)
	}
	return resolved, nil
}

func (e *Executor) applyPatch(ctx context.Context, a Action) (ToolResult, error) {
	total := countHunks(a.Patch)
	if total == 0 || !hasChangeLines(a.Patch) {
		return ToolResult{}, &ToolError{Verb: a.Verb, Err: ErrEmptyPatch,
			Detail: "the patch looks incomplete: it needs @@ hunk headers and +/- lines",
			Hint:   "Send a complete unified diff with ---/+++ headers, or use EDIT_FILE"}
	}
	headers := patchHeaderPaths(a.Patch)
	if len(headers) == 0 {
		return ToolResult{}, &ToolError{Verb: a.Verb, Err: ErrEmptyPatch,
			Detail: "the patch has no ---/+++ file headers"}
	}

	var (
		lastOutput string
		lastErr    error
		report     *HunkReport
	)
	for _, level := range []int{1, 0} {
		targets, err := e.checkPatchPaths(headers, level)
		if err != nil {
			e.logger.Debug("patch level rejected", "level", level, "error", err)
			if lastErr == nil {
				lastErr = err
			}
			continue
		}

		output, rep, err := e.runPatch(ctx, a.Patch, level, total, targets)
		if err != nil {
			return ToolResult{}, err
		}
		lastOutput = output
		report = &rep
		if rep.Applied > 0 {
			break
		}
	}

	if report == nil {
		return ToolResult{}, &ToolError{Verb: a.Verb, Err: ErrInvalidPath, Cause: lastErr, Detail: lastErr.Error()}
	}
	if report.Applied == 0 {
		return ToolResult{Hunks: report}, &ToolError{Verb: a.Verb, Err: ErrPatchRejected,
			Detail: fmt.Sprintf("no hunks applied (0/%d):\n%s", report.Total, TruncateOutput(strings.TrimSpace(lastOutput), 2000, TruncateHeadTail)),
			Hint:   "READ_FILE the target to refresh your view of it, then retry with exact context lines or use EDIT_FILE"}
	}

	targets := patchTargets(a.Patch)
	var obs string
	if report.Rejected == 0 {
		obs = fmt.Sprintf("APPLY_PATCH_OK (patch -p%d): %d/%d hunks applied to %s", report.Level, report.Applied, report.Total, strings.Join(targets, ", "))
	} else {
		obs = fmt.Sprintf("APPLY_PATCH_PARTIAL (patch -p%d): %d/%d hunks applied, %d rejected:\n%s",
			report.Level, report.Applied, report.Total, report.Rejected, TruncateOutput(strings.TrimSpace(lastOutput), 2000, TruncateHeadTail))
	}
	return ToolResult{Path: strings.Join(targets, " "), Content: lastOutput, Observation: obs, Mutating: true, Hunks: report}, nil
}

// runPatch invokes patch(1) once and removes any .rej or .orig files it
// left next to the targets.
func (e *Executor) runPatch(ctx context.Context, patch string, level, total int, targets []string) (string, HunkReport, error) {
	leftovers := make(map[string]bool)
	for _, t := range targets {
		for _, suffix := range []string{".rej", ".orig"} {
			if _, err := os.Lstat(t + suffix); err == nil {
				leftovers[t+suffix] = true
			}
		}
	}
	defer func() {
		for _, t := range targets {
			for _, suffix := range []string{".rej", ".orig"} {
				if p := t + suffix; !leftovers[p] {
					if err := os.Remove(p); err == nil {
						e.logger.Debug("removed patch artifact", "path", e.sandbox.Rel(p))
					}
				}
			}
		}
	}()

	spec := CommandSpec{
		Name:    "patch",
		Args:    []string{fmt.Sprintf("-p%d", level), "-u", "-N", "-t"},
		Dir:     e.sandbox.Root(),
		Stdin:   patch,
		Timeout: e.cfg.CommandTimeout,
	}
	res, err := e.runner.Run(ctx, spec)
	if err != nil {
		return "", HunkReport{}, &ToolError{Verb: VerbApplyPatch, Err: ErrPatchRejected, Cause: err, Detail: "could not run patch: " + err.Error()}
	}
	if res.TimedOut {
		timeout := &TransportTimeout{Command: spec.Argv(), Timeout: spec.Timeout}
		return "", HunkReport{}, &ToolError{Verb: VerbApplyPatch, Err: ErrPatchRejected, Cause: timeout, Detail: timeout.Error()}
	}

	output := res.Output()
	rejected := rejectedHunks(output)
	if res.ExitCode > 1 && rejected == 0 {
		// Exit 2 is "serious trouble": nothing was applied.
		rejected = total
	}
	if rejected > total {
		rejected = total
	}
	rep := HunkReport{Level: level, Total: total, Applied: total - rejected, Rejected: rejected}
	e.logger.Debug("patch finished", "level", level, "exit_code", res.ExitCode, "applied", rep.Applied, "rejected", rep.Rejected, "targets", e.relTargets(targets))
	return output, rep, nil
}

func (e *Executor) relTargets(abs []string) []string {
	out := make([]string, len(abs))
	for i, p := range abs {
		out[i] = filepath.ToSlash(e.sandbox.Rel(p))
	}
	return out
}
