package agentloop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// DefaultBootstrapFile is the instruction file read at startup.
const DefaultBootstrapFile = "AI_START_HERE.md"

const maxBootstrapBytes = 32 * 1024

// PromptContext is the runtime information rendered into the system prompt.
type PromptContext struct {
	RepoRoot          string
	Model             string
	ValidationCommand string
	MaxSteps          int
	Git               string
}

// BuildSystemPrompt describes the action protocol and the environment.
func BuildSystemPrompt(reg *ToolRegistry, pc PromptContext) string {
	var sb strings.Builder
	sb.WriteString("You are an autonomous software engineer working inside a single repository.\n")
	sb.WriteString("You can only act through ACTION lines. Think in plain text first if you need to, ")
	sb.WriteString("then end every reply with exactly one ACTION line. If a reply contains several, only the last one is executed.\n\n")

	sb.WriteString("Rules:\n")
	sb.WriteString("- Paths are relative to the repository root. Absolute paths, '..', '~', .git and " + LogDirName + " are refused.\n")
	sb.WriteString("- Blocks open with <<< on its own line and close with >>> on its own line.\n")
	sb.WriteString("- The newline before >>> is not part of the block. When a file must end with a newline, leave one empty line before >>>.\n")
	sb.WriteString("- EDIT_FILE needs OLD text that occurs exactly once in the file. READ_FILE first and copy it exactly.\n")
	if pc.ValidationCommand != "" {
		fmt.Fprintf(&sb, "- After every change the tree is committed and checked with `%s`. Failures are reported back to you; fix them before moving on.\n", pc.ValidationCommand)
	}
	if pc.MaxSteps > 0 {
		fmt.Fprintf(&sb, "- You have at most %d steps.\n", pc.MaxSteps)
	}
	sb.WriteString("- When the work is done, reply with ACTION: HALT.\n\n")

	sb.WriteString("Actions:\n\n")
	for _, t := range reg.Tools() {
		fmt.Fprintf(&sb, "%s\n%s\n\n", t.Description, t.Usage)
	}

	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Repository root: %s\n", pc.RepoRoot)
	fmt.Fprintf(&sb, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if pc.Model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", pc.Model)
	}
	sb.WriteString("</environment>")
	if pc.Git != "" {
		sb.WriteString("\n")
		sb.WriteString(pc.Git)
	}
	return sb.String()
}

// LoadBootstrap reads the instruction file at path (relative to the
// sandbox root) and wraps it for the first user message. A missing file
// yields a generic instruction.
func LoadBootstrap(sandbox *Sandbox, path string) (string, error) {
	if path == "" {
		path = DefaultBootstrapFile
	}
	abs, err := sandbox.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return fmt.Sprintf("There is no %s in this repository. Explore it with LIST_DIR and READ_FILE, "+
			"make focused improvements, and HALT when done.", filepath.ToSlash(path)), nil
	}
	if err != nil {
		return "", fmt.Errorf("read bootstrap: %w", err)
	}
	text := string(data)
	if len(text) > maxBootstrapBytes {
		text = text[:maxBootstrapBytes] + "\n[Instructions truncated at 32KB]"
	}
	return BootstrapMessage(filepath.ToSlash(path), text), nil
}

// BootstrapMessage wraps instruction text in a fence with a lead-in.
func BootstrapMessage(name, text string) string {
	return fmt.Sprintf("Follow the instructions in %s below. Start by exploring the repository.\n\n%s", name, strings.TrimRight(fenced("markdown", text), "\n"))
}

// GitContext summarizes branch and recent history for the system prompt.
// It returns "" outside a git checkout.
func GitContext(ctx context.Context, runner Runner, root string) string {
	run := func(args ...string) string {
		res, err := runner.Run(ctx, CommandSpec{Name: "git", Args: args, Dir: root, Timeout: 10 * time.Second})
		if err != nil || !res.Success() {
			return ""
		}
		return strings.TrimSpace(res.Stdout)
	}
	if run("rev-parse", "--is-inside-work-tree") != "true" {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<git_context>\n")
	if branch := run("rev-parse", "--abbrev-ref", "HEAD"); branch != "" {
		fmt.Fprintf(&sb, "Branch: %s\n", branch)
	}
	if status := run("status", "--short"); status != "" {
		fmt.Fprintf(&sb, "Modified/untracked files: %d\n", len(strings.Split(status, "\n")))
	}
	if log := run("log", "--oneline", "-10"); log != "" {
		sb.WriteString("Recent commits:\n")
		sb.WriteString(log)
		sb.WriteString("\n")
	}
	sb.WriteString("</git_context>")
	return sb.String()
}
