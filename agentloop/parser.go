package agentloop

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNoAction means the reply held no ACTION line.
	ErrNoAction = errors.New("no ACTION line found")
	// ErrEmptyReply is an empty or whitespace-only reply.
	ErrEmptyReply = fmt.Errorf("empty reply: %w", ErrNoAction)
	// ErrUnknownAction is an ACTION line naming an unsupported verb.
	ErrUnknownAction = errors.New("unknown action")
	// ErrMalformedBlock is a missing or unterminated OLD/NEW/CONTENT block
	// or an empty patch body.
	ErrMalformedBlock = errors.New("malformed block")
	// ErrMissingArgument is an action that needs a path but has none.
	ErrMissingArgument = errors.New("missing path argument")
)

const previewLimit = 300

// ParseError describes why a reply could not be decoded. Its message is
// written for the model: it names the problem, shows what was found and
// restates the expected grammar.
type ParseError struct {
	Verb     Verb
	Err      error
	Detail   string
	Preview  string
	Expected string
}

func (e *ParseError) Error() string {
	var sb strings.Builder
	if e.Verb != "" {
		sb.WriteString(string(e.Verb))
		sb.WriteString(": ")
	}
	if e.Detail != "" {
		sb.WriteString(e.Detail)
	} else {
		sb.WriteString(e.Err.Error())
	}
	if e.Expected != "" {
		sb.WriteString("\nExpected format:\n")
		sb.WriteString(e.Expected)
	}
	if e.Preview != "" {
		sb.WriteString("\nBody preview: ")
		sb.WriteString(e.Preview)
		sb.WriteString("...")
	}
	return sb.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	actionLineRE = regexp.MustCompile(`(?m)^[ \t]*ACTION:[ \t]*([A-Z_]+)[ \t]*(.*?)[ \t]*$`)

	oldBlockRE     = labelledBlock("OLD")
	newBlockRE     = labelledBlock("NEW")
	contentBlockRE = labelledBlock("CONTENT")

	// Models sometimes close a block with the opening delimiter.
	oldMisclosedRE = regexp.MustCompile(`(?s)OLD:\s*<<<[ \t]*\n(?:(.*?)\n)??[ \t]*<<<[ \t]*\n\s*NEW:`)
	newMisclosedRE = regexp.MustCompile(`(?s)NEW:\s*<<<[ \t]*\n(?:(.*?)\n)??[ \t]*<<<\s*$`)
)

func labelledBlock(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)` + label + `:\s*<<<[ \t]*\n(?:(.*?)\n)??[ \t]*>>>`)
}

const (
	grammarEditFile = "ACTION: EDIT_FILE relative/path\nOLD:\n<<<\nexact text to replace\n>>>\nNEW:\n<<<\nreplacement text\n>>>"
	grammarWrite    = "ACTION: WRITE_FILE relative/path\nCONTENT:\n<<<\nentire file content\n>>>"
	grammarPatch    = "ACTION: APPLY_PATCH\n--- a/relative/path\n+++ b/relative/path\n@@ -1,3 +1,3 @@\n context\n-old line\n+new line"
	grammarActions  = "a final line of the form ACTION: <VERB> [argument], where VERB is one of READ_FILE, LIST_DIR, EDIT_FILE, WRITE_FILE, APPLY_PATCH, HALT"
)

// ParseAction decodes the single authoritative action in reply. When the
// reply holds several ACTION lines the textually last one wins; earlier
// ones are treated as commentary.
func ParseAction(reply string) (Action, error) {
	if strings.TrimSpace(reply) == "" {
		return Action{}, &ParseError{Err: ErrEmptyReply, Expected: grammarActions}
	}

	matches := actionLineRE.FindAllStringSubmatchIndex(reply, -1)
	if len(matches) == 0 {
		return Action{}, &ParseError{Err: ErrNoAction, Preview: preview(reply), Expected: grammarActions}
	}
	m := matches[len(matches)-1]
	verb := Verb(reply[m[2]:m[3]])
	arg := strings.TrimSpace(reply[m[4]:m[5]])
	body := reply[m[1]:]

	if !verb.Known() {
		return Action{}, &ParseError{
			Verb:     verb,
			Err:      ErrUnknownAction,
			Detail:   fmt.Sprintf("unknown action %q", string(verb)),
			Expected: grammarActions,
		}
	}

	switch verb {
	case VerbHalt:
		return Action{Verb: VerbHalt}, nil

	case VerbReadFile:
		if arg == "" {
			return Action{}, &ParseError{Verb: verb, Err: ErrMissingArgument, Expected: "ACTION: READ_FILE relative/path"}
		}
		return Action{Verb: verb, Path: arg}, nil

	case VerbListDir:
		return parseListDir(arg), nil

	case VerbWriteFile:
		if arg == "" {
			return Action{}, &ParseError{Verb: verb, Err: ErrMissingArgument, Expected: grammarWrite}
		}
		content, ok := findBlock(contentBlockRE, body)
		if !ok {
			return Action{}, blockError(verb, "CONTENT", body, grammarWrite)
		}
		return Action{Verb: verb, Path: arg, Content: content}, nil

	case VerbEditFile:
		if arg == "" {
			return Action{}, &ParseError{Verb: verb, Err: ErrMissingArgument, Expected: grammarEditFile}
		}
		return parseEditFile(arg, body)

	case VerbApplyPatch:
		if strings.TrimSpace(body) == "" {
			return Action{}, &ParseError{Verb: verb, Err: ErrMalformedBlock, Detail: "empty patch body", Expected: grammarPatch}
		}
		patch := strings.TrimRight(strings.TrimLeft(body, "\r\n"), "\r\n")
		return Action{Verb: verb, Patch: patch + "\n"}, nil
	}
	return Action{}, &ParseError{Verb: verb, Err: ErrUnknownAction, Expected: grammarActions}
}

func parseListDir(arg string) Action {
	a := Action{Verb: VerbListDir}
	var rest []string
	for _, field := range strings.Fields(arg) {
		switch field {
		case "--all", "--show-ignored":
			a.ShowIgnored = true
		default:
			rest = append(rest, field)
		}
	}
	a.Path = strings.Join(rest, " ")
	if a.Path == "" {
		a.Path = "."
	}
	return a
}

func parseEditFile(path, body string) (Action, error) {
	a := Action{Verb: VerbEditFile, Path: path}

	// A misclosed OLD block makes the regular pattern run on into the NEW
	// block, so the regular match only counts when a NEW block follows it.
	var newSearchFrom int
	oldLoc := oldBlockRE.FindStringSubmatchIndex(body)
	if oldLoc != nil && hasNewBlock(body[oldLoc[1]:]) {
		a.Old = blockText(body, oldLoc)
		newSearchFrom = oldLoc[1]
	} else if loc := oldMisclosedRE.FindStringSubmatchIndex(body); loc != nil {
		a.Old = blockText(body, loc)
		newSearchFrom = loc[1] - len("NEW:")
		a.Warnings = append(a.Warnings, "OLD block was closed with <<< instead of >>>")
	} else if oldLoc != nil {
		return Action{}, blockError(VerbEditFile, "NEW", body[oldLoc[1]:], grammarEditFile)
	} else {
		return Action{}, blockError(VerbEditFile, "OLD", body, grammarEditFile)
	}

	rest := body[newSearchFrom:]
	if loc := newBlockRE.FindStringSubmatchIndex(rest); loc != nil {
		a.New = blockText(rest, loc)
	} else if loc := newMisclosedRE.FindStringSubmatchIndex(rest); loc != nil {
		a.New = blockText(rest, loc)
		a.Warnings = append(a.Warnings, "NEW block was closed with <<< instead of >>>")
	} else {
		return Action{}, blockError(VerbEditFile, "NEW", rest, grammarEditFile)
	}
	return a, nil
}

func hasNewBlock(s string) bool {
	return newBlockRE.MatchString(s) || newMisclosedRE.MatchString(s)
}

func findBlock(re *regexp.Regexp, body string) (string, bool) {
	loc := re.FindStringSubmatchIndex(body)
	if loc == nil {
		return "", false
	}
	return blockText(body, loc), true
}

// blockText extracts capture group 1 from a block match, with markdown
// fences stripped. An empty block is valid.
func blockText(s string, loc []int) string {
	if loc[2] < 0 {
		return ""
	}
	return stripMarkdownFences(s[loc[2]:loc[3]])
}

// stripMarkdownFences removes a ``` opening line and ``` closing line that
// wrap the entire block.
func stripMarkdownFences(block string) string {
	lines := strings.Split(block, "\n")
	if len(lines) < 2 {
		return block
	}
	first := strings.TrimSpace(lines[0])
	last := strings.TrimSpace(lines[len(lines)-1])
	if strings.HasPrefix(first, "```") && last == "```" {
		return strings.Join(lines[1:len(lines)-1], "\n")
	}
	return block
}

func blockError(verb Verb, label, body, expected string) *ParseError {
	return &ParseError{
		Verb:     verb,
		Err:      ErrMalformedBlock,
		Detail:   fmt.Sprintf("could not find a %s:\\n<<<\\n...\\n>>> block", label),
		Preview:  preview(strings.TrimSpace(body)),
		Expected: expected,
	}
}

// preview returns the first previewLimit bytes of s, cut on a rune
// boundary, with newlines escaped so it fits on one line.
func preview(s string) string {
	s = s[:runeFloor(s, previewLimit)]
	return strings.ReplaceAll(s, "\n", `\n`)
}
