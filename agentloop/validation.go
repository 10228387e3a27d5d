package agentloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// CommitPrefix marks every commit made by the agent.
const CommitPrefix = "[janitor]"

// Outcome is the result of one validation cycle.
type Outcome string

const (
	OutcomePassed   Outcome = "passed"
	OutcomeFailed   Outcome = "failed"
	OutcomeTimedOut Outcome = "timed_out"
)

// ValidationState is a phase of the commit, push, validate cycle.
type ValidationState string

const (
	StateIdle       ValidationState = "idle"
	StateCommitting ValidationState = "committing"
	StatePushing    ValidationState = "pushing"
	StateValidating ValidationState = "validating"
	StatePassed     ValidationState = "passed"
	StateFailed     ValidationState = "failed"
	StateTimedOut   ValidationState = "timed_out"
	StateGivenUp    ValidationState = "given_up"
)

// ValidationAttempt records one cycle.
type ValidationAttempt struct {
	Attempt       int
	CommitMessage string
	Committed     bool
	Outcome       Outcome
	ExitCode      int
	Output        string
	Duration      time.Duration
}

// ValidationReport is what a cycle hands back to the driver.
type ValidationReport struct {
	Attempt ValidationAttempt
	// Episode holds every attempt of the current episode, this one included.
	Episode []ValidationAttempt
	GivenUp bool
	// Directive is the text appended to the observation for the model.
	Directive string
}

// Passed reports whether the build succeeded.
func (r ValidationReport) Passed() bool { return r.Attempt.Outcome == OutcomePassed }

// OrchestratorConfig configures validation.
type OrchestratorConfig struct {
	// Command runs through /bin/sh -c in RepoRoot. Empty disables validation.
	Command    string
	RepoRoot   string
	Timeout    time.Duration
	MaxRetries int
}

// Orchestrator commits, pushes and validates after each mutating action.
// An episode starts at the first unresolved cycle and ends when the build
// passes or after MaxRetries unresolved cycles.
type Orchestrator struct {
	vcs     VersionControl
	runner  Runner
	cfg     OrchestratorConfig
	logger  *slog.Logger
	state   ValidationState
	episode []ValidationAttempt
}

// NewOrchestrator returns an idle orchestrator.
func NewOrchestrator(vcs VersionControl, runner Runner, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{vcs: vcs, runner: runner, cfg: cfg, logger: logger, state: StateIdle}
}

// Enabled reports whether a validation command is configured.
func (o *Orchestrator) Enabled() bool {
	return strings.TrimSpace(o.cfg.Command) != ""
}

// State returns the phase the orchestrator is in, or the terminal state of
// the last cycle.
func (o *Orchestrator) State() ValidationState { return o.state }

// EpisodeAttempts returns the number of unresolved cycles so far.
func (o *Orchestrator) EpisodeAttempts() int { return len(o.episode) }

func (o *Orchestrator) transition(to ValidationState) {
	o.logger.Debug("validation state", "from", o.state, "to", to)
	o.state = to
}

// Validate runs one cycle for a change described by description. Commit
// and push problems are logged and never stop the cycle; the only error
// returned is ctx's.
func (o *Orchestrator) Validate(ctx context.Context, description string) (ValidationReport, error) {
	if !o.Enabled() {
		return ValidationReport{}, errors.New("validation is disabled")
	}

	attempt := ValidationAttempt{
		Attempt:       len(o.episode) + 1,
		CommitMessage: CommitPrefix + " " + description,
	}

	o.transition(StateCommitting)
	committed, err := o.vcs.CommitAll(ctx, attempt.CommitMessage)
	if ctxErr := ctx.Err(); ctxErr != nil {
		o.transition(StateIdle)
		return ValidationReport{}, ctxErr
	}
	switch {
	case err != nil:
		o.logger.Warn("commit failed; validating anyway", "message", attempt.CommitMessage, "error", err)
	case !committed:
		o.logger.Info("nothing to commit", "message", attempt.CommitMessage)
	default:
		o.logger.Info("committed", "message", attempt.CommitMessage)
	}
	attempt.Committed = committed

	o.transition(StatePushing)
	if err := o.vcs.Push(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			o.transition(StateIdle)
			return ValidationReport{}, ctxErr
		}
		o.logger.Warn("push failed; validating anyway", "error", err)
	}

	o.transition(StateValidating)
	res, err := o.runner.Run(ctx, ShellCommand(o.cfg.Command, o.cfg.RepoRoot, o.cfg.Timeout))
	switch {
	case err != nil && ctx.Err() != nil:
		o.transition(StateIdle)
		return ValidationReport{}, ctx.Err()
	case err != nil:
		attempt.Outcome = OutcomeFailed
		attempt.ExitCode = -1
		attempt.Output = err.Error()
	case res.TimedOut:
		attempt.Outcome = OutcomeTimedOut
		attempt.ExitCode = -1
		attempt.Output = res.Output()
		attempt.Duration = res.Duration
		o.logger.Warn("validation timed out", "command", o.cfg.Command, "timeout", o.cfg.Timeout, "attempt", attempt.Attempt)
	case res.ExitCode == 0:
		attempt.Outcome = OutcomePassed
		attempt.Output = res.Output()
		attempt.Duration = res.Duration
	default:
		attempt.Outcome = OutcomeFailed
		attempt.ExitCode = res.ExitCode
		attempt.Output = res.Output()
		attempt.Duration = res.Duration
	}

	o.episode = append(o.episode, attempt)
	report := ValidationReport{
		Attempt: attempt,
		Episode: append([]ValidationAttempt(nil), o.episode...),
	}

	switch {
	case attempt.Outcome == OutcomePassed:
		o.transition(StatePassed)
		o.episode = nil
	case len(o.episode) >= o.cfg.MaxRetries:
		o.transition(StateGivenUp)
		report.GivenUp = true
		o.episode = nil
	case attempt.Outcome == OutcomeTimedOut:
		o.transition(StateTimedOut)
	default:
		o.transition(StateFailed)
	}
	report.Directive = o.directive(report)

	o.logger.Info("validation finished",
		"outcome", attempt.Outcome,
		"attempt", attempt.Attempt,
		"max_retries", o.cfg.MaxRetries,
		"exit_code", attempt.ExitCode,
		"duration", attempt.Duration,
		"given_up", report.GivenUp,
	)
	return report, nil
}

func (o *Orchestrator) directive(r ValidationReport) string {
	a := r.Attempt
	var sb strings.Builder
	switch a.Outcome {
	case OutcomePassed:
		fmt.Fprintf(&sb, "VALIDATION PASSED: `%s` succeeded for %q.", o.cfg.Command, a.CommitMessage)
	case OutcomeTimedOut:
		fmt.Fprintf(&sb, "VALIDATION TIMED OUT (attempt %d/%d): `%s` did not finish within %s. "+
			"The change is committed but unverified. Keep changes small and continue.",
			a.Attempt, o.cfg.MaxRetries, o.cfg.Command, o.cfg.Timeout)
	default:
		fmt.Fprintf(&sb, "VALIDATION FAILED (attempt %d/%d): `%s` exited with status %d.\nOutput:\n```\n%s\n```\n"+
			"Analyze the failure above and fix it with your next action.",
			a.Attempt, o.cfg.MaxRetries, o.cfg.Command, a.ExitCode,
			TruncateOutput(strings.TrimSpace(a.Output), ValidationOutputLimit, TruncateHeadTail))
	}
	if r.GivenUp {
		fmt.Fprintf(&sb, "\nValidation did not pass after %d attempts; it is abandoned for this change. "+
			"Move on to the next task or HALT.", len(r.Episode))
	}
	return sb.String()
}
