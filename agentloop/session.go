package agentloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/janitor/unifiedllm"
)

// RunState is the lifecycle state of a session.
type RunState string

const (
	RunRunning   RunState = "running"
	RunHalted    RunState = "halted"
	RunStepLimit RunState = "step_limit_reached"
	RunAborted   RunState = "aborted"
)

// Completer is the model call the session depends on. *unifiedllm.Client
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)
}

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	Provider            string
	Model               string
	MaxSteps            int
	MaxReplyTokens      int
	Temperature         float64
	EnableLoopDetection bool
	LoopWindow          int
	Retry               unifiedllm.RetryPolicy
	// ObservationLimits overrides the per-verb observation budgets.
	ObservationLimits map[Verb]int
}

// DefaultSessionConfig returns the standard configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxSteps:            100,
		MaxReplyTokens:      2048,
		Temperature:         0.1,
		EnableLoopDetection: true,
		LoopWindow:          DefaultLoopWindow,
		Retry:               unifiedllm.DefaultRetryPolicy(),
	}
}

// SessionDeps are the collaborators a session drives.
type SessionDeps struct {
	Client   Completer
	Executor *Executor
	// Validator may be nil or disabled.
	Validator *Orchestrator
	Window    *ContextWindow
	// RunLog may be nil.
	RunLog       *RunLog
	Logger       *slog.Logger
	SystemPrompt string
	Bootstrap    string
}

// RunResult summarizes a finished run.
type RunResult struct {
	State             RunState
	Steps             int
	Usage             unifiedllm.Usage
	ParseErrors       int
	ToolErrors        int
	SandboxViolations int
	Validations       int
	ValidationsPassed int
	Duration          time.Duration
	Err               error
}

// Session is the driver loop: prompt, parse, execute, validate, repeat.
type Session struct {
	id         string
	deps       SessionDeps
	cfg        SessionConfig
	emitter    *EventEmitter
	logger     *slog.Logger
	transcript Transcript
	state      RunState
	mu         sync.Mutex
}

// NewSession validates deps and returns a session ready to Run.
func NewSession(deps SessionDeps, cfg SessionConfig) (*Session, error) {
	if deps.Client == nil {
		return nil, errors.New("session: model client is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("session: executor is required")
	}
	if deps.Window == nil {
		return nil, errors.New("session: context window is required")
	}
	def := DefaultSessionConfig()
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = def.MaxSteps
	}
	if cfg.LoopWindow <= 0 {
		cfg.LoopWindow = def.LoopWindow
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	id := uuid.NewString()
	if deps.RunLog != nil {
		id = deps.RunLog.ID
	}
	return &Session{
		id:      id,
		deps:    deps,
		cfg:     cfg,
		emitter: NewEventEmitter(id, 256),
		logger:  logger,
		state:   RunRunning,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Events returns the event channel. It is closed when Run returns.
func (s *Session) Events() <-chan SessionEvent { return s.emitter.Events() }

// State returns the current lifecycle state.
func (s *Session) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns a copy of the turns so far.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Turns()
}

func (s *Session) setState(st RunState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run drives the loop until the model halts, the step budget is spent, or
// the model call fails for good. The error is non-nil only for Aborted.
func (s *Session) Run(ctx context.Context) (RunResult, error) {
	start := time.Now()
	result := RunResult{State: RunRunning}
	defer s.emitter.Close()

	pinned := []unifiedllm.Message{unifiedllm.SystemMessage(s.deps.SystemPrompt)}
	if s.deps.Bootstrap != "" {
		pinned = append(pinned, unifiedllm.UserMessage(s.deps.Bootstrap))
	}
	if s.deps.RunLog != nil {
		s.deps.RunLog.RecordPinned(s.deps.SystemPrompt, s.deps.Bootstrap)
	}
	s.emitter.Emit(EventSessionStart, 0, map[string]any{"model": s.cfg.Model, "max_steps": s.cfg.MaxSteps})
	s.logger.Info("session started", "model", s.cfg.Model, "max_steps", s.cfg.MaxSteps, "validation", s.validationEnabled())

	prompt := s.deps.Bootstrap
	lastDropped := 0
	budget := s.deps.Window.Budget()
	for step := 1; ; step++ {
		if step > s.cfg.MaxSteps {
			result.State = RunStepLimit
			s.emitter.Emit(EventStepLimit, step-1, map[string]any{"max_steps": s.cfg.MaxSteps})
			s.logger.Warn("step limit reached", "max_steps", s.cfg.MaxSteps)
			break
		}
		if err := ctx.Err(); err != nil {
			return s.abort(result, start, err)
		}

		resp, err := s.complete(ctx, step, pinned, &budget, &lastDropped)
		if err != nil {
			s.logger.Error("model call failed", "step", step, "error", err)
			return s.abort(result, start, err)
		}
		result.Usage = result.Usage.Add(resp.Usage)
		reply := resp.Text()
		s.emitter.Emit(EventModelReply, step, map[string]any{"chars": len(reply), "output_tokens": resp.Usage.OutputTokens})

		turn := Turn{Step: step, Timestamp: time.Now(), Prompt: prompt, Reply: reply, Usage: resp.Usage}
		observation, halt, err := s.handleReply(ctx, &turn, &result)
		if err != nil {
			return s.abort(result, start, err)
		}

		if turn.Action != nil && s.cfg.EnableLoopDetection {
			sigs := append(s.transcript.ActionSignatures(s.cfg.LoopWindow-1), turn.Action.Signature())
			if DetectLoop(sigs, s.cfg.LoopWindow) {
				observation += "\n\n" + loopWarning(s.cfg.LoopWindow)
				s.emitter.Emit(EventLoopDetection, step, map[string]any{"window": s.cfg.LoopWindow})
				s.logger.Warn("repeating actions detected", "step", step, "window", s.cfg.LoopWindow)
			}
		}

		turn.Observation = observation
		s.mu.Lock()
		s.transcript.Append(turn)
		s.mu.Unlock()
		if s.deps.RunLog != nil {
			s.deps.RunLog.RecordTurn(turn)
		}
		result.Steps = step
		prompt = observation

		if halt {
			result.State = RunHalted
			s.logger.Info("model halted", "step", step)
			break
		}
	}

	return s.finish(result, start), nil
}

// complete fits the transcript into budget and asks the model for the next
// reply. When the provider rejects the prompt as too long, budget shrinks to
// half the rejected prompt and older turns are dropped, until only the pinned
// messages and the latest turn are left. The reduced budget carries over to
// later steps.
func (s *Session) complete(ctx context.Context, step int, pinned []unifiedllm.Message, budget, lastDropped *int) (*unifiedllm.Response, error) {
	turns := s.transcript.Turns()
	for {
		window := s.deps.Window.FitBudget(pinned, turns, *budget)
		if window.DroppedTurns != *lastDropped {
			*lastDropped = window.DroppedTurns
			s.emitter.Emit(EventContextTrimmed, step, map[string]any{"dropped_turns": window.DroppedTurns, "dropped_tokens": window.DroppedTokens})
			s.logger.Info("context trimmed", "step", step, "dropped_turns", window.DroppedTurns, "dropped_tokens", window.DroppedTokens, "prompt_tokens", window.Tokens, "budget", window.Budget)
		}
		if window.Overflow {
			s.logger.Warn("prompt exceeds budget even after trimming", "step", step, "prompt_tokens", window.Tokens, "budget", window.Budget)
		}

		req := unifiedllm.Request{
			Model:       s.cfg.Model,
			Provider:    s.cfg.Provider,
			Messages:    window.Messages,
			Temperature: unifiedllm.Float64(s.cfg.Temperature),
		}
		if s.cfg.MaxReplyTokens > 0 {
			req.MaxTokens = unifiedllm.Int(s.cfg.MaxReplyTokens)
		}
		s.emitter.Emit(EventModelRequest, step, map[string]any{"messages": len(req.Messages), "prompt_tokens": window.Tokens})

		resp, err := unifiedllm.Retry(ctx, s.cfg.Retry, func(ctx context.Context) (*unifiedllm.Response, error) {
			return s.deps.Client.Complete(ctx, req)
		})
		var tooLong *unifiedllm.ContextLengthError
		if err == nil || !errors.As(err, &tooLong) || window.DroppedTurns >= len(turns)-1 {
			return resp, err
		}
		*budget = window.Tokens / 2
		s.logger.Warn("prompt rejected as too long; dropping more turns",
			"step", step, "prompt_tokens", window.Tokens, "budget", *budget, "error", err)
	}
}

// handleReply parses the reply, executes the action and runs validation.
// It returns the observation for the model and whether the model halted.
// The error is non-nil only when ctx was cancelled.
func (s *Session) handleReply(ctx context.Context, turn *Turn, result *RunResult) (string, bool, error) {
	action, err := ParseAction(turn.Reply)
	if err != nil {
		turn.ParseErr = err
		result.ParseErrors++
		s.emitter.Emit(EventParseError, turn.Step, map[string]any{"error": err.Error()})
		s.logger.Info("reply not parsed", "step", turn.Step, "error", err)
		return TruncateObservation("", correctiveObservation(err), s.cfg.ObservationLimits), false, nil
	}
	turn.Action = &action
	s.logger.Debug("action parsed", "step", turn.Step, "action", action.Summary())
	s.emitter.Emit(EventActionParsed, turn.Step, map[string]any{"verb": string(action.Verb), "path": action.Path, "summary": action.Summary()})

	res, err := s.deps.Executor.Execute(ctx, action)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		result.ToolErrors++
		var violation *SandboxViolation
		if errors.As(err, &violation) {
			result.SandboxViolations++
			s.logger.Warn("sandbox violation", "step", turn.Step, "verb", action.Verb, "path", violation.Path, "reason", violation.Reason)
		}
		s.emitter.Emit(EventActionError, turn.Step, map[string]any{"verb": string(action.Verb), "error": err.Error()})
		return TruncateObservation(action.Verb, "ERROR: "+err.Error(), s.cfg.ObservationLimits), false, nil
	}

	observation := TruncateObservation(action.Verb, res.Observation, s.cfg.ObservationLimits)
	for _, w := range action.Warnings {
		observation += "\nNOTE: " + w + ". Close blocks with >>>."
	}
	s.emitter.Emit(EventActionResult, turn.Step, map[string]any{"verb": string(action.Verb), "path": res.Path, "mutating": res.Mutating, "truncated": res.Truncated})

	if res.Mutating && s.validationEnabled() {
		s.emitter.Emit(EventValidationStart, turn.Step, map[string]any{"description": action.Describe()})
		report, err := s.deps.Validator.Validate(ctx, action.Describe())
		if err != nil {
			return "", false, err
		}
		result.Validations++
		if report.Passed() {
			result.ValidationsPassed++
		}
		turn.Validation = []ValidationAttempt{report.Attempt}
		observation += "\n\n" + report.Directive
		s.emitter.Emit(EventValidationResult, turn.Step, map[string]any{
			"outcome":  string(report.Attempt.Outcome),
			"attempt":  report.Attempt.Attempt,
			"given_up": report.GivenUp,
		})
	}
	return observation, res.Halt, nil
}

func (s *Session) validationEnabled() bool {
	return s.deps.Validator != nil && s.deps.Validator.Enabled()
}

func (s *Session) abort(result RunResult, start time.Time, err error) (RunResult, error) {
	result.State = RunAborted
	result.Err = err
	s.emitter.Emit(EventError, result.Steps, map[string]any{"error": err.Error()})
	return s.finish(result, start), err
}

func (s *Session) finish(result RunResult, start time.Time) RunResult {
	result.Duration = time.Since(start)
	s.setState(result.State)
	s.emitter.Emit(EventSessionEnd, result.Steps, map[string]any{"state": string(result.State), "steps": result.Steps})
	s.logger.Info("session finished",
		"state", result.State,
		"steps", result.Steps,
		"parse_errors", result.ParseErrors,
		"tool_errors", result.ToolErrors,
		"sandbox_violations", result.SandboxViolations,
		"validations", result.Validations,
		"validations_passed", result.ValidationsPassed,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
		"duration", result.Duration,
		"events_dropped", s.emitter.Dropped(),
	)
	if s.deps.RunLog != nil {
		body := fmt.Sprintf("- state: %s\n- steps: %d\n- parse errors: %d\n- tool errors: %d\n- validations: %d (%d passed)\n- duration: %s",
			result.State, result.Steps, result.ParseErrors, result.ToolErrors, result.Validations, result.ValidationsPassed, result.Duration.Round(time.Millisecond))
		if result.Err != nil {
			body += "\n- error: " + result.Err.Error()
		}
		s.deps.RunLog.RecordNote("Result", body)
	}
	return result
}

// correctiveObservation tells the model what was wrong with its reply.
func correctiveObservation(err error) string {
	verbs := make([]string, len(Verbs))
	for i, v := range Verbs {
		verbs[i] = string(v)
	}
	valid := strings.Join(verbs, ", ")

	var perr *ParseError
	switch {
	case errors.Is(err, ErrEmptyReply):
		return "ERROR: Your last reply was empty. Think about the next step, then end your reply with exactly one ACTION line, for example:\nACTION: LIST_DIR ."
	case errors.Is(err, ErrNoAction):
		return "Your last reply contained analysis but no valid ACTION line. End every reply with exactly one line of the form\nACTION: <VERB> [argument]\nValid actions are " + valid + "."
	case errors.Is(err, ErrUnknownAction) && errors.As(err, &perr):
		return fmt.Sprintf("ERROR: Unknown ACTION '%s'. Valid actions are %s.", perr.Verb, valid)
	default:
		return "ERROR: Could not parse your ACTION. " + err.Error()
	}
}
