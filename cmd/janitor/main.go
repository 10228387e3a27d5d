// Command janitor runs the repository-editing agent loop against a local
// checkout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/martinemde/janitor/agentloop"
	"github.com/martinemde/janitor/config"
	"github.com/martinemde/janitor/unifiedllm"
)

const (
	exitHalted    = 0
	exitAborted   = 1
	exitUsage     = 2
	exitStepLimit = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// newCompleter builds the rate-limited, logged model client for cfg.
// Tests replace it.
var newCompleter = func(cfg *config.Config, logger *slog.Logger) (agentloop.Completer, error) {
	adapter, err := unifiedllm.NewGollmAdapter(unifiedllm.GollmConfig{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		Endpoint:    cfg.Endpoint,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return unifiedllm.NewClient(
		unifiedllm.WithProvider(cfg.Provider, adapter),
		unifiedllm.WithMiddleware(
			unifiedllm.RateLimitMiddleware(unifiedllm.NewRequestLimiter(cfg.RequestsPerMinute)),
			unifiedllm.LoggingMiddleware(logger),
		),
	), nil
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(args)
	if errors.Is(err, flag.ErrHelp) {
		return exitHalted
	}
	if err != nil {
		fmt.Fprintln(stderr, "janitor:", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sandbox, err := agentloop.NewSandbox(cfg.RepoRoot, agentloop.LogDirName)
	if err != nil {
		fmt.Fprintln(stderr, "janitor:", err)
		return exitUsage
	}
	runLog, err := agentloop.NewRunLog(sandbox.Root(), stderr, cfg.SlogLevel())
	if err != nil {
		fmt.Fprintln(stderr, "janitor:", err)
		return exitAborted
	}
	defer runLog.Close()
	logger := runLog.Logger

	runner := agentloop.NewLocalRunner(logger.With("component", "runner"))
	git := agentloop.NewGitClient(runner, sandbox.Root(),
		agentloop.WithRemote(cfg.Remote, cfg.Branch),
		agentloop.WithGitTimeout(cfg.CommandTimeout),
	)
	execCfg := agentloop.DefaultExecutorConfig()
	execCfg.CommandTimeout = cfg.CommandTimeout
	executor, err := agentloop.NewExecutor(sandbox, git, runner, execCfg, logger.With("component", "executor"))
	if err != nil {
		logger.Error("executor setup failed", "error", err)
		return exitAborted
	}
	orchestrator := agentloop.NewOrchestrator(git, runner, agentloop.OrchestratorConfig{
		Command:    cfg.ValidationCommand,
		RepoRoot:   sandbox.Root(),
		Timeout:    cfg.CommandTimeout,
		MaxRetries: cfg.MaxRetries,
	}, logger.With("component", "validation"))

	client, err := newCompleter(cfg, logger.With("component", "model"))
	if err != nil {
		logger.Error("model setup failed", "provider", cfg.Provider, "model", cfg.Model, "error", err)
		return exitAborted
	}
	if c, ok := client.(io.Closer); ok {
		defer c.Close()
	}

	var counter agentloop.TokenCounter = agentloop.ApproxCounter{}
	if bpe, err := agentloop.NewBPECounter(); err != nil {
		logger.Warn("tokenizer unavailable; estimating tokens from length", "error", err)
	} else {
		counter = bpe
	}
	window := agentloop.NewContextWindow(counter, agentloop.WindowConfig{
		MaxContext:     cfg.ContextWindow,
		MaxReplyTokens: cfg.MaxTokens,
		SafetyMargin:   cfg.SafetyMargin,
	})

	bootstrap, err := agentloop.LoadBootstrap(sandbox, cfg.Bootstrap)
	if err != nil {
		logger.Error("bootstrap file rejected", "path", cfg.Bootstrap, "error", err)
		return exitUsage
	}
	system := agentloop.BuildSystemPrompt(executor.Registry(), agentloop.PromptContext{
		RepoRoot:          sandbox.Root(),
		Model:             cfg.Model,
		ValidationCommand: cfg.ValidationCommand,
		MaxSteps:          cfg.MaxSteps,
		Git:               agentloop.GitContext(ctx, runner, sandbox.Root()),
	})

	runLog.WriteHeader("janitor run", map[string]string{
		"repo":       sandbox.Root(),
		"provider":   cfg.Provider,
		"model":      cfg.Model,
		"validation": cfg.ValidationCommand,
		"max steps":  strconv.Itoa(cfg.MaxSteps),
		"context":    strconv.Itoa(cfg.ContextWindow),
	}, []string{"repo", "provider", "model", "validation", "max steps", "context"})

	sessionCfg := agentloop.DefaultSessionConfig()
	sessionCfg.Provider = cfg.Provider
	sessionCfg.Model = cfg.Model
	sessionCfg.MaxSteps = cfg.MaxSteps
	sessionCfg.MaxReplyTokens = cfg.MaxTokens
	sessionCfg.Temperature = cfg.Temperature
	sessionCfg.EnableLoopDetection = cfg.LoopWindow > 0
	sessionCfg.LoopWindow = cfg.LoopWindow
	sessionCfg.Retry.OnRetry = func(err error, attempt int, delay time.Duration) {
		logger.Warn("retrying model call", "attempt", attempt, "delay", delay, "error", err)
	}

	session, err := agentloop.NewSession(agentloop.SessionDeps{
		Client:       client,
		Executor:     executor,
		Validator:    orchestrator,
		Window:       window,
		RunLog:       runLog,
		Logger:       logger.With("component", "session"),
		SystemPrompt: system,
		Bootstrap:    bootstrap,
	}, sessionCfg)
	if err != nil {
		logger.Error("session setup failed", "error", err)
		return exitAborted
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(stdout, session.Events())
	}()
	result, err := session.Run(ctx)
	<-done

	fmt.Fprintf(stdout, "\n%s after %d steps (%d validations, %d passed). Logs: %s\n",
		result.State, result.Steps, result.Validations, result.ValidationsPassed, runLog.Dir)
	switch {
	case err != nil:
		fmt.Fprintln(stderr, "janitor:", err)
		return exitAborted
	case result.State == agentloop.RunStepLimit:
		return exitStepLimit
	}
	return exitHalted
}

func printEvents(w io.Writer, events <-chan agentloop.SessionEvent) {
	for ev := range events {
		switch ev.Kind {
		case agentloop.EventActionParsed:
			fmt.Fprintf(w, "[%3d] %v\n", ev.Step, ev.Data["summary"])
		case agentloop.EventParseError:
			fmt.Fprintf(w, "[%3d] no usable action\n", ev.Step)
		case agentloop.EventActionError:
			fmt.Fprintf(w, "[%3d]   error: %v\n", ev.Step, ev.Data["error"])
		case agentloop.EventValidationResult:
			fmt.Fprintf(w, "[%3d]   validation %v (attempt %v)\n", ev.Step, ev.Data["outcome"], ev.Data["attempt"])
			if given, _ := ev.Data["given_up"].(bool); given {
				fmt.Fprintf(w, "[%3d]   validation given up for this change\n", ev.Step)
			}
		case agentloop.EventContextTrimmed:
			fmt.Fprintf(w, "[%3d]   context trimmed: %v turns dropped\n", ev.Step, ev.Data["dropped_turns"])
		case agentloop.EventLoopDetection:
			fmt.Fprintf(w, "[%3d]   repeating actions detected\n", ev.Step)
		case agentloop.EventStepLimit:
			fmt.Fprintf(w, "step limit of %v reached\n", ev.Data["max_steps"])
		}
	}
}
