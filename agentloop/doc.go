// Package agentloop drives a language model through a plain-text action
// protocol to edit a repository.
//
// Each model reply ends with one ACTION line (READ_FILE, LIST_DIR,
// WRITE_FILE, EDIT_FILE, APPLY_PATCH or HALT). The session parses it,
// checks every path against a Sandbox rooted at the repository, executes
// it, and feeds the result back as the next prompt. After each change the
// Orchestrator commits, pushes and runs a validation command, and build
// failures are handed back to the model to fix.
//
// # Architecture
//
//   - Sandbox: confines paths to the repository root.
//   - ParseAction: turns a reply into an Action.
//   - Executor: runs actions through a ToolRegistry keyed by Verb.
//   - ContextWindow: fits the transcript into the model's token budget.
//   - Orchestrator: commit, push, validate with bounded retries.
//   - Session: the driver loop, with an EventEmitter for progress.
//   - RunLog: transcript.md and session.log under .janitor/logs.
//
// # Quick Start
//
//	sandbox, _ := agentloop.NewSandbox(root, agentloop.LogDirName)
//	runner := agentloop.NewLocalRunner(logger)
//	git := agentloop.NewGitClient(runner, sandbox.Root())
//	exec, _ := agentloop.NewExecutor(sandbox, git, runner, agentloop.DefaultExecutorConfig(), logger)
//	session, _ := agentloop.NewSession(agentloop.SessionDeps{
//	    Client:       client,
//	    Executor:     exec,
//	    Validator:    agentloop.NewOrchestrator(git, runner, agentloop.OrchestratorConfig{Command: "make test", RepoRoot: sandbox.Root()}, logger),
//	    Window:       agentloop.NewContextWindow(agentloop.ApproxCounter{}, agentloop.WindowConfig{MaxContext: 32768, MaxReplyTokens: 2048, SafetyMargin: 100}),
//	    SystemPrompt: agentloop.BuildSystemPrompt(exec.Registry(), agentloop.PromptContext{RepoRoot: sandbox.Root()}),
//	}, agentloop.DefaultSessionConfig())
//	result, err := session.Run(ctx)
package agentloop
