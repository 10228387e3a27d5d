// Package config loads janitor settings from .env, JANITOR_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/martinemde/janitor/unifiedllm"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "JANITOR_"

// Config is the full runtime configuration.
type Config struct {
	RepoRoot  string `env:"REPO_ROOT" envDefault:"." validate:"required,dir"`
	Bootstrap string `env:"BOOTSTRAP" envDefault:"AI_START_HERE.md" validate:"required"`

	Provider    string  `env:"PROVIDER" envDefault:"ollama" validate:"required,oneof=ollama openai anthropic groq mistral cohere deepseek google openrouter"`
	Model       string  `env:"MODEL"`
	Endpoint    string  `env:"ENDPOINT" validate:"omitempty,url"`
	APIKey      string  `env:"API_KEY"`
	MaxTokens   int     `env:"MAX_TOKENS" envDefault:"2048" validate:"gt=0"`
	Temperature float64 `env:"TEMPERATURE" envDefault:"0.1" validate:"gte=0,lte=2"`

	MaxSteps      int `env:"MAX_STEPS" envDefault:"100" validate:"gt=0"`
	ContextWindow int `env:"CONTEXT_WINDOW" validate:"gte=0"`
	SafetyMargin  int `env:"SAFETY_MARGIN" envDefault:"100" validate:"gte=0"`
	LoopWindow    int `env:"LOOP_WINDOW" envDefault:"6" validate:"gte=0"`

	ValidationCommand string        `env:"VALIDATION_COMMAND"`
	CommandTimeout    time.Duration `env:"COMMAND_TIMEOUT" envDefault:"5m" validate:"gt=0"`
	MaxRetries        int           `env:"MAX_RETRIES" envDefault:"3" validate:"gt=0"`
	Remote            string        `env:"REMOTE"`
	Branch            string        `env:"BRANCH"`

	RequestsPerMinute int    `env:"REQUESTS_PER_MINUTE" validate:"gte=0"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
}

// providerKeyVars are the conventional key variables consulted when
// JANITOR_API_KEY is unset.
var providerKeyVars = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"groq":       "GROQ_API_KEY",
	"mistral":    "MISTRAL_API_KEY",
	"cohere":     "COHERE_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"google":     "GEMINI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// defaultContextWindow applies when neither the user nor the catalog
// knows the model's window.
const defaultContextWindow = 32768

// Load reads configuration. args excludes the program name; a single
// positional argument overrides the repository root.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()
	return load(args, os.Stderr)
}

func load(args []string, usage io.Writer) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	fs := flag.NewFlagSet("janitor", flag.ContinueOnError)
	fs.SetOutput(usage)
	fs.StringVar(&cfg.RepoRoot, "repo", cfg.RepoRoot, "repository root")
	fs.StringVar(&cfg.Bootstrap, "bootstrap", cfg.Bootstrap, "instruction file, relative to the repository root")
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "model provider")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "model id (default: the provider's catalog default)")
	fs.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "model endpoint URL (ollama)")
	fs.IntVar(&cfg.MaxTokens, "max-tokens", cfg.MaxTokens, "reply token limit")
	fs.Float64Var(&cfg.Temperature, "temperature", cfg.Temperature, "sampling temperature")
	fs.IntVar(&cfg.MaxSteps, "max-steps", cfg.MaxSteps, "step budget")
	fs.IntVar(&cfg.ContextWindow, "context-window", cfg.ContextWindow, "model context window in tokens (default: from the catalog)")
	fs.IntVar(&cfg.SafetyMargin, "safety-margin", cfg.SafetyMargin, "tokens kept free in every prompt")
	fs.IntVar(&cfg.LoopWindow, "loop-window", cfg.LoopWindow, "recent actions compared for loop detection (0 disables)")
	fs.StringVar(&cfg.ValidationCommand, "validate", cfg.ValidationCommand, "shell command run after each change (empty disables validation)")
	fs.DurationVar(&cfg.CommandTimeout, "command-timeout", cfg.CommandTimeout, "timeout for git, patch and validation commands")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "validation attempts per change before giving up")
	fs.StringVar(&cfg.Remote, "remote", cfg.Remote, "git remote to push to")
	fs.StringVar(&cfg.Branch, "branch", cfg.Branch, "git branch to push")
	fs.IntVar(&cfg.RequestsPerMinute, "rpm", cfg.RequestsPerMinute, "model requests per minute (0 is unlimited)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "console log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	switch fs.NArg() {
	case 0:
	case 1:
		cfg.RepoRoot = fs.Arg(0)
	default:
		return nil, fmt.Errorf("expected at most one repository argument, got %d", fs.NArg())
	}

	cfg.resolveDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveDefaults fills fields that depend on other fields.
func (c *Config) resolveDefaults() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.Model == "" {
		if info := unifiedllm.GetLatestModel(c.Provider); info != nil {
			c.Model = info.ID
		}
	}
	if c.ContextWindow == 0 {
		c.ContextWindow = unifiedllm.ContextWindowFor(c.Model, defaultContextWindow)
	}
	if c.APIKey == "" {
		if name, ok := providerKeyVars[c.Provider]; ok {
			c.APIKey = os.Getenv(name)
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the token budget.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value())
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Model == "" {
		return fmt.Errorf("invalid configuration: no model given and no catalog default for provider %q", c.Provider)
	}
	if c.PromptBudget() <= 0 {
		return fmt.Errorf("invalid configuration: context window %d leaves no room for a prompt after %d reply tokens and a margin of %d",
			c.ContextWindow, c.MaxTokens, c.SafetyMargin)
	}
	if c.Provider != "ollama" && c.APIKey == "" {
		return fmt.Errorf("invalid configuration: provider %q needs an API key (set %sAPI_KEY)", c.Provider, EnvPrefix)
	}
	return nil
}

// PromptBudget is the token budget left for the prompt.
func (c *Config) PromptBudget() int {
	return c.ContextWindow - c.MaxTokens - c.SafetyMargin
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
