// Command plantdoc runs the plant disease diagnostician as a web service,
// a one-shot CLI query or an interactive terminal chat.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/plantdoc/internal/config"
	"github.com/ent0n29/plantdoc/internal/observability"
)

type rootOptions struct {
	configFile string
	logLevel   string
	apiKey     string
	mode       string
	traceMode  string

	cfg    config.Config
	logger *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "plantdoc",
		Short: "Plant disease diagnostician backed by Gemini with Google Search grounding",
		Long: `plantdoc answers free-text plant health questions.

It forwards each question to a hosted LLM agent, cleans the agent's raw
output into readable text and keeps a running conversation log per session.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "Config file (or set "+config.ConfigFileEnv+")")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level override (debug|info|warn|error)")
	flags.StringVar(&opts.apiKey, "api-key", "", "Google API key for ask/chat (or set GOOGLE_API_KEY)")
	flags.StringVar(&opts.mode, "mode", "", "Agent mode override (auto|gemini|http|mock)")
	flags.StringVar(&opts.traceMode, "trace", "", "Agent trace mode override (off|debug|verbose)")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newAskCmd(opts))
	root.AddCommand(newChatCmd(opts))
	return root
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	if o.configFile != "" {
		if err := os.Setenv(config.ConfigFileEnv, o.configFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = strings.ToLower(o.logLevel)
	}
	if o.mode != "" {
		cfg.AgentMode = strings.ToLower(o.mode)
	}
	if o.traceMode != "" {
		cfg.AgentTraceMode = strings.ToLower(o.traceMode)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	o.cfg = cfg

	// The terminal chat owns the screen; JSON logs would corrupt it.
	if cmd.Name() == "chat" {
		o.logger = zap.NewNop()
		return nil
	}
	o.logger, err = observability.NewLogger(cfg.LogLevel)
	return err
}

// credential resolves the API key for the terminal commands. Mock mode
// accepts a placeholder so it can run offline.
func (o *rootOptions) credential() (string, error) {
	key := strings.TrimSpace(o.apiKey)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}
	if key == "" && o.cfg.AgentMode == "mock" {
		key = "mock"
	}
	if key == "" {
		return "", fmt.Errorf("a Google API key is required: pass --api-key or set GOOGLE_API_KEY")
	}
	return key, nil
}
