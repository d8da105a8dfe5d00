// Command agentkernel runs the multi-agent orchestration kernel: an
// EventLog-backed scheduler that dispatches agent activations against
// LLM providers, executes their tool calls against a virtual filesystem,
// and lets spawned/signaling agents coordinate through the same log.
//
// Configuration is a single YAML file (see internal/config); secrets may
// also ride in the environment:
//   - AGENTKERNEL_ANTHROPIC_API_KEY
//   - AGENTKERNEL_OPENAI_API_KEY
//   - AGENTKERNEL_DATABASE_URL
//   - AGENTKERNEL_SLACK_BOT_TOKEN
//   - AGENTKERNEL_CHECKPOINT_SECRET
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() so tests can exercise it without os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentkernel",
		Short: "agentkernel - multi-agent activation scheduler",
		Long: `agentkernel runs agent activations against an EventLog-backed scheduler.

Agents are YAML profiles loaded from a VFS-backed registry; activations run
against LLM providers (Anthropic, OpenAI, Bedrock) with tool execution,
spawn/signal coordination, and deterministic replay from the event log.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildReplayCmd(),
		buildRestoreCmd(),
	)

	return rootCmd
}

const defaultConfigPath = "agentkernel.yaml"
