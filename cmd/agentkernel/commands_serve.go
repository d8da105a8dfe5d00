package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the kernel until a
// shutdown signal arrives.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the kernel until SIGINT/SIGTERM",
		Long: `Run the kernel: load its agent registry, start the Scheduler's dispatch
loop, and serve the EventLog WebSocket stream and the Prometheus /metrics
endpoint until a shutdown signal arrives.

Graceful shutdown is handled on SIGINT/SIGTERM: no new activation starts,
but those already running are given time to finish before the process
exits.`,
		Example: `  # Start with the default config path
  agentkernel serve

  # Start with a custom config
  agentkernel serve --config /etc/agentkernel/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to YAML configuration file")
	return cmd
}

// buildReplayCmd creates the "replay" command: rebuild SessionStore/VFS
// state from the event log up to and including a given event, without
// re-executing any tool call.
func buildReplayCmd() *cobra.Command {
	var (
		configPath string
		eventID    uint64
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the event log up to --event-id",
		Long: `Rebuild SessionStore and VFS state from the event log, starting at the
nearest checkpoint at or before --event-id and applying every event up to
and including it. Tool calls are never re-executed: their recorded
results (or, for vfs_write/vfs_delete, the call's own recorded args) are
re-applied verbatim.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), configPath, eventID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to YAML configuration file")
	cmd.Flags().Uint64Var(&eventID, "event-id", 0, "replay up to and including this event id")
	_ = cmd.MarkFlagRequired("event-id")
	return cmd
}

// buildRestoreCmd creates the "restore" command: reset state to the
// nearest checkpoint at or before a given event, without applying
// anything beyond it.
func buildRestoreCmd() *cobra.Command {
	var (
		configPath string
		eventID    uint64
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore state to the checkpoint nearest --event-id",
		Long: `Reset SessionStore and VFS state to the nearest checkpoint at or before
--event-id, without applying anything past it. Checkpoints carry no
snapshot of their own, so this is a replay targeted exactly at the
checkpoint boundary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd.Context(), configPath, eventID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to YAML configuration file")
	cmd.Flags().Uint64Var(&eventID, "event-id", 0, "restore to the checkpoint nearest this event id")
	_ = cmd.MarkFlagRequired("event-id")
	return cmd
}
