// Package commands defines all Cobra CLI commands for the ragindex binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/ragindex-go/internal/audit"
	"github.com/54b3r/ragindex-go/internal/config"
	"github.com/54b3r/ragindex-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragindex",
		Short: "ragindex keeps a vector index in step with your documents",
		Long: `ragindex splits extracted document text into overlapping chunks, embeds
them in batches and reconciles each document's entries against a vector
index: stale entries are deleted, current ones upserted. Resubmitting a
document at any time converges the index to that document's current content.

The embedding provider is selected with EMBEDDING_PROVIDER and the index
backend with INDEX_BACKEND, either from the environment, a .env file or a
YAML config file (~/.ragindex/config.yaml).
See 'ragindex --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load .env and YAML config (env vars always override both).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Re-read LOG_LEVEL/LOG_FORMAT now that the config is applied.
			log = logging.New()
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragindex/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewPurgeCmd(),
		NewServeCmd(),
		NewWorkerCmd(),
		NewWatchCmd(),
		NewRunsCmd(),
		NewSourcesCmd(),
		NewVersionCmd(),
	)

	return root
}
