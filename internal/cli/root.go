// Package cli implements the cairn command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cairn-io/cairn/internal/logging"
)

var (
	chdir     string
	statePath string
	logLevel  string
	noColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "cairn",
	Short: "Declarative infrastructure from HCL configuration",
	Long: `Cairn resolves declarative HCL configuration into an execution plan and
reconciles cloud resources against it.

Declare variables, resources, and outputs in .hcl files, then:

  cairn init      Prepare a working directory
  cairn plan      Preview the changes the configuration implies
  cairn apply     Create or update resources to match the configuration
  cairn destroy   Remove every resource under management`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logLevel)
		if chdir != "" {
			if err := os.Chdir(chdir); err != nil {
				return fmt.Errorf("failed to switch to %s: %w", chdir, err)
			}
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&chdir, "chdir", "", "Switch to this directory before running the command")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "Override the local state file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, or error")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(fmtCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(versionCmd)
}
