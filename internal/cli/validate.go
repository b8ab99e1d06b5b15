package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cairn-io/cairn/internal/config"
)

var (
	validateVars     []string
	validateVarFiles []string
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Validate the configuration",
	Long: `Loads the configuration, binds input variables, checks every declared
validation rule, and verifies that references resolve without cycles.
Nothing is planned or applied.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringArrayVar(&validateVars, "var", nil, "Set an input variable, as name=value")
	validateCmd.Flags().StringArrayVar(&validateVarFiles, "var-file", nil, "Load input variables from a file")
}

func runValidate(cmd *cobra.Command, args []string) error {
	doc, err := config.Load(configDir(args))
	if err != nil {
		return err
	}

	resolver, err := buildResolver(doc, validateVars, validateVarFiles)
	if err != nil {
		return err
	}
	if _, err := resolver.Resolve(); err != nil {
		return err
	}

	fmt.Println("Configuration is valid!")
	return nil
}
