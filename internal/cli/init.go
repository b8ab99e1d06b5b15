package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cairn-io/cairn/internal/config"
	"github.com/cairn-io/cairn/internal/state"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Prepare a working directory",
	Long: `Creates the local state directory and an empty state file. An empty
directory also gets a starter configuration to edit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

const starterConfig = `variable "environment" {
  type    = string
  default = "dev"
}

resource "null_resource" "example" {
  triggers = {
    environment = var.environment
  }
}

output "environment" {
  value = var.environment
}
`

func runInit(cmd *cobra.Command, args []string) error {
	dir := configDir(args)

	stateDir := filepath.Join(dir, ".cairn")
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	hasConfig, err := hasConfigFiles(dir)
	if err != nil {
		return err
	}
	if !hasConfig {
		mainPath := filepath.Join(dir, "main"+config.ConfigExt)
		if err := os.WriteFile(mainPath, []byte(starterConfig), 0644); err != nil {
			return fmt.Errorf("failed to write starter configuration: %w", err)
		}
		fmt.Printf("Created %s\n", mainPath)
	}

	localState := filepath.Join(stateDir, "state.json")
	if _, err := os.Stat(localState); os.IsNotExist(err) {
		mgr := state.NewManager(localState)
		if err := mgr.Write(cmd.Context(), state.NewState()); err != nil {
			return fmt.Errorf("failed to create state file: %w", err)
		}
	}

	fmt.Println("Cairn has been initialized!")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Declare resources in main" + config.ConfigExt)
	fmt.Println("  2. Run 'cairn plan' to preview the changes")
	fmt.Println("  3. Run 'cairn apply' to create the resources")
	return nil
}

func hasConfigFiles(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, config.VarsExt) {
			continue
		}
		if strings.HasSuffix(name, config.ConfigExt) {
			return true, nil
		}
	}
	return false, nil
}
