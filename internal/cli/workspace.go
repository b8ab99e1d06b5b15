package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cairn-io/cairn/internal/state"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage workspaces",
	Long: `Workspaces keep several distinct sets of resources managed by the same
configuration, each with its own state file.

The default workspace is called "default".`,
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	RunE:  runWorkspaceList,
}

var workspaceNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a new workspace and switch to it",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceNew,
}

var workspaceSelectCmd = &cobra.Command{
	Use:   "select <name>",
	Short: "Switch to another workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceSelect,
}

var workspaceDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceDelete,
}

var workspaceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current workspace name",
	RunE:  runWorkspaceShow,
}

func init() {
	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceCmd.AddCommand(workspaceNewCmd)
	workspaceCmd.AddCommand(workspaceSelectCmd)
	workspaceCmd.AddCommand(workspaceDeleteCmd)
	workspaceCmd.AddCommand(workspaceShowCmd)
}

func cairnDir() string {
	return ".cairn"
}

func workspaceFile() string {
	return filepath.Join(cairnDir(), "workspace")
}

func currentWorkspace() string {
	data, err := os.ReadFile(workspaceFile())
	if err != nil {
		return "default"
	}
	ws := strings.TrimSpace(string(data))
	if ws == "" {
		return "default"
	}
	return ws
}

func workspaceState(name string) string {
	if name == "default" {
		return filepath.Join(cairnDir(), "state.json")
	}
	return filepath.Join(cairnDir(), fmt.Sprintf("state.%s.json", name))
}

// WorkspaceStatePath returns the state file path for the current
// workspace.
func WorkspaceStatePath() string {
	return workspaceState(currentWorkspace())
}

func listWorkspaces() ([]string, error) {
	entries, err := os.ReadDir(cairnDir())
	if err != nil {
		return nil, fmt.Errorf("failed to read %s directory: %w", cairnDir(), err)
	}

	workspaces := []string{"default"}
	seen := map[string]bool{"default": true}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "state.") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ws := strings.TrimSuffix(strings.TrimPrefix(name, "state."), ".json")
		if ws != "" && !seen[ws] {
			workspaces = append(workspaces, ws)
			seen[ws] = true
		}
	}

	return workspaces, nil
}

func runWorkspaceList(cmd *cobra.Command, args []string) error {
	workspaces, err := listWorkspaces()
	if err != nil {
		return err
	}

	current := currentWorkspace()
	for _, ws := range workspaces {
		if ws == current {
			fmt.Printf("* %s\n", ws)
		} else {
			fmt.Printf("  %s\n", ws)
		}
	}
	return nil
}

func runWorkspaceNew(cmd *cobra.Command, args []string) error {
	name := args[0]
	if name == "default" {
		return fmt.Errorf("workspace \"default\" always exists")
	}

	path := workspaceState(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("workspace %q already exists", name)
	}

	mgr := state.NewManager(path)
	if err := mgr.Write(cmd.Context(), state.NewState()); err != nil {
		return fmt.Errorf("failed to create workspace state: %w", err)
	}

	if err := os.WriteFile(workspaceFile(), []byte(name), 0644); err != nil {
		return fmt.Errorf("failed to switch workspace: %w", err)
	}

	fmt.Printf("Created and switched to workspace %q\n", name)
	return nil
}

func runWorkspaceSelect(cmd *cobra.Command, args []string) error {
	name := args[0]

	if name != "default" {
		if _, err := os.Stat(workspaceState(name)); os.IsNotExist(err) {
			return fmt.Errorf("workspace %q does not exist", name)
		}
	}

	if err := os.WriteFile(workspaceFile(), []byte(name), 0644); err != nil {
		return fmt.Errorf("failed to switch workspace: %w", err)
	}

	fmt.Printf("Switched to workspace %q\n", name)
	return nil
}

func runWorkspaceDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	if name == "default" {
		return fmt.Errorf("cannot delete the default workspace")
	}
	if currentWorkspace() == name {
		return fmt.Errorf("cannot delete the active workspace %q, switch to another workspace first", name)
	}

	path := workspaceState(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("workspace %q does not exist", name)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete workspace state: %w", err)
	}
	os.Remove(path + ".lock")

	fmt.Printf("Deleted workspace %q\n", name)
	return nil
}

func runWorkspaceShow(cmd *cobra.Command, args []string) error {
	fmt.Println(currentWorkspace())
	return nil
}
