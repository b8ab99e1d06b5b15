package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/cairn-io/cairn/internal/config"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the recorded state",
	Args:  cobra.NoArgs,
	RunE:  runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the state as JSON")
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	doc, err := config.Load(".")
	if err != nil {
		doc = nil
	}
	store, err := stateStore(doc)
	if err != nil {
		return err
	}
	st, err := store.Read(ctx)
	if err != nil {
		return err
	}

	if showJSON {
		b, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}
		fmt.Println(string(b))
		return nil
	}

	fmt.Printf("# State version %d, serial %d\n", st.Version, st.Serial)
	fmt.Printf("# Lineage: %s\n\n", st.Lineage)

	if len(st.Resources) == 0 {
		fmt.Println("The state file is empty. No resources are represented.")
		return nil
	}

	for _, rs := range st.Resources {
		fmt.Printf("resource %q %q {\n", rs.Type, rs.Name)
		if rs.Module != "" {
			fmt.Printf("    # module: %s\n", rs.Module)
		}
		for _, name := range slices.Sorted(maps.Keys(rs.Outputs)) {
			fmt.Printf("    %s = %s\n", name, formatValue(rs.Outputs[name]))
		}
		fmt.Println("}")
		fmt.Println()
	}

	printOutputs(st.Outputs)
	return nil
}
