package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/cairn-io/cairn/internal/config"
	"github.com/cairn-io/cairn/internal/ir"
)

var outputJSON bool

var outputCmd = &cobra.Command{
	Use:   "output [name]",
	Short: "Read output values from the state",
	Long: `Prints the output values recorded by the last apply. Sensitive outputs
are masked in the listing; naming one prints its real value.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOutput,
}

func init() {
	outputCmd.Flags().BoolVar(&outputJSON, "json", false, "Print outputs as JSON")
}

func runOutput(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// The backend block decides where state lives. Without a loadable
	// configuration the local workspace state is read.
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

	if len(args) == 1 {
		out, ok := st.Outputs[args[0]]
		if !ok {
			return fmt.Errorf("output %q not found", args[0])
		}
		if outputJSON {
			return printJSON(out.Value)
		}
		fmt.Println(formatValue(out.Value))
		return nil
	}

	if outputJSON {
		return printJSON(st.Outputs)
	}

	if len(st.Outputs) == 0 {
		fmt.Println("No outputs recorded. Run 'cairn apply' first.")
		return nil
	}
	printOutputs(st.Outputs)
	return nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode outputs: %w", err)
	}
	fmt.Println(string(b))
	return nil
}

// printOutputs lists recorded outputs, masking sensitive values.
func printOutputs(outputs map[string]*ir.OutputValue) {
	if len(outputs) == 0 {
		return
	}
	fmt.Println("\nOutputs:")
	for _, name := range slices.Sorted(maps.Keys(outputs)) {
		out := outputs[name]
		if out.Sensitive {
			fmt.Printf("  %s = (sensitive value)\n", name)
			continue
		}
		fmt.Printf("  %s = %s\n", name, formatValue(out.Value))
	}
}
