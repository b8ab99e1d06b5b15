package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cairn-io/cairn/internal/config"
	"github.com/cairn-io/cairn/internal/engine"
)

var (
	graphVars     []string
	graphVarFiles []string
)

var graphCmd = &cobra.Command{
	Use:   "graph [dir]",
	Short: "Print the dependency graph in DOT format",
	Long: `Resolves the configuration and prints its resource dependency graph as
DOT, suitable for rendering with Graphviz:

  cairn graph | dot -Tsvg > graph.svg`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGraph,
}

func init() {
	graphCmd.Flags().StringArrayVar(&graphVars, "var", nil, "Set an input variable, as name=value")
	graphCmd.Flags().StringArrayVar(&graphVarFiles, "var-file", nil, "Load input variables from a file")
}

func runGraph(cmd *cobra.Command, args []string) error {
	doc, err := config.Load(configDir(args))
	if err != nil {
		return err
	}

	resolver, err := buildResolver(doc, graphVars, graphVarFiles)
	if err != nil {
		return err
	}
	cfg, err := resolver.Resolve()
	if err != nil {
		return err
	}

	dag, err := engine.BuildDAG(engine.ExpandForEach(cfg.Resources))
	if err != nil {
		return err
	}

	fmt.Println("digraph cairn {")
	fmt.Println(`  rankdir = "BT"`)
	fmt.Println("  node [shape = rect]")
	fmt.Println()

	// Creation order keeps the output stable across runs.
	order := dag.CreationOrder()
	for _, addr := range order {
		fmt.Printf("  %q;\n", addr)
	}
	fmt.Println()
	for _, addr := range order {
		for _, dep := range dag.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}
	fmt.Println("}")
	return nil
}
