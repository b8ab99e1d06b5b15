package cli

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/spf13/cobra"

	"github.com/cairn-io/cairn/internal/config"
)

var (
	fmtCheck bool
	fmtWrite bool
)

var fmtCmd = &cobra.Command{
	Use:   "fmt [paths...]",
	Short: "Format configuration files",
	Long: `Rewrites .hcl configuration files to the canonical style. Directories
are searched recursively; without arguments the current directory is
formatted.

Use --check to verify formatting without changing anything.`,
	RunE: runFmt,
}

func init() {
	fmtCmd.Flags().BoolVar(&fmtCheck, "check", false, "Report unformatted files without changing them; fails when any are found")
	fmtCmd.Flags().BoolVar(&fmtWrite, "write", true, "Write formatted output back to files")
}

func runFmt(cmd *cobra.Command, args []string) error {
	paths := args
	if len(paths) == 0 {
		paths = []string{"."}
	}

	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if info.IsDir() {
			found, err := findConfigFilesRecursive(p)
			if err != nil {
				return err
			}
			files = append(files, found...)
		} else {
			files = append(files, p)
		}
	}

	if len(files) == 0 {
		fmt.Printf("No %s files found.\n", config.ConfigExt)
		return nil
	}

	unformatted := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}

		formatted := formatConfig(data)
		if bytes.Equal(data, formatted) {
			continue
		}

		unformatted++
		if fmtCheck {
			fmt.Printf("%s: not formatted\n", file)
			continue
		}
		if fmtWrite {
			if err := os.WriteFile(file, formatted, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", file, err)
			}
			fmt.Printf("%s: formatted\n", file)
		}
	}

	if fmtCheck && unformatted > 0 {
		return fmt.Errorf("%d file(s) not formatted", unformatted)
	}

	if unformatted == 0 {
		fmt.Printf("All %d file(s) are properly formatted.\n", len(files))
	} else if !fmtCheck {
		fmt.Printf("Formatted %d file(s).\n", unformatted)
	}

	return nil
}

func findConfigFilesRecursive(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// State and lock files live under .cairn; leave them alone.
			if d.Name() == ".cairn" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, config.ConfigExt) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// formatConfig rewrites HCL source to canonical style and guarantees a
// trailing newline.
func formatConfig(src []byte) []byte {
	out := hclwrite.Format(src)
	if len(out) > 0 && !bytes.HasSuffix(out, []byte("\n")) {
		out = append(out, '\n')
	}
	return out
}
