package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/velumhq/velum/internal/config"
)

// compileCmd represents the compile command
var compileCmd = &cobra.Command{
	Use:   "compile [templates...]",
	Short: "Precompile templates into the artifact cache",
	Long: `Compile the named templates and write the compiled artifacts into the
cache directory, so the first render does not pay the compilation cost.

Without arguments, every file under the template directory with a
configured template extension is compiled.

Examples:
  velum compile                   # Compile all templates
  velum compile page.vel          # Compile one template`,
	RunE: runCompile,
}

func init() {
	rootCmd.AddCommand(compileCmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	e, err := newEngine(cmd, cfg)
	if err != nil {
		return err
	}

	names := args
	if len(names) == 0 {
		names, err = discoverTemplates(cfg.Templates.Dir, cfg.Templates.Extensions)
		if err != nil {
			return err
		}
	}
	if len(names) == 0 {
		fmt.Fprintln(os.Stderr, "No templates found")
		return nil
	}

	var failed int
	for _, name := range names {
		if err := e.Precompile(name); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", name, err)
			continue
		}
		fmt.Printf("✓ %s\n", name)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d templates failed to compile", failed, len(names))
	}
	return nil
}

// discoverTemplates walks the template directory and returns loader-relative
// names for every file with a template extension.
func discoverTemplates(dir string, exts []string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		for _, ext := range exts {
			if strings.HasSuffix(path, ext) {
				rel, err := filepath.Rel(dir, path)
				if err != nil {
					return err
				}
				names = append(names, filepath.ToSlash(rel))
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	return names, nil
}
