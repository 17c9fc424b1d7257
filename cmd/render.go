package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/velumhq/velum/internal/config"
)

var (
	renderParamsFile string
	renderSets       []string
	renderOutput     string
)

// renderCmd represents the render command
var renderCmd = &cobra.Command{
	Use:   "render <template>",
	Short: "Render a template with parameters",
	Long: `Render the named template with bound parameters and print the result.

Parameters come from a YAML file (--params), individual --set flags, and
the globals configured under render.globals; --set wins over the file,
and both win over globals.

Examples:
  velum render page.vel                          # Render with globals only
  velum render page.vel --params data.yml        # Bind parameters from YAML
  velum render page.vel --set title=Hello        # Bind a single parameter
  velum render page.vel -o out.html              # Write output to a file`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVarP(&renderParamsFile, "params", "p", "", "YAML file with template parameters")
	renderCmd.Flags().StringArrayVarP(&renderSets, "set", "s", nil, "Set a parameter as key=value (repeatable)")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "Write output to file instead of stdout")
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	e, err := newEngine(cmd, cfg)
	if err != nil {
		return err
	}

	params, err := collectParams(renderParamsFile, renderSets)
	if err != nil {
		return err
	}

	out, err := e.Render(args[0], params)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", args[0], err)
	}

	if renderOutput != "" {
		if err := os.WriteFile(renderOutput, []byte(out), 0o644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		return nil
	}

	fmt.Print(out)
	return nil
}

// collectParams merges the --params file with --set overrides. Values given
// with --set are parsed as YAML scalars, so numbers and booleans keep their
// type.
func collectParams(file string, sets []string) (map[string]any, error) {
	params := make(map[string]any)

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading params file: %w", err)
		}
		if err := yaml.Unmarshal(data, &params); err != nil {
			return nil, fmt.Errorf("parsing params file: %w", err)
		}
	}

	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q, want key=value", kv)
		}
		var v any
		if err := yaml.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		params[strings.TrimSpace(key)] = v
	}

	return params, nil
}
