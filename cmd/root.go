// Package cmd provides the command-line interface for velum with
// configuration from files, environment variables and flags.
//
// Configuration System:
//
//	The CLI supports flexible configuration through multiple sources with clear precedence:
//	1. Command-line flags (--config, --templates, etc.) - highest priority
//	2. VELUM_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (VELUM_TEMPLATES_DIR, etc.)
//	4. Configuration files (.velum.yml) - lowest priority
//
// Environment Variables:
//
//	VELUM_CONFIG_FILE: Path to custom configuration file
//	VELUM_TEMPLATES_DIR: Override template source directory
//	VELUM_CACHE_DIR: Override compiled-artifact cache directory
//	VELUM_LOGGING_LEVEL: Override log level
//	And more following the VELUM_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/velumhq/velum/internal/config"
	"github.com/velumhq/velum/internal/engine"
	"github.com/velumhq/velum/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "velum",
	Short: "A compiling template engine with on-disk artifact caching",
	Long: `Velum compiles templates into cached programs and renders them with
parameter binding, template inheritance and pluggable directives.

Quick Start:
  velum render page.vel --set title=Hello   Render a template
  velum compile                              Precompile all templates
  velum watch                                Recompile on source changes
  velum version                              Show version information`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	addRootFlags(rootCmd.PersistentFlags())
}

// addRootFlags declares the persistent flags shared by every subcommand and
// binds them into viper.
func addRootFlags(flags *pflag.FlagSet) {
	flags.StringVar(&cfgFile, "config", "", "config file (default is .velum.yml, can also use VELUM_CONFIG_FILE env var)")
	flags.String("templates", "", "template source directory")
	flags.String("cache", "", "compiled-artifact cache directory")
	flags.Bool("no-cache", false, "disable the on-disk artifact cache")
	flags.StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	viper.BindPFlag("templates.dir", flags.Lookup("templates"))
	viper.BindPFlag("cache.dir", flags.Lookup("cache"))
	viper.BindPFlag("logging.level", flags.Lookup("log-level"))
}

// initConfig initializes the configuration system.
//
// Configuration Loading Priority (highest to lowest):
//  1. --config flag: Explicitly specified config file path
//  2. VELUM_CONFIG_FILE environment variable: Custom config file path
//  3. Default: .velum.yml in current directory
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("VELUM_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".velum")
	}

	// Enable automatic environment variable binding with VELUM_ prefix
	// Examples: VELUM_TEMPLATES_DIR, VELUM_CACHE_DIR, VELUM_LOGGING_LEVEL
	viper.SetEnvPrefix("VELUM")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Missing or malformed config files fall back to defaults without failing.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the CLI logger from the loaded configuration.
func newLogger(cfg *config.Config) logging.Logger {
	return logging.NewLogger(&logging.Config{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
}

// newEngine assembles an engine from the loaded configuration, honoring the
// --no-cache flag.
func newEngine(cmd *cobra.Command, cfg *config.Config) (*engine.Engine, error) {
	opts := []engine.Option{
		engine.WithTemplateDir(cfg.Templates.Dir),
		engine.WithLogger(newLogger(cfg)),
	}

	noCache, _ := cmd.Flags().GetBool("no-cache")
	if cfg.Cache.Enabled && !noCache {
		opts = append(opts, engine.WithCacheDir(cfg.Cache.Dir))
	}

	e := engine.New(opts...)
	for name, value := range cfg.Render.Globals {
		e.AddGlobal(name, value)
	}
	return e, nil
}
