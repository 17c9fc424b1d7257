package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/velumhq/velum/internal/config"
	"github.com/velumhq/velum/internal/watcher"
)

var watchRecompile bool

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch templates and invalidate cached artifacts on change",
	Long: `Watch the template directory and drop cached compiled artifacts whenever
a source file changes, so the next render picks up the new source. With
--recompile the changed templates are compiled eagerly instead.

Examples:
  velum watch               # Invalidate artifacts on change
  velum watch --recompile   # Recompile changed templates eagerly`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchRecompile, "recompile", false, "Recompile changed templates instead of just invalidating")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	e, err := newEngine(cmd, cfg)
	if err != nil {
		return err
	}
	log := newLogger(cfg).WithComponent("watch")

	fw, err := watcher.NewFileWatcher(time.Duration(cfg.Watch.DebounceMillis) * time.Millisecond)
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Stop()

	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.ExtensionFilter(cfg.Templates.Extensions))
	fw.AddHandler(watcher.InvalidateHandler(e.Store(), cfg.Templates.Dir, log))
	if watchRecompile {
		fw.AddHandler(recompileHandler(e, cfg))
	}

	if err := fw.AddRecursive(cfg.Templates.Dir); err != nil {
		return fmt.Errorf("watching %s: %w", cfg.Templates.Dir, err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := fw.Start(ctx); err != nil {
		return fmt.Errorf("starting file watcher: %w", err)
	}
	log.Info(ctx, "watching templates", "dir", cfg.Templates.Dir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		log.Info(ctx, "shutting down", "signal", sig.String())
	}
	return nil
}

// recompileHandler compiles each changed template after its artifact has
// been invalidated.
func recompileHandler(e engineLike, cfg *config.Config) watcher.ChangeHandler {
	return func(events []watcher.ChangeEvent) error {
		for _, ev := range events {
			if ev.Type == watcher.EventTypeDeleted {
				continue
			}
			name, err := templateName(cfg.Templates.Dir, ev.Path)
			if err != nil {
				continue
			}
			if err := e.Precompile(name); err != nil {
				fmt.Fprintf(os.Stderr, "✗ %s: %v\n", name, err)
				continue
			}
			fmt.Printf("✓ %s\n", name)
		}
		return nil
	}
}

type engineLike interface {
	Precompile(name string) error
}

// templateName maps a changed file path to its loader-relative template name.
func templateName(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
