// Command fileindex is the non-core demo CLI for the live filesystem
// inverted index: it watches a single directory tree and prints which
// files appear in or disappear from the index at a fixed polling
// cadence; changes to files that stay indexed are not reported. The tokenizer, the index engine, and the watch/load pipeline
// are all implemented in the internal packages; this command is purely
// a thin, pluggable collaborator (SPEC_FULL.md §6.1).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/heinzelotto/fileindex/internal/config"
	"github.com/heinzelotto/fileindex/internal/fsload"
	"github.com/heinzelotto/fileindex/internal/fswatch"
	"github.com/heinzelotto/fileindex/internal/indexer"
	"github.com/heinzelotto/fileindex/internal/version"
)

var (
	added   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	removed = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	dim     = lipgloss.NewStyle().Faint(true)
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fileindex <root>",
	Short:   "Watch a directory and keep a live token index in sync",
	Version: version.Full(),
	Args:    cobra.ExactArgs(1),
	RunE:    runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	root := args[0]

	logger := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})

	cfg, err := config.Load(root, ".")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	idx, err := indexer.New(
		root,
		fswatch.Config{IgnorePatterns: cfg.IgnorePatterns},
		fsload.Config{DelayBeforeRead: cfg.DelayBeforeRead, Workers: cfg.Workers},
		nil,
	)
	if err != nil {
		return fmt.Errorf("start indexer: %w", err)
	}
	defer idx.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := idx.AwaitInitialScan(ctx); err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	logger.Info("initial scan complete", "root", root, "files", len(idx.DB().Paths()))

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	seen := pathSet(idx.DB().Paths())

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			current := pathSet(idx.DB().Paths())
			printDiff(logger, seen, current)
			seen = current
		}
	}
}

func pathSet(paths []string) map[string]struct{} {
	s := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		s[p] = struct{}{}
	}
	return s
}

func printDiff(logger *charmlog.Logger, before, after map[string]struct{}) {
	var gained, lost []string
	for p := range after {
		if _, ok := before[p]; !ok {
			gained = append(gained, p)
		}
	}
	for p := range before {
		if _, ok := after[p]; !ok {
			lost = append(lost, p)
		}
	}
	sort.Strings(gained)
	sort.Strings(lost)

	for _, p := range gained {
		fmt.Println(added.Render("+ ") + p)
	}
	for _, p := range lost {
		fmt.Println(removed.Render("- ") + p)
	}
	if len(gained) == 0 && len(lost) == 0 {
		logger.Debug(dim.Render("no change"))
	}
}
