package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourusername/wallcache-go/internal/app"
	"github.com/yourusername/wallcache-go/internal/domain"
	"github.com/yourusername/wallcache-go/pkg/logger"
)

var (
	configPath string
	verbose    bool
	rootCmd    = &cobra.Command{
		Use:   "wallcache",
		Short: "wallcache - batch image fetcher with a local metadata index",
		Long: `A command-line interface for fetching images in bounded-concurrency batches
and maintaining the local metadata index that records them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: search standard locations)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr at debug level")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
}

// openRuntime loads configuration and wires the shared handles. The caller
// must call the returned cleanup.
func openRuntime() (*app.Runtime, func(), error) {
	config, err := app.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, Format: "console", OutputPath: "stderr"})
	if err != nil {
		return nil, nil, err
	}

	var multiLog *logger.MultiLogger
	if config.Logging.LogsDir != "" {
		multiLog, err = logger.NewMultiLogger(logger.MultiLoggerConfig{
			Level:   config.Logging.Level,
			LogsDir: config.Logging.LogsDir,
		})
		if err != nil {
			log.Warn("Categorized logs disabled", zap.Error(err))
			multiLog = nil
		}
	}

	rt, err := app.NewRuntime(config, log, multiLog)
	if err != nil {
		multiLog.Close()
		return nil, nil, err
	}

	cleanup := func() {
		rt.Close()
		multiLog.Close()
		log.Sync()
	}
	return rt, cleanup, nil
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [manifest.json]",
	Short: "Fetch every item listed in a manifest ('-' reads stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := readManifest(args[0])
		if err != nil {
			return err
		}
		if c, _ := cmd.Flags().GetInt("concurrency"); c > 0 {
			req.Concurrency = c
		}

		rt, cleanup, err := openRuntime()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			events, unsubscribe := rt.Hub.Subscribe()
			defer unsubscribe()
			go printProgress(events)
		}

		report, err := rt.Batches.Fetch(ctx, req)
		if err != nil {
			return err
		}

		for _, msg := range report.Messages {
			fmt.Println(msg)
		}
		b := report.Batch
		fmt.Printf("Batch %s: %d total, %d succeeded (%d already present), %d failed, %d cancelled\n",
			b.ID, b.Total, b.Succeeded, b.Skipped, b.Failed, b.Cancelled)

		if errors.Is(ctx.Err(), context.Canceled) {
			return errors.New("interrupted")
		}
		return nil
	},
}

func printProgress(events <-chan domain.ProgressEvent) {
	for ev := range events {
		switch ev.Type {
		case domain.ProgressTaskDone:
			status := "ok"
			if ev.Kind != domain.ErrorKindNone {
				status = string(ev.Kind)
			}
			fmt.Fprintf(os.Stderr, "[%d/%d] %s %s\n", ev.Completed, ev.Total, status, ev.Locator)
		case domain.ProgressBatchDone:
			return
		}
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed entries, newest key first",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := openRuntime()
		if err != nil {
			return err
		}
		defer cleanup()

		entries, err := rt.Index.GetAll()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tTITLE\tFILE")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Key, truncate(e.Title, 40), e.LocalFilePath)
		}
		return w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Show one indexed entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := openRuntime()
		if err != nil {
			return err
		}
		defer cleanup()

		e, err := rt.Index.Get(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Entry Details:\n")
		fmt.Printf("  Key:         %s\n", e.Key)
		fmt.Printf("  Title:       %s\n", e.Title)
		fmt.Printf("  Copyright:   %s\n", e.Attribution)
		if e.AttributionLink != "" {
			fmt.Printf("  Link:        %s\n", e.AttributionLink)
		}
		if e.SourceBaseURL != "" {
			fmt.Printf("  Source:      %s\n", e.SourceBaseURL)
		}
		fmt.Printf("  File:        %s\n", e.LocalFilePath)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove [key]",
	Short: "Remove an entry from the index and delete its file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := openRuntime()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := rt.Index.Purge(args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the index from legacy metadata descriptors",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := openRuntime()
		if err != nil {
			return err
		}
		defer cleanup()

		idx := rt.Index.Rebuild()
		for _, d := range rt.Index.Diagnostics() {
			fmt.Fprintf(os.Stderr, "warning: %v\n", d)
		}
		fmt.Printf("Index holds %d entries (legacy dir: %s)\n", idx.Len(), rt.Config.Storage.LegacyPath())
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Keep the newest N entries and delete the rest",
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")

		rt, cleanup, err := openRuntime()
		if err != nil {
			return err
		}
		defer cleanup()

		removed, err := rt.Index.Prune(keep)
		if err != nil {
			return err
		}
		for _, key := range removed {
			fmt.Printf("Removed %s\n", key)
		}
		fmt.Printf("Pruned %d entries\n", len(removed))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [batch-id]",
	Short: "List recent batches, or show one batch in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := openRuntime()
		if err != nil {
			return err
		}
		defer cleanup()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if len(args) == 1 {
			batch, err := rt.Batches.GetBatch(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "#\tKEY\tSTATUS\tATTEMPTS\tERROR")
			for _, t := range batch.Tasks {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
					t.Position, t.EntryKey, t.Status, t.Attempts, truncate(t.ErrorMessage, 60))
			}
			return w.Flush()
		}

		limit, _ := cmd.Flags().GetInt("limit")
		batches, err := rt.Batches.ListBatches(limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "ID\tSTARTED\tTOTAL\tOK\tFAILED\tCANCELLED")
		for _, b := range batches {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n",
				truncate(b.ID, 8), b.StartedAt.Format("2006-01-02 15:04:05"),
				b.Total, b.Succeeded, b.Failed, b.Cancelled)
		}
		return w.Flush()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show batch history statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := openRuntime()
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := rt.Batches.Stats()
		if err != nil {
			return err
		}
		idx, err := rt.Index.Load()
		if err != nil {
			return err
		}

		fmt.Println("Statistics:")
		fmt.Printf("  Indexed:    %d\n", idx.Len())
		fmt.Printf("  Batches:    %d\n", stats.Batches)
		fmt.Printf("  Tasks:      %d\n", stats.Tasks)
		fmt.Printf("  Downloaded: %d\n", stats.Downloaded)
		fmt.Printf("  Skipped:    %d\n", stats.Skipped)
		fmt.Printf("  Failed:     %d\n", stats.Failed)
		fmt.Printf("  Cancelled:  %d\n", stats.Cancelled)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file populated with default values",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path = filepath.Join(home, ".config", "wallcache", "config.yaml")
		}

		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		if err := app.SaveConfig(domain.DefaultConfig(), path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func init() {
	fetchCmd.Flags().IntP("concurrency", "n", 0, "Parallel downloads (default from config)")
	fetchCmd.Flags().BoolP("quiet", "q", false, "Do not print per-task progress")
	pruneCmd.Flags().IntP("keep", "k", 0, "Number of newest entries to keep")
	pruneCmd.MarkFlagRequired("keep")
	historyCmd.Flags().IntP("limit", "l", 20, "Number of batches to list")
	configInitCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
