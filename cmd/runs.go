package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/leafwalk/internal/store"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
	tracesOnly    bool
	showTrace     bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage saved runs",
	Long:  `List, inspect and clean runs saved with "leafwalk run --save".`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all saved runs",
	Long:  `Display all saved runs with run ID, timestamp, optimizer, loss, final loss and size on disk.`,
	RunE:  runListRuns,
}

var showRunCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print a saved run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRun,
}

var cleanRunsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old runs",
	Long: `Delete old runs based on retention policy.
You can keep only the N most recent runs or delete runs older than N days.
With --traces-only the selected runs are kept and only their walk traces
are removed.`,
	RunE: runCleanRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.AddCommand(listRunsCmd)
	runsCmd.AddCommand(showRunCmd)
	runsCmd.AddCommand(cleanRunsCmd)

	showRunCmd.Flags().BoolVar(&showTrace, "trace", false, "Also print the walk trace as JSON lines")

	cleanRunsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N runs (0 = keep all)")
	cleanRunsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanRunsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
	cleanRunsCmd.Flags().BoolVar(&tracesOnly, "traces-only", false, "Delete only the walk traces of the selected runs")
}

func openStore() (*store.FSStore, error) {
	c, err := requireConfig()
	if err != nil {
		return nil, err
	}
	runStore, err := store.NewFSStore(c.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create run store: %w", err)
	}
	return runStore, nil
}

func runListRuns(cmd *cobra.Command, args []string) error {
	runStore, err := openStore()
	if err != nil {
		return err
	}

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tTIMESTAMP\tOPTIMIZER\tLOSS\tSHAPE\tFINAL LOSS\tSIZE")
	fmt.Fprintln(w, "------\t---------\t---------\t----\t-----\t----------\t----")

	for _, info := range infos {
		size, err := getDirSize(runStore.RunDir(info.RunID))
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dx%d\t%.6f\t%s\n",
			shortID(info.RunID),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			info.Optimizer,
			info.Loss,
			info.Dimensions,
			info.Leaves,
			info.FinalLoss,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Printf("\nTotal runs: %d\n", len(infos))
	return nil
}

func runShowRun(cmd *cobra.Command, args []string) error {
	runStore, err := openStore()
	if err != nil {
		return err
	}

	runID := args[0]
	record, err := runStore.LoadRun(runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	fmt.Println(string(data))

	if !showTrace {
		return nil
	}

	reader, err := store.NewTraceReader(runStore.BaseDir(), runID)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Println("No trace recorded for this run.")
		return nil
	}
	if err != nil {
		return err
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}
	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal trace entry: %w", err)
		}
		fmt.Println(string(line))
	}
	return nil
}

func runCleanRuns(cmd *cobra.Command, args []string) error {
	if err := validateRetention(keepLast, olderThanDays); err != nil {
		return err
	}

	runStore, err := openStore()
	if err != nil {
		return err
	}

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No runs to clean.")
		return nil
	}

	toDelete := selectRunsForDeletion(infos, keepLast, olderThanDays, time.Now())

	if len(toDelete) == 0 {
		fmt.Println("No runs match deletion criteria.")
		return nil
	}

	what := "run(s)"
	if tracesOnly {
		what = "trace(s)"
	}
	fmt.Printf("Found %d %s to delete:\n", len(toDelete), what)
	for _, info := range toDelete {
		fmt.Printf("  - %s (%s, final loss %.6f, %s)\n",
			shortID(info.RunID),
			info.Optimizer,
			info.FinalLoss,
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		target := "run"
		var err error
		if tracesOnly {
			target = "trace"
			err = store.DeleteTrace(runStore.BaseDir(), info.RunID)
		} else {
			err = runStore.DeleteRun(info.RunID)
		}
		if err != nil {
			slog.Error("Failed to delete "+target, "run_id", info.RunID, "error", err)
			failed++
		} else {
			slog.Info("Deleted "+target, "run_id", info.RunID)
			deleted++
		}
	}

	fmt.Printf("\nDeleted %d %s, %d failed.\n", deleted, what, failed)
	return nil
}

// validateRetention rejects negative limits and the case where neither
// limit is set.
func validateRetention(keepLast, olderThanDays int) error {
	if keepLast < 0 {
		return fmt.Errorf("--keep-last cannot be negative, got %d", keepLast)
	}
	if olderThanDays < 0 {
		return fmt.Errorf("--older-than cannot be negative, got %d", olderThanDays)
	}
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}
	return nil
}

// selectRunsForDeletion returns the runs older than olderThanDays together
// with the oldest runs beyond the keepLast most recent, without duplicates.
// A zero limit disables that rule.
func selectRunsForDeletion(infos []store.RunInfo, keepLast, olderThanDays int, now time.Time) []store.RunInfo {
	var toDelete []store.RunInfo
	selected := make(map[string]bool)

	if olderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				toDelete = append(toDelete, info)
				selected[info.RunID] = true
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.RunInfo, len(infos))
		copy(sorted, infos)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})

		for _, info := range sorted[:len(sorted)-keepLast] {
			if !selected[info.RunID] {
				toDelete = append(toDelete, info)
				selected[info.RunID] = true
			}
		}
	}

	return toDelete
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
