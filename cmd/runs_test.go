package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/leafwalk/internal/config"
	"github.com/cwbudde/leafwalk/internal/store"
)

// useDataDir points the command configuration at dir for one test.
func useDataDir(t *testing.T, dir string) *config.Config {
	t.Helper()
	original := cfg
	cfg = config.DefaultConfig()
	cfg.DataDir = dir
	t.Cleanup(func() { cfg = original })
	return cfg
}

func saveTestRun(t *testing.T, runStore *store.FSStore, runID string, ts time.Time) {
	t.Helper()
	values := [][]float64{{1, 2}}
	record := store.NewRunRecord(runID, values, values, 2, 1, store.RunConfig{
		Optimizer:  "walker",
		Loss:       "RMSE",
		Leaves:     2,
		Dimensions: 1,
	})
	record.Timestamp = ts
	if err := runStore.SaveRun(runID, record); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}
}

func TestSelectRunsForDeletion_ByAge(t *testing.T) {
	now := time.Now()
	infos := []store.RunInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)},
	}

	toDelete := selectRunsForDeletion(infos, 0, 7, now)

	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 runs to delete, got %d", len(toDelete))
	}
	if toDelete[0].RunID != "run1" || toDelete[1].RunID != "run4" {
		t.Errorf("Expected run1 and run4, got %s and %s", toDelete[0].RunID, toDelete[1].RunID)
	}
}

func TestSelectRunsForDeletion_ByCount(t *testing.T) {
	now := time.Now()
	infos := []store.RunInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)},
	}

	toDelete := selectRunsForDeletion(infos, 2, 0, now)

	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 runs to delete, got %d", len(toDelete))
	}
	// Oldest first.
	if toDelete[0].RunID != "run4" || toDelete[1].RunID != "run1" {
		t.Errorf("Expected run4 and run1, got %s and %s", toDelete[0].RunID, toDelete[1].RunID)
	}
}

func TestSelectRunsForDeletion_Combined(t *testing.T) {
	now := time.Now()
	infos := []store.RunInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)},
		{RunID: "run5", Timestamp: now.AddDate(0, 0, -2)},
	}

	// The two runs beyond the last three are exactly the two older than a week.
	toDelete := selectRunsForDeletion(infos, 3, 7, now)

	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 runs to delete without duplicates, got %d", len(toDelete))
	}
	seen := map[string]bool{}
	for _, info := range toDelete {
		seen[info.RunID] = true
	}
	if !seen["run1"] || !seen["run4"] {
		t.Errorf("Expected run1 and run4, got %v", toDelete)
	}
}

func TestSelectRunsForDeletion_KeepMoreThanAvailable(t *testing.T) {
	infos := []store.RunInfo{{RunID: "run1", Timestamp: time.Now()}}
	if got := selectRunsForDeletion(infos, 5, 0, time.Now()); len(got) != 0 {
		t.Errorf("Expected nothing to delete, got %d", len(got))
	}
}

func TestGetDirSize(t *testing.T) {
	tmpDir := t.TempDir()

	content := []byte("Hello, World!")
	if err := os.WriteFile(filepath.Join(tmpDir, "test.txt"), content, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(tmpDir, "sub"), 0755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "sub", "more.txt"), content, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	size, err := getDirSize(tmpDir)
	if err != nil {
		t.Fatalf("getDirSize failed: %v", err)
	}
	if size != int64(2*len(content)) {
		t.Errorf("Expected size %d, got %d", 2*len(content), size)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		result := formatBytes(tt.bytes)
		if result != tt.expected {
			t.Errorf("formatBytes(%d) = %s, expected %s", tt.bytes, result, tt.expected)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID(abc) = %s", got)
	}
	if got := shortID("0123456789abcdef"); got != "0123456789ab..." {
		t.Errorf("shortID truncated = %s", got)
	}
}

func TestRunsListCommand_NoRuns(t *testing.T) {
	useDataDir(t, t.TempDir())

	if err := runListRuns(nil, nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestRunsListCommand_WithRuns(t *testing.T) {
	tmpDir := t.TempDir()
	useDataDir(t, tmpDir)

	runStore, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	saveTestRun(t, runStore, "test-run-id", time.Now())

	if err := runListRuns(nil, nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestRunsShowCommand(t *testing.T) {
	tmpDir := t.TempDir()
	useDataDir(t, tmpDir)

	runStore, _ := store.NewFSStore(tmpDir)
	saveTestRun(t, runStore, "show-run", time.Now())

	original := showTrace
	showTrace = true
	defer func() { showTrace = original }()

	if err := runShowRun(nil, []string{"show-run"}); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if err := runShowRun(nil, []string{"missing-run"}); err == nil {
		t.Error("Expected error for missing run")
	}
}

func TestRunsCleanCommand_NoFlags(t *testing.T) {
	useDataDir(t, t.TempDir())

	originalKeep, originalAge := keepLast, olderThanDays
	keepLast, olderThanDays = 0, 0
	defer func() { keepLast, olderThanDays = originalKeep, originalAge }()

	if err := runCleanRuns(nil, nil); err == nil {
		t.Error("Expected error when no retention flag is given")
	}
}

func TestRunsCleanCommand_Force(t *testing.T) {
	tmpDir := t.TempDir()
	useDataDir(t, tmpDir)

	runStore, _ := store.NewFSStore(tmpDir)
	now := time.Now()
	saveTestRun(t, runStore, "old-run", now.AddDate(0, 0, -3))
	saveTestRun(t, runStore, "new-run", now)

	originalKeep, originalAge, originalForce := keepLast, olderThanDays, forceClean
	keepLast, olderThanDays, forceClean = 1, 0, true
	defer func() { keepLast, olderThanDays, forceClean = originalKeep, originalAge, originalForce }()

	if err := runCleanRuns(nil, nil); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}

	infos, err := runStore.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != 1 || infos[0].RunID != "new-run" {
		t.Errorf("Expected only new-run to remain, got %v", infos)
	}
}

func TestValidateRetention(t *testing.T) {
	tests := []struct {
		name          string
		keepLast      int
		olderThanDays int
		wantErr       bool
	}{
		{"neither limit", 0, 0, true},
		{"negative keep-last", -1, 0, true},
		{"negative older-than", 0, -3, true},
		{"negative with valid other", 2, -1, true},
		{"keep-last only", 2, 0, false},
		{"older-than only", 0, 7, false},
		{"both", 2, 7, false},
	}

	for _, tt := range tests {
		err := validateRetention(tt.keepLast, tt.olderThanDays)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: validateRetention(%d, %d) error = %v, wantErr %v",
				tt.name, tt.keepLast, tt.olderThanDays, err, tt.wantErr)
		}
	}
}

func TestRunsCleanCommand_NegativeKeepLast(t *testing.T) {
	tmpDir := t.TempDir()
	useDataDir(t, tmpDir)

	runStore, _ := store.NewFSStore(tmpDir)
	saveTestRun(t, runStore, "kept-run", time.Now())

	originalKeep, originalAge, originalForce := keepLast, olderThanDays, forceClean
	keepLast, olderThanDays, forceClean = -1, 0, true
	defer func() { keepLast, olderThanDays, forceClean = originalKeep, originalAge, originalForce }()

	if err := runCleanRuns(nil, nil); err == nil {
		t.Error("Expected error for negative --keep-last")
	}
	if _, err := runStore.LoadRun("kept-run"); err != nil {
		t.Errorf("Run should be untouched: %v", err)
	}
}

func TestRunsCleanCommand_TracesOnly(t *testing.T) {
	tmpDir := t.TempDir()
	useDataDir(t, tmpDir)

	runStore, _ := store.NewFSStore(tmpDir)
	now := time.Now()
	for _, id := range []string{"old-run", "new-run"} {
		writer, err := store.NewTraceWriter(tmpDir, id)
		if err != nil {
			t.Fatalf("Failed to create trace: %v", err)
		}
		writer.Write(store.TraceEntry{Scale: 1})
		writer.Close()
	}
	saveTestRun(t, runStore, "old-run", now.AddDate(0, 0, -3))
	saveTestRun(t, runStore, "new-run", now)

	originalKeep, originalAge, originalForce, originalTraces := keepLast, olderThanDays, forceClean, tracesOnly
	keepLast, olderThanDays, forceClean, tracesOnly = 1, 0, true, true
	defer func() {
		keepLast, olderThanDays, forceClean, tracesOnly = originalKeep, originalAge, originalForce, originalTraces
	}()

	if err := runCleanRuns(nil, nil); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}

	infos, _ := runStore.ListRuns()
	if len(infos) != 2 {
		t.Errorf("Expected both runs to remain, got %d", len(infos))
	}
	if _, err := os.Stat(filepath.Join(runStore.RunDir("old-run"), "trace.jsonl")); !os.IsNotExist(err) {
		t.Error("Expected old-run trace to be removed")
	}
	if _, err := os.Stat(filepath.Join(runStore.RunDir("new-run"), "trace.jsonl")); err != nil {
		t.Errorf("Expected new-run trace to remain: %v", err)
	}
}
