package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/leafwalk/internal/walker"
)

func lossPtr(v float64) *float64 { return &v }

func TestTraceWriter_WriteAndRead(t *testing.T) {
	tmpDir := t.TempDir()
	runID := "trace-run"

	writer, err := NewTraceWriter(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	entries := []TraceEntry{
		{Leaf: -1, Iteration: 0, Outer: 0, Scale: 1, Loss: lossPtr(81), Timestamp: time.Now()},
		{Leaf: -1, Iteration: 1, Outer: 0, Scale: 0.5, Loss: lossPtr(16), Timestamp: time.Now()},
		{Leaf: -1, Iteration: 2, Outer: 0, Scale: 0.25, Loss: lossPtr(0.5), Accepted: true, Timestamp: time.Now()},
		{Leaf: 3, Iteration: 0, Outer: 0, Scale: 1, Accepted: true, Timestamp: time.Now()},
	}
	for _, entry := range entries {
		if err := writer.Write(entry); err != nil {
			t.Fatalf("Failed to write entry: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	tracePath := filepath.Join(tmpDir, "runs", runID, "trace.jsonl")
	if writer.Path() != tracePath {
		t.Errorf("Path = %s, want %s", writer.Path(), tracePath)
	}

	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	got, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("Expected %d entries, got %d", len(entries), len(got))
	}

	for i, entry := range got {
		want := entries[i]
		if entry.Leaf != want.Leaf || entry.Iteration != want.Iteration || entry.Outer != want.Outer ||
			entry.Scale != want.Scale || entry.Accepted != want.Accepted {
			t.Errorf("Entry %d: got %+v, want %+v", i, entry, want)
		}
		if (entry.Loss == nil) != (want.Loss == nil) {
			t.Fatalf("Entry %d: loss presence mismatch", i)
		}
		if entry.Loss != nil && *entry.Loss != *want.Loss {
			t.Errorf("Entry %d: loss %f, want %f", i, *entry.Loss, *want.Loss)
		}
	}
}

func TestTraceWriter_Truncate(t *testing.T) {
	tmpDir := t.TempDir()

	for i := 0; i < 2; i++ {
		writer, err := NewTraceWriter(tmpDir, "trunc")
		if err != nil {
			t.Fatalf("Failed to create writer: %v", err)
		}
		writer.Write(TraceEntry{Iteration: i})
		writer.Close()
	}

	reader, err := NewTraceReader(tmpDir, "trunc")
	if err != nil {
		t.Fatalf("Failed to open reader: %v", err)
	}
	defer reader.Close()

	entries, _ := reader.ReadAll()
	if len(entries) != 1 || entries[0].Iteration != 1 {
		t.Errorf("Expected only the second write, got %+v", entries)
	}
}

func TestTraceReader_ReadIteratively(t *testing.T) {
	tmpDir := t.TempDir()

	writer, _ := NewTraceWriter(tmpDir, "iter-run")
	for i := 0; i < 3; i++ {
		writer.Write(TraceEntry{Iteration: i})
	}
	writer.Close()

	reader, err := NewTraceReader(tmpDir, "iter-run")
	if err != nil {
		t.Fatalf("Failed to open reader: %v", err)
	}
	defer reader.Close()

	for i := 0; i < 3; i++ {
		entry, err := reader.Read()
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		if entry.Iteration != i {
			t.Errorf("Read %d: iteration %d", i, entry.Iteration)
		}
	}
	if _, err := reader.Read(); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestTraceReader_NotFound(t *testing.T) {
	_, err := NewTraceReader(t.TempDir(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestEntryFromEvent(t *testing.T) {
	damped := EntryFromEvent(-1, walker.Event{Iteration: 3, Outer: 1, Scale: 0.5, Loss: 2.5, HasLoss: true})
	if damped.Loss == nil || *damped.Loss != 2.5 {
		t.Fatalf("Expected loss 2.5, got %v", damped.Loss)
	}
	if damped.Leaf != -1 || damped.Iteration != 3 || damped.Outer != 1 || damped.Scale != 0.5 || damped.Accepted {
		t.Errorf("Unexpected entry: %+v", damped)
	}
	if damped.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}

	trivial := EntryFromEvent(2, walker.Event{Iteration: 0, Scale: 1, Accepted: true})
	if trivial.Loss != nil {
		t.Errorf("Trivial events carry no loss, got %v", *trivial.Loss)
	}
	if trivial.Leaf != 2 || !trivial.Accepted {
		t.Errorf("Unexpected entry: %+v", trivial)
	}
}

func TestDeleteTrace(t *testing.T) {
	tmpDir := t.TempDir()

	writer, _ := NewTraceWriter(tmpDir, "del-run")
	writer.Write(TraceEntry{})
	writer.Close()

	if err := DeleteTrace(tmpDir, "del-run"); err != nil {
		t.Fatalf("DeleteTrace failed: %v", err)
	}
	if _, err := os.Stat(writer.Path()); !os.IsNotExist(err) {
		t.Error("Trace file should be removed")
	}
	if err := DeleteTrace(tmpDir, "del-run"); err != nil {
		t.Errorf("Deleting a missing trace should succeed, got %v", err)
	}
}

func TestTraceWriter_ConcurrentWrites(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewTraceWriter(tmpDir, "concurrent")
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(leaf int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if err := writer.Write(TraceEntry{Leaf: leaf, Iteration: i}); err != nil {
					t.Errorf("Write failed: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reader, _ := NewTraceReader(tmpDir, "concurrent")
	defer reader.Close()
	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	counts := map[int]int{}
	for _, e := range entries {
		counts[e.Leaf]++
	}
	for leaf := 0; leaf < 8; leaf++ {
		if counts[leaf] != 25 {
			t.Errorf("%s: got %d entries", fmt.Sprintf("leaf %d", leaf), counts[leaf])
		}
	}
}
