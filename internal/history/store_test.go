package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/voiceforgelabs/voiceforge-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenDisabled(t *testing.T) {
	s, err := Open(context.Background(), config.HistoryConfig{Enabled: false}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.RecordRun(context.Background(), Run{RequestID: "x", Voice: "v", State: "done"}); err != nil {
		t.Fatalf("record on disabled store should be a no-op: %v", err)
	}
	runs, err := s.ListRuns(context.Background(), "", 10)
	if err != nil || runs != nil {
		t.Fatalf("expected empty result from disabled store, got %v, %v", runs, err)
	}
}

func TestRecordAndList(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Enabled: true, Path: filepath.Join(tmp, "history.db")}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	run := Run{RequestID: "req-1", Voice: "narrator", State: "done", SegmentCount: 3, SampleRate: 24000, DurationMS: 812}
	if err := s.RecordRun(context.Background(), run); err != nil {
		t.Fatalf("record run: %v", err)
	}
	if err := s.RecordRun(context.Background(), Run{RequestID: "req-2", Voice: "other", State: "failed", Error: "segment 1 synthesis failed"}); err != nil {
		t.Fatalf("record run: %v", err)
	}

	runs, err := s.ListRuns(context.Background(), "narrator", 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run for narrator, got %d", len(runs))
	}
	if runs[0].SegmentCount != 3 || runs[0].DurationMS != 812 {
		t.Fatalf("unexpected run: %+v", runs[0])
	}

	all, err := s.ListRuns(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("list all runs: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 runs total, got %d", len(all))
	}
}

func TestPruneByDaysAndMaxRuns(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Enabled: true, Path: filepath.Join(tmp, "history.db"), RetentionDays: 1, MaxRuns: 1}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.RecordRun(context.Background(), Run{RequestID: "old", Voice: "v", State: "done"}); err != nil {
		t.Fatalf("record old run: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.RecordRun(context.Background(), Run{RequestID: "new", Voice: "v", State: "done"}); err != nil {
		t.Fatalf("record new run: %v", err)
	}
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	runs, err := s.ListRuns(context.Background(), "v", 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RequestID != "new" {
		t.Fatalf("expected only the new run to survive pruning, got %+v", runs)
	}
}
