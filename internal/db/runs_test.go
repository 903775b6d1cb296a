package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	d, err := OpenAt(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenAt() error = %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestRecordRun_RoundTrip(t *testing.T) {
	d := openTemp(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)

	id, err := d.RecordRun(ctx, Run{
		Scenario:  "greet",
		Path:      "testdata/greet.yaml",
		Passed:    false,
		StartedAt: started,
		Duration:  1500 * time.Millisecond,
		Skipped:   2,
		Steps: []Step{
			{Step: 1, Kind: "launch", Session: "s1", Duration: 20 * time.Millisecond},
			{Step: 2, Kind: "expect", Session: "s1", Error: "timeout", Duration: time.Second},
		},
	})
	if err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	if id <= 0 {
		t.Fatalf("RecordRun() id = %d", id)
	}

	runs, err := d.RecentRuns(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("RecentRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("RecentRuns() len = %d, want 1", len(runs))
	}
	got := runs[0]
	if got.ID != id || got.Scenario != "greet" || got.Path != "testdata/greet.yaml" || got.Passed || got.Skipped != 2 {
		t.Errorf("run = %+v", got)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v", got.Duration)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}

	steps, err := d.RunSteps(ctx, id)
	if err != nil {
		t.Fatalf("RunSteps() error = %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("RunSteps() len = %d, want 2", len(steps))
	}
	if steps[0].Kind != "launch" || steps[1].Error != "timeout" || steps[1].Session != "s1" {
		t.Errorf("steps = %+v", steps)
	}
	if steps[0].Output != "" {
		t.Errorf("empty output stored as %q", steps[0].Output)
	}
}

func TestRecordRun_RequiresScenario(t *testing.T) {
	d := openTemp(t)
	if _, err := d.RecordRun(context.Background(), Run{StartedAt: time.Now()}); err == nil {
		t.Fatal("RecordRun() without scenario should fail")
	}
}

func TestRecentRuns_Filters(t *testing.T) {
	d := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, r := range []Run{
		{Scenario: "a", Passed: true},
		{Scenario: "b", Passed: false},
		{Scenario: "a", Passed: false},
		{Scenario: "a", Passed: true},
	} {
		r.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if _, err := d.RecordRun(ctx, r); err != nil {
			t.Fatalf("RecordRun(%d) error = %v", i, err)
		}
	}

	all, err := d.RecentRuns(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("RecentRuns() error = %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("len = %d, want 4", len(all))
	}
	if !all[0].StartedAt.After(all[3].StartedAt) {
		t.Errorf("runs not newest first: %v .. %v", all[0].StartedAt, all[3].StartedAt)
	}

	failed, err := d.RecentRuns(ctx, RunFilter{FailedOnly: true})
	if err != nil {
		t.Fatalf("RecentRuns(failed) error = %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("failed len = %d, want 2", len(failed))
	}

	onlyA, err := d.RecentRuns(ctx, RunFilter{Scenario: "a", FailedOnly: true})
	if err != nil {
		t.Fatalf("RecentRuns(a, failed) error = %v", err)
	}
	if len(onlyA) != 1 || onlyA[0].Scenario != "a" {
		t.Fatalf("a/failed = %+v", onlyA)
	}

	limited, err := d.RecentRuns(ctx, RunFilter{Limit: 2})
	if err != nil {
		t.Fatalf("RecentRuns(limit) error = %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited len = %d, want 2", len(limited))
	}
}

func TestRunSteps_UnknownRun(t *testing.T) {
	d := openTemp(t)
	_, err := d.RunSteps(context.Background(), 42)
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("RunSteps(42) error = %v, want ErrRunNotFound", err)
	}
}

func TestPruneRuns(t *testing.T) {
	d := openTemp(t)
	ctx := context.Background()
	now := time.Now().UTC()

	oldID, err := d.RecordRun(ctx, Run{Scenario: "old", StartedAt: now.Add(-48 * time.Hour),
		Steps: []Step{{Step: 1, Kind: "launch"}}})
	if err != nil {
		t.Fatalf("RecordRun(old) error = %v", err)
	}
	if _, err := d.RecordRun(ctx, Run{Scenario: "new", StartedAt: now}); err != nil {
		t.Fatalf("RecordRun(new) error = %v", err)
	}

	n, err := d.PruneRuns(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneRuns() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("PruneRuns() = %d, want 1", n)
	}

	runs, err := d.RecentRuns(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("RecentRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].Scenario != "new" {
		t.Fatalf("remaining = %+v", runs)
	}

	var steps int
	if err := d.conn.QueryRow(`SELECT COUNT(*) FROM run_steps WHERE run_id = ?`, oldID).Scan(&steps); err != nil {
		t.Fatalf("count steps: %v", err)
	}
	if steps != 0 {
		t.Errorf("pruned run left %d steps", steps)
	}
}
