package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/converge/pkg/engine"
)

// setupTestJournal creates an in-memory journal for testing.
func setupTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()

	j, err := Open(context.Background(), Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func record(id string, op engine.Operation, deployment string, started time.Time) engine.RunRecord {
	return engine.RunRecord{
		ID:           id,
		Operation:    op,
		DeploymentID: deployment,
		ServiceName:  "svc",
		Region:       "eu-west-2",
		StartedAt:    started,
	}
}

func TestJournalLifecycle(t *testing.T) {
	j, err := NewSQLiteJournal(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("NewSQLiteJournal() error: %v", err)
	}

	ctx := context.Background()
	if err := j.Migrate(ctx); err == nil {
		t.Error("expected Migrate to fail before Init")
	}
	if err := j.Init(ctx, 0); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	if err := j.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error: %v", err)
	}
	if err := j.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	// Migrating twice is a no-op.
	if err := j.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestNewSQLiteJournalRequiresPath(t *testing.T) {
	if _, err := NewSQLiteJournal(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	j := setupTestJournal(t)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := j.StartRun(ctx, record("run-1", engine.OperationDeploy, "dev", started)); err != nil {
		t.Fatalf("StartRun() error: %v", err)
	}

	steps := []engine.StepResult{
		{Index: 0, Kind: engine.KindBucket, Label: "bucket", Name: "converge-dev-svc", Outcome: engine.OutcomeCreated, Duration: 1500 * time.Millisecond},
		{Index: 1, Kind: engine.KindTable, Label: "table", Name: "converge-dev-svc", Outcome: engine.OutcomeFailed, Error: "throttled"},
	}
	for _, s := range steps {
		if err := j.RecordStep(ctx, "run-1", s); err != nil {
			t.Fatalf("RecordStep() error: %v", err)
		}
	}

	run, err := j.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	if run.Status != RunStatusRunning || run.FinishedAt != nil {
		t.Errorf("expected running run, got %+v", run)
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("started_at %v, want %v", run.StartedAt, started)
	}

	finished := started.Add(2 * time.Second)
	if err := j.FinishRun(ctx, "run-1", engine.RunStatusFailed, finished, errors.New("table failed")); err != nil {
		t.Fatalf("FinishRun() error: %v", err)
	}

	run, err = j.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	if run.Status != engine.RunStatusFailed || run.Error != "table failed" {
		t.Errorf("unexpected finished run %+v", run)
	}
	if run.Duration() != 2*time.Second {
		t.Errorf("duration %v, want 2s", run.Duration())
	}
	if len(run.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(run.Steps))
	}
	if run.Steps[0].Duration != 1500*time.Millisecond || run.Steps[0].Error != "" {
		t.Errorf("unexpected first step %+v", run.Steps[0])
	}
	if run.Steps[1].Outcome != "failed" || run.Steps[1].Error != "throttled" {
		t.Errorf("unexpected second step %+v", run.Steps[1])
	}
}

func TestUnknownRun(t *testing.T) {
	ctx := context.Background()
	j := setupTestJournal(t)

	if _, err := j.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun: expected ErrRunNotFound, got %v", err)
	}
	if err := j.FinishRun(ctx, "missing", "succeeded", time.Now(), nil); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun: expected ErrRunNotFound, got %v", err)
	}
	if err := j.DeleteRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("DeleteRun: expected ErrRunNotFound, got %v", err)
	}
	if err := j.RecordStep(ctx, "missing", engine.StepResult{Label: "bucket"}); err == nil {
		t.Error("RecordStep: expected foreign key violation")
	}
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	j := setupTestJournal(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runs := []engine.RunRecord{
		record("a", engine.OperationDeploy, "dev", base),
		record("b", engine.OperationDestroy, "dev", base.Add(time.Minute)),
		record("c", engine.OperationDeploy, "prod", base.Add(2*time.Minute)),
	}
	for _, r := range runs {
		if err := j.StartRun(ctx, r); err != nil {
			t.Fatalf("StartRun(%s) error: %v", r.ID, err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all newest first", Filter{}, []string{"c", "b", "a"}},
		{"by deployment", Filter{DeploymentID: "dev"}, []string{"b", "a"}},
		{"limited", Filter{Limit: 1}, []string{"c"}},
		{"no match", Filter{ServiceName: "other"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := j.ListRuns(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListRuns() error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d runs, got %d", len(tt.want), len(got))
			}
			for i, r := range got {
				if r.ID != tt.want[i] {
					t.Errorf("run %d: expected %s, got %s", i, tt.want[i], r.ID)
				}
			}
		})
	}

	if err := j.DeleteRun(ctx, "a"); err != nil {
		t.Fatalf("DeleteRun() error: %v", err)
	}
	got, err := j.ListRuns(ctx, Filter{DeploymentID: "dev"})
	if err != nil {
		t.Fatalf("ListRuns() error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 run after delete, got %d", len(got))
	}
}

func TestJournalOnDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := j.StartRun(ctx, record("persisted", engine.OperationDeploy, "dev", time.Now())); err != nil {
		t.Fatalf("StartRun() error: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	j, err = Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer j.Close()

	if _, err := j.GetRun(ctx, "persisted"); err != nil {
		t.Errorf("run lost after reopen: %v", err)
	}
}
