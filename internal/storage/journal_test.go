package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	t.Setenv("CATSYNC_DB_PATH", filepath.Join(t.TempDir(), "records.sqlite"))
	journal, err := OpenJournal()
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() {
		_ = journal.Close()
	})
	return journal
}

func TestJournalRecordOutcome(t *testing.T) {
	journal := openTestJournal(t)
	err := journal.RecordOutcome(context.Background(), OutcomeRow{
		DeviceID:   "d1",
		DeviceName: "Laptop1",
		Category:   "Finance",
		CategoryID: "cat-9",
		Outcome:    "success",
	})
	if err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	var outcome, recordedAt string
	row := journal.db.QueryRow(`SELECT outcome, recorded_at FROM device_outcomes WHERE device_id = ?`, "d1")
	if err := row.Scan(&outcome, &recordedAt); err != nil {
		t.Fatalf("query outcome: %v", err)
	}
	if outcome != "success" {
		t.Fatalf("expected success, got %q", outcome)
	}
	if recordedAt == "" {
		t.Fatal("expected recorded_at to be populated")
	}
}

func TestJournalUpsertsByDeviceID(t *testing.T) {
	journal := openTestJournal(t)
	ctx := context.Background()
	first := OutcomeRow{DeviceID: "d1", DeviceName: "Laptop1", Category: "Finance", Outcome: "timed_out"}
	if err := journal.RecordOutcome(ctx, first); err != nil {
		t.Fatalf("record first outcome: %v", err)
	}
	second := first
	second.Outcome = "success"
	if err := journal.RecordOutcome(ctx, second); err != nil {
		t.Fatalf("record second outcome: %v", err)
	}

	var count int
	if err := journal.db.QueryRow(`SELECT COUNT(*) FROM device_outcomes`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one row after upsert, got %d", count)
	}
	var outcome string
	if err := journal.db.QueryRow(`SELECT outcome FROM device_outcomes WHERE device_id = ?`, "d1").Scan(&outcome); err != nil {
		t.Fatalf("query outcome: %v", err)
	}
	if outcome != "success" {
		t.Fatalf("expected latest outcome to win, got %q", outcome)
	}
}

func TestJournalRejectsEmptyDeviceID(t *testing.T) {
	journal := openTestJournal(t)
	if err := journal.RecordOutcome(context.Background(), OutcomeRow{DeviceID: "  "}); err == nil {
		t.Fatal("expected error for empty device id")
	}
}

func TestResolveDatabasePathHonorsEnv(t *testing.T) {
	want := filepath.Join(t.TempDir(), "nested", "records.sqlite")
	t.Setenv("CATSYNC_DB_PATH", want)
	got, err := ResolveDatabasePath()
	if err != nil {
		t.Fatalf("resolve path: %v", err)
	}
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
