package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldreport.org/internal/audit"
	"fieldreport.org/internal/sheet"
	"fieldreport.org/internal/sheet/memory"
)

const (
	reportDoc = "Business_Report"
	crmDoc    = "CRM_DB"
	priceDoc  = "Price_List"
	folderID  = "backup-folder"
)

type fixture struct {
	svc   *memory.Service
	sched *Scheduler
	trail *audit.Trail
	now   *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := memory.NewService()
	report := svc.AddDocument(reportDoc)
	svc.AddDocument(crmDoc)
	svc.AddDocument(priceDoc)

	// Daily_Report holds one row far older than retention and one fresh.
	report.AddSheet("Daily_Report", [][]string{
		{"日期", "時間", "內容"},
		{"2025-11-20", "09:00", "stale"},
		{"2026-03-28", "10:00", "fresh"},
	})
	report.AddSheet("System_Logs", [][]string{
		{"Timestamp", "Event"},
		{"2025-10-01 08:00:00", "old event"},
		{"2026-03-30 08:00:00", "recent event"},
	})

	now := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)
	fix := &fixture{svc: svc, now: &now}
	clock := func() time.Time { return *fix.now }
	fix.trail = audit.NewTrail(svc, priceDoc, audit.WithClock(clock))
	fix.sched = NewScheduler(svc, fix.trail, reportDoc, crmDoc, folderID, 62, WithClock(clock))
	return fix
}

func (f *fixture) dailyReport(t *testing.T) [][]string {
	t.Helper()
	doc, err := f.svc.Open(context.Background(), reportDoc)
	if err != nil {
		t.Fatalf("open report doc: %v", err)
	}
	ws, err := doc.Worksheet(context.Background(), "Daily_Report")
	if err != nil {
		t.Fatalf("open Daily_Report: %v", err)
	}
	return ws.(*memory.Worksheet).Grid()
}

func TestRunIfDueSkipsOutsideGate(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	for _, when := range []time.Time{
		time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC),  // odd month
		time.Date(2026, 4, 2, 6, 0, 0, 0, time.UTC),  // wrong day
		time.Date(2026, 11, 1, 6, 0, 0, 0, time.UTC), // odd month, right day
	} {
		*fix.now = when
		ran, err := fix.sched.RunIfDue(ctx)
		if err != nil {
			t.Fatalf("RunIfDue(%s): %v", when.Format("2006-01-02"), err)
		}
		if ran {
			t.Fatalf("RunIfDue(%s) ran outside the gate", when.Format("2006-01-02"))
		}
	}
	if copies := fix.svc.Copies(); len(copies) != 0 {
		t.Fatalf("copies made outside the gate: %v", copies)
	}
}

func TestRunIfDueBackupsPrunesAndMarks(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	ran, err := fix.sched.RunIfDue(ctx)
	if err != nil {
		t.Fatalf("RunIfDue: %v", err)
	}
	if !ran {
		t.Fatalf("pass did not run on an even-month first day")
	}

	copies := fix.svc.Copies()
	if len(copies) != 2 {
		t.Fatalf("copies = %d, want 2: %v", len(copies), copies)
	}
	if copies[0].Title != "Business_Report_202604_Backup" || copies[0].Folder != folderID {
		t.Fatalf("report copy = %+v", copies[0])
	}
	if copies[1].Source != crmDoc {
		t.Fatalf("second copy source = %q, want crm document", copies[1].Source)
	}

	grid := fix.dailyReport(t)
	if len(grid) != 2 {
		t.Fatalf("Daily_Report rows after prune = %d, want header + fresh row", len(grid))
	}
	if grid[1][2] != "fresh" {
		t.Fatalf("surviving row = %v", grid[1])
	}

	entries, err := fix.trail.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "AUTO_CLEANUP" || entries[0].Actor != "SYSTEM" {
		t.Fatalf("marker entries = %+v", entries)
	}
}

func TestRunIfDueOncePerProcess(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	if ran, _ := fix.sched.RunIfDue(ctx); !ran {
		t.Fatalf("first pass did not run")
	}
	ran, err := fix.sched.RunIfDue(ctx)
	if err != nil {
		t.Fatalf("second RunIfDue: %v", err)
	}
	if ran {
		t.Fatalf("pass ran twice in one process")
	}
	if copies := fix.svc.Copies(); len(copies) != 2 {
		t.Fatalf("copies = %d, want 2", len(copies))
	}
}

func TestRunIfDueDurableMarkerSurvivesRestart(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	if ran, _ := fix.sched.RunIfDue(ctx); !ran {
		t.Fatalf("first pass did not run")
	}

	// A restart is a fresh scheduler with an empty in-memory map.
	clock := func() time.Time { return *fix.now }
	restarted := NewScheduler(fix.svc, fix.trail, reportDoc, crmDoc, folderID, 62, WithClock(clock))
	ran, err := restarted.RunIfDue(ctx)
	if err != nil {
		t.Fatalf("RunIfDue after restart: %v", err)
	}
	if ran {
		t.Fatalf("durable marker did not stop the repeat run")
	}
	if copies := fix.svc.Copies(); len(copies) != 2 {
		t.Fatalf("copies = %d, want the original 2", len(copies))
	}
}

func TestRunIfDueBackupFailureSkipsPrune(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	// Point the scheduler at a CRM document that cannot be copied.
	clock := func() time.Time { return *fix.now }
	broken := NewScheduler(fix.svc, fix.trail, reportDoc, "Missing_DB", folderID, 62, WithClock(clock))
	ran, err := broken.RunIfDue(ctx)
	if err == nil || ran {
		t.Fatalf("RunIfDue = (%v, %v), want failure", ran, err)
	}
	if !errors.Is(err, sheet.ErrNotFound) {
		t.Fatalf("error = %v, want not found", err)
	}

	grid := fix.dailyReport(t)
	if len(grid) != 3 {
		t.Fatalf("rows pruned despite failed backup: %v", grid)
	}
	entries, _ := fix.trail.Recent(ctx, 10)
	if len(entries) != 0 {
		t.Fatalf("marker written despite failed backup: %+v", entries)
	}
}

func TestRunBackupNow(t *testing.T) {
	fix := newFixture(t)
	*fix.now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) // outside the gate

	if err := fix.sched.RunBackupNow(context.Background(), "admin@example.com"); err != nil {
		t.Fatalf("RunBackupNow: %v", err)
	}
	if copies := fix.svc.Copies(); len(copies) != 2 {
		t.Fatalf("copies = %d, want 2", len(copies))
	}
	entries, _ := fix.trail.Recent(context.Background(), 10)
	if len(entries) != 1 || entries[0].Action != "MANUAL_BACKUP" || entries[0].Actor != "admin@example.com" {
		t.Fatalf("entries = %+v", entries)
	}
	// Manual backups never prune.
	if grid := fix.dailyReport(t); len(grid) != 3 {
		t.Fatalf("manual backup pruned rows: %v", grid)
	}
}
