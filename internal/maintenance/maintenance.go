// Package maintenance runs the periodic backup and prune pass: archival
// copies of the report and CRM documents, then row pruning of the
// high-churn worksheets. Due on the first day of even months; a durable
// marker row in the audit trail keeps restarts from repeating it.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fieldreport.org/internal/audit"
	"fieldreport.org/internal/obs"
	"fieldreport.org/internal/sheet"
)

const (
	// markerAction is the audit row written after a completed pass and
	// scanned before starting one.
	markerAction = "AUTO_CLEANUP"
	// markerScan bounds how many trailing audit rows the dedupe check reads.
	markerScan = 50
)

// pruneSheets are the high-churn worksheets inside the report document.
var pruneSheets = []string{"Daily_Report", "System_Logs"}

// Scheduler owns the backup and prune pass.
type Scheduler struct {
	svc       sheet.Service
	trail     *audit.Trail
	reportDoc string
	crmDoc    string
	folderID  string
	retention time.Duration
	now       func() time.Time

	mu   sync.Mutex
	done map[string]bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a scheduler. retentionDays bounds how old pruned
// rows may be.
func NewScheduler(svc sheet.Service, trail *audit.Trail, reportDoc, crmDoc, folderID string, retentionDays int, opts ...Option) *Scheduler {
	s := &Scheduler{
		svc:       svc,
		trail:     trail,
		reportDoc: reportDoc,
		crmDoc:    crmDoc,
		folderID:  folderID,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
		done:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunIfDue executes the pass when the calendar gate opens and it has not
// already run this period. Returns whether the pass ran.
func (s *Scheduler) RunIfDue(ctx context.Context) (bool, error) {
	now := s.now()
	if int(now.Month())%2 != 0 || now.Day() != 1 {
		return false, nil
	}
	key := now.Format("2006-01-02")
	s.mu.Lock()
	if s.done[key] {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	if s.ranThisMonth(ctx, now) {
		s.markDone(key)
		return false, nil
	}

	if err := s.run(ctx, now); err != nil {
		return false, err
	}
	s.markDone(key)
	return true, nil
}

// RunBackupNow takes archival copies on demand, outside the calendar
// gate and without pruning.
func (s *Scheduler) RunBackupNow(ctx context.Context, actor string) error {
	now := s.now()
	if err := s.backup(ctx, now); err != nil {
		return err
	}
	s.trail.LogAction(ctx, actor, "MANUAL_BACKUP", fmt.Sprintf("copies for %s", now.Format("200601")))
	return nil
}

// ranThisMonth scans the trailing audit rows for a completed-pass marker
// inside the current month. An unreadable trail does not block the pass.
func (s *Scheduler) ranThisMonth(ctx context.Context, now time.Time) bool {
	entries, err := s.trail.Recent(ctx, markerScan)
	if err != nil {
		obs.LogEvent("warn", "maintenance marker scan failed", map[string]any{"error": err.Error()})
		return false
	}
	month := now.Format("2006-01")
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Action == markerAction && !e.Time.IsZero() && e.Time.Format("2006-01") == month {
			return true
		}
	}
	return false
}

func (s *Scheduler) run(ctx context.Context, now time.Time) error {
	obs.LogEvent("info", "maintenance pass starting", map[string]any{"period": now.Format("2006-01")})

	if err := s.backup(ctx, now); err != nil {
		// No pruning without a verified archive.
		return err
	}

	cutoff := now.Add(-s.retention).Format("2006-01-02")
	for _, title := range pruneSheets {
		removed, err := s.prune(ctx, title, cutoff)
		if err != nil {
			obs.LogEvent("error", "prune failed", map[string]any{"worksheet": title, "error": err.Error()})
			continue
		}
		if removed > 0 {
			obs.LogEvent("info", "pruned worksheet", map[string]any{"worksheet": title, "rows": removed})
		}
	}

	if err := s.trail.Append(ctx, "SYSTEM", markerAction, fmt.Sprintf("Backup & Prune completed. Cutoff: %s", cutoff)); err != nil {
		return fmt.Errorf("write completion marker: %w", err)
	}
	return nil
}

func (s *Scheduler) backup(ctx context.Context, now time.Time) error {
	suffix := now.Format("200601")
	for _, name := range []string{s.reportDoc, s.crmDoc} {
		title := fmt.Sprintf("%s_%s_Backup", name, suffix)
		if err := s.svc.Copy(ctx, name, title, s.folderID); err != nil {
			return fmt.Errorf("backup %s: %w", name, err)
		}
		obs.LogEvent("info", "backup created", map[string]any{"title": title})
	}
	return nil
}

// prune drops rows older than the cutoff from one worksheet. Age is
// judged by lexicographic comparison of the first two cells against the
// 2006-01-02 cutoff, which keeps rows whose leading cell is not a date.
func (s *Scheduler) prune(ctx context.Context, title, cutoff string) (int, error) {
	doc, err := s.svc.Open(ctx, s.reportDoc)
	if err != nil {
		return 0, err
	}
	ws, err := doc.Worksheet(ctx, title)
	if err != nil {
		if errors.Is(err, sheet.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	grid, err := ws.Values(ctx)
	if err != nil {
		return 0, err
	}
	if len(grid) <= 1 {
		return 0, nil
	}
	header, data := grid[0], grid[1:]
	kept := make([][]string, 0, len(data))
	for _, row := range data {
		check := ""
		if len(row) > 0 {
			check = row[0]
		}
		if len(row) > 1 {
			check += " " + row[1]
		}
		if check >= cutoff {
			kept = append(kept, row)
		}
	}
	removed := len(data) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := ws.Clear(ctx); err != nil {
		return 0, err
	}
	if err := ws.WriteAll(ctx, append([][]string{header}, kept...)); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Scheduler) markDone(key string) {
	s.mu.Lock()
	s.done[key] = true
	s.mu.Unlock()
}
