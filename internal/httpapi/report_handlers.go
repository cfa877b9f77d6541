package httpapi

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"fieldreport.org/internal/auth"
	"fieldreport.org/internal/cache"
	"fieldreport.org/internal/report"
)

// maxOverviewUsers caps one overview fan-out; beyond this the quota cost
// of a single page view becomes unreasonable.
const maxOverviewUsers = 30

type recordPayload struct {
	Date     string `json:"date"`
	Customer string `json:"customer"`
	Category string `json:"category"`
	Planned  string `json:"planned"`
	Actual   string `json:"actual"`
}

func (a *API) readRange(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	id, _ := auth.IdentityFromContext(r.Context())
	if !a.mayAccess(id, user) {
		respondError(w, http.StatusForbidden, "not allowed")
		return
	}
	start, end, err := rangeParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := a.deps.Reports.ReadRange(r.Context(), user, start, end)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    user,
		"records": recordsPayload(records),
	})
}

func (a *API) writeRange(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	id, _ := auth.IdentityFromContext(r.Context())
	if !a.mayAccess(id, user) {
		respondError(w, http.StatusForbidden, "not allowed")
		return
	}
	start, end, err := rangeParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Records []recordPayload `json:"records"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	records := make([]report.Record, 0, len(req.Records))
	for i, p := range req.Records {
		date, ok := report.ParseDate(p.Date)
		if !ok {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("record %d: bad date %q", i, p.Date))
			return
		}
		records = append(records, report.Record{
			Date:     date,
			Customer: p.Customer,
			Category: p.Category,
			Planned:  p.Planned,
			Actual:   p.Actual,
		})
	}
	if err := a.deps.Reports.WriteRange(r.Context(), user, start, end, records); err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "saved", "count": len(records)})
}

// overview fans out across the selected partitions. Each user's range
// read goes through the snapshot cache, so an upstream outage degrades
// to flagged stale data instead of a blank dashboard.
func (a *API) overview(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	if !id.CanViewAll() {
		respondError(w, http.StatusForbidden, "not allowed")
		return
	}
	start, end, err := rangeParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	users := splitUsers(r.URL.Query().Get("users"))
	if len(users) == 0 {
		users, err = a.deps.Reports.Partitions(r.Context(), report.SystemPartitions)
		if err != nil {
			respondDomainError(w, err)
			return
		}
	}
	if len(users) > maxOverviewUsers {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("too many users: %d, limit %d", len(users), maxOverviewUsers))
		return
	}

	type userResult struct {
		User    string          `json:"user"`
		Records []recordPayload `json:"records"`
		Stale   bool            `json:"stale,omitempty"`
	}
	var (
		results  []userResult
		failed   []string
		warnings []string
	)
	for _, user := range users {
		records, stale, warning, err := a.cachedRange(r.Context(), user, start, end)
		if err != nil {
			failed = append(failed, user)
			continue
		}
		if warning != "" {
			warnings = append(warnings, fmt.Sprintf("%s: %s", user, warning))
		}
		results = append(results, userResult{User: user, Records: recordsPayload(records), Stale: stale})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":  results,
		"failed":   failed,
		"warnings": warnings,
	})
}

// overviewKey names the snapshot holding one user's overview range.
// StoreInvalidator sweeps these by their per-user prefix, so the key
// shape and the invalidation prefix must move together.
func overviewKey(user string, start, end time.Time) string {
	return fmt.Sprintf("overview_%s_%s_%s", user, start.Format("20060102"), end.Format("20060102"))
}

// StoreInvalidator drops every cached view of a partition after a
// write: the bare dataset snapshot and all overview ranges that read
// from it. Wire it as the report store's invalidation hook.
func StoreInvalidator(snapshots *cache.Snapshot) func(partition string) {
	return func(partition string) {
		snapshots.Invalidate(partition)
		snapshots.InvalidatePrefix("overview_" + partition + "_")
	}
}

// cachedRange reads one user's range through the snapshot cache.
func (a *API) cachedRange(ctx context.Context, user string, start, end time.Time) ([]report.Record, bool, string, error) {
	key := overviewKey(user, start, end)
	grid, status, err := a.deps.Snapshots.Get(ctx, key, func(ctx context.Context) ([][]string, error) {
		records, err := a.deps.Reports.ReadRange(ctx, user, start, end)
		if err != nil {
			return nil, err
		}
		return report.Grid(records), nil
	})
	if err != nil {
		return nil, false, status.Warning, err
	}
	return report.RecordsFromGrid(grid), status.Source == cache.SourceStale, status.Warning, nil
}

func (a *API) exportCSV(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	id, _ := auth.IdentityFromContext(r.Context())
	if !a.mayAccess(id, user) {
		respondError(w, http.StatusForbidden, "not allowed")
		return
	}
	start, end, err := rangeParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := a.deps.Reports.ReadRange(r.Context(), user, start, end)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("report_%s_%s.csv", user, start.Format("20060102"))))
	cw := csv.NewWriter(w)
	for _, row := range report.Grid(records) {
		sanitized := make([]string, len(row))
		for i, cell := range row {
			sanitized[i] = sanitizeCSVCell(cell)
		}
		if err := cw.Write(sanitized); err != nil {
			return
		}
	}
	cw.Flush()
}

// sanitizeCSVCell neutralizes spreadsheet formula injection: cells
// starting with a formula trigger get a leading apostrophe.
func sanitizeCSVCell(cell string) string {
	if cell == "" {
		return cell
	}
	switch cell[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + cell
	}
	return cell
}

// mayAccess reports whether the identity may touch the named partition.
func (a *API) mayAccess(id auth.Identity, user string) bool {
	if id.CanViewAll() {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(user), strings.TrimSpace(id.Email)) ||
		strings.EqualFold(strings.TrimSpace(user), strings.TrimSpace(id.Name))
}

func rangeParams(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	start, ok := report.ParseDate(q.Get("from"))
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("bad or missing from date %q", q.Get("from"))
	}
	end, ok := report.ParseDate(q.Get("to"))
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("bad or missing to date %q", q.Get("to"))
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("to date precedes from date")
	}
	return start, end, nil
}

func splitUsers(raw string) []string {
	var out []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func recordsPayload(records []report.Record) []recordPayload {
	out := make([]recordPayload, 0, len(records))
	for _, rec := range records {
		out = append(out, recordPayload{
			Date:     rec.Date.Format(report.DateLayout),
			Customer: rec.Customer,
			Category: rec.Category,
			Planned:  rec.Planned,
			Actual:   rec.Actual,
		})
	}
	return out
}
