// Package audit records privileged actions twice: a JSON event on the
// process log and a durable row in the Logs worksheet. The worksheet is
// the source of truth the maintenance pass reads its markers from.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"fieldreport.org/internal/auth"
	"fieldreport.org/internal/obs"
	"fieldreport.org/internal/sheet"
)

// logsSheet lives in the price document; the headers predate this
// service and stay as the provider created them.
const logsSheet = "Logs"

var logsHeaders = []string{"時間", "使用者", "動作", "備註"}

// entryLayout matches the timestamp column format.
const entryLayout = "2006-01-02 15:04:05"

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry is one durable audit row.
type Entry struct {
	Time   time.Time
	Actor  string
	Action string
	Note   string
}

// Trail appends audit rows to the Logs worksheet.
type Trail struct {
	svc sheet.Service
	doc string
	now func() time.Time
}

// Option configures a Trail.
type Option func(*Trail)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// NewTrail creates a trail writing into the named document.
func NewTrail(svc sheet.Service, doc string, opts ...Option) *Trail {
	t := &Trail{svc: svc, doc: doc, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// LogAction records one action. The JSON event always goes out; a failed
// worksheet append is logged and swallowed so auditing never takes the
// calling operation down with it.
func (t *Trail) LogAction(ctx context.Context, actor, action, note string) {
	_ = Event(ctx, action, map[string]any{"actor": actor, "note": note})

	ws, err := t.worksheet(ctx)
	if err != nil {
		obs.LogEvent("error", "audit trail unavailable", map[string]any{"action": action, "error": err.Error()})
		return
	}
	row := []string{t.now().Format(entryLayout), actor, action, note}
	if err := ws.Append(ctx, row); err != nil {
		obs.LogEvent("error", "audit append failed", map[string]any{"action": action, "error": err.Error()})
	}
}

// Append writes one row without the JSON event. Maintenance markers use
// this; the append error matters to those callers.
func (t *Trail) Append(ctx context.Context, actor, action, note string) error {
	ws, err := t.worksheet(ctx)
	if err != nil {
		return err
	}
	return ws.Append(ctx, []string{t.now().Format(entryLayout), actor, action, note})
}

// Recent returns up to n of the newest rows, oldest first.
func (t *Trail) Recent(ctx context.Context, n int) ([]Entry, error) {
	ws, err := t.worksheet(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := ws.Rows(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e := Entry{
			Actor:  row["使用者"],
			Action: row["動作"],
			Note:   row["備註"],
		}
		if ts, err := time.Parse(entryLayout, strings.TrimSpace(row["時間"])); err == nil {
			e.Time = ts
		}
		out = append(out, e)
	}
	return out, nil
}

func (t *Trail) worksheet(ctx context.Context) (sheet.Worksheet, error) {
	doc, err := t.svc.Open(ctx, t.doc)
	if err != nil {
		return nil, err
	}
	ws, err := doc.Worksheet(ctx, logsSheet)
	if errors.Is(err, sheet.ErrNotFound) {
		ws, err = doc.AddWorksheet(ctx, logsSheet, logsHeaders)
	}
	return ws, err
}

// Event writes a structured audit event enriched with request and user
// context to the process log.
func Event(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		entry["user"] = id.Email
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
