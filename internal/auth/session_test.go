package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldreport.org/internal/sheet"
	"fieldreport.org/internal/sheet/memory"
)

const testDoc = "Business_Report"

func newSessionFixture(t *testing.T, now *time.Time) (*SessionStore, *memory.Document) {
	t.Helper()
	svc := memory.NewService()
	doc := svc.AddDocument(testDoc)
	store := NewSessionStore(svc, testDoc, 30*24*time.Hour, WithSessionClock(func() time.Time { return *now }))
	return store, doc
}

func TestSessionIssueAndValidate(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store, doc := newSessionFixture(t, &now)
	ctx := context.Background()

	token, err := store.Issue(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("token length = %d, want 64 hex chars", len(token))
	}

	email, err := store.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if email != "user@example.com" {
		t.Fatalf("Validate email = %q", email)
	}

	ws, err := doc.Worksheet(ctx, sessionsSheet)
	if err != nil {
		t.Fatalf("sessions worksheet missing: %v", err)
	}
	rows, _ := ws.Rows(ctx)
	if len(rows) != 1 {
		t.Fatalf("session rows = %d, want 1", len(rows))
	}
}

func TestSessionValidateExpired(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store, doc := newSessionFixture(t, &now)
	ctx := context.Background()

	token, err := store.Issue(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	now = now.Add(30*24*time.Hour + time.Minute)

	if _, err := store.Validate(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate expired = %v, want ErrInvalidToken", err)
	}
	// Expired row is cleaned up opportunistically.
	ws, _ := doc.Worksheet(ctx, sessionsSheet)
	rows, _ := ws.Rows(ctx)
	if len(rows) != 0 {
		t.Fatalf("expired session row not removed, %d rows left", len(rows))
	}
}

func TestSessionValidateFailsClosed(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store, doc := newSessionFixture(t, &now)
	ctx := context.Background()

	token, err := store.Issue(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	doc.Service().FailNext(sheet.Transient(errors.New("backend down")))
	if _, err := store.Validate(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate during outage = %v, want ErrInvalidToken", err)
	}
	// The token itself is still good once the backend recovers.
	if _, err := store.Validate(ctx, token); err != nil {
		t.Fatalf("Validate after recovery: %v", err)
	}
}

func TestSessionRevoke(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store, _ := newSessionFixture(t, &now)
	ctx := context.Background()

	token, err := store.Issue(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := store.Revoke(ctx, token); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := store.Validate(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate revoked = %v, want ErrInvalidToken", err)
	}
	// Revoking an absent token is a no-op.
	if err := store.Revoke(ctx, token); err != nil {
		t.Fatalf("Revoke absent: %v", err)
	}
}

func TestSessionPruneExpired(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store, doc := newSessionFixture(t, &now)
	ctx := context.Background()

	if _, err := store.Issue(ctx, "old@example.com"); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	now = now.Add(31 * 24 * time.Hour)
	fresh, err := store.Issue(ctx, "fresh@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	removed, err := store.PruneExpired(ctx)
	if err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := store.Validate(ctx, fresh); err != nil {
		t.Fatalf("fresh token must survive prune: %v", err)
	}
	ws, _ := doc.Worksheet(ctx, sessionsSheet)
	rows, _ := ws.Rows(ctx)
	if len(rows) != 1 {
		t.Fatalf("rows after prune = %d, want 1", len(rows))
	}
}
