package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldreport.org/internal/sheet"
)

// sessionsSheet rows: Token, Email, IssuedAt, ExpiresAt.
const sessionsSheet = "Sessions"

var sessionHeaders = []string{"Token", "Email", "IssuedAt", "ExpiresAt"}

// SessionStore persists long-lived remember-me tokens in the Sessions
// worksheet so they survive restarts and are shared across instances.
type SessionStore struct {
	svc sheet.Service
	doc string
	ttl time.Duration
	now func() time.Time
}

// SessionOption configures a SessionStore.
type SessionOption func(*SessionStore)

// WithSessionClock injects a clock for tests.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionStore) { s.now = now }
}

// NewSessionStore creates a store over the named document. ttl bounds
// token lifetime.
func NewSessionStore(svc sheet.Service, doc string, ttl time.Duration, opts ...SessionOption) *SessionStore {
	s := &SessionStore{svc: svc, doc: doc, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue mints an opaque token for the email and appends it to the
// worksheet. The token is returned exactly once; only its presence in
// the sheet makes it valid.
func (s *SessionStore) Issue(ctx context.Context, email string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(buf)

	ws, err := s.worksheet(ctx)
	if err != nil {
		return "", err
	}
	issued := s.now()
	row := []string{
		token,
		strings.TrimSpace(email),
		issued.Format(failTimeLayout),
		issued.Add(s.ttl).Format(failTimeLayout),
	}
	if err := ws.Append(ctx, row); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}
	return token, nil
}

// Validate resolves a token to the email it was issued for. A token is
// valid only if present and unexpired. Any remote failure invalidates:
// the caller must not grant access on an unverifiable token.
func (s *SessionStore) Validate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	ws, err := s.worksheet(ctx)
	if err != nil {
		return "", ErrInvalidToken
	}
	rows, err := ws.Rows(ctx)
	if err != nil {
		return "", ErrInvalidToken
	}
	now := s.now()
	for _, row := range rows {
		if row["Token"] != token {
			continue
		}
		exp, err := time.Parse(failTimeLayout, strings.TrimSpace(row["ExpiresAt"]))
		if err != nil || !now.Before(exp) {
			// Expired or unreadable: treat as revoked and drop the row
			// opportunistically. Cleanup failure is not an error; the
			// token is rejected either way.
			_ = s.Revoke(ctx, token)
			return "", ErrInvalidToken
		}
		return strings.TrimSpace(row["Email"]), nil
	}
	return "", ErrInvalidToken
}

// Revoke removes the token's row. Tokens already absent are a no-op.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	ws, err := s.worksheet(ctx)
	if err != nil {
		return err
	}
	cell, err := ws.FindCell(ctx, token)
	if err != nil {
		if errors.Is(err, sheet.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("locate session: %w", err)
	}
	if err := ws.DeleteRow(ctx, cell.Row); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// PruneExpired deletes all expired rows. Maintenance use; best-effort.
func (s *SessionStore) PruneExpired(ctx context.Context) (int, error) {
	ws, err := s.worksheet(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := ws.Rows(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	removed := 0
	// Walk bottom-up so earlier indexes stay stable across deletes.
	for i := len(rows) - 1; i >= 0; i-- {
		exp, err := time.Parse(failTimeLayout, strings.TrimSpace(rows[i]["ExpiresAt"]))
		if err == nil && now.Before(exp) {
			continue
		}
		if err := ws.DeleteRow(ctx, i+2); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *SessionStore) worksheet(ctx context.Context) (sheet.Worksheet, error) {
	doc, err := s.svc.Open(ctx, s.doc)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.doc, err)
	}
	ws, err := doc.Worksheet(ctx, sessionsSheet)
	if errors.Is(err, sheet.ErrNotFound) {
		ws, err = doc.AddWorksheet(ctx, sessionsSheet, sessionHeaders)
	}
	if err != nil {
		return nil, fmt.Errorf("open sessions sheet: %w", err)
	}
	return ws, nil
}
