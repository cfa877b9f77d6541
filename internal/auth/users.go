package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fieldreport.org/internal/sheet"
)

// Users worksheet layout. Column positions are 1-based and fixed; the
// original deployment's sheet predates this service.
const (
	usersSheet = "Users"

	colEmail        = 1
	colName         = 2
	colPassword     = 3
	colRole         = 4
	colDept         = 5
	colStatus       = 6
	colFailAttempts = 7
	colLastFailTime = 8
)

const (
	statusActive = "active"
	statusLocked = "locked"
)

// failTimeLayout matches the LastFailTime cell format.
const failTimeLayout = "2006-01-02 15:04:05"

// UserStore reads and mutates the Users worksheet.
type UserStore struct {
	svc sheet.Service
	doc string
}

// NewUserStore creates a store over the named document.
func NewUserStore(svc sheet.Service, doc string) *UserStore {
	return &UserStore{svc: svc, doc: doc}
}

// FindByEmail scans the Users worksheet for a case-insensitive email
// match. The returned row index is 1-based into the worksheet (header
// included), suitable for UpdateCell.
func (s *UserStore) FindByEmail(ctx context.Context, email string) (User, int, error) {
	ws, err := s.worksheet(ctx)
	if err != nil {
		return User{}, 0, err
	}
	rows, err := ws.Rows(ctx)
	if err != nil {
		return User{}, 0, fmt.Errorf("read users: %w", err)
	}
	needle := strings.ToLower(strings.TrimSpace(email))
	for i, row := range rows {
		if strings.ToLower(strings.TrimSpace(row["Email"])) == needle {
			return userFromRow(row), i + 2, nil
		}
	}
	return User{}, 0, ErrNotFound
}

// UpdatePassword replaces the stored hash and reactivates the account.
func (s *UserStore) UpdatePassword(ctx context.Context, email, hash string) error {
	ws, err := s.worksheet(ctx)
	if err != nil {
		return err
	}
	cell, err := ws.FindCell(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, sheet.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("locate user: %w", err)
	}
	if err := ws.UpdateCell(ctx, cell.Row, colPassword, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	// Reset lock bookkeeping alongside the new credential. Best-effort:
	// older sheets may not have these columns.
	_ = ws.UpdateCell(ctx, cell.Row, colStatus, statusActive)
	_ = ws.UpdateCell(ctx, cell.Row, colFailAttempts, "0")
	return nil
}

// RecordFailure persists a failed login against the user row: attempt
// count, failure time, and locked status once the threshold is reached.
func (s *UserStore) RecordFailure(ctx context.Context, rowIndex, attempts, lockThreshold int, when time.Time) error {
	ws, err := s.worksheet(ctx)
	if err != nil {
		return err
	}
	if err := ws.UpdateCell(ctx, rowIndex, colFailAttempts, strconv.Itoa(attempts)); err != nil {
		return err
	}
	if err := ws.UpdateCell(ctx, rowIndex, colLastFailTime, when.Format(failTimeLayout)); err != nil {
		return err
	}
	if attempts >= lockThreshold {
		return ws.UpdateCell(ctx, rowIndex, colStatus, statusLocked)
	}
	return nil
}

// ClearFailures reactivates the account and zeroes the attempt counter.
func (s *UserStore) ClearFailures(ctx context.Context, rowIndex int) error {
	ws, err := s.worksheet(ctx)
	if err != nil {
		return err
	}
	if err := ws.UpdateCell(ctx, rowIndex, colStatus, statusActive); err != nil {
		return err
	}
	return ws.UpdateCell(ctx, rowIndex, colFailAttempts, "0")
}

// List returns every user row. Admin panel use.
func (s *UserStore) List(ctx context.Context) ([]User, error) {
	ws, err := s.worksheet(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := ws.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	out := make([]User, 0, len(rows))
	for _, row := range rows {
		out = append(out, userFromRow(row))
	}
	return out, nil
}

func (s *UserStore) worksheet(ctx context.Context) (sheet.Worksheet, error) {
	doc, err := s.svc.Open(ctx, s.doc)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.doc, err)
	}
	ws, err := doc.Worksheet(ctx, usersSheet)
	if err != nil {
		return nil, fmt.Errorf("open users sheet: %w", err)
	}
	return ws, nil
}

func userFromRow(row sheet.Row) User {
	attempts, _ := strconv.Atoi(strings.TrimSpace(row["FailAttempts"]))
	status := strings.ToLower(strings.TrimSpace(row["Status"]))
	if status == "" {
		status = statusActive
	}
	return User{
		Email:        strings.TrimSpace(row["Email"]),
		Name:         strings.TrimSpace(row["Name"]),
		PasswordHash: row["Password"],
		Role:         strings.ToLower(strings.TrimSpace(row["Role"])),
		Dept:         strings.TrimSpace(row["Dept"]),
		Status:       status,
		FailAttempts: attempts,
		LastFailTime: strings.TrimSpace(row["LastFailTime"]),
	}
}
