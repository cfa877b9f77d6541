package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"fieldreport.org/internal/obs"
)

const (
	otpTTL        = 10 * time.Minute
	otpMailLimit  = 3
	otpMailWindow = time.Hour
)

// Mailer delivers one-time codes. Delivery failures surface to the
// caller; the code stays valid so a retry can reuse it.
type Mailer interface {
	SendOTP(ctx context.Context, to, code string, ttl time.Duration) error
}

// Recorder appends an audit line. Nil disables auditing.
type Recorder interface {
	LogAction(ctx context.Context, actor, action, note string)
}

// LoginResult is a successful authentication.
type LoginResult struct {
	Identity      Identity
	AccessToken   string
	RememberToken string
}

type otpEntry struct {
	code    string
	expires time.Time
}

// Service implements login, password change, and the OTP reset flow.
type Service struct {
	users     *UserStore
	sessions  *SessionStore
	tracker   *AttemptTracker
	signer    *TokenSigner
	mailer    Mailer
	audit     Recorder
	accessTTL time.Duration
	lockLimit int
	lockSpan  time.Duration
	now       func() time.Time

	otpMu sync.Mutex
	otps  map[string]otpEntry
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceClock injects a clock for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithRecorder wires the audit trail.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.audit = r }
}

// NewService wires the authentication flows together.
func NewService(users *UserStore, sessions *SessionStore, tracker *AttemptTracker, signer *TokenSigner, mailer Mailer, accessTTL time.Duration, lockLimit int, lockSpan time.Duration, opts ...ServiceOption) *Service {
	s := &Service{
		users:     users,
		sessions:  sessions,
		tracker:   tracker,
		signer:    signer,
		mailer:    mailer,
		accessTTL: accessTTL,
		lockLimit: lockLimit,
		lockSpan:  lockSpan,
		now:       time.Now,
		otps:      make(map[string]otpEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AccessTTL is the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// Login authenticates email/password. remember controls whether a
// long-lived token is issued alongside the JWT. Lockout is enforced both
// from the in-memory tracker and the durable user row, so it holds
// across restarts and across instances.
func (s *Service) Login(ctx context.Context, email, password string, remember bool) (LoginResult, error) {
	email = strings.TrimSpace(email)
	if locked, retry := s.tracker.IsLocked(email); locked {
		obs.ObserveLockout()
		return LoginResult{}, lockedFor(retry)
	}

	user, rowIdx, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		// Same failure path as a wrong password: no account probing.
		return LoginResult{}, ErrInvalidCredentials
	}

	if user.Status == statusLocked {
		if !s.lockExpired(user) {
			obs.ObserveLockout()
			return LoginResult{}, lockedFor(s.lockRemaining(user))
		}
		// Lock aged out while the service was down: reactivate.
		if err := s.users.ClearFailures(ctx, rowIdx); err != nil {
			return LoginResult{}, fmt.Errorf("unlock account: %w", err)
		}
		user.FailAttempts = 0
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		count := s.tracker.RecordFailure(email)
		if err := s.users.RecordFailure(ctx, rowIdx, user.FailAttempts+1, s.lockLimit, s.now()); err != nil {
			obs.LogEvent("warn", "record login failure", map[string]any{"email": email, "error": err.Error()})
		}
		if count >= s.lockLimit {
			obs.ObserveLockout()
			s.record(ctx, email, "ACCOUNT_LOCKED", fmt.Sprintf("%d failed attempts", count))
			return LoginResult{}, lockedFor(s.lockSpan)
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	s.tracker.Reset(email)
	if user.FailAttempts > 0 {
		if err := s.users.ClearFailures(ctx, rowIdx); err != nil {
			obs.LogEvent("warn", "clear login failures", map[string]any{"email": email, "error": err.Error()})
		}
	}

	id := Identity{
		Email:       user.Email,
		Name:        user.Name,
		Role:        user.Role,
		Dept:        user.Dept,
		ForceChange: IsWeakPassword(password),
	}
	access, err := s.signer.Sign(id, s.accessTTL)
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign token: %w", err)
	}
	res := LoginResult{Identity: id, AccessToken: access}
	if remember {
		token, err := s.sessions.Issue(ctx, user.Email)
		if err != nil {
			// A failed remember token does not fail the login.
			obs.LogEvent("warn", "issue remember token", map[string]any{"email": email, "error": err.Error()})
		} else {
			res.RememberToken = token
		}
	}
	s.record(ctx, user.Email, "LOGIN", user.Role)
	return res, nil
}

// Resume authenticates a remember-me token into a fresh access token.
func (s *Service) Resume(ctx context.Context, token string) (LoginResult, error) {
	email, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return LoginResult{}, ErrInvalidToken
	}
	user, _, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return LoginResult{}, ErrInvalidToken
	}
	if user.Status == statusLocked {
		return LoginResult{}, ErrLocked
	}
	id := Identity{Email: user.Email, Name: user.Name, Role: user.Role, Dept: user.Dept}
	access, err := s.signer.Sign(id, s.accessTTL)
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign token: %w", err)
	}
	return LoginResult{Identity: id, AccessToken: access, RememberToken: token}, nil
}

// Logout revokes the remember-me token, if any.
func (s *Service) Logout(ctx context.Context, email, rememberToken string) error {
	if rememberToken != "" {
		if err := s.sessions.Revoke(ctx, rememberToken); err != nil {
			return err
		}
	}
	s.record(ctx, email, "LOGOUT", "")
	return nil
}

// ChangePassword verifies the current password and stores a new hash.
func (s *Service) ChangePassword(ctx context.Context, email, current, next string) error {
	user, _, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return ErrNotFound
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	return s.setPassword(ctx, email, next)
}

// RequestOTP emails a one-time code for the password reset flow. At most
// three mails per account per hour; excess requests return ErrLocked
// without revealing whether the account exists.
func (s *Service) RequestOTP(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	user, _, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		// Pretend success so the endpoint cannot enumerate accounts.
		return nil
	}
	if !s.tracker.AllowAction("otp:"+normalizeEmail(email), otpMailLimit, otpMailWindow) {
		return ErrLocked
	}
	code, err := randomCode(6)
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	s.otpMu.Lock()
	s.otps[normalizeEmail(email)] = otpEntry{code: code, expires: s.now().Add(otpTTL)}
	s.otpMu.Unlock()
	if err := s.mailer.SendOTP(ctx, user.Email, code, otpTTL); err != nil {
		return fmt.Errorf("send code: %w", err)
	}
	s.record(ctx, user.Email, "OTP_SENT", "")
	return nil
}

// ResetPassword redeems a one-time code for a new password. The code is
// consumed on success and on expiry, never on a wrong guess alone.
func (s *Service) ResetPassword(ctx context.Context, email, code, next string) error {
	key := normalizeEmail(email)
	s.otpMu.Lock()
	entry, ok := s.otps[key]
	if ok && !s.now().Before(entry.expires) {
		delete(s.otps, key)
		ok = false
	}
	s.otpMu.Unlock()
	if !ok || entry.code != strings.TrimSpace(code) {
		return ErrInvalidCredentials
	}
	if err := s.setPassword(ctx, email, next); err != nil {
		return err
	}
	s.otpMu.Lock()
	delete(s.otps, key)
	s.otpMu.Unlock()
	s.tracker.Reset(email)
	s.record(ctx, email, "PASSWORD_RESET", "via one-time code")
	return nil
}

func (s *Service) setPassword(ctx context.Context, email, next string) error {
	if IsWeakPassword(next) {
		return ErrWeakPassword
	}
	hash, err := HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, email, hash); err != nil {
		return err
	}
	s.record(ctx, email, "PASSWORD_CHANGED", "")
	return nil
}

// lockedFor wraps ErrLocked with the time left on the lock, so callers
// can tell the user when to retry while errors.Is still matches.
func lockedFor(remaining time.Duration) error {
	if remaining <= 0 {
		return ErrLocked
	}
	return fmt.Errorf("%w: retry in %s", ErrLocked, remaining.Round(time.Second))
}

// lockRemaining is the time left on the durable row lock. An unreadable
// timestamp reports the full window, matching lockExpired keeping the
// account locked.
func (s *Service) lockRemaining(user User) time.Duration {
	last, err := time.Parse(failTimeLayout, user.LastFailTime)
	if err != nil {
		return s.lockSpan
	}
	remaining := s.lockSpan - s.now().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// lockExpired reports whether the durable lock on the user row has aged
// past the lockout window.
func (s *Service) lockExpired(user User) bool {
	last, err := time.Parse(failTimeLayout, user.LastFailTime)
	if err != nil {
		// Unreadable timestamp: keep the account locked until an admin
		// intervenes rather than silently unlocking.
		return false
	}
	return s.now().Sub(last) > s.lockSpan
}

func (s *Service) record(ctx context.Context, actor, action, note string) {
	if s.audit != nil {
		s.audit.LogAction(ctx, actor, action, note)
	}
}

func randomCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
