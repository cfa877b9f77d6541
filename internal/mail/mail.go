// Package mail sends transactional mail over SMTP with implicit TLS.
// The upstream relay only accepts TLS-on-connect (port 465), so plain
// smtp.SendMail with STARTTLS does not work against it.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"fieldreport.org/internal/obs"
)

const dialTimeout = 10 * time.Second

// Config is the SMTP relay configuration.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender delivers mail through one relay.
type Sender struct {
	cfg  Config
	send func(ctx context.Context, to string, msg []byte) error
}

// New creates a Sender. Missing host disables delivery: Send logs and
// returns an error so callers can degrade instead of crashing.
func New(cfg Config) *Sender {
	s := &Sender{cfg: cfg}
	s.send = s.sendTLS
	return s
}

// SendOTP mails a one-time verification code.
func (s *Sender) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	subject := "Your verification code"
	body := fmt.Sprintf(
		"Your verification code is %s.\r\n\r\nIt expires in %d minutes. If you did not request it, ignore this mail.\r\n",
		code, int(ttl.Minutes()))
	return s.Send(ctx, to, subject, body)
}

// SendPasswordNotice mails a password-changed notification.
func (s *Sender) SendPasswordNotice(ctx context.Context, to string) error {
	body := "Your account password was changed.\r\n\r\nIf this was not you, contact an administrator immediately.\r\n"
	return s.Send(ctx, to, "Password changed", body)
}

// Send delivers one plain-text message.
func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	if s.cfg.Host == "" {
		return fmt.Errorf("mail: relay not configured")
	}
	msg := buildMessage(s.cfg.From, to, subject, body)
	if err := s.send(ctx, to, msg); err != nil {
		obs.LogEvent("error", "mail delivery failed", map[string]any{"to": to, "error": err.Error()})
		return fmt.Errorf("mail: send to %s: %w", to, err)
	}
	return nil
}

func (s *Sender) sendTLS(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: s.cfg.Host})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// The SMTP conversation inherits the dial deadline; a stalled relay
	// must not hold a request handler open.
	deadline := time.Now().Add(dialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	defer client.Close()

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return client.Quit()
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
