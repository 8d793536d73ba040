// smtp.go
//
// Mailer interface and SMTPMailer implementation.
// Add other implementations (ses.go, etc.) as separate files in this package.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"net/url"
)

// Mailer sends the transactional emails of the activation and reset flows.
// The temp-key id travels in the link; the recipient's browser hands it to
// the token-retrieval endpoint which turns it into a session.
type Mailer interface {
	// SendActivationEmail sends an account-activation link carrying tempKeyID.
	SendActivationEmail(ctx context.Context, toEmail, tempKeyID string) error

	// SendResetPasswordEmail sends a password-reset link carrying tempKeyID.
	SendResetPasswordEmail(ctx context.Context, toEmail, tempKeyID string) error
}

// SMTPConfig holds all configuration for SMTPMailer.
type SMTPConfig struct {
	Host        string
	Port        string
	Username    string
	Password    string
	FromAddress string
	FEBaseURL   string // prefix for the activation / reset links
}

// SMTPMailer sends transactional email via SMTP.
// Compatible with any SMTP provider: SES, Mailgun, Mailpit (local dev), etc.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates an SMTPMailer with the given config.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// NopMailer discards all outbound email. Used when SMTP is not configured.
type NopMailer struct{}

func (n *NopMailer) SendActivationEmail(_ context.Context, _, _ string) error {
	return nil
}

func (n *NopMailer) SendResetPasswordEmail(_ context.Context, _, _ string) error {
	return nil
}

// sendMail dials the SMTP server, enforces STARTTLS (rejects plaintext
// sessions), authenticates, and delivers msg. The dial respects ctx.
func (m *SMTPMailer) sendMail(ctx context.Context, toEmail, msg string) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", m.cfg.Host+":"+m.cfg.Port)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	// Enforce STARTTLS -- reject the session if server does not advertise it.
	if ok, _ := c.Extension("STARTTLS"); !ok {
		return fmt.Errorf("smtp server does not advertise STARTTLS: refusing plaintext session")
	}
	if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
		return fmt.Errorf("smtp starttls: %w", err)
	}

	if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}

	if err := c.Mail(m.cfg.FromAddress); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(toEmail); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := fmt.Fprint(wc, msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	return c.Quit()
}

func (m *SMTPMailer) compose(toEmail, subject, body string) string {
	return "From: " + m.cfg.FromAddress + "\r\n" +
		"To: " + toEmail + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		body
}

// SendActivationEmail emails an account-activation link to toEmail.
func (m *SMTPMailer) SendActivationEmail(ctx context.Context, toEmail, tempKeyID string) error {
	link := m.cfg.FEBaseURL + "/auth/activate-account?tempKey=" + url.QueryEscape(tempKeyID)

	body := "An account was created for this address.\n\n" +
		"Click the link below to choose a password and activate it:\n\n" +
		link + "\n\n" +
		"If you did not expect this email, ignore it."

	if err := m.sendMail(ctx, toEmail, m.compose(toEmail, "Activate your account", body)); err != nil {
		return fmt.Errorf("sending activation email: %w", err)
	}
	return nil
}

// SendResetPasswordEmail emails a password-reset link to toEmail.
func (m *SMTPMailer) SendResetPasswordEmail(ctx context.Context, toEmail, tempKeyID string) error {
	link := m.cfg.FEBaseURL + "/auth/reset-password?tempKey=" + url.QueryEscape(tempKeyID)

	body := "You requested a password reset.\n\n" +
		"Click the link below to choose a new password:\n\n" +
		link + "\n\n" +
		"If you did not request a reset, ignore this email."

	if err := m.sendMail(ctx, toEmail, m.compose(toEmail, "Reset your password", body)); err != nil {
		return fmt.Errorf("sending password reset email: %w", err)
	}
	return nil
}
