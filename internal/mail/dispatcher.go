// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package mail delivers password reset tokens out of band.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/samber/oops"
)

// LogDispatcher writes reset tokens to the log instead of sending email.
// Intended for development and tests; never use it where logs are shared.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a LogDispatcher. A nil logger uses slog.Default.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

// SendPasswordReset logs the reset token for the email.
func (d *LogDispatcher) SendPasswordReset(ctx context.Context, email, token string) error {
	d.logger.InfoContext(ctx, "password reset token issued",
		"email", email,
		"token", token,
	)
	return nil
}

// SMTPConfig holds SMTP delivery settings.
type SMTPConfig struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
	// ResetURL is the reset page base; the email links to
	// ResetURL?token=<token>&email=<email>.
	ResetURL string
}

// SMTPDispatcher sends reset emails over SMTP.
type SMTPDispatcher struct {
	cfg SMTPConfig
}

// NewSMTPDispatcher creates an SMTPDispatcher.
func NewSMTPDispatcher(cfg SMTPConfig) (*SMTPDispatcher, error) {
	if cfg.Addr == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp address is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("from address is required")
	}
	return &SMTPDispatcher{cfg: cfg}, nil
}

// SendPasswordReset sends the reset token to the email address.
func (d *SMTPDispatcher) SendPasswordReset(_ context.Context, email, token string) error {
	msg := d.composeReset(email, token)

	var auth smtp.Auth
	if d.cfg.Username != "" {
		host := d.cfg.Addr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, host)
	}

	if err := smtp.SendMail(d.cfg.Addr, auth, d.cfg.From, []string{email}, msg); err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("operation", "send reset email").
			Wrap(err)
	}
	return nil
}

func (d *SMTPDispatcher) composeReset(email, token string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", d.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", email)
	b.WriteString("Subject: Reset your password\r\n")
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString("A password reset was requested for your account.\r\n\r\n")
	if d.cfg.ResetURL != "" {
		fmt.Fprintf(&b, "Reset link: %s?token=%s&email=%s\r\n\r\n", d.cfg.ResetURL, token, email)
	} else {
		fmt.Fprintf(&b, "Reset token: %s\r\n\r\n", token)
	}
	b.WriteString("The link expires in one hour. If you did not request this, ignore this message.\r\n")
	return []byte(b.String())
}
