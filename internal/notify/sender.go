// Package notify delivers best-effort transactional email.
package notify

import (
	"context"
	"log/slog"
)

// Sender delivers one HTML email and reports success. Implementations never
// panic and never return errors; a false result means "not delivered".
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) bool
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to, subject, htmlBody string) bool

func (f SenderFunc) Send(ctx context.Context, to, subject, htmlBody string) bool {
	return f(ctx, to, subject, htmlBody)
}

// LogSender only logs. Used when SMTP is not configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, to, subject, _ string) bool {
	slog.Info("email not sent: smtp disabled", "to", to, "subject", subject)
	return true
}
