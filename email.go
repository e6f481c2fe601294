package authcore

import (
	"context"
	"log/slog"
)

// CodeSender delivers one-time codes. The engine treats delivery as fire-and-forget:
// an error is logged and never fails the triggering request.
type CodeSender interface {
	SendCode(ctx context.Context, email, code string, purpose CodePurpose) error
}

// CodeSenderFunc adapts a function to CodeSender
type CodeSenderFunc func(ctx context.Context, email, code string, purpose CodePurpose) error

func (f CodeSenderFunc) SendCode(ctx context.Context, email, code string, purpose CodePurpose) error {
	return f(ctx, email, code, purpose)
}

// Subject is the email subject line for a code of this purpose
func (p CodePurpose) Subject() string {
	if p == PurposeReset {
		return "Reset your password"
	}
	return "Verify your email address"
}

// ConsoleCodeSender is a development sender that writes codes to the log
type ConsoleCodeSender struct {
	Logger *slog.Logger
}

func (c *ConsoleCodeSender) SendCode(ctx context.Context, email, code string, purpose CodePurpose) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "=== EMAIL ===",
		slog.String("to", email),
		slog.String("subject", purpose.Subject()),
		slog.String("purpose", string(purpose)),
		slog.String("code", code),
	)
	return nil
}
