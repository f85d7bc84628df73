// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

package auth

import (
	"context"
	"log/slog"
)

// Notifier delivers verification codes out-of-band. Delivery is asynchronous
// from the caller's perspective; the registration flow never waits for it.
type Notifier interface {
	SendVerificationCode(ctx context.Context, email, code string) error
}

// LogNotifier writes verification codes to the log. It is the development
// collaborator; production deployments plug in a real mail sender.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger falls back to slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// SendVerificationCode logs the code. Never fails.
func (n *LogNotifier) SendVerificationCode(ctx context.Context, email, code string) error {
	n.logger.InfoContext(ctx, "verification code issued",
		"email", email,
		"code", code,
	)
	return nil
}
