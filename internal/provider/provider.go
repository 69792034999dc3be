// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/mail-gateway/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider performs exactly one delivery attempt per call against its
// target (an SMTP submission server, AWS SES, stdout).
type Provider interface {
	// Send delivers a validated request. It never returns an error or panics:
	// every fault is reported through the returned Result.
	Send(ctx context.Context, req email.Request) email.Result

	// Name returns the human-readable name of this provider.
	Name() string
}
