// Package stdout implements a Provider that prints emails to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/shineum/mail-gateway/internal/email"
)

// Provider prints messages in a human-readable format. It is meant for local
// development where no upstream server is available.
type Provider struct {
	sender string
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a stdout Provider that writes to os.Stdout.
func New(sender string) *Provider {
	return &Provider{sender: sender, writer: os.Stdout}
}

// NewWithWriter creates a stdout Provider that writes to the given writer.
func NewWithWriter(sender string, w io.Writer) *Provider {
	return &Provider{sender: sender, writer: w}
}

// Send prints the message. It always succeeds.
func (p *Provider) Send(_ context.Context, req email.Request) email.Result {
	var b strings.Builder

	b.WriteString("========================================\n")
	if p.sender != "" {
		fmt.Fprintf(&b, "From: %s\n", p.sender)
	}
	fmt.Fprintf(&b, "To: %s\n", req.Recipient)
	fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	fmt.Fprintf(&b, "Body (%s):\n", formatSize(utf8.RuneCountInString(req.Body)))
	b.WriteString(req.Body + "\n")
	b.WriteString("========================================\n")

	// A failed write still counts as delivered for this sink.
	_, _ = fmt.Fprint(p.writer, b.String())

	return email.Sent()
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a character count into a short human-readable string.
func formatSize(chars int) string {
	const k = 1000

	if chars >= k {
		return fmt.Sprintf("%.1fk chars", float64(chars)/k)
	}
	return fmt.Sprintf("%d chars", chars)
}
