package stdout

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/shineum/mail-gateway/internal/email"
)

func TestSend_BasicEmail(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter("sender@example.com", &buf)

	res := p.Send(context.Background(), email.Request{
		Recipient: "alice@example.com",
		Subject:   "Monthly Report",
		Body:      "<p>Please find the report below.</p>",
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Message != email.MsgSent {
		t.Errorf("Message: got %q, want %q", res.Message, email.MsgSent)
	}

	output := buf.String()
	if !strings.Contains(output, "From: sender@example.com") {
		t.Error("output missing From header")
	}
	if !strings.Contains(output, "To: alice@example.com") {
		t.Error("output missing To header")
	}
	if !strings.Contains(output, "Subject: Monthly Report") {
		t.Error("output missing Subject header")
	}
	if !strings.Contains(output, "<p>Please find the report below.</p>") {
		t.Error("output missing body")
	}
	if !strings.HasPrefix(output, "========================================\n") {
		t.Error("output should start with separator line")
	}
	if !strings.HasSuffix(output, "========================================\n") {
		t.Error("output should end with separator line")
	}
}

func TestSend_NoSender(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter("", &buf)

	p.Send(context.Background(), email.Request{Recipient: "a@example.com", Subject: "s", Body: "b"})
	if strings.Contains(buf.String(), "From:") {
		t.Error("output should not contain From line when no sender is configured")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, bytes.ErrTooLarge }

func TestSend_WriteErrorStillSucceeds(t *testing.T) {
	t.Parallel()

	p := NewWithWriter("sender@example.com", failingWriter{})
	res := p.Send(context.Background(), email.Request{Recipient: "a@example.com", Subject: "s", Body: "b"})
	if !res.Success {
		t.Errorf("expected success, got %+v", res)
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	p := New("")
	if p.Name() != "stdout" {
		t.Errorf("Name: got %q, want %q", p.Name(), "stdout")
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		chars int
		want  string
	}{
		{name: "zero", chars: 0, want: "0 chars"},
		{name: "small", chars: 512, want: "512 chars"},
		{name: "thousands", chars: 50000, want: "50.0k chars"},
		{name: "fraction", chars: 1260, want: "1.3k chars"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := formatSize(tt.chars); got != tt.want {
				t.Errorf("formatSize(%d): got %q, want %q", tt.chars, got, tt.want)
			}
		})
	}
}
