// Package message builds the MIME documents submitted upstream and parses
// them back for inspection.
package message

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is the input to Build.
type Message struct {
	From     string
	To       string
	Subject  string
	HTMLBody string

	// Date defaults to time.Now when zero.
	Date time.Time
	// MessageID defaults to a random id in the sender's domain when empty.
	MessageID string
}

var headerBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Build renders msg as a multipart/mixed document with a single
// quoted-printable text/html part.
func Build(msg Message) ([]byte, error) {
	if msg.Date.IsZero() {
		msg.Date = time.Now()
	}
	if msg.MessageID == "" {
		msg.MessageID = NewMessageID(msg.From)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", headerValue(msg.From))
	fmt.Fprintf(&buf, "To: %s\r\n", headerValue(msg.To))
	fmt.Fprintf(&buf, "Subject: %s\r\n", encodeSubject(msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", msg.Date.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", msg.MessageID)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	bodyHeader := make(textproto.MIMEHeader)
	bodyHeader.Set("Content-Type", `text/html; charset="utf-8"`)
	bodyHeader.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := writer.CreatePart(bodyHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create body part: %w", err)
	}

	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(msg.HTMLBody)); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), nil
}

// NewMessageID returns a random Message-ID in the domain of the given address.
func NewMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndexByte(from, '@'); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// headerValue folds line breaks so user input cannot start a new header.
func headerValue(s string) string {
	return strings.TrimSpace(headerBreaks.Replace(s))
}

// encodeSubject Q-encodes non-ASCII subjects as UTF-8 encoded-words, one per
// folded line. ASCII subjects are written as is.
func encodeSubject(s string) string {
	enc := mime.QEncoding.Encode("utf-8", headerValue(s))
	return strings.ReplaceAll(enc, "?= =?", "?=\r\n =?")
}
