package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"sync/atomic"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
)

// ErrSecureChannel marks a StartTLS failure that happened after the server
// greeted us: STARTTLS was not offered, or the server refused it.
var ErrSecureChannel = errors.New("secure channel not established")

// Session is the subset of an SMTP client session used by the relay.
type Session interface {
	// StartTLS reads the greeting, sends EHLO and upgrades the connection.
	// It must be the first call on the session when used. Failures after
	// the greeting wrap ErrSecureChannel.
	StartTLS(config *tls.Config) error
	Hello(localName string) error
	Auth(a sasl.Client) error
	Mail(from string, opts *gosmtp.MailOptions) error
	Rcpt(to string, opts *gosmtp.RcptOptions) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// DialFunc opens a session to addr. Implementations must honor ctx.
type DialFunc func(ctx context.Context, addr string) (Session, error)

// netDialer returns the default DialFunc: a TCP connection bounded by
// connectTimeout with a deadline of sessionTimeout. No SMTP traffic is
// exchanged until the first Session call.
func netDialer(connectTimeout, sessionTimeout time.Duration) DialFunc {
	return func(ctx context.Context, addr string) (Session, error) {
		d := net.Dialer{Timeout: connectTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}

		if sessionTimeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(sessionTimeout))
		}
		return &clientSession{conn: &heldConn{Conn: conn}, timeout: sessionTimeout}, nil
	}
}

// clientSession adapts a go-smtp client to Session. The client is created
// on first use, either plainly or through NewClientStartTLS.
type clientSession struct {
	conn    *heldConn
	client  *gosmtp.Client
	timeout time.Duration
}

func (c *clientSession) smtp() *gosmtp.Client {
	if c.client == nil {
		c.setClient(gosmtp.NewClient(c.conn))
	}
	return c.client
}

func (c *clientSession) setClient(client *gosmtp.Client) {
	if c.timeout > 0 {
		client.CommandTimeout = c.timeout
		client.SubmissionTimeout = c.timeout
	}
	c.client = client
}

func (c *clientSession) StartTLS(config *tls.Config) error {
	if c.client != nil {
		return errors.New("smtp: StartTLS called after other methods")
	}

	// NewClientStartTLS closes the connection when it fails; keep it open so
	// the session can still be ended with QUIT.
	c.conn.held.Store(true)
	client, err := gosmtp.NewClientStartTLS(c.conn, config)
	c.conn.held.Store(false)
	if err != nil {
		if c.conn.startTLSSent.Load() || strings.Contains(err.Error(), "STARTTLS") {
			return fmt.Errorf("%w: %w", ErrSecureChannel, err)
		}
		return err
	}
	c.setClient(client)
	return nil
}

func (c *clientSession) Hello(localName string) error {
	return c.smtp().Hello(localName)
}

func (c *clientSession) Auth(a sasl.Client) error {
	return c.smtp().Auth(a)
}

func (c *clientSession) Mail(from string, opts *gosmtp.MailOptions) error {
	return c.smtp().Mail(from, opts)
}

func (c *clientSession) Rcpt(to string, opts *gosmtp.RcptOptions) error {
	return c.smtp().Rcpt(to, opts)
}

func (c *clientSession) Data() (io.WriteCloser, error) {
	return c.smtp().Data()
}

// Quit ends the session. Without a client the StartTLS exchange failed on the
// plaintext connection, so QUIT is written directly.
func (c *clientSession) Quit() error {
	if c.client != nil {
		return c.client.Quit()
	}
	return plainQuit(c.conn.Conn)
}

// Close closes the connection underneath the client. It may be called from
// another goroutine to abort a blocked command.
func (c *clientSession) Close() error {
	return c.conn.Conn.Close()
}

// plainQuit sends QUIT on conn, waits for the 221 reply and closes conn.
func plainQuit(conn net.Conn) error {
	text := textproto.NewConn(conn)
	defer text.Close()

	id, err := text.Cmd("QUIT")
	if err != nil {
		return err
	}
	text.StartResponse(id)
	defer text.EndResponse(id)
	_, _, err = text.ReadResponse(221)
	return err
}

var startTLSCommand = []byte("STARTTLS")

// heldConn ignores Close while held and notes whether STARTTLS was written.
type heldConn struct {
	net.Conn
	held         atomic.Bool
	startTLSSent atomic.Bool
}

func (h *heldConn) Write(p []byte) (int, error) {
	if len(p) >= len(startTLSCommand) && bytes.EqualFold(p[:len(startTLSCommand)], startTLSCommand) {
		h.startTLSSent.Store(true)
	}
	return h.Conn.Write(p)
}

func (h *heldConn) Close() error {
	if h.held.Load() {
		return nil
	}
	return h.Conn.Close()
}
