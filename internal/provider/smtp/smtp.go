// Package smtp implements the Provider that relays each request through one
// authenticated SMTP submission session.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/mail-gateway/internal/email"
	"github.com/shineum/mail-gateway/internal/message"
)

const (
	defaultPort           = 587
	defaultHeloName       = "localhost"
	defaultConnectTimeout = 10 * time.Second
	defaultSessionTimeout = 60 * time.Second
)

// Config holds the upstream server settings.
type Config struct {
	Server   string
	Port     int
	Sender   string
	Secret   string
	UseTLS   bool
	HeloName string

	// ConnectTimeout bounds the TCP dial.
	ConnectTimeout time.Duration
	// SessionTimeout bounds the whole session, from dial to QUIT.
	SessionTimeout time.Duration
}

// Addr returns server:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
}

// Provider relays requests to the configured upstream server. It holds no
// per-request state and is safe for concurrent use.
type Provider struct {
	cfg       Config
	tlsConfig *tls.Config
	dial      DialFunc
	logger    *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithTLSConfig sets the configuration used for STARTTLS. ServerName
// defaults to the configured server.
func WithTLSConfig(c *tls.Config) Option {
	return func(p *Provider) { p.tlsConfig = c }
}

// WithDialer replaces the TCP dialer.
func WithDialer(d DialFunc) Option {
	return func(p *Provider) { p.dial = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New creates a Provider. Zero values in cfg take the package defaults.
func New(cfg Config, opts ...Option) *Provider {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.HeloName == "" {
		cfg.HeloName = defaultHeloName
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = defaultSessionTimeout
	}

	p := &Provider{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}

	if p.dial == nil {
		p.dial = netDialer(cfg.ConnectTimeout, cfg.SessionTimeout)
	}
	if p.tlsConfig == nil {
		p.tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if p.tlsConfig.ServerName == "" {
		p.tlsConfig = p.tlsConfig.Clone()
		p.tlsConfig.ServerName = cfg.Server
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// step is one stage of a session. A nil result means continue.
type step func(a *attempt) *email.Result

// steps run in this order; the first non-nil result ends the session.
var steps = []struct {
	name string
	run  step
}{
	{"starttls", (*attempt).startTLS},
	{"ehlo", (*attempt).hello},
	{"auth", (*attempt).authenticate},
	{"mail", (*attempt).mail},
	{"rcpt", (*attempt).rcpt},
	{"data", (*attempt).data},
}

// attempt carries the state of one session.
type attempt struct {
	p    *Provider
	req  email.Request
	sess Session

	rejected map[string]email.Rejection
}

// Send performs exactly one SMTP session for req. Every failure, including a
// panic inside the session, is returned as a Result.
func (p *Provider) Send(ctx context.Context, req email.Request) (res email.Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("unexpected fault during SMTP session", "panic", fmt.Sprint(r))
			res = email.Failed(email.KindUnexpected, email.MsgUnexpected, fmt.Sprint(r))
		}
	}()

	if missing := p.missingSettings(); missing != "" {
		p.logger.Error("SMTP relay not configured", "missing", missing)
		return email.Failed(email.KindMissingConfiguration, email.MsgMissingConfiguration,
			missing+" não está configurado")
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.SessionTimeout)
	defer cancel()

	addr := p.cfg.Addr()
	p.logger.Debug("opening SMTP session", "server", addr, "tls", p.cfg.UseTLS)

	start := time.Now()
	sess, err := p.dial(ctx, addr)
	if err != nil {
		p.logger.Warn("SMTP connection failed", "server", addr, "error", err)
		return email.Failed(email.KindConnection, email.MsgConnection, p.redact(err.Error()))
	}

	// Closing the session unblocks any pending read once the deadline passes.
	stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
	defer p.teardown(sess, stop)

	a := &attempt{p: p, req: req, sess: sess, rejected: make(map[string]email.Rejection)}
	for _, s := range steps {
		if r := s.run(a); r != nil {
			r.Detail = p.redactDetail(r.Detail)
			p.logger.Warn("SMTP session failed",
				"step", s.name,
				"kind", string(r.Kind),
				"server", addr,
				"detail", r.Detail,
			)
			return *r
		}
	}

	p.logger.Info("email sent",
		"provider", p.Name(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return email.Sent()
}

func (p *Provider) missingSettings() string {
	switch {
	case p.cfg.Sender == "":
		return "EMAIL_HOST_USER"
	case p.cfg.Secret == "":
		return "EMAIL_HOST_PASSWORD"
	case p.cfg.Server == "":
		return "SMTP_SERVER"
	}
	return ""
}

// teardown sends QUIT, falling back to closing the connection. If the
// session deadline already fired, the connection is closed and QUIT is
// skipped.
func (p *Provider) teardown(sess Session, stop func() bool) {
	if !stop() {
		p.logger.Debug("SMTP session deadline reached, connection already closed")
		return
	}
	if err := sess.Quit(); err != nil {
		p.logger.Debug("QUIT failed, closing connection", "error", err)
		_ = sess.Close()
	}
}

// startTLS upgrades the connection before the session's EHLO. Failures
// before STARTTLS is attempted belong to the greeting.
func (a *attempt) startTLS() *email.Result {
	if !a.p.cfg.UseTLS {
		return nil
	}
	err := a.sess.StartTLS(a.p.tlsConfig)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSecureChannel):
		return failure(email.KindProtocol, email.MsgSecureChannel, err)
	default:
		return failure(email.KindConnection, email.MsgConnection, err)
	}
}

// hello sends EHLO, which follows STARTTLS when TLS is on. The TLS handshake
// itself runs on the first write after the upgrade, so it fails here.
func (a *attempt) hello() *email.Result {
	err := a.sess.Hello(a.p.cfg.HeloName)
	switch {
	case err == nil:
		return nil
	case !a.p.cfg.UseTLS:
		return failure(email.KindConnection, email.MsgConnection, err)
	case isDisconnect(err):
		return failure(email.KindConnection, email.MsgDisconnected, err)
	default:
		return failure(email.KindProtocol, email.MsgSecureChannel, err)
	}
}

func (a *attempt) authenticate() *email.Result {
	err := a.sess.Auth(sasl.NewPlainClient("", a.p.cfg.Sender, a.p.cfg.Secret))
	switch {
	case err == nil:
		return nil
	case isSMTPError(err):
		return failure(email.KindAuthentication, email.MsgAuthentication, err)
	case isDisconnect(err):
		return failure(email.KindConnection, email.MsgDisconnected, err)
	default:
		return failure(email.KindProtocol, email.MsgProtocol, err)
	}
}

func (a *attempt) mail() *email.Result {
	if err := a.sess.Mail(a.p.cfg.Sender, nil); err != nil {
		return transferFailure(err)
	}
	return nil
}

func (a *attempt) rcpt() *email.Result {
	err := a.sess.Rcpt(a.req.Recipient, nil)
	var smtpErr *gosmtp.SMTPError
	switch {
	case err == nil:
	case errors.As(err, &smtpErr):
		a.rejected[a.req.Recipient] = email.Rejection{Code: smtpErr.Code, Message: smtpErr.Message}
	default:
		return transferFailure(err)
	}

	if len(a.rejected) > 0 {
		r := email.PartiallyDelivered(a.rejected)
		return &r
	}
	return nil
}

func (a *attempt) data() *email.Result {
	raw, err := message.Build(message.Message{
		From:     a.p.cfg.Sender,
		To:       a.req.Recipient,
		Subject:  a.req.Subject,
		HTMLBody: a.req.Body,
	})
	if err != nil {
		return failure(email.KindUnexpected, email.MsgUnexpected, err)
	}

	w, err := a.sess.Data()
	if err != nil {
		return transferFailure(err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return transferFailure(err)
	}
	if err := w.Close(); err != nil {
		return transferFailure(err)
	}
	return nil
}

// transferFailure classifies errors from MAIL, RCPT and DATA.
func transferFailure(err error) *email.Result {
	if isDisconnect(err) {
		return failure(email.KindConnection, email.MsgDisconnected, err)
	}
	return failure(email.KindProtocol, email.MsgProtocol, err)
}

func failure(kind email.Kind, msg string, err error) *email.Result {
	r := email.Failed(kind, msg, err.Error())
	return &r
}

func isSMTPError(err error) bool {
	var smtpErr *gosmtp.SMTPError
	return errors.As(err, &smtpErr)
}

// isDisconnect reports whether err means the connection was lost.
func isDisconnect(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// redact removes the configured secret from diagnostic text.
func (p *Provider) redact(s string) string {
	if p.cfg.Secret == "" {
		return s
	}
	return strings.ReplaceAll(s, p.cfg.Secret, "********")
}

func (p *Provider) redactDetail(d any) any {
	if s, ok := d.(string); ok {
		return p.redact(s)
	}
	return d
}
