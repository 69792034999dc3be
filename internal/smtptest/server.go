// Package smtptest provides a scriptable SMTP submission server for tests of
// the relay. It speaks enough ESMTP for EHLO, STARTTLS, AUTH PLAIN/LOGIN,
// MAIL, RCPT, DATA and QUIT, records what it receives, and can be told to
// refuse individual steps.
package smtptest

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/shineum/mail-gateway/internal/message"
)

// Reply is an SMTP status line returned by the server.
type Reply struct {
	Code    int
	Message string
}

// Config controls the behavior of a Server.
type Config struct {
	// Hostname is used in the greeting and EHLO responses.
	Hostname string

	// TLSConfig enables STARTTLS. If nil, STARTTLS is not advertised.
	TLSConfig *tls.Config

	// Username and Password enable AUTH. If both are empty, AUTH is not
	// advertised and MAIL is accepted without it.
	Username string
	Password string

	// RejectRecipients maps recipient addresses to the reply sent for RCPT.
	RejectRecipients map[string]Reply

	// EHLOReply, MailReply and DataReply override the positive reply for
	// those commands when set.
	EHLOReply *Reply
	MailReply *Reply
	DataReply *Reply

	// HangupOnAuth closes the connection instead of answering AUTH.
	HangupOnAuth bool
}

// Received is a message accepted by the server.
type Received struct {
	From    string
	To      []string
	Raw     []byte
	Message *message.Parsed
	TLS     bool
	User    string
}

// Server is a fake upstream SMTP server bound to a loopback port.
type Server struct {
	config   Config
	auth     *authenticator
	listener net.Listener

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	received []Received
	commands []string
	quits    int

	// wg tracks in-flight session goroutines.
	wg sync.WaitGroup
}

// New creates a Server. Call Start to begin accepting connections.
func New(cfg Config) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	return &Server{
		config: cfg,
		auth:   &authenticator{username: cfg.Username, password: cfg.Password},
		conns:  make(map[net.Conn]struct{}),
	}
}

// Start listens on a random loopback port and serves connections in the
// background until Close is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve()
	}()
	return nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Debug("smtptest accept error", "error", err)
			}
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess := newSession(s, conn)
			sess.handle()

			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

// Close stops the listener, drops open connections and waits for sessions.
func (s *Server) Close() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Host returns the host part of Addr.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the port part of Addr.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Messages returns the messages accepted so far.
func (s *Server) Messages() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}

// Commands returns the command verbs received so far, across sessions.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Quits returns how many sessions ended with QUIT.
func (s *Server) Quits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quits
}

func (s *Server) record(cmd string) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	if cmd == "QUIT" {
		s.quits++
	}
	s.mu.Unlock()
}

func (s *Server) deliver(r Received) {
	s.mu.Lock()
	s.received = append(s.received, r)
	s.mu.Unlock()
}
