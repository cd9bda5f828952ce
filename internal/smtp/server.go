// Package smtp is the protocol boundary of the mail sink: it accepts any
// inbound mail and hands the DATA stream to the intake pipeline. It never
// relays; captured mail does not leave the process.
package smtp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/mailsink/mailsink/internal/intake"
	"github.com/mailsink/mailsink/internal/mail"
)

// Config holds the SMTP listener settings.
type Config struct {
	Addr            string
	Domain          string
	MaxMessageBytes int64

	// Optional AUTH PLAIN. When Username is empty, authentication is not
	// offered and everything is accepted anonymously.
	Username string
	Password string
}

// Server wraps the go-smtp server around the intake pipeline.
type Server struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

// New builds the server. The default message size cap is 100 MB, matching
// the sink's role as a development mail catcher.
func New(cfg Config, pipeline *intake.Pipeline, logger *slog.Logger) *Server {
	backend := &backend{pipeline: pipeline, logger: logger, cfg: cfg}

	server := smtp.NewServer(backend)
	server.Addr = cfg.Addr
	server.Domain = cfg.Domain
	server.AllowInsecureAuth = true
	server.ReadTimeout = 5 * time.Minute
	server.WriteTimeout = 1 * time.Minute
	server.MaxRecipients = 100
	server.MaxMessageBytes = cfg.MaxMessageBytes
	if server.MaxMessageBytes == 0 {
		server.MaxMessageBytes = 100 << 20
	}
	if server.Domain == "" {
		server.Domain = "mailsink"
	}

	return &Server{smtp: server, logger: logger}
}

// ListenAndServe blocks serving SMTP sessions.
func (s *Server) ListenAndServe() error {
	s.logger.Info("smtp server listening", slog.String("addr", s.smtp.Addr))
	return s.smtp.ListenAndServe()
}

// Shutdown stops accepting connections and drains active sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.smtp.Shutdown(ctx)
}

type backend struct {
	pipeline *intake.Pipeline
	logger   *slog.Logger
	cfg      Config
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

// session accepts any sender and any recipient; the sink stores whatever
// arrives. Ingest failures are reported as SMTP rejections so that no
// mail is silently dropped.
type session struct {
	backend       *backend
	authenticated bool
}

func (s *session) AuthMechanisms() []string {
	if s.backend.cfg.Username == "" {
		return nil
	}
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if s.backend.cfg.Username == "" {
		return nil, errors.New("authentication not enabled")
	}
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != s.backend.cfg.Username || password != s.backend.cfg.Password {
			return errors.New("invalid credentials")
		}
		s.authenticated = true
		return nil
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.cfg.Username != "" && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	return nil
}

func (s *session) Data(r io.Reader) error {
	_, err := s.backend.pipeline.Ingest(context.Background(), r)
	if err != nil {
		s.backend.logger.Error("failed to accept mail", slog.String("error", err.Error()))
		return replyFor(err)
	}
	return nil
}

func (s *session) Reset() {}

func (s *session) Logout() error { return nil }

// replyFor maps pipeline failures onto SMTP replies: malformed mail is a
// permanent failure, storage trouble a transient one.
func replyFor(err error) error {
	switch {
	case errors.Is(err, mail.ErrParseFailed):
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "message rejected: malformed mail",
		}
	case errors.Is(err, mail.ErrStorageFailed):
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "message rejected: storage unavailable",
		}
	default:
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 0, 0},
			Message:      "message rejected",
		}
	}
}
