package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/mailsink/mailsink/internal/blob"
	"github.com/mailsink/mailsink/internal/bus"
	"github.com/mailsink/mailsink/internal/intake"
	"github.com/mailsink/mailsink/internal/mail"
	"github.com/mailsink/mailsink/internal/parser"
	"github.com/mailsink/mailsink/internal/store"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestSession(cfg Config) (*session, *store.Memory) {
	mails := store.NewMemory()
	pipeline := intake.New(parser.New(), mails, blob.NewMemory(), bus.New(), testLogger)
	return &session{backend: &backend{pipeline: pipeline, logger: testLogger, cfg: cfg}}, mails
}

func TestSessionAcceptsAnySenderAndRecipient(t *testing.T) {
	s, _ := newTestSession(Config{})

	if err := s.Mail("anyone@anywhere.test", nil); err != nil {
		t.Errorf("Mail: %v", err)
	}
	for _, rcpt := range []string{"a@b.test", "x@y.test", "not-even-routable@nowhere"} {
		if err := s.Rcpt(rcpt, nil); err != nil {
			t.Errorf("Rcpt(%q): %v", rcpt, err)
		}
	}
}

func TestSessionDataStoresMessage(t *testing.T) {
	s, mails := newTestSession(Config{})

	raw := "From: a@example.com\r\nSubject: via smtp\r\n\r\nhello\r\n"
	if err := s.Data(strings.NewReader(raw)); err != nil {
		t.Fatalf("Data: %v", err)
	}

	n, err := mails.Count(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("stored %d messages, want 1", n)
	}
}

func TestSessionDataRejectsMalformed(t *testing.T) {
	s, mails := newTestSession(Config{})

	err := s.Data(strings.NewReader(""))
	var smtpErr *gosmtp.SMTPError
	if !errors.As(err, &smtpErr) {
		t.Fatalf("err = %v, want *smtp.SMTPError", err)
	}
	if smtpErr.Code != 550 {
		t.Errorf("code = %d, want 550", smtpErr.Code)
	}

	if n, _ := mails.Count(context.Background(), store.Filter{}); n != 0 {
		t.Errorf("stored %d messages after rejection", n)
	}
}

func TestSessionAuthRequired(t *testing.T) {
	s, _ := newTestSession(Config{Username: "dev", Password: "secret"})

	if err := s.Mail("a@example.com", nil); err == nil {
		t.Error("Mail accepted without authentication")
	}

	mechs := s.AuthMechanisms()
	if len(mechs) != 1 || mechs[0] != "PLAIN" {
		t.Fatalf("AuthMechanisms = %v", mechs)
	}

	srv, err := s.Auth("PLAIN")
	if err != nil {
		t.Fatalf("Auth: %v", err)
	}
	if _, _, err := srv.Next([]byte("\x00dev\x00wrong")); err == nil {
		t.Error("wrong password accepted")
	}

	srv, _ = s.Auth("PLAIN")
	if _, _, err := srv.Next([]byte("\x00dev\x00secret")); err != nil {
		t.Fatalf("valid credentials rejected: %v", err)
	}
	if err := s.Mail("a@example.com", nil); err != nil {
		t.Errorf("Mail after auth: %v", err)
	}
}

func TestSessionAnonymousOffersNoAuth(t *testing.T) {
	s, _ := newTestSession(Config{})
	if mechs := s.AuthMechanisms(); len(mechs) != 0 {
		t.Errorf("AuthMechanisms = %v, want none", mechs)
	}
}

func TestReplyFor(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"parse failure is permanent", fmt.Errorf("%w: bad mime", mail.ErrParseFailed), 550},
		{"storage failure is transient", fmt.Errorf("%w: bucket gone", mail.ErrStorageFailed), 451},
		{"unknown failure is transient", errors.New("boom"), 451},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var smtpErr *gosmtp.SMTPError
			if !errors.As(replyFor(tc.err), &smtpErr) {
				t.Fatal("replyFor did not return an *smtp.SMTPError")
			}
			if smtpErr.Code != tc.wantCode {
				t.Errorf("code = %d, want %d", smtpErr.Code, tc.wantCode)
			}
		})
	}
}
