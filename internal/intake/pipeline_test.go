package intake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/mailsink/mailsink/internal/blob"
	"github.com/mailsink/mailsink/internal/bus"
	"github.com/mailsink/mailsink/internal/mail"
	"github.com/mailsink/mailsink/internal/parser"
	"github.com/mailsink/mailsink/internal/store"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestPipeline(blobs blob.Store) (*Pipeline, *store.Memory, *bus.Bus) {
	mails := store.NewMemory()
	b := bus.New()
	return New(parser.New(), mails, blobs, b, testLogger), mails, b
}

const rawWithAttachment = "From: Alice <alice@example.com>\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: invoice\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"see attached\r\n" +
	"--b1\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"invoice.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQ=\r\n" +
	"--b1--\r\n"

func TestIngest(t *testing.T) {
	blobs := blob.NewMemory()
	p, mails, b := newTestPipeline(blobs)

	added, cancel := b.SubscribeAdded()
	defer cancel()

	msg, err := p.Ingest(context.Background(), strings.NewReader(rawWithAttachment))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if msg.Subject != "invoice" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("len(Attachments) = %d, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Filename != "invoice.pdf" || att.ContentType != "application/pdf" {
		t.Errorf("attachment = %+v", att)
	}
	if !blobs.Has(att.AttachmentID) {
		t.Error("attachment payload not in blob store")
	}

	stored, err := mails.FindByID(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Subject != "invoice" {
		t.Errorf("stored Subject = %q", stored.Subject)
	}

	select {
	case batch := <-added:
		if len(batch) != 1 || batch[0].ID != msg.ID {
			t.Errorf("added event = %+v", batch)
		}
	default:
		t.Error("no added event published")
	}
}

func TestIngestMissingFilenameGetsPlaceholder(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Subject: unnamed\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
		"\r\n" +
		"--b1\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n" +
		"--b1\r\n" +
		"Content-Type: application/octet-stream\r\n" +
		"Content-Disposition: attachment\r\n" +
		"\r\n" +
		"payload\r\n" +
		"--b1--\r\n"

	p, _, _ := newTestPipeline(blob.NewMemory())
	msg, err := p.Ingest(context.Background(), strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("len(Attachments) = %d, want 1", len(msg.Attachments))
	}
	if msg.Attachments[0].Filename != "attachment-0" {
		t.Errorf("Filename = %q, want attachment-0", msg.Attachments[0].Filename)
	}
}

func TestIngestParseFailure(t *testing.T) {
	blobs := blob.NewMemory()
	p, mails, _ := newTestPipeline(blobs)

	_, err := p.Ingest(context.Background(), strings.NewReader(""))
	if !errors.Is(err, mail.ErrParseFailed) {
		t.Fatalf("err = %v, want ErrParseFailed", err)
	}

	if n, _ := mails.Count(context.Background(), store.Filter{}); n != 0 {
		t.Errorf("store holds %d messages after failed parse", n)
	}
	if blobs.Len() != 0 {
		t.Errorf("blob store holds %d payloads after failed parse", blobs.Len())
	}
}

// failingBlobs fails the upload after a number of successes, delegating
// everything else to a real in-memory store.
type failingBlobs struct {
	*blob.Memory
	successes int
}

func (f *failingBlobs) Upload(ctx context.Context, filename, contentType string, r io.Reader) (*blob.Upload, error) {
	if f.successes == 0 {
		return nil, errors.New("bucket unavailable")
	}
	f.successes--
	return f.Memory.Upload(ctx, filename, contentType, r)
}

func TestIngestUploadFailureCleansUp(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Subject: two attachments\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
		"\r\n" +
		"--b1\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n" +
		"--b1\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Disposition: attachment; filename=\"a.txt\"\r\n" +
		"\r\n" +
		"first\r\n" +
		"--b1\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Disposition: attachment; filename=\"b.txt\"\r\n" +
		"\r\n" +
		"second\r\n" +
		"--b1--\r\n"

	blobs := &failingBlobs{Memory: blob.NewMemory(), successes: 1}
	p, mails, _ := newTestPipeline(blobs)

	_, err := p.Ingest(context.Background(), strings.NewReader(raw))
	if !errors.Is(err, mail.ErrStorageFailed) {
		t.Fatalf("err = %v, want ErrStorageFailed", err)
	}

	if n, _ := mails.Count(context.Background(), store.Filter{}); n != 0 {
		t.Errorf("store holds %d messages after failed upload", n)
	}
	if blobs.Memory.Len() != 0 {
		t.Errorf("first upload not cleaned up, %d payloads remain", blobs.Memory.Len())
	}
}

// failingInsert wraps the memory store with an insert that always fails.
type failingInsert struct {
	*store.Memory
}

func (f *failingInsert) Insert(context.Context, *mail.Message) (uuid.UUID, error) {
	return uuid.Nil, errors.New("database gone")
}

func TestIngestInsertFailureCleansUpBlobs(t *testing.T) {
	blobs := blob.NewMemory()
	mails := &failingInsert{Memory: store.NewMemory()}
	b := bus.New()
	p := New(parser.New(), mails, blobs, b, testLogger)

	_, err := p.Ingest(context.Background(), strings.NewReader(rawWithAttachment))
	if !errors.Is(err, mail.ErrStorageFailed) {
		t.Fatalf("err = %v, want ErrStorageFailed", err)
	}
	if blobs.Len() != 0 {
		t.Errorf("blob store holds %d payloads after failed insert", blobs.Len())
	}
}
