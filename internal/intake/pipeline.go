// Package intake orchestrates the mail-intake pipeline: raw SMTP DATA
// stream → parse → attachment upload → message insert → added
// notification.
package intake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mailsink/mailsink/internal/blob"
	"github.com/mailsink/mailsink/internal/bus"
	"github.com/mailsink/mailsink/internal/mail"
	"github.com/mailsink/mailsink/internal/metrics"
	"github.com/mailsink/mailsink/internal/parser"
	"github.com/mailsink/mailsink/internal/store"
)

// Pipeline turns accepted DATA streams into stored messages. Each ingest
// is independent; there are no retries. A failed ingest is reported back
// to the SMTP session layer, which turns it into a protocol rejection, so
// no mail is ever silently dropped.
type Pipeline struct {
	parser *parser.Parser
	mails  store.MailStore
	blobs  blob.Store
	bus    *bus.Bus
	logger *slog.Logger
}

// New wires a pipeline.
func New(p *parser.Parser, mails store.MailStore, blobs blob.Store, b *bus.Bus, logger *slog.Logger) *Pipeline {
	return &Pipeline{parser: p, mails: mails, blobs: blobs, bus: b, logger: logger}
}

// Ingest processes one raw message. Attachments are uploaded first and the
// message record referencing their final ids is inserted afterwards, so a
// partially uploaded message is never visible to readers. On failure,
// already-uploaded blobs are cleaned up best-effort and the error wraps
// mail.ErrParseFailed or mail.ErrStorageFailed.
func (p *Pipeline) Ingest(ctx context.Context, r io.Reader) (*mail.Message, error) {
	parsed, err := p.parser.Parse(r)
	if err != nil {
		metrics.ParseFailures.Inc()
		return nil, err
	}

	attachments, err := p.uploadAttachments(ctx, parsed.Attachments)
	if err != nil {
		return nil, err
	}

	msg := &mail.Message{
		From:        parsed.From,
		To:          parsed.To,
		Cc:          parsed.Cc,
		Subject:     parsed.Subject,
		Text:        parsed.Text,
		HTML:        parsed.HTML,
		Headers:     parsed.Headers,
		SentAt:      parsed.SentAt,
		Lang:        parsed.Lang,
		Attachments: attachments,
	}

	if _, err := p.mails.Insert(ctx, msg); err != nil {
		p.cleanupBlobs(ctx, attachments)
		return nil, fmt.Errorf("%w: insert message: %v", mail.ErrStorageFailed, err)
	}

	metrics.MessagesReceived.Inc()
	p.logger.Info("message ingested",
		slog.String("id", msg.ID.String()),
		slog.String("subject", msg.Subject),
		slog.Int("attachments", len(msg.Attachments)),
		slog.String("lang", msg.Lang),
	)

	p.bus.PublishAdded([]*mail.Message{msg})
	return msg, nil
}

// uploadAttachments uploads every part under a generated id. Parts without
// a filename get the positional placeholder attachment-{index}. The first
// upload failure aborts the whole ingest.
func (p *Pipeline) uploadAttachments(ctx context.Context, parts []parser.Part) ([]mail.Attachment, error) {
	var attachments []mail.Attachment
	for i, part := range parts {
		filename := part.Filename
		if filename == "" {
			filename = fmt.Sprintf("attachment-%d", i)
		}

		up, err := p.blobs.Upload(ctx, filename, part.ContentType, bytes.NewReader(part.Content))
		if err != nil {
			p.cleanupBlobs(ctx, attachments)
			return nil, fmt.Errorf("%w: upload attachment %q: %v", mail.ErrStorageFailed, filename, err)
		}

		metrics.AttachmentsStored.Inc()
		attachments = append(attachments, mail.Attachment{
			AttachmentID: up.ID,
			Filename:     up.Filename,
			ContentType:  up.ContentType,
			Size:         up.Size,
		})
	}
	return attachments, nil
}

// cleanupBlobs removes blobs uploaded for an ingest that failed, so no
// payload is left referencing a message that was never created.
func (p *Pipeline) cleanupBlobs(ctx context.Context, attachments []mail.Attachment) {
	for _, a := range attachments {
		if err := p.blobs.Delete(ctx, a.AttachmentID); err != nil {
			p.logger.Warn("cleanup of partial upload failed",
				slog.String("attachment_id", a.AttachmentID),
				slog.String("error", err.Error()),
			)
		}
	}
}
