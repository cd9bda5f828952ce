package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mailsink/mailsink/internal/mail"
	"github.com/mailsink/mailsink/internal/metrics"
	"github.com/mailsink/mailsink/internal/store"
)

// deleteBatchSize bounds the number of ids carried by a single deleted
// event. Batching keeps notification payloads small while a flush on
// stream exhaustion keeps latency low for small deletes.
const deleteBatchSize = 10

// DeleteMessages removes every message matching the filter together with
// its attachment blobs, streaming the match set rather than materializing
// it. Deleted events are published in batches of at most deleteBatchSize
// ids. Rows that vanish while the stream is consumed are skipped. The
// returned slice holds the cursors of all deleted messages, also when an
// error cut the run short.
func (e *Engine) DeleteMessages(ctx context.Context, p FilterParams) ([]string, error) {
	it, err := e.mails.Find(ctx, store.Query{
		Filter: storeFilter(p),
		Sort:   store.Sort{Field: store.SortID, Direction: store.Asc},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: find messages: %v", mail.ErrStorageFailed, err)
	}
	defer it.Close()

	var all, batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		e.bus.PublishDeleted(batch)
		metrics.MessagesDeleted.Add(float64(len(batch)))
		all = append(all, batch...)
		batch = nil
	}

	for it.Next(ctx) {
		msg := it.Message()
		deleted, err := e.deleteMessage(ctx, msg)
		if err != nil {
			flush()
			return all, err
		}
		if !deleted {
			continue
		}
		batch = append(batch, msg.Cursor())
		if len(batch) == deleteBatchSize {
			flush()
		}
	}
	if err := it.Err(); err != nil {
		flush()
		return all, fmt.Errorf("%w: iterate messages: %v", mail.ErrStorageFailed, err)
	}
	flush()

	e.logger.Info("messages deleted", slog.Int("count", len(all)))
	return all, nil
}

// DeleteMessage removes the message referenced by the cursor and its
// attachment blobs. An absent message is a no-op returning "".
func (e *Engine) DeleteMessage(ctx context.Context, cursor string) (string, error) {
	id, err := mail.ParseMessageCursor(cursor)
	if err != nil {
		return "", err
	}

	msg, err := e.mails.FindByID(ctx, id)
	if errors.Is(err, mail.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", mail.ErrStorageFailed, err)
	}

	deleted, err := e.deleteMessage(ctx, msg)
	if err != nil {
		return "", err
	}
	if !deleted {
		return "", nil
	}

	e.bus.PublishDeleted([]string{cursor})
	metrics.MessagesDeleted.Inc()
	return cursor, nil
}

// deleteMessage removes one record and its blobs. Returns false when the
// record was already gone, leaving its blobs to whichever deleter got
// there first.
func (e *Engine) deleteMessage(ctx context.Context, msg *mail.Message) (bool, error) {
	err := e.mails.DeleteByID(ctx, msg.ID)
	if errors.Is(err, mail.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: delete message: %v", mail.ErrStorageFailed, err)
	}

	for _, a := range msg.Attachments {
		if err := e.blobs.Delete(ctx, a.AttachmentID); err != nil {
			return false, fmt.Errorf("%w: delete attachment %s: %v", mail.ErrStorageFailed, a.AttachmentID, err)
		}
	}
	return true, nil
}
