// Package blob provides streaming storage for attachment payloads,
// addressed by generated identifiers.
package blob

import (
	"context"
	"io"
)

// DefaultContentType is assigned to uploads without a declared type.
const DefaultContentType = "application/octet-stream"

// Upload is the stored identity of a payload after an upload completes.
type Upload struct {
	ID          string
	Filename    string
	ContentType string
	Size        int64
}

// Object is an open download: the payload stream plus the metadata the
// transport layer needs to set response headers.
type Object struct {
	io.ReadCloser
	Filename    string
	ContentType string
	Size        int64
}

// Store is the blob store consumed by the intake pipeline, the delete
// workflow and the attachment download handler.
type Store interface {
	// Upload stores the stream under a generated id.
	Upload(ctx context.Context, filename, contentType string, r io.Reader) (*Upload, error)

	// Open returns the payload stream and metadata, or mail.ErrNotFound.
	Open(ctx context.Context, id string) (*Object, error)

	// Delete removes the payload. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error
}
