// Package store defines the mail store contract consumed by the intake
// pipeline and the query engine, plus its Postgres and in-memory
// implementations.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/mailsink/mailsink/internal/mail"
)

// Filter selects messages by substring match on the to/subject/text fields
// and by equality on lang. Substring matching is case-sensitive; empty
// fields match everything. The to predicate matches the display text of
// any recipient group.
type Filter struct {
	To      string
	Subject string
	Text    string
	Lang    string
}

// SortField names a sortable message field.
type SortField string

const (
	SortID      SortField = "id"
	SortFrom    SortField = "from"
	SortSubject SortField = "subject"
	SortDate    SortField = "date"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Sort describes the requested ordering. The store always tie-breaks on id
// in the same direction, so the produced order is a strict total order even
// with duplicate sort-field values. Messages without a sent date order
// before all dated messages when ascending.
type Sort struct {
	Field     SortField
	Direction Direction
}

// Op is the comparison applied by a keyset window.
type Op string

const (
	OpGreater Op = ">"
	OpLess    Op = "<"
)

// Keyset restricts a scan to rows strictly beyond a pivot row in the
// effective order: (field op value) OR (field == value AND id op pivot-id).
// For SortID only the id comparison applies and Value is ignored.
// Value is a string for from/subject and a *time.Time (possibly nil, for
// undated pivots) for date.
type Keyset struct {
	Op    Op
	ID    uuid.UUID
	Value any
}

// Query is one filtered, ordered, optionally windowed scan.
// Limit <= 0 means no limit; Skip <= 0 means no offset.
type Query struct {
	Filter Filter
	Sort   Sort
	Keyset *Keyset
	Skip   int
	Limit  int
}

// Iterator streams the result of a Find call. The usual loop is
//
//	for it.Next(ctx) { m := it.Message() ... }
//	if err := it.Err(); err != nil { ... }
//
// Iterators read a point-in-time view; rows deleted while iterating simply
// no longer resolve and callers skip them.
type Iterator interface {
	Next(ctx context.Context) bool
	Message() *mail.Message
	Err() error
	Close() error
}

// MailStore is the record store for messages. Implementations assign ids
// at insert time and guarantee atomic single-record insert and delete;
// the core performs no in-process locking on top of it.
type MailStore interface {
	// Insert stores the message, assigns and returns its id, and sets
	// msg.ID as a side effect.
	Insert(ctx context.Context, msg *mail.Message) (uuid.UUID, error)

	// FindByID returns the message or mail.ErrNotFound.
	FindByID(ctx context.Context, id uuid.UUID) (*mail.Message, error)

	// Find executes a filtered, ordered scan.
	Find(ctx context.Context, q Query) (Iterator, error)

	// Count returns the number of messages matching the filter.
	Count(ctx context.Context, f Filter) (int, error)

	// DeleteByID removes the message record, or returns mail.ErrNotFound
	// when it is already gone.
	DeleteByID(ctx context.Context, id uuid.UUID) error
}

// SortValue extracts the sort key of a message for the given field.
// It returns a string for from/subject and a *time.Time for date.
// For SortID it returns nil; the id itself is the key.
func SortValue(m *mail.Message, field SortField) any {
	switch field {
	case SortFrom:
		return m.FromText()
	case SortSubject:
		return m.Subject
	case SortDate:
		return m.SentAt
	default:
		return nil
	}
}
