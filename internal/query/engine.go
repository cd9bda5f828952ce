// Package query implements the cursor-based query/pagination engine and
// the bulk delete workflow over the mail and blob stores.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mailsink/mailsink/internal/blob"
	"github.com/mailsink/mailsink/internal/bus"
	"github.com/mailsink/mailsink/internal/mail"
	"github.com/mailsink/mailsink/internal/store"
)

// FilterParams are the free-text search fields. to/subject/text are
// case-sensitive substring matches; lang is an equality match unless it is
// empty or the sentinel "all".
type FilterParams struct {
	To      string
	Subject string
	Text    string
	Lang    string
}

// Order is the requested sort. The zero value means ascending by id.
type Order struct {
	Field     store.SortField
	Direction store.Direction
}

// Request is one paginated query. Exactly one of First/Last must be set;
// at most one of After/Before, and only in the combinations
// first+after / last+before.
type Request struct {
	FilterParams
	Order  *Order
	First  *int
	Last   *int
	After  *string
	Before *string
}

// Edge pairs a message with its cursor.
type Edge struct {
	Cursor string
	Node   *mail.Message
}

// PageInfo carries the pagination metadata of a connection. HasNextPage is
// only computed when paging with first, HasPreviousPage only when paging
// with last; the unused direction is always false. That asymmetry is part
// of the contract.
type PageInfo struct {
	HasNextPage     bool
	HasPreviousPage bool
	StartCursor     string
	EndCursor       string
}

// Connection is a relay-style page: the ordered edges, page metadata and
// the filter-only total count.
type Connection struct {
	Edges      []Edge
	PageInfo   PageInfo
	TotalCount int
}

// Engine serves queries and deletions against a shared mail store and
// blob store, publishing change notifications through the bus.
type Engine struct {
	mails  store.MailStore
	blobs  blob.Store
	bus    *bus.Bus
	logger *slog.Logger
}

// New wires an engine.
func New(mails store.MailStore, blobs blob.Store, b *bus.Bus, logger *slog.Logger) *Engine {
	return &Engine{mails: mails, blobs: blobs, bus: b, logger: logger}
}

// Message resolves a single message by cursor. An absent message is not an
// error: the result is (nil, nil).
func (e *Engine) Message(ctx context.Context, cursor string) (*mail.Message, error) {
	id, err := mail.ParseMessageCursor(cursor)
	if err != nil {
		return nil, err
	}
	msg, err := e.mails.FindByID(ctx, id)
	if errors.Is(err, mail.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mail.ErrStorageFailed, err)
	}
	return msg, nil
}

// Messages executes one paginated query. Argument validation failures are
// reported before any store access.
func (e *Engine) Messages(ctx context.Context, req Request) (*Connection, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	order := Order{Field: store.SortID, Direction: store.Asc}
	if req.Order != nil {
		order = *req.Order
	}

	filter := storeFilter(req.FilterParams)

	keyset, err := e.resolveKeyset(ctx, req, order)
	if err != nil {
		return nil, err
	}

	totalCount, err := e.mails.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: count messages: %v", mail.ErrStorageFailed, err)
	}

	// Scan one row beyond the page size to learn whether more rows exist
	// in the paging direction. Paging backwards scans in the reversed
	// order and the page is flipped back afterwards.
	size := 0
	backwards := false
	if req.First != nil {
		size = *req.First
	} else {
		size = *req.Last
		backwards = true
	}

	effective := store.Sort{Field: order.Field, Direction: order.Direction}
	if backwards {
		effective.Direction = invert(order.Direction)
	}

	items, err := e.collect(ctx, store.Query{
		Filter: filter,
		Sort:   effective,
		Keyset: keyset,
		Limit:  size + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query messages: %v", mail.ErrStorageFailed, err)
	}

	hasMore := len(items) > size
	if hasMore {
		items = items[:size]
	}
	if backwards {
		reverse(items)
	}

	conn := &Connection{
		Edges:      make([]Edge, 0, len(items)),
		TotalCount: totalCount,
		PageInfo: PageInfo{
			HasNextPage:     req.First != nil && hasMore,
			HasPreviousPage: req.Last != nil && hasMore,
		},
	}
	for _, msg := range items {
		conn.Edges = append(conn.Edges, Edge{Cursor: msg.Cursor(), Node: msg})
	}
	if len(conn.Edges) > 0 {
		conn.PageInfo.StartCursor = conn.Edges[0].Cursor
		conn.PageInfo.EndCursor = conn.Edges[len(conn.Edges)-1].Cursor
	}
	return conn, nil
}

func validate(req Request) error {
	switch {
	case req.After != nil && req.Before != nil:
		return fmt.Errorf("%w: after and before must not be supplied at the same time", mail.ErrValidation)
	case req.First == nil && req.Last == nil:
		return fmt.Errorf("%w: first or last must be supplied", mail.ErrValidation)
	case req.First != nil && req.Last != nil:
		return fmt.Errorf("%w: first and last must not be supplied at the same time", mail.ErrValidation)
	case req.Before != nil && req.First != nil:
		return fmt.Errorf("%w: cannot combine before and first", mail.ErrValidation)
	case req.After != nil && req.Last != nil:
		return fmt.Errorf("%w: cannot combine after and last", mail.ErrValidation)
	case req.First != nil && *req.First <= 0:
		return fmt.Errorf("%w: first must be > 0", mail.ErrValidation)
	case req.Last != nil && *req.Last <= 0:
		return fmt.Errorf("%w: last must be > 0", mail.ErrValidation)
	}
	if req.Order != nil {
		switch req.Order.Field {
		case store.SortID, store.SortFrom, store.SortSubject, store.SortDate:
		default:
			return fmt.Errorf("%w: unknown order field %q", mail.ErrValidation, req.Order.Field)
		}
		switch req.Order.Direction {
		case store.Asc, store.Desc:
		default:
			return fmt.Errorf("%w: unknown order direction %q", mail.ErrValidation, req.Order.Direction)
		}
	}
	return nil
}

// resolveKeyset turns the before/after cursor into a keyset window.
// Ordering by id needs no extra store round-trip; any other field first
// resolves the pivot message to obtain its sort value, giving the
// (field, id) compound pivot that stays stable under duplicate values.
func (e *Engine) resolveKeyset(ctx context.Context, req Request, order Order) (*store.Keyset, error) {
	var cursor string
	after := false
	switch {
	case req.After != nil:
		cursor, after = *req.After, true
	case req.Before != nil:
		cursor = *req.Before
	default:
		return nil, nil
	}

	id, err := mail.ParseMessageCursor(cursor)
	if err != nil {
		return nil, err
	}

	op := store.OpLess
	if after == (order.Direction == store.Asc) {
		op = store.OpGreater
	}

	ks := &store.Keyset{Op: op, ID: id}
	if order.Field != store.SortID {
		pivot, err := e.mails.FindByID(ctx, id)
		if errors.Is(err, mail.ErrNotFound) {
			return nil, fmt.Errorf("%w: cursor no longer resolves to a message", mail.ErrValidation)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: resolve cursor: %v", mail.ErrStorageFailed, err)
		}
		ks.Value = store.SortValue(pivot, order.Field)
	}
	return ks, nil
}

func (e *Engine) collect(ctx context.Context, q store.Query) ([]*mail.Message, error) {
	it, err := e.mails.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var items []*mail.Message
	for it.Next(ctx) {
		items = append(items, it.Message())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func storeFilter(p FilterParams) store.Filter {
	f := store.Filter{To: p.To, Subject: p.Subject, Text: p.Text}
	if p.Lang != "" && p.Lang != "all" {
		f.Lang = p.Lang
	}
	return f
}

func invert(d store.Direction) store.Direction {
	if d == store.Asc {
		return store.Desc
	}
	return store.Asc
}

func reverse(items []*mail.Message) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
