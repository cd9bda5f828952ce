package store

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailsink/mailsink/internal/mail"
)

// Memory is an in-memory MailStore. It backs the unit tests and the
// optional no-database dev mode and mirrors the Postgres ordering and
// filter semantics exactly.
type Memory struct {
	mu       sync.RWMutex
	messages map[uuid.UUID]*mail.Message
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{messages: make(map[uuid.UUID]*mail.Message)}
}

func (s *Memory) Insert(_ context.Context, msg *mail.Message) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = mail.NewID()
	s.messages[msg.ID] = msg
	return msg.ID, nil
}

func (s *Memory) FindByID(_ context.Context, id uuid.UUID) (*mail.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, mail.ErrNotFound
	}
	return msg, nil
}

func (s *Memory) Count(_ context.Context, f Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, msg := range s.messages {
		if matches(msg, f) {
			n++
		}
	}
	return n, nil
}

func (s *Memory) DeleteByID(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return mail.ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

// Find evaluates the query against a point-in-time snapshot. Rows deleted
// after the snapshot was taken are the caller's concern, matching the
// live-cursor semantics of the Postgres store.
func (s *Memory) Find(_ context.Context, q Query) (Iterator, error) {
	s.mu.RLock()
	matched := make([]*mail.Message, 0, len(s.messages))
	for _, msg := range s.messages {
		if matches(msg, q.Filter) {
			matched = append(matched, msg)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		c := compareMessages(matched[i], matched[j], q.Sort.Field)
		if q.Sort.Direction == Desc {
			c = -c
		}
		return c < 0
	})

	if q.Keyset != nil {
		windowed := matched[:0]
		for _, msg := range matched {
			if beyondPivot(msg, q.Sort.Field, q.Keyset) {
				windowed = append(windowed, msg)
			}
		}
		matched = windowed
	}

	if q.Skip > 0 {
		if q.Skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Skip:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	return &sliceIterator{items: matched}, nil
}

func matches(m *mail.Message, f Filter) bool {
	if f.To != "" {
		found := false
		for _, group := range m.To {
			if strings.Contains(group.Text, f.To) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Subject != "" && !strings.Contains(m.Subject, f.Subject) {
		return false
	}
	if f.Text != "" && !strings.Contains(m.Text, f.Text) {
		return false
	}
	if f.Lang != "" && m.Lang != f.Lang {
		return false
	}
	return true
}

// compareMessages orders two messages by sort field, tie-breaking on id.
func compareMessages(a, b *mail.Message, field SortField) int {
	if c := compareValues(SortValue(a, field), SortValue(b, field), field); c != 0 {
		return c
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}

// compareValues compares two sort key values of the given field.
// Undated messages order before all dated ones.
func compareValues(a, b any, field SortField) int {
	switch field {
	case SortFrom, SortSubject:
		return strings.Compare(a.(string), b.(string))
	case SortDate:
		at, bt := a.(*time.Time), b.(*time.Time)
		switch {
		case at == nil && bt == nil:
			return 0
		case at == nil:
			return -1
		case bt == nil:
			return 1
		default:
			return at.Compare(*bt)
		}
	default:
		return 0
	}
}

// beyondPivot reports whether a row lies strictly beyond the keyset pivot:
// (field op pivot-value) OR (field == pivot-value AND id op pivot-id).
func beyondPivot(m *mail.Message, field SortField, ks *Keyset) bool {
	c := 0
	if field != SortID {
		c = compareValues(SortValue(m, field), ks.Value, field)
	}
	if c == 0 {
		c = bytes.Compare(m.ID[:], ks.ID[:])
	}
	if ks.Op == OpGreater {
		return c > 0
	}
	return c < 0
}

type sliceIterator struct {
	items []*mail.Message
	pos   int
	cur   *mail.Message
}

func (it *sliceIterator) Next(_ context.Context) bool {
	if it.pos >= len(it.items) {
		return false
	}
	it.cur = it.items[it.pos]
	it.pos++
	return true
}

func (it *sliceIterator) Message() *mail.Message { return it.cur }
func (it *sliceIterator) Err() error             { return nil }
func (it *sliceIterator) Close() error           { return nil }
