package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mailsink/mailsink/internal/mail"
)

func collect(t *testing.T, s MailStore, q Query) []*mail.Message {
	t.Helper()
	it, err := s.Find(context.Background(), q)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	defer it.Close()

	var items []*mail.Message
	for it.Next(context.Background()) {
		items = append(items, it.Message())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	return items
}

func insert(t *testing.T, s MailStore, msg *mail.Message) *mail.Message {
	t.Helper()
	if _, err := s.Insert(context.Background(), msg); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return msg
}

func TestMemoryInsertAssignsID(t *testing.T) {
	s := NewMemory()
	msg := insert(t, s, &mail.Message{Subject: "a"})

	if msg.ID == uuid.Nil {
		t.Fatal("Insert did not assign an id")
	}

	got, err := s.FindByID(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Subject != "a" {
		t.Errorf("Subject = %q", got.Subject)
	}
}

func TestMemoryFindByIDNotFound(t *testing.T) {
	s := NewMemory()
	if _, err := s.FindByID(context.Background(), mail.NewID()); !errors.Is(err, mail.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryDeleteByID(t *testing.T) {
	s := NewMemory()
	msg := insert(t, s, &mail.Message{})

	if err := s.DeleteByID(context.Background(), msg.ID); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if err := s.DeleteByID(context.Background(), msg.ID); !errors.Is(err, mail.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestMemoryFilter(t *testing.T) {
	s := NewMemory()
	insert(t, s, &mail.Message{
		To:      []mail.AddressGroup{{Text: "Bob <bob@example.com>"}},
		Subject: "Weekly report",
		Text:    "Die Zahlen sehen gut aus.",
		Lang:    "de",
	})
	insert(t, s, &mail.Message{
		To:      []mail.AddressGroup{{Text: "carol@example.com"}},
		Subject: "weekly digest",
		Text:    "All numbers look fine.",
		Lang:    "en",
	})

	cases := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"empty matches all", Filter{}, 2},
		{"to substring", Filter{To: "bob@"}, 1},
		{"subject is case-sensitive", Filter{Subject: "Weekly"}, 1},
		{"text substring", Filter{Text: "numbers"}, 1},
		{"lang equality", Filter{Lang: "de"}, 1},
		{"lang no prefix match", Filter{Lang: "d"}, 0},
		{"combined", Filter{Subject: "weekly", Lang: "en"}, 1},
		{"no match", Filter{Text: "missing"}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := s.Count(context.Background(), tc.filter)
			if err != nil {
				t.Fatalf("Count: %v", err)
			}
			if n != tc.want {
				t.Errorf("Count = %d, want %d", n, tc.want)
			}
			if got := len(collect(t, s, Query{Filter: tc.filter})); got != tc.want {
				t.Errorf("Find returned %d, want %d", got, tc.want)
			}
		})
	}
}

func TestMemorySortByID(t *testing.T) {
	s := NewMemory()
	var ids []string
	for i := 0; i < 5; i++ {
		msg := insert(t, s, &mail.Message{})
		ids = append(ids, msg.ID.String())
	}

	asc := collect(t, s, Query{Sort: Sort{Field: SortID, Direction: Asc}})
	for i, msg := range asc {
		if msg.ID.String() != ids[i] {
			t.Fatalf("asc[%d] = %s, want %s", i, msg.ID, ids[i])
		}
	}

	desc := collect(t, s, Query{Sort: Sort{Field: SortID, Direction: Desc}})
	for i, msg := range desc {
		if want := ids[len(ids)-1-i]; msg.ID.String() != want {
			t.Fatalf("desc[%d] = %s, want %s", i, msg.ID, want)
		}
	}
}

func TestMemorySortBySubjectTieBreaksOnID(t *testing.T) {
	s := NewMemory()
	a := insert(t, s, &mail.Message{Subject: "same"})
	b := insert(t, s, &mail.Message{Subject: "same"})
	c := insert(t, s, &mail.Message{Subject: "different"})

	got := collect(t, s, Query{Sort: Sort{Field: SortSubject, Direction: Asc}})
	want := []*mail.Message{c, a, b}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Fatalf("got[%d] = %s (%q), want %s (%q)", i, got[i].ID, got[i].Subject, want[i].ID, want[i].Subject)
		}
	}
}

func TestMemorySortByDateUndatedFirst(t *testing.T) {
	s := NewMemory()
	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	dated1 := insert(t, s, &mail.Message{Subject: "late", SentAt: &late})
	undated := insert(t, s, &mail.Message{Subject: "undated"})
	dated2 := insert(t, s, &mail.Message{Subject: "early", SentAt: &early})

	asc := collect(t, s, Query{Sort: Sort{Field: SortDate, Direction: Asc}})
	wantAsc := []*mail.Message{undated, dated2, dated1}
	for i := range wantAsc {
		if asc[i].ID != wantAsc[i].ID {
			t.Fatalf("asc[%d] = %q, want %q", i, asc[i].Subject, wantAsc[i].Subject)
		}
	}

	desc := collect(t, s, Query{Sort: Sort{Field: SortDate, Direction: Desc}})
	wantDesc := []*mail.Message{dated1, dated2, undated}
	for i := range wantDesc {
		if desc[i].ID != wantDesc[i].ID {
			t.Fatalf("desc[%d] = %q, want %q", i, desc[i].Subject, wantDesc[i].Subject)
		}
	}
}

func TestMemoryKeysetWindow(t *testing.T) {
	s := NewMemory()
	var msgs []*mail.Message
	for i := 0; i < 6; i++ {
		msgs = append(msgs, insert(t, s, &mail.Message{Subject: "same"}))
	}

	t.Run("id greater", func(t *testing.T) {
		got := collect(t, s, Query{
			Sort:   Sort{Field: SortID, Direction: Asc},
			Keyset: &Keyset{Op: OpGreater, ID: msgs[2].ID},
		})
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3", len(got))
		}
		if got[0].ID != msgs[3].ID {
			t.Errorf("window starts at %s, want %s", got[0].ID, msgs[3].ID)
		}
	})

	t.Run("id less", func(t *testing.T) {
		got := collect(t, s, Query{
			Sort:   Sort{Field: SortID, Direction: Desc},
			Keyset: &Keyset{Op: OpLess, ID: msgs[2].ID},
		})
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].ID != msgs[1].ID {
			t.Errorf("window starts at %s, want %s", got[0].ID, msgs[1].ID)
		}
	})

	t.Run("duplicate subject pivot", func(t *testing.T) {
		// All subjects are equal, so the window must fall back to the id
		// tie-break and still exclude the pivot row itself.
		got := collect(t, s, Query{
			Sort:   Sort{Field: SortSubject, Direction: Asc},
			Keyset: &Keyset{Op: OpGreater, ID: msgs[3].ID, Value: "same"},
		})
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		for _, m := range got {
			if m.ID == msgs[3].ID {
				t.Error("window contains the pivot row")
			}
		}
	})
}

func TestMemoryKeysetDateWithNilPivot(t *testing.T) {
	s := NewMemory()
	when := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	undated1 := insert(t, s, &mail.Message{})
	undated2 := insert(t, s, &mail.Message{})
	dated := insert(t, s, &mail.Message{SentAt: &when})

	// Ascending from the first undated row: the second undated row and the
	// dated row lie beyond the pivot.
	got := collect(t, s, Query{
		Sort:   Sort{Field: SortDate, Direction: Asc},
		Keyset: &Keyset{Op: OpGreater, ID: undated1.ID, Value: (*time.Time)(nil)},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != undated2.ID || got[1].ID != dated.ID {
		t.Errorf("window = [%s %s], want [%s %s]", got[0].ID, got[1].ID, undated2.ID, dated.ID)
	}

	// Descending before a dated pivot: both undated rows remain.
	got = collect(t, s, Query{
		Sort:   Sort{Field: SortDate, Direction: Desc},
		Keyset: &Keyset{Op: OpLess, ID: dated.ID, Value: &when},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestMemorySkipAndLimit(t *testing.T) {
	s := NewMemory()
	var msgs []*mail.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, insert(t, s, &mail.Message{}))
	}

	got := collect(t, s, Query{Sort: Sort{Field: SortID, Direction: Asc}, Skip: 1, Limit: 2})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != msgs[1].ID || got[1].ID != msgs[2].ID {
		t.Errorf("page = [%s %s], want [%s %s]", got[0].ID, got[1].ID, msgs[1].ID, msgs[2].ID)
	}

	if got := collect(t, s, Query{Skip: 10}); len(got) != 0 {
		t.Errorf("Skip beyond end returned %d rows", len(got))
	}
}
