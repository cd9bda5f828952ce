package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mailsink/mailsink/internal/mail"
	"github.com/mailsink/mailsink/internal/query"
	"github.com/mailsink/mailsink/internal/sanitizer"
	"github.com/mailsink/mailsink/internal/store"
)

type addressJSON struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type groupJSON struct {
	Text   string        `json:"text"`
	Values []addressJSON `json:"value"`
}

type attachmentJSON struct {
	AttachmentID string `json:"attachmentId"`
	Filename     string `json:"filename,omitempty"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
}

type messageJSON struct {
	ID           string              `json:"id"`
	From         *groupJSON          `json:"from"`
	To           []groupJSON         `json:"to"`
	Cc           []groupJSON         `json:"cc"`
	Subject      string              `json:"subject,omitempty"`
	Text         string              `json:"text"`
	HTML         string              `json:"html,omitempty"`
	Headers      map[string][]string `json:"headers"`
	DateReceived time.Time           `json:"dateReceived"`
	DateSent     *time.Time          `json:"dateSent,omitempty"`
	Lang         string              `json:"lang,omitempty"`
	Attachments  []attachmentJSON    `json:"attachments"`
}

type edgeJSON struct {
	Cursor string      `json:"cursor"`
	Node   messageJSON `json:"node"`
}

type pageInfoJSON struct {
	HasNextPage     bool   `json:"hasNextPage"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
	StartCursor     string `json:"startCursor,omitempty"`
	EndCursor       string `json:"endCursor,omitempty"`
}

type connectionJSON struct {
	Edges      []edgeJSON   `json:"edges"`
	PageInfo   pageInfoJSON `json:"pageInfo"`
	TotalCount int          `json:"totalCount"`
}

func toGroupJSON(g mail.AddressGroup) groupJSON {
	out := groupJSON{Text: g.Text, Values: []addressJSON{}}
	for _, a := range g.Values {
		out.Values = append(out.Values, addressJSON{Address: a.Address, Name: a.Name})
	}
	return out
}

// toMessageJSON renders a message for browser clients. Stored HTML is
// sanitized here, never at intake, so the record keeps the original body.
func toMessageJSON(m *mail.Message) messageJSON {
	out := messageJSON{
		ID:           m.Cursor(),
		Subject:      m.Subject,
		Text:         m.Text,
		HTML:         sanitizer.Sanitize(m.HTML),
		Headers:      m.Headers,
		DateReceived: m.ReceivedAt(),
		DateSent:     m.SentAt,
		Lang:         m.Lang,
		To:           []groupJSON{},
		Cc:           []groupJSON{},
		Attachments:  []attachmentJSON{},
	}
	if m.From != nil {
		from := toGroupJSON(*m.From)
		out.From = &from
	}
	for _, g := range m.To {
		out.To = append(out.To, toGroupJSON(g))
	}
	for _, g := range m.Cc {
		out.Cc = append(out.Cc, toGroupJSON(g))
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, attachmentJSON{
			AttachmentID: a.AttachmentID,
			Filename:     a.Filename,
			ContentType:  a.ContentType,
			Size:         a.Size,
		})
	}
	return out
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	req, err := parseListRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := s.engine.Messages(r.Context(), *req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := connectionJSON{
		Edges:      []edgeJSON{},
		TotalCount: conn.TotalCount,
		PageInfo: pageInfoJSON{
			HasNextPage:     conn.PageInfo.HasNextPage,
			HasPreviousPage: conn.PageInfo.HasPreviousPage,
			StartCursor:     conn.PageInfo.StartCursor,
			EndCursor:       conn.PageInfo.EndCursor,
		},
	}
	for _, e := range conn.Edges {
		out.Edges = append(out.Edges, edgeJSON{Cursor: e.Cursor, Node: toMessageJSON(e.Node)})
	}
	writeJSON(w, http.StatusOK, out)
}

func parseListRequest(r *http.Request) (*query.Request, error) {
	q := r.URL.Query()

	req := &query.Request{
		FilterParams: query.FilterParams{
			To:      q.Get("to"),
			Subject: q.Get("subject"),
			Text:    q.Get("text"),
			Lang:    q.Get("lang"),
		},
	}

	var err error
	if req.First, err = intParam(q.Get("first")); err != nil {
		return nil, fmt.Errorf("%w: first must be an integer", mail.ErrValidation)
	}
	if req.Last, err = intParam(q.Get("last")); err != nil {
		return nil, fmt.Errorf("%w: last must be an integer", mail.ErrValidation)
	}
	if after := q.Get("after"); after != "" {
		req.After = &after
	}
	if before := q.Get("before"); before != "" {
		req.Before = &before
	}
	// A page size is required by the engine; default to the first page for
	// plain browser requests.
	if req.First == nil && req.Last == nil && req.Before == nil {
		first := 50
		req.First = &first
	}

	if field := q.Get("order_field"); field != "" {
		req.Order = &query.Order{
			Field:     orderField(field),
			Direction: store.Asc,
		}
		if dir := q.Get("order_dir"); dir != "" {
			req.Order.Direction = store.Direction(dir)
		}
	}
	return req, nil
}

func intParam(v string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// orderField maps the public field names onto store sort fields. Unknown
// names pass through and are rejected by engine validation.
func orderField(v string) store.SortField {
	switch v {
	case "ID":
		return store.SortID
	case "FROM":
		return store.SortFrom
	case "SUBJECT":
		return store.SortSubject
	case "DATE":
		return store.SortDate
	default:
		return store.SortField(v)
	}
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.engine.Message(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if msg == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "message not found"})
		return
	}
	writeJSON(w, http.StatusOK, toMessageJSON(msg))
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := s.engine.DeleteMessage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if id == "" {
		writeJSON(w, http.StatusOK, map[string]any{"id": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

func (s *Server) handleDeleteMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ids, err := s.engine.DeleteMessages(r.Context(), query.FilterParams{
		To:      q.Get("to"),
		Subject: q.Get("subject"),
		Text:    q.Get("text"),
		Lang:    q.Get("lang"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"ids": ids})
}

func (s *Server) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	obj, err := s.blobs.Open(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, mail.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "attachment not found"})
		return
	}
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", mail.ErrStorageFailed, err))
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", obj.Filename))
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	io.Copy(w, obj)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
