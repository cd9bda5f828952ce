// Package mail defines the message model shared by the intake pipeline,
// the stores and the query engine, together with id generation and the
// opaque cursor encoding used for pagination.
package mail

import (
	"time"

	"github.com/google/uuid"
)

// Address is a single parsed mailbox from an address header.
type Address struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// AddressGroup is one occurrence of an address header: the decoded raw
// header text plus the mailboxes parsed out of it. When the header could
// not be parsed as an address list, Values is empty and Text still carries
// whatever was received.
type AddressGroup struct {
	Text   string    `json:"text"`
	Values []Address `json:"values"`
}

// Attachment is the stored metadata of one attachment part. The payload
// itself lives in the blob store under AttachmentID and is owned
// exclusively by the containing message.
type Attachment struct {
	AttachmentID string `json:"attachmentId"`
	Filename     string `json:"filename,omitempty"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
}

// Message is the unit of persistence. Messages are immutable once stored;
// there is no update operation. The id is store-assigned, unique and
// monotonically creation-ordered, and doubles as the receive-time source.
type Message struct {
	ID          uuid.UUID
	From        *AddressGroup
	To          []AddressGroup
	Cc          []AddressGroup
	Subject     string
	Text        string
	HTML        string
	Headers     map[string][]string
	SentAt      *time.Time
	Lang        string
	Attachments []Attachment
}

// Cursor returns the opaque pagination cursor for the message.
func (m *Message) Cursor() string {
	return FormatCursor(EntityMessage, m.ID)
}

// ReceivedAt derives the receive time from the message id.
func (m *Message) ReceivedAt() time.Time {
	return ReceivedAt(m.ID)
}

// FromText returns the display text of the From group, or "" when the
// message carries no From header. Used as the FROM sort key.
func (m *Message) FromText() string {
	if m.From == nil {
		return ""
	}
	return m.From.Text
}

// NewID returns a fresh message id. UUIDv7 ids are assigned by the stores
// at insert time: they are unique, monotonic within the process
// (millisecond timestamp plus counter) and carry the creation time.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// ReceivedAt extracts the creation time embedded in a message id.
func ReceivedAt(id uuid.UUID) time.Time {
	sec, nsec := id.Time().UnixTime()
	return time.Unix(sec, nsec).UTC()
}
