package mail

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EntityMessage is the entity type tag carried inside message cursors.
const EntityMessage = "message"

// FormatCursor encodes an entity reference as an opaque cursor:
// base64 of "{entityType}:{hex-id}". External layers must not look inside.
func FormatCursor(entity string, id uuid.UUID) string {
	return base64.StdEncoding.EncodeToString(
		[]byte(entity + ":" + hex.EncodeToString(id[:])),
	)
}

// ParseCursor decodes a cursor back into its entity type and id.
// Cursors are only ever resolved by id against the mail store, never by
// position, so a cursor stays valid as long as its message exists.
func ParseCursor(cursor string) (entity string, id uuid.UUID, err error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}

	entity, hexID, ok := strings.Cut(string(raw), ":")
	if !ok || entity == "" {
		return "", uuid.Nil, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}

	b, err := hex.DecodeString(hexID)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("%w: malformed cursor id", ErrValidation)
	}

	id, err = uuid.FromBytes(b)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("%w: malformed cursor id", ErrValidation)
	}

	return entity, id, nil
}

// ParseMessageCursor decodes a cursor and checks that it references a
// message.
func ParseMessageCursor(cursor string) (uuid.UUID, error) {
	entity, id, err := ParseCursor(cursor)
	if err != nil {
		return uuid.Nil, err
	}
	if entity != EntityMessage {
		return uuid.Nil, fmt.Errorf("%w: cursor does not reference a message", ErrValidation)
	}
	return id, nil
}
