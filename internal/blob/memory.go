package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/mailsink/mailsink/internal/mail"
)

type memoryObject struct {
	data        []byte
	filename    string
	contentType string
}

// Memory is an in-memory blob store for tests and the no-database dev
// mode.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

// NewMemory creates an empty in-memory blob store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject)}
}

func (s *Memory) Upload(_ context.Context, filename, contentType string, r io.Reader) (*Upload, error) {
	if contentType == "" {
		contentType = DefaultContentType
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read attachment payload: %w", err)
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.objects[id] = memoryObject{data: data, filename: filename, contentType: contentType}
	s.mu.Unlock()

	return &Upload{ID: id, Filename: filename, ContentType: contentType, Size: int64(len(data))}, nil
}

func (s *Memory) Open(_ context.Context, id string) (*Object, error) {
	s.mu.RLock()
	obj, ok := s.objects[id]
	s.mu.RUnlock()
	if !ok {
		return nil, mail.ErrNotFound
	}
	return &Object{
		ReadCloser:  io.NopCloser(bytes.NewReader(obj.data)),
		Filename:    obj.filename,
		ContentType: obj.contentType,
		Size:        int64(len(obj.data)),
	}, nil
}

func (s *Memory) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.objects, id)
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored payloads. Test helper.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Has reports whether a payload exists. Test helper.
func (s *Memory) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[id]
	return ok
}
