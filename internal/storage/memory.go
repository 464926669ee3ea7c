package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// MemoryBlobStore is a fallback blob store used when S3 is not configured,
// and the store the generator and service tests run against.
type MemoryBlobStore struct {
	mu           sync.RWMutex
	objects      map[string][]byte
	contentTypes map[string]string
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

func (s *MemoryBlobStore) UploadStream(_ context.Context, key string, body io.Reader, contentType string) (UploadResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return UploadResult{}, fmt.Errorf("read upload body: %w", err)
	}

	s.mu.Lock()
	s.objects[key] = data
	s.contentTypes[key] = contentType
	s.mu.Unlock()

	return UploadResult{Bucket: "memory", Key: key}, nil
}

func (s *MemoryBlobStore) PresignGet(_ context.Context, key string, ttl time.Duration, fileName string) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("object %s does not exist", key)
	}
	return fmt.Sprintf(
		"memory://memory/%s?expires=%d&filename=%s",
		key,
		int(ttl.Seconds()),
		url.QueryEscape(fileName),
	), nil
}

// Object returns the stored bytes and content type for a key.
func (s *MemoryBlobStore) Object(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), data...), s.contentTypes[key], true
}
