package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agrikart/catalog/internal/storage"
)

const backendName = "memory"

// fileEntry is one stored asset.
type fileEntry struct {
	ContentType string
	Data        []byte
}

// Storage implements storage.AssetStore using an in-memory map. It is used
// in development and tests; assets do not survive a restart.
type Storage struct {
	mu       sync.RWMutex
	files    map[string]*fileEntry
	prefix   string
	maxBytes int64
	now      func() time.Time
}

var (
	_ storage.AssetStore   = (*Storage)(nil)
	_ storage.ContentTyper = (*Storage)(nil)
)

// New creates an in-memory store whose references start with urlPrefix.
func New(urlPrefix string, maxUploadBytes int64) *Storage {
	prefix := "/" + strings.Trim(urlPrefix, "/")
	if prefix == "/" {
		prefix = "/uploads"
	}
	return &Storage{
		files:    make(map[string]*fileEntry),
		prefix:   prefix,
		maxBytes: maxUploadBytes,
		now:      time.Now,
	}
}

// Backend returns "memory".
func (s *Storage) Backend() string { return backendName }

// Store keeps a copy of the upload bytes under a generated reference.
func (s *Storage) Store(_ context.Context, upload *storage.Upload) (string, error) {
	if err := storage.CheckUpload(upload, s.maxBytes); err != nil {
		return "", err
	}

	ref := path.Join(s.prefix, storage.GenerateName(s.now(), upload.Name, upload.ContentType))
	data := make([]byte, len(upload.Data))
	copy(data, upload.Data)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[ref] = &fileEntry{
		ContentType: upload.ContentType,
		Data:        data,
	}
	return ref, nil
}

// Delete removes an asset.
func (s *Storage) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.files[ref]; !exists {
		return fmt.Errorf("%w: %s", storage.ErrAssetNotFound, ref)
	}

	delete(s.files, ref)
	return nil
}

// Fetch returns a copy of the stored bytes.
func (s *Storage) Fetch(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.files[ref]
	if !exists {
		return nil, fmt.Errorf("%w: %s", storage.ErrAssetNotFound, ref)
	}

	data := make([]byte, len(entry.Data))
	copy(data, entry.Data)
	return data, nil
}

// ContentType returns the content type recorded for ref.
func (s *Storage) ContentType(ref string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.files[ref]
	if !exists {
		return "", false
	}
	return entry.ContentType, true
}

// Refs returns every stored reference in sorted order.
func (s *Storage) Refs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := make([]string, 0, len(s.files))
	for ref := range s.files {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
