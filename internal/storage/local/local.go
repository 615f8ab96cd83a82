package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/agrikart/catalog/internal/storage"
)

const backendName = "local"

// Config holds local-disk backend settings.
type Config struct {
	// Dir is the directory assets are written to. It is created on the
	// first Store if missing.
	Dir string

	// URLPrefix is the public path the directory is served under.
	URLPrefix string

	MaxUploadBytes int64
}

// Storage implements storage.AssetStore on the local filesystem. References
// take the form <URLPrefix>/<generated name>.
type Storage struct {
	dir      string
	prefix   string
	maxBytes int64
	now      func() time.Time
}

var _ storage.AssetStore = (*Storage)(nil)

// New creates a local-disk asset store. The directory is not touched until
// the first write.
func New(cfg Config) *Storage {
	prefix := "/" + strings.Trim(cfg.URLPrefix, "/")
	if prefix == "/" {
		prefix = "/uploads"
	}
	return &Storage{
		dir:      filepath.Clean(cfg.Dir),
		prefix:   prefix,
		maxBytes: cfg.MaxUploadBytes,
		now:      time.Now,
	}
}

// Backend returns "local".
func (s *Storage) Backend() string { return backendName }

// Dir returns the directory assets are written to.
func (s *Storage) Dir() string { return s.dir }

// URLPrefix returns the public path prefix of references.
func (s *Storage) URLPrefix() string { return s.prefix }

// Store writes the upload under a generated name. The file is written to a
// temporary name first and renamed so readers never see a partial asset.
func (s *Storage) Store(_ context.Context, upload *storage.Upload) (string, error) {
	if err := storage.CheckUpload(upload, s.maxBytes); err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create asset directory: %w", err)
	}

	name := storage.GenerateName(s.now(), upload.Name, upload.ContentType)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp asset: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(upload.Data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close asset: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("chmod asset: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("publish asset: %w", err)
	}

	return path.Join(s.prefix, name), nil
}

// Delete removes the file a reference points at.
func (s *Storage) Delete(_ context.Context, ref string) error {
	file, err := s.resolve(ref)
	if err != nil {
		return err
	}

	if err := os.Remove(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", storage.ErrAssetNotFound, ref)
		}
		return fmt.Errorf("remove asset: %w", err)
	}
	return nil
}

// Fetch reads the file a reference points at.
func (s *Storage) Fetch(_ context.Context, ref string) ([]byte, error) {
	file, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrAssetNotFound, ref)
		}
		return nil, fmt.Errorf("read asset: %w", err)
	}
	return data, nil
}

// resolve maps a reference to a file inside dir. References outside the
// prefix, or naming anything other than a plain file in dir, resolve to
// ErrAssetNotFound.
func (s *Storage) resolve(ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, s.prefix+"/")
	if !ok || name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %s", storage.ErrAssetNotFound, ref)
	}
	return filepath.Join(s.dir, name), nil
}
