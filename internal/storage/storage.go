package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	apperrors "github.com/agrikart/catalog/pkg/errors"
)

// DefaultMaxUploadBytes is the upload limit when none is configured.
const DefaultMaxUploadBytes int64 = 5 << 20

var (
	// ErrAssetNotFound is returned when a reference points at no stored asset.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrBackendUnavailable covers network failures, timeouts, rejected
	// credentials and server errors from a remote backend.
	ErrBackendUnavailable = errors.New("asset backend unavailable")

	// ErrBackendRejected is returned when a remote backend refuses the
	// request itself, for example an unreadable image.
	ErrBackendRejected = errors.New("asset rejected by backend")
)

// AssetStore holds binary image assets referenced by products.
type AssetStore interface {
	// Store persists the upload and returns a reference usable with Delete
	// and Fetch.
	Store(ctx context.Context, upload *Upload) (string, error)

	// Delete removes the asset. A reference with no asset yields
	// ErrAssetNotFound.
	Delete(ctx context.Context, ref string) error

	// Fetch returns the stored bytes.
	Fetch(ctx context.Context, ref string) ([]byte, error)

	// Backend names the implementation for logs and metrics.
	Backend() string
}

// ContentTyper is implemented by backends that record the content type an
// asset was stored with.
type ContentTyper interface {
	ContentType(ref string) (string, bool)
}

// Upload is a binary payload received from a client.
type Upload struct {
	// Name is the client-supplied file name; only its extension is kept.
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the payload length in bytes.
func (u *Upload) Size() int64 {
	return int64(len(u.Data))
}

// CheckUpload rejects non-image content types and payloads above limit.
// A limit of zero or less means DefaultMaxUploadBytes.
func CheckUpload(u *Upload, limit int64) error {
	if u == nil {
		return apperrors.InvalidInput("image payload is empty")
	}
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}

	mediaType := strings.ToLower(strings.TrimSpace(u.ContentType))
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return apperrors.UnsupportedMediaType(u.ContentType)
	}

	if u.Size() > limit {
		return apperrors.PayloadTooLarge(u.Size(), limit)
	}
	if u.Size() == 0 {
		return apperrors.InvalidInput("image payload is empty")
	}
	return nil
}

// GenerateName returns a collision-resistant file name made of a
// nanosecond timestamp and a random suffix. The extension of original is
// preserved when it looks sane; otherwise one is derived from contentType.
func GenerateName(now time.Time, original, contentType string) string {
	return fmt.Sprintf("%d-%s%s", now.UnixNano(), randomToken(), extension(original, contentType))
}

// GenerateID returns a collision-resistant identifier without extension,
// used by backends that assign their own file format.
func GenerateID(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", prefix, now.UnixNano(), randomToken())
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func extension(original, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(original)))
	if validExtension(ext) {
		return ext
	}
	if m := mimetype.Lookup(contentType); m != nil {
		return m.Extension()
	}
	return ""
}

func validExtension(ext string) bool {
	if len(ext) < 2 || len(ext) > 6 || ext[0] != '.' {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
