package http

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/agrikart/catalog/internal/storage"
	"github.com/agrikart/catalog/pkg/httputil"
)

// AssetFetcher reads stored assets. storage.AssetStore satisfies it.
type AssetFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// AssetHandler serves assets whose references are local paths, for the
// local and memory backends.
type AssetHandler struct {
	assets AssetFetcher
	prefix string
	logger *slog.Logger
}

// NewAssetHandler creates a handler serving references under prefix.
func NewAssetHandler(assets AssetFetcher, prefix string, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{
		assets: assets,
		prefix: "/" + strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// ServeAsset handles GET <prefix>/{name}.
func (h *AssetHandler) ServeAsset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ref := h.prefix + "/" + name

	data, err := h.assets.Fetch(r.Context(), ref)
	if err != nil {
		if errors.Is(err, storage.ErrAssetNotFound) {
			http.NotFound(w, r)
			return
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", h.contentType(ref, data))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
}

// contentType prefers the type recorded at upload and sniffs otherwise.
func (h *AssetHandler) contentType(ref string, data []byte) string {
	if typer, ok := h.assets.(storage.ContentTyper); ok {
		if ct, ok := typer.ContentType(ref); ok && ct != "" {
			return ct
		}
	}
	return mimetype.Detect(data).String()
}
