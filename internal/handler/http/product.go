package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/agrikart/catalog/internal/domain"
	"github.com/agrikart/catalog/internal/service"
	"github.com/agrikart/catalog/internal/storage"
	apperrors "github.com/agrikart/catalog/pkg/errors"
	"github.com/agrikart/catalog/pkg/httputil"
)

// formOverhead is allowed on top of the upload limit for the other
// multipart fields and boundaries.
const formOverhead = 1 << 20

// CatalogService is the coordinator the handlers delegate to.
// *service.CatalogService satisfies it.
type CatalogService interface {
	CreateProduct(ctx context.Context, input *service.CreateProductInput) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, input service.ListProductsInput) ([]domain.Product, error)
	Stats(ctx context.Context) (*domain.Stats, error)
	UpdateProduct(ctx context.Context, id string, input *service.UpdateProductInput) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	DeleteAllProducts(ctx context.Context) (*domain.PurgeResult, error)
}

// ProductHandler handles HTTP requests for product endpoints.
type ProductHandler struct {
	service        CatalogService
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewProductHandler creates a new product HTTP handler.
func NewProductHandler(svc CatalogService, maxUploadBytes int64, logger *slog.Logger) *ProductHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = storage.DefaultMaxUploadBytes
	}
	return &ProductHandler{
		service:        svc,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// --- Request DTOs ---

// CreateProductRequest is the JSON request body for creating a product.
type CreateProductRequest struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// UpdateProductRequest is the JSON request body for a partial update.
type UpdateProductRequest struct {
	Name        *string `json:"name"`
	Category    *string `json:"category"`
	Description *string `json:"description"`
}

// --- Handlers ---

// CreateProduct handles POST /api/v1/products (JSON or multipart/form-data).
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var input service.CreateProductInput

	if isMultipart(r) {
		form, err := h.parseForm(w, r)
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		defer func() { _ = form.RemoveAll() }()

		input.Name = formValue(form, "name")
		input.Category = formValue(form, "category")
		input.Description = formValue(form, "description")
		if input.Image, err = h.readImage(form); err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
	} else {
		var req CreateProductRequest
		if err := decodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		input.Name = req.Name
		input.Category = req.Category
		input.Description = req.Description
	}

	product, err := h.service.CreateProduct(r.Context(), &input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: product})
}

// GetProduct handles GET /api/v1/products/{id}.
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: product})
}

// ListProducts handles GET /api/v1/products?category=&search=.
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	products, err := h.service.ListProducts(r.Context(), service.ListProductsInput{
		Category: q.Get("category"),
		Search:   q.Get("search"),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: products})
}

// Stats handles GET /api/v1/products/stats.
func (h *ProductHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: stats})
}

// UpdateProduct handles PUT /api/v1/products/{id}. Fields absent from the
// request are left unchanged.
func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var input service.UpdateProductInput

	if isMultipart(r) {
		form, err := h.parseForm(w, r)
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		defer func() { _ = form.RemoveAll() }()

		input.Name = optionalFormValue(form, "name")
		input.Category = optionalFormValue(form, "category")
		input.Description = optionalFormValue(form, "description")
		if input.Image, err = h.readImage(form); err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
	} else {
		var req UpdateProductRequest
		if err := decodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		input.Name = req.Name
		input.Category = req.Category
		input.Description = req.Description
	}

	product, err := h.service.UpdateProduct(r.Context(), id, &input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: product})
}

// DeleteProduct handles DELETE /api/v1/products/{id}.
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteAllProducts handles DELETE /api/v1/products.
func (h *ProductHandler) DeleteAllProducts(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.DeleteAllProducts(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// --- Helpers ---

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// parseForm reads a multipart body bounded by the upload limit.
func (h *ProductHandler) parseForm(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+formOverhead)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			// ContentLength is -1 for chunked bodies; the error reports it as unknown.
			return nil, apperrors.PayloadTooLarge(r.ContentLength, h.maxUploadBytes)
		}
		return nil, apperrors.InvalidInput("failed to parse multipart form: " + err.Error())
	}
	return r.MultipartForm, nil
}

// readImage returns the "image" file part, or nil when none was sent. The
// content type falls back to sniffing when the part does not declare a
// specific one.
func (h *ProductHandler) readImage(form *multipart.Form) (*storage.Upload, error) {
	files := form.File["image"]
	if len(files) == 0 {
		return nil, nil
	}
	header := files[0]

	f, err := header.Open()
	if err != nil {
		return nil, apperrors.InvalidInput("failed to open image part: " + err.Error())
	}
	defer f.Close()

	// One byte past the limit is enough for the size check to reject it.
	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		return nil, apperrors.InvalidInput("failed to read image part: " + err.Error())
	}

	contentType := header.Header.Get("Content-Type")
	if mediaType, _, _ := mime.ParseMediaType(contentType); mediaType == "" || mediaType == "application/octet-stream" {
		contentType = mimetype.Detect(data).String()
	}

	return &storage.Upload{
		Name:        header.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func optionalFormValue(form *multipart.Form, key string) *string {
	v, ok := form.Value[key]
	if !ok || len(v) == 0 {
		return nil
	}
	return &v[0]
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, formOverhead)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.InvalidInput(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}
