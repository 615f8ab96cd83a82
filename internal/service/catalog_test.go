package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agrikart/catalog/internal/domain"
	"github.com/agrikart/catalog/internal/event"
	"github.com/agrikart/catalog/internal/repository"
	"github.com/agrikart/catalog/internal/storage"
	"github.com/agrikart/catalog/internal/storage/memory"
	apperrors "github.com/agrikart/catalog/pkg/errors"
	pkgkafka "github.com/agrikart/catalog/pkg/kafka"
)

// --- Fake Repository ---

// fakeRepository is an in-memory ProductRepository with error injection.
type fakeRepository struct {
	mu       sync.Mutex
	products map[string]domain.Product
	clock    time.Time

	// cached holds snapshots GetByID serves in place of the current row,
	// the way a lagging read-through cache would.
	cached map[string]domain.Product

	createErr    error
	updateErr    error
	deleteErr    error
	deleteAllErr error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		products: make(map[string]domain.Product),
		cached:   make(map[string]domain.Product),
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *fakeRepository) tick() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

func (r *fakeRepository) Create(_ context.Context, p *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	p.ID = uuid.NewString()
	p.CreatedAt = r.tick()
	p.UpdatedAt = p.CreatedAt
	r.products[p.ID] = *p
	return nil
}

func (r *fakeRepository) GetByID(_ context.Context, id string) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cached[id]; ok {
		return &p, nil
	}
	p, ok := r.products[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	return &p, nil
}

func (r *fakeRepository) GetByIDForUpdate(_ context.Context, id string) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	return &p, nil
}

func (r *fakeRepository) List(_ context.Context, filter repository.ProductFilter) ([]domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Product{}
	for _, p := range r.products {
		if filter.Category != nil && p.Category != *filter.Category {
			continue
		}
		if filter.Search != nil && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(*filter.Search)) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *fakeRepository) Update(_ context.Context, id string, u repository.ProductUpdate) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	p, ok := r.products[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Category != nil {
		p.Category = *u.Category
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Image != nil {
		image := *u.Image
		p.Image = &image
	}
	p.UpdatedAt = r.tick()
	r.products[id] = p
	return &p, nil
}

func (r *fakeRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.products[id]; !ok {
		return apperrors.NotFound("product", id)
	}
	delete(r.products, id)
	return nil
}

func (r *fakeRepository) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.products), nil
}

func (r *fakeRepository) CountByCategory(_ context.Context) (map[domain.Category]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[domain.Category]int)
	for _, p := range r.products {
		counts[p.Category]++
	}
	return counts, nil
}

func (r *fakeRepository) ListImageRefs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs := []string{}
	for _, p := range r.products {
		if p.HasImage() {
			refs = append(refs, *p.Image)
		}
	}
	return refs, nil
}

func (r *fakeRepository) DeleteAll(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteAllErr != nil {
		return 0, r.deleteAllErr
	}
	n := len(r.products)
	r.products = make(map[string]domain.Product)
	return n, nil
}

// --- Mock Asset Store ---

type mockAssetStore struct {
	mock.Mock
}

func (m *mockAssetStore) Store(ctx context.Context, upload *storage.Upload) (string, error) {
	args := m.Called(ctx, upload)
	return args.String(0), args.Error(1)
}

func (m *mockAssetStore) Delete(ctx context.Context, ref string) error {
	return m.Called(ctx, ref).Error(0)
}

func (m *mockAssetStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockAssetStore) Backend() string { return "mock" }

// flakyStore wraps the memory backend and fails deletes of chosen refs.
type flakyStore struct {
	*memory.Storage
	failDelete map[string]bool
}

func (f *flakyStore) Delete(ctx context.Context, ref string) error {
	if f.failDelete[ref] {
		return storage.ErrBackendUnavailable
	}
	return f.Storage.Delete(ctx, ref)
}

// --- Mock Events ---

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, *pkgkafka.Event) error {
	return errors.New("broker unreachable")
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(repo repository.ProductRepository, assets storage.AssetStore, opts ...Option) *CatalogService {
	logger := newTestLogger()
	producer := event.NewProducer(event.Discard{}, logger)
	return NewCatalogService(repo, assets, producer, logger, opts...)
}

func newMemoryService(opts ...Option) (*CatalogService, *fakeRepository, *memory.Storage) {
	repo := newFakeRepository()
	store := memory.New("/uploads", 0)
	return newTestService(repo, store, opts...), repo, store
}

func imageUpload(data string) *storage.Upload {
	return &storage.Upload{Name: "photo.png", ContentType: "image/png", Data: []byte(data)}
}

func strPtr(s string) *string { return &s }

func fetch(t *testing.T, store storage.AssetStore, ref string) string {
	t.Helper()
	data, err := store.Fetch(context.Background(), ref)
	require.NoError(t, err)
	return string(data)
}

func assertGone(t *testing.T, store storage.AssetStore, ref string) {
	t.Helper()
	_, err := store.Fetch(context.Background(), ref)
	assert.ErrorIs(t, err, storage.ErrAssetNotFound, "asset %s should be gone", ref)
}

// --- Create ---

func TestCreateProduct_WithoutImage(t *testing.T) {
	svc, repo, store := newMemoryService()

	p, err := svc.CreateProduct(context.Background(), &CreateProductInput{
		Name:        "  Bug-X  ",
		Category:    "insecticides",
		Description: " kills aphids ",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Bug-X", p.Name)
	assert.Equal(t, domain.CategoryInsecticides, p.Category)
	assert.Equal(t, "kills aphids", p.Description)
	assert.Nil(t, p.Image)
	assert.Empty(t, store.Refs())
	assert.Len(t, repo.products, 1)
}

func TestCreateProduct_WithImage(t *testing.T) {
	svc, _, store := newMemoryService()

	p, err := svc.CreateProduct(context.Background(), &CreateProductInput{
		Name:     "Leaf Guard",
		Category: "Fungicides",
		Image:    imageUpload("IMG1"),
	})
	require.NoError(t, err)

	require.True(t, p.HasImage())
	assert.Equal(t, []string{*p.Image}, store.Refs())
	assert.Equal(t, "IMG1", fetch(t, store, *p.Image))
}

func TestCreateProduct_ValidationNeverStoresPayload(t *testing.T) {
	tests := []struct {
		name  string
		input *CreateProductInput
	}{
		{"blank name", &CreateProductInput{Name: "   ", Category: "Insecticides"}},
		{"missing category", &CreateProductInput{Name: "Bug-X"}},
		{"unknown category", &CreateProductInput{Name: "Bug-X", Category: "Fertilizers"}},
		{"name too long", &CreateProductInput{Name: strings.Repeat("a", 201), Category: "Weedicides"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mockAssetStore)
			repo := newFakeRepository()
			svc := newTestService(repo, store)

			upload := imageUpload("IMG1")
			tt.input.Image = upload

			_, err := svc.CreateProduct(context.Background(), tt.input)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err), "got %v", err)
			assert.Nil(t, upload.Data, "payload should be discarded")

			store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
			assert.Empty(t, repo.products)
		})
	}
}

func TestCreateProduct_NilInput(t *testing.T) {
	svc, _, _ := newMemoryService()
	_, err := svc.CreateProduct(context.Background(), nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCreateProduct_UploadRulesAreValidation(t *testing.T) {
	svc, repo, store := newMemoryService()

	_, err := svc.CreateProduct(context.Background(), &CreateProductInput{
		Name:     "Bug-X",
		Category: "Insecticides",
		Image:    &storage.Upload{Name: "notes.txt", ContentType: "text/plain", Data: []byte("hi")},
	})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedMediaType)

	_, err = svc.CreateProduct(context.Background(), &CreateProductInput{
		Name:     "Bug-X",
		Category: "Insecticides",
		Image:    &storage.Upload{Name: "big.png", ContentType: "image/png", Data: make([]byte, storage.DefaultMaxUploadBytes+1)},
	})
	assert.ErrorIs(t, err, apperrors.ErrPayloadTooLarge)

	assert.Empty(t, repo.products)
	assert.Empty(t, store.Refs())
}

func TestCreateProduct_StoreFailureSkipsRepository(t *testing.T) {
	tests := []struct {
		name      string
		storeErr  error
		wantErr   error
		wantValid bool
	}{
		{"backend unavailable", storage.ErrBackendUnavailable, apperrors.ErrAssetStore, false},
		{"backend rejected", storage.ErrBackendRejected, apperrors.ErrInvalidInput, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mockAssetStore)
			repo := newFakeRepository()
			svc := newTestService(repo, store)

			store.On("Store", mock.Anything, mock.AnythingOfType("*storage.Upload")).Return("", tt.storeErr)

			_, err := svc.CreateProduct(context.Background(), &CreateProductInput{
				Name:     "Bug-X",
				Category: "Insecticides",
				Image:    imageUpload("IMG1"),
			})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, tt.storeErr)
			assert.Equal(t, tt.wantValid, apperrors.IsValidation(err))
			assert.Empty(t, repo.products)
			store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateProduct_PersistenceFailureCompensates(t *testing.T) {
	svc, repo, store := newMemoryService()
	repo.createErr = errors.New("insert product: connection reset")

	_, err := svc.CreateProduct(context.Background(), &CreateProductInput{
		Name:     "Bug-X",
		Category: "Insecticides",
		Image:    imageUpload("IMG1"),
	})
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
	assert.ErrorIs(t, err, repo.createErr)
	assert.Empty(t, store.Refs(), "stored asset should be removed")
}

func TestCreateProduct_CompensationFailureKeepsPersistenceError(t *testing.T) {
	store := new(mockAssetStore)
	repo := newFakeRepository()
	repo.createErr = errors.New("insert product: disk full")
	svc := newTestService(repo, store)

	store.On("Store", mock.Anything, mock.Anything).Return("/uploads/1-a.png", nil)
	store.On("Delete", mock.Anything, "/uploads/1-a.png").Return(storage.ErrBackendUnavailable)

	_, err := svc.CreateProduct(context.Background(), &CreateProductInput{
		Name:     "Bug-X",
		Category: "Insecticides",
		Image:    imageUpload("IMG1"),
	})
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
	assert.NotErrorIs(t, err, apperrors.ErrAssetStore)
	store.AssertExpectations(t)
}

func TestCreateProduct_AssetCallsIgnoreCancellation(t *testing.T) {
	store := new(mockAssetStore)
	svc := newTestService(newFakeRepository(), store)

	ctx, cancel := context.WithCancel(context.Background())
	store.On("Store", mock.MatchedBy(func(c context.Context) bool {
		cancel()
		return c.Err() == nil
	}), mock.Anything).Return("/uploads/1-a.png", nil)

	_, err := svc.CreateProduct(ctx, &CreateProductInput{
		Name:     "Bug-X",
		Category: "Insecticides",
		Image:    imageUpload("IMG1"),
	})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestCreateProduct_EventFailureDoesNotFail(t *testing.T) {
	logger := newTestLogger()
	svc := NewCatalogService(newFakeRepository(), memory.New("", 0),
		event.NewProducer(failingPublisher{}, logger), logger)

	p, err := svc.CreateProduct(context.Background(), &CreateProductInput{Name: "Bug-X", Category: "Insecticides"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
}

// --- Read ---

func TestListProducts(t *testing.T) {
	svc, _, _ := newMemoryService()
	ctx := context.Background()

	for _, in := range []CreateProductInput{
		{Name: "Aphid Away", Category: "Insecticides"},
		{Name: "Mildew Stop", Category: "Fungicides"},
		{Name: "Aphid Max", Category: "Insecticides"},
	} {
		_, err := svc.CreateProduct(ctx, &in)
		require.NoError(t, err)
	}

	all, err := svc.ListProducts(ctx, ListProductsInput{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt))
	}

	filtered, err := svc.ListProducts(ctx, ListProductsInput{Category: " INSECTICIDES ", Search: "aphid"})
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, "Aphid Max", filtered[0].Name)

	_, err = svc.ListProducts(ctx, ListProductsInput{Category: "Seeds"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestListProducts_NewestFirstWithMixedCaseSearch(t *testing.T) {
	svc, _, _ := newMemoryService()
	ctx := context.Background()

	names := []string{"APHID Away", "Mildew Stop", "aphid max", "Anti-Aphid Oil", "Rust Guard"}
	for _, name := range names {
		_, err := svc.CreateProduct(ctx, &CreateProductInput{Name: name, Category: "Insecticides"})
		require.NoError(t, err)
	}

	all, err := svc.ListProducts(ctx, ListProductsInput{})
	require.NoError(t, err)
	require.Len(t, all, len(names))
	for i := range all {
		assert.Equal(t, names[len(names)-1-i], all[i].Name)
		if i > 0 {
			assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt), "listing must be newest first")
		}
	}

	for _, term := range []string{"aphid", "APHID", "ApHiD", "  aPhId "} {
		found, err := svc.ListProducts(ctx, ListProductsInput{Search: term})
		require.NoError(t, err)
		got := make([]string, 0, len(found))
		for _, p := range found {
			got = append(got, p.Name)
		}
		assert.Equal(t, []string{"Anti-Aphid Oil", "aphid max", "APHID Away"}, got, "search %q", term)
	}

	none, err := svc.ListProducts(ctx, ListProductsInput{Search: "APHIDS"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStats_IncludesEveryCategory(t *testing.T) {
	svc, _, _ := newMemoryService()
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, &CreateProductInput{Name: "A", Category: "Weedicides"})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Len(t, stats.ByCategory, 4)
	assert.Equal(t, 1, stats.ByCategory[domain.CategoryWeedicides])
	assert.Equal(t, 0, stats.ByCategory[domain.CategoryPlantGrowthRegulators])
}

func TestGetProduct_NotFound(t *testing.T) {
	svc, _, _ := newMemoryService()
	_, err := svc.GetProduct(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// --- Update ---

func TestUpdateProduct_WithoutPayloadKeepsImage(t *testing.T) {
	svc, _, store := newMemoryService()
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, &CreateProductInput{Name: "Bug-X", Category: "Insecticides", Image: imageUpload("IMG1")})
	require.NoError(t, err)
	ref := *p.Image

	updated, err := svc.UpdateProduct(ctx, p.ID, &UpdateProductInput{Name: strPtr("Bug-X Pro"), Description: strPtr("")})
	require.NoError(t, err)
	assert.Equal(t, "Bug-X Pro", updated.Name)
	require.NotNil(t, updated.Image)
	assert.Equal(t, ref, *updated.Image)
	assert.Equal(t, "IMG1", fetch(t, store, ref))
}

func TestUpdateProduct_DescriptionSemantics(t *testing.T) {
	svc, _, _ := newMemoryService()
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, &CreateProductInput{Name: "Bug-X", Category: "Insecticides", Description: "original"})
	require.NoError(t, err)

	updated, err := svc.UpdateProduct(ctx, p.ID, &UpdateProductInput{Category: strPtr("fungicides")})
	require.NoError(t, err)
	assert.Equal(t, "original", updated.Description)
	assert.Equal(t, domain.CategoryFungicides, updated.Category)

	updated, err = svc.UpdateProduct(ctx, p.ID, &UpdateProductInput{Description: strPtr("  ")})
	require.NoError(t, err)
	assert.Empty(t, updated.Description)
}

func TestUpdateProduct_ReplacesImage(t *testing.T) {
	svc, _, store := newMemoryService()
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, &CreateProductInput{Name: "Bug-X", Category: "Insecticides", Image: imageUpload("IMG1")})
	require.NoError(t, err)
	oldRef := *p.Image

	updated, err := svc.UpdateProduct(ctx, p.ID, &UpdateProductInput{Image: imageUpload("IMG2")})
	require.NoError(t, err)
	newRef := *updated.Image

	assert.NotEqual(t, oldRef, newRef)
	assertGone(t, store, oldRef)
	assert.Equal(t, "IMG2", fetch(t, store, newRef))
	assert.Equal(t, []string{newRef}, store.Refs())
}

func TestUpdateProduct_NotFoundDiscardsPayload(t *testing.T) {
	store := new(mockAssetStore)
	svc := newTestService(newFakeRepository(), store)

	upload := imageUpload("IMG1")
	_, err := svc.UpdateProduct(context.Background(), uuid.NewString(), &UpdateProductInput{Image: upload})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Nil(t, upload.Data)
	store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
}

func TestUpdateProduct_BlankNameIsValidation(t *testing.T) {
	svc, _, _ := newMemoryService()
	_, err := svc.UpdateProduct(context.Background(), uuid.NewString(), &UpdateProductInput{Name: strPtr(" ")})
	assert.True(t, apperrors.IsValidation(err))
}

func TestUpdateProduct_PersistenceFailureKeepsOldImage(t *testing.T) {
	svc, repo, store := newMemoryService()
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, &CreateProductInput{Name: "Bug-X", Category: "Insecticides", Image: imageUpload("IMG1")})
	require.NoError(t, err)
	oldRef := *p.Image

	repo.updateErr = errors.New("update product: deadlock detected")
	_, err = svc.UpdateProduct(ctx, p.ID, &UpdateProductInput{Image: imageUpload("IMG2")})
	assert.ErrorIs(t, err, apperrors.ErrPersistence)

	// The record still points at the old asset, which must still exist,
	// and the new asset was cleaned up.
	current, err := svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, oldRef, *current.Image)
	assert.Equal(t, "IMG1", fetch(t, store, oldRef))
	assert.Equal(t, []string{oldRef}, store.Refs())
}

func TestUpdateProduct_StaleDeleteFailureStillSucceeds(t *testing.T) {
	repo := newFakeRepository()
	store := &flakyStore{Storage: memory.New("/uploads", 0), failDelete: map[string]bool{}}
	svc := newTestService(repo, store)
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, &CreateProductInput{Name: "Bug-X", Category: "Insecticides", Image: imageUpload("IMG1")})
	require.NoError(t, err)
	store.failDelete[*p.Image] = true

	updated, err := svc.UpdateProduct(ctx, p.ID, &UpdateProductInput{Image: imageUpload("IMG2")})
	require.NoError(t, err)
	assert.Equal(t, "IMG2", fetch(t, store, *updated.Image))
}

func TestUpdateProduct_StoreFailureLeavesRecord(t *testing.T) {
	store := new(mockAssetStore)
	repo := newFakeRepository()
	svc := newTestService(repo, store)
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, &CreateProductInput{Name: "Bug-X", Category: "Insecticides"})
	require.NoError(t, err)

	store.On("Store", mock.Anything, mock.Anything).Return("", storage.ErrBackendUnavailable)

	_, err = svc.UpdateProduct(ctx, p.ID, &UpdateProductInput{Name: strPtr("renamed"), Image: imageUpload("IMG1")})
	assert.ErrorIs(t, err, apperrors.ErrAssetStore)

	current, err := svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bug-X", current.Name)
}

func TestUpdateProduct_ReplacesCurrentImageNotCachedOne(t *testing.T) {
	svc, repo, store := newMemoryService()
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, &CreateProductInput{Name: "Bug-X", Category: "Insecticides", Image: imageUpload("IMG1")})
	require.NoError(t, err)
	firstRef := *p.Image

	second, err := svc.UpdateProduct(ctx, p.ID, &UpdateProductInput{Image: imageUpload("IMG2")})
	require.NoError(t, err)
	secondRef := *second.Image

	// A read-through cache still holds the first version.
	repo.cached[p.ID] = *p

	third, err := svc.UpdateProduct(ctx, p.ID, &UpdateProductInput{Image: imageUpload("IMG3")})
	require.NoError(t, err)
	thirdRef := *third.Image

	assertGone(t, store, firstRef)
	assertGone(t, store, secondRef)
	assert.Equal(t, []string{thirdRef}, store.Refs())

	require.NoError(t, svc.DeleteProduct(ctx, p.ID))
	assertGone(t, store, thirdRef)
	assert.Empty(t, store.Refs())
}

// --- Delete ---

func TestDeleteProduct_RemovesAssetAndRecord(t *testing.T) {
	svc, _, store := newMemoryService()
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, &CreateProductInput{Name: "Bug-X", Category: "Insecticides", Image: imageUpload("IMG1")})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteProduct(ctx, p.ID))
	assertGone(t, store, *p.Image)

	assert.ErrorIs(t, svc.DeleteProduct(ctx, p.ID), apperrors.ErrNotFound)
}

func TestDeleteProduct_AssetFailureDoesNotBlock(t *testing.T) {
	repo := newFakeRepository()
	store := &flakyStore{Storage: memory.New("/uploads", 0), failDelete: map[string]bool{}}
	svc := newTestService(repo, store)
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, &CreateProductInput{Name: "Bug-X", Category: "Insecticides", Image: imageUpload("IMG1")})
	require.NoError(t, err)
	store.failDelete[*p.Image] = true

	require.NoError(t, svc.DeleteProduct(ctx, p.ID))

	_, err = svc.GetProduct(ctx, p.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteProduct(ctx, p.ID), apperrors.ErrNotFound)
}

func TestDeleteProduct_MissingAssetTolerated(t *testing.T) {
	svc, _, store := newMemoryService()
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, &CreateProductInput{Name: "Bug-X", Category: "Insecticides", Image: imageUpload("IMG1")})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, *p.Image))

	assert.NoError(t, svc.DeleteProduct(ctx, p.ID))
}

func TestDeleteProduct_RecordFailureIsPersistenceError(t *testing.T) {
	svc, repo, _ := newMemoryService()
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, &CreateProductInput{Name: "Bug-X", Category: "Insecticides"})
	require.NoError(t, err)

	repo.deleteErr = errors.New("delete product: connection reset")
	err = svc.DeleteProduct(ctx, p.ID)
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
}

// --- Bulk delete ---

func TestDeleteAllProducts_ForbiddenInProduction(t *testing.T) {
	env := "production"
	svc, repo, store := newMemoryService(WithEnvironment(func() string { return env }))
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, &CreateProductInput{Name: "Bug-X", Category: "Insecticides", Image: imageUpload("IMG1")})
	require.NoError(t, err)

	_, err = svc.DeleteAllProducts(ctx)
	assert.ErrorIs(t, err, apperrors.ErrForbiddenInEnvironment)
	assert.Len(t, repo.products, 1)
	assert.Equal(t, "IMG1", fetch(t, store, *p.Image))

	// The environment is consulted on every call.
	env = "staging"
	result, err := svc.DeleteAllProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ProductsDeleted)
}

func TestDeleteAllProducts_ReadsEnvironmentVariable(t *testing.T) {
	svc, _, _ := newMemoryService()

	t.Setenv("ENVIRONMENT", "PRODUCTION")
	_, err := svc.DeleteAllProducts(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrForbiddenInEnvironment)

	t.Setenv("ENVIRONMENT", "local")
	_, err = svc.DeleteAllProducts(context.Background())
	assert.NoError(t, err)
}

func TestDeleteAllProducts_RepositoryRefusalIsNotPersistenceError(t *testing.T) {
	svc, repo, _ := newMemoryService(WithEnvironment(func() string { return "staging" }))
	repo.deleteAllErr = apperrors.ForbiddenInEnvironment("bulk delete", "production")

	_, err := svc.DeleteAllProducts(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrForbiddenInEnvironment)
	assert.NotErrorIs(t, err, apperrors.ErrPersistence)
}

func TestDeleteAllProducts_CountsAssets(t *testing.T) {
	repo := newFakeRepository()
	store := &flakyStore{Storage: memory.New("/uploads", 0), failDelete: map[string]bool{}}
	svc := newTestService(repo, store, WithEnvironment(func() string { return "development" }))
	ctx := context.Background()

	var refs []string
	for _, data := range []string{"A", "B", "C"} {
		p, err := svc.CreateProduct(ctx, &CreateProductInput{Name: "P" + data, Category: "Insecticides", Image: imageUpload(data)})
		require.NoError(t, err)
		refs = append(refs, *p.Image)
	}
	_, err := svc.CreateProduct(ctx, &CreateProductInput{Name: "No image", Category: "Weedicides"})
	require.NoError(t, err)

	store.failDelete[refs[1]] = true

	result, err := svc.DeleteAllProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PurgeResult{ProductsDeleted: 4, AssetsDeleted: 2, AssetsFailed: 1}, *result)
	assert.Empty(t, repo.products)
	assert.Equal(t, []string{refs[1]}, store.Refs())
}

func TestDeleteAllProducts_RecordFailure(t *testing.T) {
	svc, repo, _ := newMemoryService(WithEnvironment(func() string { return "" }))
	repo.deleteAllErr = errors.New("truncate: lock timeout")

	_, err := svc.DeleteAllProducts(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
}

// --- End to end over the memory backend ---

func TestProductImageLifecycle(t *testing.T) {
	svc, _, store := newMemoryService()
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, &CreateProductInput{Name: "Bug-X", Category: "Insecticides"})
	require.NoError(t, err)
	assert.False(t, p.HasImage())

	p, err = svc.UpdateProduct(ctx, p.ID, &UpdateProductInput{Image: imageUpload("IMG1")})
	require.NoError(t, err)
	ref1 := *p.Image
	assert.Equal(t, "IMG1", fetch(t, store, ref1))

	p, err = svc.UpdateProduct(ctx, p.ID, &UpdateProductInput{Image: imageUpload("IMG2")})
	require.NoError(t, err)
	ref2 := *p.Image
	assertGone(t, store, ref1)
	assert.Equal(t, "IMG2", fetch(t, store, ref2))

	require.NoError(t, svc.DeleteProduct(ctx, p.ID))
	_, err = svc.GetProduct(ctx, p.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assertGone(t, store, ref2)
}
