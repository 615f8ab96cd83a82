package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrikart/catalog/internal/domain"
	apperrors "github.com/agrikart/catalog/pkg/errors"
)

type fakeCatalog struct {
	stats    *domain.Stats
	purge    *domain.PurgeResult
	err      error
	purged   bool
	logLevel string
	closed   bool
}

func (f *fakeCatalog) Stats(context.Context) (*domain.Stats, error) {
	return f.stats, f.err
}

func (f *fakeCatalog) DeleteAllProducts(context.Context) (*domain.PurgeResult, error) {
	f.purged = true
	return f.purge, f.err
}

func (f *fakeCatalog) opener() Opener {
	return func(_ context.Context, logLevel string) (Catalog, func(), error) {
		f.logLevel = logLevel
		return f, func() { f.closed = true }, nil
	}
}

func run(t *testing.T, open Opener, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(open, &out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStats_Table(t *testing.T) {
	f := &fakeCatalog{stats: &domain.Stats{
		Total: 3,
		ByCategory: map[domain.Category]int{
			domain.CategoryInsecticides:          2,
			domain.CategoryFungicides:            1,
			domain.CategoryWeedicides:            0,
			domain.CategoryPlantGrowthRegulators: 0,
		},
	}}

	out, err := run(t, f.opener(), "stats", "--log-level", "debug")

	require.NoError(t, err)
	assert.Contains(t, out, "Insecticides")
	assert.Contains(t, out, "Plant Growth Regulators")
	assert.Regexp(t, `TOTAL\s+3`, out)
	assert.Equal(t, "debug", f.logLevel)
	assert.True(t, f.closed)
}

func TestStats_JSON(t *testing.T) {
	f := &fakeCatalog{stats: &domain.Stats{Total: 1, ByCategory: map[domain.Category]int{domain.CategoryWeedicides: 1}}}

	out, err := run(t, f.opener(), "stats", "--json")

	require.NoError(t, err)
	var got domain.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 1, got.ByCategory[domain.CategoryWeedicides])
}

func TestPurge_RequiresConfirmation(t *testing.T) {
	opened := false
	open := func(context.Context, string) (Catalog, func(), error) {
		opened = true
		return nil, nil, errors.New("unexpected")
	}

	_, err := run(t, open, "purge")

	require.ErrorIs(t, err, errNotConfirmed)
	assert.False(t, opened, "nothing is opened before confirmation")
}

func TestPurge_ReportsCounts(t *testing.T) {
	f := &fakeCatalog{purge: &domain.PurgeResult{ProductsDeleted: 4, AssetsDeleted: 3, AssetsFailed: 1}}

	out, err := run(t, f.opener(), "purge", "--yes")

	require.NoError(t, err)
	assert.True(t, f.purged)
	assert.Equal(t, "deleted 4 products, 3 images (1 image deletions failed)\n", out)
}

func TestPurge_ForbiddenInProduction(t *testing.T) {
	f := &fakeCatalog{err: apperrors.ForbiddenInEnvironment("bulk delete", "production")}

	_, err := run(t, f.opener(), "purge", "--yes")

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrForbiddenInEnvironment)
	assert.True(t, f.closed)
}

func TestOpenFailure(t *testing.T) {
	open := func(context.Context, string) (Catalog, func(), error) {
		return nil, nil, errors.New("connect to postgres: refused")
	}

	_, err := run(t, open, "stats")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "open catalog")
}
