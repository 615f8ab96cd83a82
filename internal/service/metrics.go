package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Asset operation results.
const (
	resultSuccess  = "success"
	resultFailure  = "failure"
	resultNotFound = "not_found"
)

// Reasons an asset can be left without an owning product.
const (
	orphanCompensationFailed = "compensation_failed"
	orphanStaleDeleteFailed  = "stale_delete_failed"
	orphanProductDeleted     = "product_delete_asset_failed"
	orphanPurge              = "purge_asset_failed"
)

var (
	assetOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_asset_operations_total",
			Help: "Asset store calls made by the catalog coordinator",
		},
		[]string{"backend", "operation", "result"},
	)

	orphanedAssets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_orphaned_assets_total",
			Help: "Assets left in the store without an owning product",
		},
		[]string{"reason"},
	)
)
