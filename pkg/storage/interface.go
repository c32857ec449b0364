package storage

import (
	"context"
	"time"

	"github.com/folioworks/asset-sync/pkg/models"
)

// AssetStore records the outcome of each media reference across runs
type AssetStore interface {
	// CheckAssetStatus retrieves the status and details of an asset key
	// Returns status (AssetStatusSuccess, AssetStatusSkipped, AssetStatusFailure, AssetStatusNotFound, AssetStatusDBError),
	// the AssetDBEntry if found and parsed, and any error
	CheckAssetStatus(namespace, base string) (status models.AssetStatus, entry *models.AssetDBEntry, err error)

	// UpdateAssetStatus stores the latest outcome for an asset key
	UpdateAssetStatus(namespace, base string, entry *models.AssetDBEntry) error
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// GetAssetCount returns an approximate count of asset keys in the store
	GetAssetCount() (int, error)

	// WriteAssetLog writes one tab-separated line per asset key to filePath
	WriteAssetLog(ctx context.Context, filePath string) error

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// StartGC runs RunGC in the background; the returned func stops it and waits
	StartGC(ctx context.Context, interval time.Duration) (stop func())

	// Close cleanly closes the database connection
	Close() error
}

// Ledger combines all store interfaces for components that need full access
type Ledger interface {
	AssetStore
	StoreAdmin
}
