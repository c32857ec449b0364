package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/folioworks/asset-sync/pkg/log"
	"github.com/folioworks/asset-sync/pkg/models"
	"github.com/folioworks/asset-sync/pkg/utils"
)

const (
	assetKeyPrefix = "asset:"       // Prefix for asset keys in DB, followed by <namespace>/<base>
	ledgerDBDir    = "asset_ledger" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the Ledger interface using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached key count for O(1) GetAssetCount
}

// NewBadgerStore opens the ledger under stateDir. When reset is true any existing ledger is removed first.
func NewBadgerStore(stateDir string, reset bool, logger *logrus.Logger) (*BadgerStore, error) {
	store := &BadgerStore{
		log: logger.WithField("component", "ledger"),
	}
	dbPath := filepath.Join(stateDir, ledgerDBDir)

	if reset {
		store.log.Warnf("Reset requested. REMOVING existing asset ledger: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			store.log.Errorf("Failed to remove existing ledger %s: %v", dbPath, err)
		}
	}

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(store.log.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	count, err := store.countKeys()
	if err != nil {
		store.log.Warnf("Failed to count existing ledger keys: %v", err)
	} else {
		store.keyCount.Store(int64(count))
	}

	store.log.WithFields(logrus.Fields{"path": dbPath, "entries": count}).Debug("Asset ledger opened")
	return store, nil
}

func (s *BadgerStore) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(assetKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func assetKey(namespace, base string) []byte {
	return []byte(assetKeyPrefix + namespace + "/" + base)
}

// CheckAssetStatus implements the AssetStore interface
func (s *BadgerStore) CheckAssetStatus(namespace, base string) (models.AssetStatus, *models.AssetDBEntry, error) {
	status := models.AssetStatusNotFound
	var entry *models.AssetDBEntry
	key := assetKey(namespace, base)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting asset key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				s.log.Warnf("Asset key '%s' found with empty value. Treating as 'not_found'.", string(key))
				return nil
			}
			var decoded models.AssetDBEntry
			if errJson := json.Unmarshal(val, &decoded); errJson != nil {
				s.log.Warnf("Failed to unmarshal AssetDBEntry for key '%s': %v. Treating as 'not_found'.", string(key), errJson)
				return nil
			}
			entry = &decoded
			status = decoded.Status
			return nil
		})
	})

	if errView != nil {
		s.log.Errorf("DB View error in CheckAssetStatus for key '%s': %v", string(key), errView)
		return models.AssetStatusDBError, nil, errView
	}
	return status, entry, nil
}

// UpdateAssetStatus implements the AssetStore interface
func (s *BadgerStore) UpdateAssetStatus(namespace, base string, entry *models.AssetDBEntry) error {
	if s.db == nil {
		return fmt.Errorf("%w: ledger not initialized", utils.ErrDatabase)
	}
	key := assetKey(namespace, base)

	entryBytes, errJson := json.Marshal(entry)
	if errJson != nil {
		return fmt.Errorf("%w: failed to marshal AssetDBEntry for key '%s': %w", utils.ErrParsing, string(key), errJson)
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		}
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in UpdateAssetStatus: %v", err)
		return fmt.Errorf("%w: failed setting asset status for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	return nil
}

// GetAssetCount implements the StoreAdmin interface
func (s *BadgerStore) GetAssetCount() (int, error) {
	return int(s.keyCount.Load()), nil
}

// StartGC runs RunGC in the background. The returned stop function cancels it and waits until
// any value log rewrite in progress has finished; call it before Close.
func (s *BadgerStore) StartGC(ctx context.Context, interval time.Duration) (stop func()) {
	gcCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunGC(gcCtx, interval)
	}()
	return func() {
		cancel()
		<-done
	}
}

// RunGC runs BadgerDB's value log garbage collection every interval until ctx is done
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for err == nil && ctx.Err() == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// WriteAssetLog writes "<namespace>/<base> status file_id local_path error_type bytes" lines, tab separated
func (s *BadgerStore) WriteAssetLog(ctx context.Context, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("%w: create asset log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	var firstErr error
	written := 0

	iterErr := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(assetKeyPrefix)

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.KeyCopy(nil)[len(prefix):])

			var entry models.AssetDBEntry
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &entry) }); err != nil {
				s.log.Warnf("Skipping unreadable ledger entry '%s': %v", key, err)
				continue
			}

			line := strings.Join([]string{
				key,
				entry.Status.String(),
				entry.FileID,
				entry.LocalPath,
				entry.ErrorType,
				strconv.FormatInt(entry.Bytes, 10),
			}, "\t")
			if _, err := writer.WriteString(line + "\n"); err != nil && firstErr == nil {
				firstErr = err
			}
			written++
		}
		return nil
	})

	if flushErr := writer.Flush(); flushErr != nil && firstErr == nil {
		firstErr = flushErr
	}
	if iterErr != nil {
		return iterErr
	}
	if firstErr != nil {
		return fmt.Errorf("%w: write asset log '%s': %w", utils.ErrFilesystem, filePath, firstErr)
	}

	s.log.Infof("Wrote %d ledger entries to %s", written, filePath)
	return nil
}

// Close implements the StoreAdmin interface
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing asset ledger: %v", err)
		return err
	}
	return nil
}
