package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/folioworks/asset-sync/pkg/cache"
	"github.com/folioworks/asset-sync/pkg/config"
	"github.com/folioworks/asset-sync/pkg/drive"
	"github.com/folioworks/asset-sync/pkg/fetch"
	"github.com/folioworks/asset-sync/pkg/models"
	"github.com/folioworks/asset-sync/pkg/storage"
	"github.com/folioworks/asset-sync/pkg/utils"
)

// Downloader fetches one file id into tempPath. *fetch.Engine implements it.
type Downloader interface {
	Download(ctx context.Context, fileID, tempPath string, maxBytes int64) (*fetch.Download, error)
}

// Options describes one collection's processing parameters
type Options struct {
	Namespace     string
	NameField     string
	MaxAssetBytes int64
	RunID         string
}

// Result holds the counters of one Process call
type Result struct {
	Records      []*models.Record
	Downloaded   int
	Skipped      int
	Errored      int
	BytesFetched int64
	Failures     []models.AssetFailure
}

// Orchestrator walks records and fields one at a time and rewrites resolved media links to local paths.
// Only one Orchestrator may work on a given assets directory at a time.
type Orchestrator struct {
	downloader Downloader
	reconciler *cache.Reconciler
	ledger     storage.AssetStore // optional
	log        *logrus.Logger
}

// NewOrchestrator creates an Orchestrator. ledger may be nil.
func NewOrchestrator(downloader Downloader, reconciler *cache.Reconciler, ledger storage.AssetStore, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		downloader: downloader,
		reconciler: reconciler,
		ledger:     ledger,
		log:        log,
	}
}

// runState tracks file ids already handled during one Process call
type runState struct {
	fetched map[string]string // file id -> cached file name
	failed  map[string]error
}

// Process resolves every media field of records in input order. Records are modified in place.
// Per-asset failures are counted and leave the original URL; only context cancellation aborts.
func (o *Orchestrator) Process(ctx context.Context, records []*models.Record, fields []string, opts Options) (*Result, error) {
	if opts.NameField == "" {
		opts.NameField = "name"
	}
	result := &Result{Records: records}
	run := &runState{
		fetched: make(map[string]string),
		failed:  make(map[string]error),
	}

	if removed, err := o.reconciler.CleanStale(opts.Namespace); err != nil {
		o.log.Warnf("Failed to clean stale temp files: %v", err)
	} else if removed > 0 {
		o.log.WithField("namespace", opts.Namespace).Infof("Removed %d stale temp files from an earlier run", removed)
	}

	for i, rec := range records {
		if rec == nil {
			continue
		}
		name, _ := rec.GetString(opts.NameField)
		slug := utils.Slugify(name)

		for _, field := range fields {
			if err := ctx.Err(); err != nil {
				return result, fmt.Errorf("processing aborted at record %d: %w", i, err)
			}
			value, ok := rec.GetString(field)
			if !ok || value == "" {
				continue
			}
			fileID, err := drive.ExtractFileID(value)
			if err != nil {
				continue
			}
			if slug == "" {
				o.log.WithFields(logrus.Fields{"record": i, "field": field}).Warnf("Record has no usable '%s'; leaving media link unchanged", opts.NameField)
				continue
			}

			publicPath, outcome, n, err := o.resolve(ctx, run, opts, slug, field, fileID, value)
			fieldLog := o.log.WithFields(logrus.Fields{"slug": slug, "field": field, "file_id": fileID})
			switch outcome {
			case models.AssetStatusSuccess:
				result.Downloaded++
				result.BytesFetched += n
				rec.Set(field, publicPath)
				fieldLog.Infof("Downloaded %s", publicPath)
			case models.AssetStatusSkipped:
				result.Skipped++
				rec.Set(field, publicPath)
				fieldLog.Debugf("Cache hit %s", publicPath)
			default:
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return result, fmt.Errorf("processing aborted at record %d: %w", i, err)
				}
				result.Errored++
				failure := models.AssetFailure{
					Slug:   slug,
					Field:  field,
					FileID: fileID,
					URL:    value,
					Kind:   utils.CategorizeError(err),
					Err:    err,
				}
				result.Failures = append(result.Failures, failure)
				fieldLog.WithField("error_type", failure.Kind).Warnf("Asset failed, keeping original URL: %v", err)
			}
		}
	}

	return result, nil
}

// resolve returns the public path of the asset, the outcome, and the bytes downloaded
func (o *Orchestrator) resolve(ctx context.Context, run *runState, opts Options, slug, field, fileID, link string) (string, models.AssetStatus, int64, error) {
	base := cache.BaseName(slug, field, fileID)
	o.notePrevious(opts.Namespace, base)

	if name, hit, err := o.reconciler.Lookup(opts.Namespace, base); err != nil {
		o.record(opts, base, fileID, link, models.AssetStatusFailure, "", 0, err)
		return "", models.AssetStatusFailure, 0, err
	} else if hit {
		run.fetched[fileID] = name
		o.record(opts, base, fileID, link, models.AssetStatusSkipped, name, 0, nil)
		return o.reconciler.PublicPath(opts.Namespace, name), models.AssetStatusSkipped, 0, nil
	}

	if err, seen := run.failed[fileID]; seen {
		return "", models.AssetStatusFailure, 0, err
	}

	if src, seen := run.fetched[fileID]; seen {
		name, err := o.reconciler.CopyAs(opts.Namespace, src, base)
		if err != nil {
			o.record(opts, base, fileID, link, models.AssetStatusFailure, "", 0, err)
			return "", models.AssetStatusFailure, 0, err
		}
		o.record(opts, base, fileID, link, models.AssetStatusSkipped, name, 0, nil)
		return o.reconciler.PublicPath(opts.Namespace, name), models.AssetStatusSkipped, 0, nil
	}

	target, err := o.reconciler.Target(opts.Namespace, base)
	if err != nil {
		o.record(opts, base, fileID, link, models.AssetStatusFailure, "", 0, err)
		return "", models.AssetStatusFailure, 0, err
	}

	d, err := o.downloader.Download(ctx, fileID, target.TempPath, opts.MaxAssetBytes)
	if err != nil {
		target.Abandon()
		run.failed[fileID] = err
		o.record(opts, base, fileID, link, models.AssetStatusFailure, "", 0, err)
		return "", models.AssetStatusFailure, 0, err
	}

	name, err := target.Finalize(d.Ext)
	if err != nil {
		run.failed[fileID] = err
		o.record(opts, base, fileID, link, models.AssetStatusFailure, "", 0, err)
		return "", models.AssetStatusFailure, 0, err
	}
	run.fetched[fileID] = name
	o.record(opts, base, fileID, link, models.AssetStatusSuccess, name, d.Bytes, nil)
	return o.reconciler.PublicPath(opts.Namespace, name), models.AssetStatusSuccess, d.Bytes, nil
}

// notePrevious logs when the ledger remembers a failure for this asset from an earlier run
func (o *Orchestrator) notePrevious(namespace, base string) {
	if o.ledger == nil {
		return
	}
	status, entry, err := o.ledger.CheckAssetStatus(namespace, base)
	if err != nil || status != models.AssetStatusFailure || entry == nil {
		return
	}
	o.log.WithFields(logrus.Fields{
		"asset":        base,
		"error_type":   entry.ErrorType,
		"last_attempt": entry.LastAttempt.Format(time.RFC3339),
	}).Info("Asset failed on a previous run, trying again")
}

func (o *Orchestrator) record(opts Options, base, fileID, link string, status models.AssetStatus, name string, n int64, cause error) {
	if o.ledger == nil {
		return
	}
	entry := &models.AssetDBEntry{
		Status:      status,
		FileID:      fileID,
		SourceURL:   link,
		Bytes:       n,
		RunID:       opts.RunID,
		LastAttempt: time.Now(),
	}
	if name != "" {
		entry.LocalPath = o.reconciler.PublicPath(opts.Namespace, name)
		if sum, size, err := utils.FileSHA256(o.reconciler.Path(opts.Namespace, name)); err == nil {
			entry.SHA256 = sum
			entry.Bytes = size
		} else {
			o.log.WithField("asset", name).Debugf("Could not hash cached file: %v", err)
		}
	}
	if cause != nil {
		entry.ErrorType = utils.CategorizeError(cause)
	}
	if err := o.ledger.UpdateAssetStatus(opts.Namespace, base, entry); err != nil {
		o.log.WithField("asset", base).Warnf("Failed to update asset ledger: %v", err)
	}
}

// ValidateCollectionKeys checks that all provided collection keys exist in the config
func ValidateCollectionKeys(appCfg *config.AppConfig, keys []string) error {
	for _, key := range keys {
		if _, exists := appCfg.Collections[key]; !exists {
			return fmt.Errorf("%w: collection '%s' not found. Available collections: %v", utils.ErrConfigValidation, key, GetAllCollectionKeys(appCfg))
		}
	}
	return nil
}

// GetAllCollectionKeys returns all collection keys from the config, sorted
func GetAllCollectionKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Collections))
	for k := range appCfg.Collections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
