package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/folioworks/asset-sync/pkg/config"
	"github.com/folioworks/asset-sync/pkg/models"
	"github.com/folioworks/asset-sync/pkg/output"
	"github.com/folioworks/asset-sync/pkg/source"
	"github.com/folioworks/asset-sync/pkg/utils"
)

// RecordLoader produces the records of a collection. *source.Loader implements it.
type RecordLoader interface {
	Load(ctx context.Context, key string, col config.CollectionConfig) (*source.Result, error)
}

// Syncer runs whole collections: load the source, resolve assets, write the outputs
type Syncer struct {
	appCfg *config.AppConfig
	loader RecordLoader
	orch   *Orchestrator
	runID  string
	log    *logrus.Logger
}

// NewSyncer creates a Syncer for one run
func NewSyncer(appCfg *config.AppConfig, loader RecordLoader, orch *Orchestrator, runID string, log *logrus.Logger) *Syncer {
	return &Syncer{
		appCfg: appCfg,
		loader: loader,
		orch:   orch,
		runID:  runID,
		log:    log,
	}
}

// Run syncs the given collections one after another. A failing collection does not stop the
// others; the returned error joins every collection-level failure.
func (s *Syncer) Run(ctx context.Context, keys []string) ([]*models.RunSummary, error) {
	startTime := time.Now()
	s.log.Infof("Starting sync of %d collections: %v", len(keys), keys)

	summaries := make([]*models.RunSummary, 0, len(keys))
	var errs []error
	for _, key := range keys {
		summary, err := s.RunCollection(ctx, key)
		if summary != nil {
			summaries = append(summaries, summary)
		}
		if err != nil {
			s.log.WithField("collection", key).Errorf("Sync failed: %v", err)
			errs = append(errs, fmt.Errorf("collection '%s': %w", key, err))
			if ctx.Err() != nil {
				break
			}
		}
	}

	s.logSummary(summaries, time.Since(startTime))
	return summaries, errors.Join(errs...)
}

// RunCollection syncs a single collection. Only an unavailable source, a cancelled context or a
// failure to write the output is returned as an error; asset failures are reported in the summary.
func (s *Syncer) RunCollection(ctx context.Context, key string) (*models.RunSummary, error) {
	colCfg, exists := s.appCfg.Collections[key]
	if !exists {
		return nil, fmt.Errorf("%w: collection '%s' not found in configuration", utils.ErrConfigValidation, key)
	}
	colLog := s.log.WithFields(logrus.Fields{"collection": key, "run_id": s.runID})

	summary := &models.RunSummary{
		CollectionKey: key,
		RunID:         s.runID,
		SourceURL:     colCfg.SourceURL,
		StartTime:     time.Now(),
	}

	loaded, err := s.loader.Load(ctx, key, colCfg)
	if err != nil {
		return nil, err
	}
	summary.UsedFallback = loaded.UsedFallback
	summary.Records = len(loaded.Records)
	if loaded.UsedFallback {
		colLog.Warnf("Using previous copy of the source from %s", loaded.FallbackPath)
	}

	opts := Options{
		Namespace:     config.GetEffectiveNamespace(colCfg, key),
		NameField:     config.GetEffectiveNameField(colCfg),
		MaxAssetBytes: config.GetEffectiveMaxAssetBytes(colCfg, *s.appCfg),
		RunID:         s.runID,
	}
	fields := config.GetEffectiveMediaFields(colCfg, *s.appCfg)
	colLog.WithFields(logrus.Fields{"records": summary.Records, "fields": fields}).Info("Processing records")

	res, err := s.orch.Process(ctx, loaded.Records, fields, opts)
	if res != nil {
		summary.Downloaded = res.Downloaded
		summary.Skipped = res.Skipped
		summary.Errored = res.Errored
		summary.BytesFetched = res.BytesFetched
		summary.BytesHuman = humanize.Bytes(uint64(res.BytesFetched))
		summary.Failures = res.Failures
	}
	summary.EndTime = time.Now()
	if err != nil {
		return summary, err
	}

	if err := output.WriteRecords(colCfg.OutputPath, loaded.Records); err != nil {
		return summary, fmt.Errorf("write records to '%s': %w", colCfg.OutputPath, err)
	}
	if colCfg.SummaryPath != "" {
		if err := output.WriteSummary(colCfg.SummaryPath, summary); err != nil {
			colLog.Warnf("Failed to write run summary: %v", err)
		}
	}

	colLog.WithFields(logrus.Fields{
		"downloaded": summary.Downloaded,
		"skipped":    summary.Skipped,
		"errored":    summary.Errored,
		"bytes":      summary.BytesHuman,
	}).Info("Collection synced")
	return summary, nil
}

// logSummary logs a summary of all collection results
func (s *Syncer) logSummary(summaries []*models.RunSummary, totalDuration time.Duration) {
	s.log.Info("============================================")
	s.log.Infof("Sync completed in %v", totalDuration.Round(time.Millisecond))

	var downloaded, skipped, errored int
	var bytesFetched int64
	for _, r := range summaries {
		status := "OK"
		if r.Errored > 0 {
			status = "DEGRADED"
		}
		s.log.Infof("  %s: %s - %d downloaded, %d skipped, %d errored (%s)",
			r.CollectionKey, status, r.Downloaded, r.Skipped, r.Errored, humanize.Bytes(uint64(r.BytesFetched)))
		for _, f := range r.Failures {
			s.log.Warnf("    %s/%s [%s]: %s", f.Slug, f.Field, f.Kind, f.URL)
		}
		downloaded += r.Downloaded
		skipped += r.Skipped
		errored += r.Errored
		bytesFetched += r.BytesFetched
	}

	s.log.Info("--------------------------------------------")
	s.log.Infof("Total: %d collections, %d downloaded, %d skipped, %d errored, %s fetched",
		len(summaries), downloaded, skipped, errored, humanize.Bytes(uint64(bytesFetched)))
	s.log.Info("============================================")
}
