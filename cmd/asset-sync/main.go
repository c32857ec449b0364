package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/folioworks/asset-sync/pkg/cache"
	"github.com/folioworks/asset-sync/pkg/config"
	"github.com/folioworks/asset-sync/pkg/fetch"
	applog "github.com/folioworks/asset-sync/pkg/log"
	"github.com/folioworks/asset-sync/pkg/orchestrate"
	"github.com/folioworks/asset-sync/pkg/source"
	"github.com/folioworks/asset-sync/pkg/storage"
	"github.com/folioworks/asset-sync/pkg/utils"
)

const version = "0.4.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "sync":
		runSync(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-collections":
		runListCollections(os.Args[2:])
	case "version":
		fmt.Printf("asset-sync %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `asset-sync - Mirror cloud-hosted media referenced by site data into local assets

Usage:
  asset-sync <command> [options]

Commands:
  sync              Fetch the data source, download media, write rewritten records
  validate          Validate configuration file
  list-collections  List available collection keys
  version           Show version info

Only one sync may run against a given assets directory at a time. Two concurrent
instances sharing assets_root can corrupt each other's downloads.

Run 'asset-sync <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

type syncOptions struct {
	configFile    string
	keys          []string
	all           bool
	logLevel      string
	progress      bool
	writeAssetLog bool
	resetLedger   bool
}

// runSync handles the sync subcommand
func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	collection := fs.String("collection", "", "Collection key from config (single collection)")
	collections := fs.String("collections", "", "Comma-separated collection keys")
	all := fs.Bool("all", false, "Sync all configured collections")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	progress := fs.Bool("progress", false, "Show a progress bar per download")
	writeAssetLog := fs.Bool("write-asset-log", false, "Write the asset ledger as TSV into state_dir on completion")
	resetLedger := fs.Bool("reset-ledger", false, "Delete the asset ledger before syncing")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: asset-sync sync [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  asset-sync sync -collection projects\n")
		fmt.Fprintf(os.Stderr, "  asset-sync sync -collections projects,pages -progress\n")
		fmt.Fprintf(os.Stderr, "  asset-sync sync -all\n")
		fmt.Fprintf(os.Stderr, "\nDo not run two syncs against the same assets directory concurrently.\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	keys := parseKeys(*collection, *collections)
	if !*all && len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "Error: one of -collection, -collections, or -all is required")
		fs.Usage()
		os.Exit(1)
	}

	opts := syncOptions{
		configFile:    *configFile,
		keys:          keys,
		all:           *all,
		logLevel:      *logLevel,
		progress:      *progress,
		writeAssetLog: *writeAssetLog,
		resetLedger:   *resetLedger,
	}
	os.Exit(executeSync(opts, os.Stderr))
}

// parseKeys merges -collection and -collections into one ordered, de-duplicated list
func parseKeys(single, list string) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, k := range append([]string{single}, strings.Split(list, ",")...) {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

// executeSync runs the sync and returns the process exit code. Asset failures exit 0; only
// configuration errors and collection-level failures (source unavailable with no fallback,
// output not writable) exit 1.
func executeSync(opts syncOptions, logOut io.Writer) int {
	log := applog.New(opts.logLevel, logOut)
	runID := uuid.NewString()
	log.WithField("run_id", runID).Infof("asset-sync %s starting", version)

	appCfg, err := loadAndValidateConfig(opts.configFile, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}

	keys := opts.keys
	if opts.all {
		keys = orchestrate.GetAllCollectionKeys(appCfg)
		log.Infof("All collections mode: found %d collections", len(keys))
	}
	if err := orchestrate.ValidateCollectionKeys(appCfg, keys); err != nil {
		log.Errorf("Invalid collection keys: %v", err)
		return 1
	}
	if err := validateCollectionConfigs(appCfg, keys, log); err != nil {
		log.Errorf("Collection configuration error: %v", err)
		return 1
	}
	logAppConfig(appCfg, log)

	// --- Context & Signal Handling ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal %v, stopping after the current asset...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// --- Storage ---
	ledger, err := storage.NewBadgerStore(appCfg.StateDir, opts.resetLedger, log)
	if err != nil {
		log.Errorf("Failed to open asset ledger: %v", err)
		return 1
	}
	stopGC := ledger.StartGC(ctx, appCfg.DBGCInterval)
	defer func() {
		stopGC()
		ledger.Close()
	}()

	// --- HTTP Fetching Components ---
	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, log)
	fetcher := fetch.NewFetcher(httpClient, appCfg, log)
	engine := fetch.NewEngine(httpClient, appCfg, log)
	if opts.progress {
		engine.WithProgress(func(total int64, description string) *progressbar.ProgressBar {
			return progressbar.DefaultBytes(total, description)
		})
	}

	reconciler := cache.NewReconciler(appCfg.AssetsRoot, appCfg.PublicPrefix, appCfg.TempExtension, log)
	orch := orchestrate.NewOrchestrator(engine, reconciler, ledger, log)
	loader := source.NewLoader(fetcher, appCfg.StateDir, appCfg.UserAgent, log)
	syncer := orchestrate.NewSyncer(appCfg, loader, orch, runID, log)

	_, runErr := syncer.Run(ctx, keys)

	if opts.writeAssetLog {
		logPath := filepath.Join(appCfg.StateDir, "asset_log.tsv")
		if err := ledger.WriteAssetLog(context.Background(), logPath); err != nil {
			log.Errorf("Failed to write asset log: %v", err)
		}
	}
	if count, err := ledger.GetAssetCount(); err == nil {
		log.Debugf("Asset ledger holds %d entries", count)
	}

	if runErr != nil {
		if errors.Is(runErr, utils.ErrSourceUnavailable) {
			log.Error("Data source unavailable and no previous copy exists")
		}
		return 1
	}
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	collection := fs.String("collection", "", "Collection key to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: asset-sync validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, *collection, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, key string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	keys := orchestrate.GetAllCollectionKeys(appCfg)
	if key != "" {
		if _, ok := appCfg.Collections[key]; !ok {
			fmt.Fprintf(stderr, "Error: collection '%s' not found in config\n", key)
			return 1
		}
		keys = []string{key}
	}

	hasError := false
	for _, k := range keys {
		col := appCfg.Collections[k]
		colWarnings, err := col.ValidateAs(k)
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", k, err)
			hasError = true
			continue
		}
		for _, w := range colWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", k, w)
		}
		fmt.Fprintf(stdout, "OK: [%s]\n", k)
	}
	if hasError {
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListCollections handles the list-collections subcommand
func runListCollections(args []string) {
	fs := flag.NewFlagSet("list-collections", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: asset-sync list-collections [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doListCollections(*configFile, os.Stdout, os.Stderr))
}

// doListCollections lists collections and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListCollections(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Collections in %s:\n\n", configPath)
	for _, key := range orchestrate.GetAllCollectionKeys(appCfg) {
		col := appCfg.Collections[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		fmt.Fprintf(stdout, "    Source: %s\n", col.SourceURL)
		fmt.Fprintf(stdout, "    Output: %s\n", col.OutputPath)
		fmt.Fprintf(stdout, "    Namespace: %s\n", config.GetEffectiveNamespace(col, key))
		if len(col.MediaFields) > 0 {
			fmt.Fprintf(stdout, "    Media Fields: %s\n", strings.Join(col.MediaFields, ", "))
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) (*config.AppConfig, error) {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	return appCfg, nil
}

// validateCollectionConfigs validates and normalizes each selected collection
func validateCollectionConfigs(appCfg *config.AppConfig, keys []string, log *logrus.Logger) error {
	for _, key := range keys {
		col := appCfg.Collections[key]
		warnings, err := col.ValidateAs(key)
		if err != nil {
			return fmt.Errorf("collection '%s': %w", key, err)
		}
		for _, w := range warnings {
			log.Warnf("[%s] %s", key, w)
		}
		appCfg.Collections[key] = col
	}
	return nil
}

func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.WithFields(logrus.Fields{
		"assets_root":     appCfg.AssetsRoot,
		"public_prefix":   appCfg.PublicPrefix,
		"state_dir":       appCfg.StateDir,
		"max_retries":     appCfg.MaxRetries,
		"retry_backoff":   appCfg.RetryBackoff,
		"attempt_timeout": appCfg.AttemptTimeout,
		"max_hops":        appCfg.MaxHops,
		"max_asset_bytes": appCfg.MaxAssetBytes,
		"download_url":    appCfg.Drive.DownloadURL,
	}).Info("Effective configuration")
}
