package config

import "time"

// DefaultMediaFields lists the record columns that may carry drive links when neither the
// collection nor the global config names its own list.
var DefaultMediaFields = []string{
	"thumbnailImage",
	"heroImage",
	"heroVideo",
	"galleryImage1",
	"galleryImage2",
	"galleryImage3",
	"galleryImage4",
}

// CollectionConfig holds configuration for one tabular data set (projects, pages, ...)
type CollectionConfig struct {
	SourceURL     string        `yaml:"source_url"`
	NameField     string        `yaml:"name_field,omitempty"` // Column the record slug is derived from
	Namespace     string        `yaml:"namespace,omitempty"`  // Subdirectory under assets_root and /assets/<namespace>/
	OutputPath    string        `yaml:"output_path"`          // Rewritten records, formatted JSON
	SummaryPath   string        `yaml:"summary_path,omitempty"`
	MediaFields   []string      `yaml:"media_fields,omitempty"`
	MaxAssetBytes *int64        `yaml:"max_asset_bytes,omitempty"`
	SourceTimeout time.Duration `yaml:"source_timeout,omitempty"`
}

// DriveConfig holds the cloud storage endpoints. Overridable so tests and mirrors can point elsewhere.
type DriveConfig struct {
	DownloadURL string `yaml:"download_url,omitempty"` // Direct download endpoint, receives id= and export=download
	ConfirmURL  string `yaml:"confirm_url,omitempty"`  // Confirmed download endpoint used after the virus-scan page
}

// AppConfig holds the global application configuration
type AppConfig struct {
	UserAgent          string                      `yaml:"user_agent,omitempty"`
	AssetsRoot         string                      `yaml:"assets_root"`                   // Filesystem root, e.g. ./public/assets
	PublicPrefix       string                      `yaml:"public_prefix,omitempty"`       // URL prefix written into records
	StateDir           string                      `yaml:"state_dir"`
	TempExtension      string                      `yaml:"temp_extension,omitempty"`
	MediaFields        []string                    `yaml:"media_fields,omitempty"`
	MaxRetries         int                         `yaml:"max_retries,omitempty"`         // Logical attempts per asset
	RetryBackoff       time.Duration               `yaml:"retry_backoff,omitempty"`
	AttemptTimeout     time.Duration               `yaml:"attempt_timeout,omitempty"`
	MaxHops            int                         `yaml:"max_hops,omitempty"`
	MaxAssetBytes      int64                       `yaml:"max_asset_bytes,omitempty"`
	RequestDelay       time.Duration               `yaml:"request_delay,omitempty"`
	SourceMaxRetries   int                         `yaml:"source_max_retries,omitempty"`
	InitialRetryDelay  time.Duration               `yaml:"initial_retry_delay,omitempty"` // Source fetch backoff
	MaxRetryDelay      time.Duration               `yaml:"max_retry_delay,omitempty"`
	DBGCInterval       time.Duration               `yaml:"db_gc_interval,omitempty"`
	Drive              DriveConfig                 `yaml:"drive,omitempty"`
	HTTPClientSettings HTTPClientConfig            `yaml:"http_client_settings,omitempty"`
	Collections        map[string]CollectionConfig `yaml:"collections"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout (source fetch)
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// GetEffectiveMediaFields determines the media-bearing columns for a collection
func GetEffectiveMediaFields(colCfg CollectionConfig, appCfg AppConfig) []string {
	if len(colCfg.MediaFields) > 0 {
		return colCfg.MediaFields
	}
	if len(appCfg.MediaFields) > 0 {
		return appCfg.MediaFields
	}
	return DefaultMediaFields
}

// GetEffectiveMaxAssetBytes determines the effective per-asset size ceiling
func GetEffectiveMaxAssetBytes(colCfg CollectionConfig, appCfg AppConfig) int64 {
	if colCfg.MaxAssetBytes != nil {
		return *colCfg.MaxAssetBytes
	}
	return appCfg.MaxAssetBytes
}

// GetEffectiveNamespace returns the asset namespace, defaulting to the collection key
func GetEffectiveNamespace(colCfg CollectionConfig, key string) string {
	if colCfg.Namespace != "" {
		return colCfg.Namespace
	}
	return key
}

// GetEffectiveNameField returns the column the record slug is derived from
func GetEffectiveNameField(colCfg CollectionConfig) string {
	if colCfg.NameField != "" {
		return colCfg.NameField
	}
	return "name"
}
