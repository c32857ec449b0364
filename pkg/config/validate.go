package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/folioworks/asset-sync/pkg/utils"
)

const (
	DefaultMaxAssetBytes  int64 = 100 * 1024 * 1024
	DefaultMaxRetries           = 2
	DefaultRetryBackoff         = 1 * time.Second
	DefaultAttemptTimeout       = 60 * time.Second
	DefaultMaxHops              = 10
	DefaultTempExtension        = ".partial"
	DefaultPublicPrefix         = "/assets"
	DefaultDriveDownloadURL     = "https://drive.google.com/uc"
	DefaultDriveConfirmURL      = "https://drive.usercontent.google.com/download"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.UserAgent == "" {
		c.UserAgent = "asset-sync/1.0"
	}

	// AssetsRoot
	if c.AssetsRoot == "" {
		warnings = append(warnings, "assets_root is empty, defaulting to './public/assets'")
		c.AssetsRoot = "./public/assets"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './.asset-sync'")
		c.StateDir = "./.asset-sync"
	}

	// PublicPrefix must be rooted and must not end with a slash
	if c.PublicPrefix == "" {
		c.PublicPrefix = DefaultPublicPrefix
	}
	if !strings.HasPrefix(c.PublicPrefix, "/") {
		c.PublicPrefix = "/" + c.PublicPrefix
	}
	c.PublicPrefix = strings.TrimRight(c.PublicPrefix, "/")
	if c.PublicPrefix == "" {
		warnings = append(warnings, "public_prefix resolves to '/', defaulting to '/assets'")
		c.PublicPrefix = DefaultPublicPrefix
	}

	// TempExtension
	if c.TempExtension == "" {
		c.TempExtension = DefaultTempExtension
	} else if !strings.HasPrefix(c.TempExtension, ".") {
		c.TempExtension = "." + c.TempExtension
	}

	// MaxRetries counts logical attempts, so zero would never fetch anything
	if c.MaxRetries < 0 {
		warnings = append(warnings, fmt.Sprintf("max_retries cannot be negative, defaulting to %d", DefaultMaxRetries))
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoff < 0 {
		warnings = append(warnings, "retry_backoff cannot be negative, disabling backoff")
		c.RetryBackoff = 0
	} else if c.RetryBackoff == 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}

	// AttemptTimeout
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}

	// MaxHops
	if c.MaxHops <= 0 {
		c.MaxHops = DefaultMaxHops
	}

	// MaxAssetBytes
	if c.MaxAssetBytes < 0 {
		warnings = append(warnings, "max_asset_bytes cannot be negative, using default ceiling")
		c.MaxAssetBytes = DefaultMaxAssetBytes
	}
	if c.MaxAssetBytes == 0 {
		c.MaxAssetBytes = DefaultMaxAssetBytes
	}

	// RequestDelay
	if c.RequestDelay < 0 {
		warnings = append(warnings, "request_delay cannot be negative, disabling delay")
		c.RequestDelay = 0
	}

	// Source fetch retries, exponential backoff
	if c.SourceMaxRetries < 0 {
		warnings = append(warnings, "source_max_retries cannot be negative, setting to 0")
		c.SourceMaxRetries = 0
	}
	if c.SourceMaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.SourceMaxRetries = 3
	}
	if c.SourceMaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	if c.DBGCInterval <= 0 {
		c.DBGCInterval = 10 * time.Minute
	}

	// Drive endpoints
	if c.Drive.DownloadURL == "" {
		c.Drive.DownloadURL = DefaultDriveDownloadURL
	}
	if c.Drive.ConfirmURL == "" {
		c.Drive.ConfirmURL = DefaultDriveConfirmURL
	}
	for name, raw := range map[string]string{"drive.download_url": c.Drive.DownloadURL, "drive.confirm_url": c.Drive.ConfirmURL} {
		if u, parseErr := url.Parse(raw); parseErr != nil || u.Scheme == "" || u.Host == "" {
			return warnings, fmt.Errorf("%w: %s '%s' is not an absolute URL", utils.ErrConfigValidation, name, raw)
		}
	}

	c.validateHTTPClientSettings()

	if len(c.Collections) == 0 {
		warnings = append(warnings, "no collections configured, nothing to sync")
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 20
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks CollectionConfig fields.
// Returns collected warnings and any fatal error.
func (c *CollectionConfig) Validate() (warnings []string, err error) {
	// Required: SourceURL
	if c.SourceURL == "" {
		return nil, fmt.Errorf("%w: collection has no source_url", utils.ErrConfigValidation)
	}
	if u, parseErr := url.Parse(c.SourceURL); parseErr != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: source_url '%s' must be an http(s) URL", utils.ErrConfigValidation, c.SourceURL)
	}

	// Required: OutputPath
	if c.OutputPath == "" {
		return nil, fmt.Errorf("%w: collection needs output_path", utils.ErrConfigValidation)
	}

	if c.Namespace != "" {
		if err := checkNamespace(c.Namespace); err != nil {
			return nil, err
		}
	}

	// MaxAssetBytes (pointer)
	if c.MaxAssetBytes != nil && *c.MaxAssetBytes <= 0 {
		warnings = append(warnings, "collection max_asset_bytes must be > 0, falling back to global ceiling")
		c.MaxAssetBytes = nil
	}

	// Duplicate media fields would rewrite the same column twice
	seen := make(map[string]bool, len(c.MediaFields))
	deduped := c.MediaFields[:0]
	for _, f := range c.MediaFields {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		deduped = append(deduped, f)
	}
	if len(deduped) != len(c.MediaFields) {
		warnings = append(warnings, "collection media_fields contained empty or duplicate entries, removed")
	}
	c.MediaFields = deduped

	if c.SourceTimeout < 0 {
		warnings = append(warnings, "source_timeout cannot be negative, using client timeout")
		c.SourceTimeout = 0
	}

	return warnings, nil
}

// ValidateAs runs Validate and then checks the namespace the collection resolves to under key,
// which is the key itself when no namespace is configured.
func (c *CollectionConfig) ValidateAs(key string) (warnings []string, err error) {
	warnings, err = c.Validate()
	if err != nil {
		return nil, err
	}
	if err := checkNamespace(GetEffectiveNamespace(*c, key)); err != nil {
		return nil, err
	}
	return warnings, nil
}

// checkNamespace rejects names that are not a single directory below assets_root
func checkNamespace(ns string) error {
	if ns == "" || ns == "." || ns == ".." || strings.ContainsAny(ns, "/\\\x00") {
		return fmt.Errorf("%w: namespace '%s' must be a single path segment", utils.ErrConfigValidation, ns)
	}
	return nil
}
