package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/folioworks/asset-sync/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfig_Validate_Defaults(t *testing.T) {
	cfg := AppConfig{} // Zero value
	warnings, err := cfg.Validate()

	require.NoError(t, err)

	assert.Equal(t, "./public/assets", cfg.AssetsRoot)
	assert.Equal(t, "./.asset-sync", cfg.StateDir)
	assert.Equal(t, "/assets", cfg.PublicPrefix)
	assert.Equal(t, ".partial", cfg.TempExtension)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 1*time.Second, cfg.RetryBackoff)
	assert.Equal(t, 60*time.Second, cfg.AttemptTimeout)
	assert.Equal(t, 10, cfg.MaxHops)
	assert.Equal(t, int64(100*1024*1024), cfg.MaxAssetBytes)
	assert.Equal(t, 3, cfg.SourceMaxRetries)
	assert.Equal(t, 1*time.Second, cfg.InitialRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxRetryDelay)
	assert.Equal(t, DefaultDriveDownloadURL, cfg.Drive.DownloadURL)
	assert.Equal(t, DefaultDriveConfirmURL, cfg.Drive.ConfirmURL)

	// HTTP client defaults
	assert.Equal(t, 45*time.Second, cfg.HTTPClientSettings.Timeout)
	assert.Equal(t, 20, cfg.HTTPClientSettings.MaxIdleConns)
	assert.Equal(t, 2, cfg.HTTPClientSettings.MaxIdleConnsPerHost)
	assert.Equal(t, 90*time.Second, cfg.HTTPClientSettings.IdleConnTimeout)
	assert.Equal(t, 15*time.Second, cfg.HTTPClientSettings.DialerTimeout)

	assert.True(t, containsWarning(warnings, "assets_root is empty"))
	assert.True(t, containsWarning(warnings, "state_dir is empty"))
	assert.True(t, containsWarning(warnings, "no collections configured"))
}

func TestAppConfig_Validate_ValidConfig(t *testing.T) {
	cfg := AppConfig{
		AssetsRoot:     "/site/public/assets",
		StateDir:       "/state",
		PublicPrefix:   "media/",
		TempExtension:  "tmp",
		MaxRetries:     4,
		RetryBackoff:   250 * time.Millisecond,
		AttemptTimeout: 5 * time.Second,
		MaxHops:        3,
		MaxAssetBytes:  1024,
		Collections: map[string]CollectionConfig{
			"projects": {SourceURL: "https://sheets.example/projects", OutputPath: "projects.json"},
		},
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "/media", cfg.PublicPrefix)
	assert.Equal(t, ".tmp", cfg.TempExtension)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, 5*time.Second, cfg.AttemptTimeout)
	assert.Equal(t, 3, cfg.MaxHops)
	assert.Equal(t, int64(1024), cfg.MaxAssetBytes)
}

func TestAppConfig_Validate_NegativeValues(t *testing.T) {
	cfg := AppConfig{
		MaxRetries:    -1,
		RetryBackoff:  -time.Second,
		MaxAssetBytes: -5,
		RequestDelay:  -time.Second,
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, time.Duration(0), cfg.RetryBackoff)
	assert.Equal(t, DefaultMaxAssetBytes, cfg.MaxAssetBytes)
	assert.Equal(t, time.Duration(0), cfg.RequestDelay)
	assert.True(t, containsWarning(warnings, "max_retries cannot be negative"))
	assert.True(t, containsWarning(warnings, "retry_backoff cannot be negative"))
	assert.True(t, containsWarning(warnings, "max_asset_bytes cannot be negative"))
	assert.True(t, containsWarning(warnings, "request_delay cannot be negative"))
}

func TestAppConfig_Validate_RetryDelayClamp(t *testing.T) {
	cfg := AppConfig{
		SourceMaxRetries:  2,
		InitialRetryDelay: time.Minute,
		MaxRetryDelay:     time.Second,
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.InitialRetryDelay)
	assert.True(t, containsWarning(warnings, "initial_retry_delay"))
}

func TestAppConfig_Validate_BadDriveURL(t *testing.T) {
	cfg := AppConfig{Drive: DriveConfig{DownloadURL: "not a url"}}

	_, err := cfg.Validate()

	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrConfigValidation))
}

func TestCollectionConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CollectionConfig
		wantErr string
	}{
		{"missing source", CollectionConfig{OutputPath: "out.json"}, "no source_url"},
		{"non-http source", CollectionConfig{SourceURL: "ftp://x/y", OutputPath: "out.json"}, "must be an http(s) URL"},
		{"missing output", CollectionConfig{SourceURL: "https://x/y"}, "needs output_path"},
		{"nested namespace", CollectionConfig{SourceURL: "https://x/y", OutputPath: "o.json", Namespace: "a/b"}, "single path segment"},
		{"valid", CollectionConfig{SourceURL: "https://x/y", OutputPath: "o.json", Namespace: "projects"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, utils.ErrConfigValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCollectionConfig_ValidateAs_ChecksEffectiveNamespace(t *testing.T) {
	base := CollectionConfig{SourceURL: "https://x/y", OutputPath: "o.json"}

	for _, key := range []string{"../x", "a/b", `a\b`, "..", "."} {
		col := base
		_, err := col.ValidateAs(key)
		require.Error(t, err, "key %q", key)
		assert.ErrorIs(t, err, utils.ErrConfigValidation)
		assert.Contains(t, err.Error(), "single path segment")
	}

	col := base
	_, err := col.ValidateAs("projects")
	assert.NoError(t, err)

	// An explicit namespace replaces the key, so an odd key is fine
	col = base
	col.Namespace = "work"
	_, err = col.ValidateAs("../odd")
	assert.NoError(t, err)
}

func TestCollectionConfig_Validate_MediaFieldsDeduped(t *testing.T) {
	cfg := CollectionConfig{
		SourceURL:   "https://x/y",
		OutputPath:  "o.json",
		MediaFields: []string{"heroImage", "", "heroImage", "heroVideo"},
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Equal(t, []string{"heroImage", "heroVideo"}, cfg.MediaFields)
	assert.True(t, containsWarning(warnings, "duplicate"))
}

func TestCollectionConfig_Validate_NonPositiveCeiling(t *testing.T) {
	zero := int64(0)
	cfg := CollectionConfig{SourceURL: "https://x/y", OutputPath: "o.json", MaxAssetBytes: &zero}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Nil(t, cfg.MaxAssetBytes)
	assert.True(t, containsWarning(warnings, "max_asset_bytes must be > 0"))
}

func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
