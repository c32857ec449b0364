package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func int64Ptr(n int64) *int64 {
	return &n
}

func TestGetEffectiveMediaFields(t *testing.T) {
	tests := []struct {
		name     string
		colCfg   CollectionConfig
		appCfg   AppConfig
		expected []string
	}{
		{
			name:     "collection list overrides global",
			colCfg:   CollectionConfig{MediaFields: []string{"cover"}},
			appCfg:   AppConfig{MediaFields: []string{"heroImage"}},
			expected: []string{"cover"},
		},
		{
			name:     "global list used when collection empty",
			colCfg:   CollectionConfig{},
			appCfg:   AppConfig{MediaFields: []string{"heroImage"}},
			expected: []string{"heroImage"},
		},
		{
			name:     "both empty uses defaults",
			colCfg:   CollectionConfig{},
			appCfg:   AppConfig{},
			expected: DefaultMediaFields,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetEffectiveMediaFields(tt.colCfg, tt.appCfg))
		})
	}
}

func TestGetEffectiveMaxAssetBytes(t *testing.T) {
	tests := []struct {
		name     string
		colCfg   CollectionConfig
		appCfg   AppConfig
		expected int64
	}{
		{
			name:     "collection ceiling overrides global",
			colCfg:   CollectionConfig{MaxAssetBytes: int64Ptr(1024)},
			appCfg:   AppConfig{MaxAssetBytes: 4096},
			expected: 1024,
		},
		{
			name:     "collection nil uses global",
			colCfg:   CollectionConfig{},
			appCfg:   AppConfig{MaxAssetBytes: 4096},
			expected: 4096,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetEffectiveMaxAssetBytes(tt.colCfg, tt.appCfg))
		})
	}
}

func TestGetEffectiveNamespaceAndNameField(t *testing.T) {
	assert.Equal(t, "projects", GetEffectiveNamespace(CollectionConfig{}, "projects"))
	assert.Equal(t, "work", GetEffectiveNamespace(CollectionConfig{Namespace: "work"}, "projects"))
	assert.Equal(t, "name", GetEffectiveNameField(CollectionConfig{}))
	assert.Equal(t, "title", GetEffectiveNameField(CollectionConfig{NameField: "title"}))
}

func TestAppConfig_YAML(t *testing.T) {
	raw := `
assets_root: ./public/assets
state_dir: ./.state
max_retries: 3
retry_backoff: 500ms
attempt_timeout: 30s
max_asset_bytes: 2048
drive:
  download_url: https://mirror.example/uc
collections:
  projects:
    source_url: https://sheets.example/projects
    output_path: src/data/projects.json
    media_fields: [thumbnailImage, heroVideo]
    max_asset_bytes: 1024
`
	var cfg AppConfig
	err := yaml.Unmarshal([]byte(raw), &cfg)

	assert.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "500ms", cfg.RetryBackoff.String())
	assert.Equal(t, "30s", cfg.AttemptTimeout.String())
	assert.Equal(t, "https://mirror.example/uc", cfg.Drive.DownloadURL)
	col := cfg.Collections["projects"]
	assert.Equal(t, []string{"thumbnailImage", "heroVideo"}, col.MediaFields)
	if assert.NotNil(t, col.MaxAssetBytes) {
		assert.Equal(t, int64(1024), *col.MaxAssetBytes)
	}
}
