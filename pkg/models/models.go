package models

import (
	"time"
)

// AssetDBEntry stores the outcome of resolving one media reference in the database
type AssetDBEntry struct {
	Status      AssetStatus `json:"status"`               // "success", "skipped" or "failure"
	FileID      string      `json:"file_id"`              // Cloud storage identifier
	SourceURL   string      `json:"source_url,omitempty"` // Link as it appeared in the record
	LocalPath   string      `json:"local_path,omitempty"` // Path under assets_root (on success)
	Bytes       int64       `json:"bytes,omitempty"`
	SHA256      string      `json:"sha256,omitempty"`
	ErrorType   string      `json:"error_type,omitempty"` // Error category (on failure)
	RunID       string      `json:"run_id,omitempty"`
	LastAttempt time.Time   `json:"last_attempt"` // Timestamp of the last processing attempt
}

// AssetFailure describes a media reference that could not be resolved; the record keeps its original URL
type AssetFailure struct {
	Slug   string `yaml:"slug"`
	Field  string `yaml:"field"`
	FileID string `yaml:"file_id,omitempty"`
	URL    string `yaml:"url"`
	Kind   string `yaml:"kind"` // Error category from utils.CategorizeError
	Err    error  `yaml:"-"`
}

func (f *AssetFailure) Error() string {
	if f.Err == nil {
		return f.Kind
	}
	return f.Slug + "/" + f.Field + ": " + f.Err.Error()
}

func (f *AssetFailure) Unwrap() error {
	return f.Err
}

// RunSummary holds the outcome of one sync run of a collection.
type RunSummary struct {
	CollectionKey string         `yaml:"collection_key"`
	RunID         string         `yaml:"run_id"`
	SourceURL     string         `yaml:"source_url"`
	UsedFallback  bool           `yaml:"used_fallback,omitempty"` // Source unreachable, previous copy used
	StartTime     time.Time      `yaml:"start_time"`
	EndTime       time.Time      `yaml:"end_time"`
	Records       int            `yaml:"records"`
	Downloaded    int            `yaml:"downloaded"`
	Skipped       int            `yaml:"skipped"`
	Errored       int            `yaml:"errored"`
	BytesFetched  int64          `yaml:"bytes_fetched"`
	BytesHuman    string         `yaml:"bytes_human,omitempty"`
	Failures      []AssetFailure `yaml:"failures,omitempty"`
}
