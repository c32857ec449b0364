package models

// AssetStatus represents the resolution status of a media reference in the database
type AssetStatus string

const (
	AssetStatusUnset    AssetStatus = ""          // Zero value = unset/unknown
	AssetStatusSuccess  AssetStatus = "success"   // Asset downloaded this run
	AssetStatusSkipped  AssetStatus = "skipped"   // Asset already cached, no fetch
	AssetStatusFailure  AssetStatus = "failure"   // Asset resolution failed, URL kept
	AssetStatusNotFound AssetStatus = "not_found" // Asset not in database
	AssetStatusDBError  AssetStatus = "db_error"  // Database error occurred
)

// String implements fmt.Stringer for logging
func (s AssetStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s AssetStatus) IsValid() bool {
	switch s {
	case AssetStatusSuccess, AssetStatusSkipped, AssetStatusFailure:
		return true
	}
	return false
}

// IsCached reports whether the asset is present on disk after the attempt
func (s AssetStatus) IsCached() bool {
	return s == AssetStatusSuccess || s == AssetStatusSkipped
}
