// Package output persists rewritten record sets and run summaries.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/folioworks/asset-sync/pkg/models"
	"github.com/folioworks/asset-sync/pkg/utils"
)

// EncodeRecords renders records as a 2-space indented JSON array with a trailing newline.
// Column order is kept, so identical input always produces identical bytes.
func EncodeRecords(records []*models.Record) ([]byte, error) {
	if records == nil {
		records = []*models.Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("%w: encode records: %w", utils.ErrParsing, err)
	}
	return buf.Bytes(), nil
}

// WriteRecords atomically replaces path with the encoded records
func WriteRecords(path string, records []*models.Record) error {
	data, err := EncodeRecords(records)
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data, 0644)
}

// WriteSummary atomically writes a run summary as YAML
func WriteSummary(path string, summary *models.RunSummary) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("%w: encode summary: %w", utils.ErrParsing, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("%w: encode summary: %w", utils.ErrParsing, err)
	}
	return utils.WriteFileAtomic(path, buf.Bytes(), 0644)
}
