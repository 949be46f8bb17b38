package importer

import (
	"strings"

	"product-import-service/internal/models"
)

// Reason classifies why a row was rejected.
type Reason string

const (
	ReasonMissingSKU       Reason = "missing_sku"
	ReasonDuplicateInBatch Reason = "duplicate_in_batch"
	ReasonStructuralError  Reason = "structural_error"
)

// Row is a validated, normalized record ready for the upsert resolver.
type Row struct {
	Line int
	models.ProductUpsert
}

// RowError is a row-level rejection. It is counted and dropped; nothing
// partial flows downstream.
type RowError struct {
	Line   int
	Reason Reason
}

var falseWords = map[string]bool{
	"false": true, "0": true, "no": true, "inactive": true, "off": true,
}

var trueWords = map[string]bool{
	"true": true, "1": true, "yes": true, "active": true, "on": true,
}

// ValidateRow normalizes one raw record. Exactly one of the results is
// non-nil. SKU is required after trimming; name and description pass through
// trimmed, with the empty string meaning "not provided". An unrecognized
// active value is treated as not provided rather than failing the row.
func ValidateRow(raw RawRow) (*Row, *RowError) {
	if raw.Err != nil {
		return nil, &RowError{Line: raw.Line, Reason: ReasonStructuralError}
	}

	sku := strings.TrimSpace(raw.Fields[colSKU])
	if sku == "" {
		return nil, &RowError{Line: raw.Line, Reason: ReasonMissingSKU}
	}

	return &Row{
		Line: raw.Line,
		ProductUpsert: models.ProductUpsert{
			SKU:         sku,
			SKUKey:      models.FoldSKU(sku),
			Name:        strings.TrimSpace(raw.Fields[colName]),
			Description: strings.TrimSpace(raw.Fields[colDescription]),
			Active:      parseActive(raw.Fields[colActive]),
		},
	}, nil
}

// parseActive maps a textual flag to a tri-state bool: nil when the source
// did not specify a value, so an update can leave the stored flag alone.
func parseActive(value string) *bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return nil
	}
	if falseWords[v] {
		b := false
		return &b
	}
	if trueWords[v] {
		b := true
		return &b
	}
	return nil
}
