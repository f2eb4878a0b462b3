// Package schema manages dataset schema descriptors and versioned
// migrations. Registries are plain values handed to the pipeline by
// dependency injection; there is no process-global state, so parallel
// pipelines with different schema sets cannot interfere.
package schema

import (
	"fmt"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/errors"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/models"
)

// Descriptor describes one dataset schema at one version.
type Descriptor struct {
	// ID identifies the dataset ("chembl_activity", "crossref_work").
	ID string `yaml:"id" json:"id"`
	// Version is the schema version ("1.0", "2.0"). Compared as an opaque
	// string; ordering lives in the migration graph, not in the version
	// syntax.
	Version string `yaml:"version" json:"version"`
	// ColumnOrder is the complete, ordered output column list.
	ColumnOrder []string `yaml:"column_order" json:"column_order"`
	// BusinessKey names the columns whose values identify a row across
	// runs. Must be a subset of ColumnOrder.
	BusinessKey []string `yaml:"business_key" json:"business_key"`
	// Required names columns that must be non-null for a row to pass
	// validation. Must be a subset of ColumnOrder.
	Required []string `yaml:"required" json:"required"`
}

// Validate checks the descriptor's internal consistency.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return errors.New(errors.ErrorTypeSchema, "schema id must not be empty")
	}
	if d.Version == "" {
		return errors.Newf(errors.ErrorTypeSchema, "schema %s: version must not be empty", d.ID)
	}
	if len(d.ColumnOrder) == 0 {
		return errors.Newf(errors.ErrorTypeSchema, "schema %s: column order must not be empty", d.ID)
	}

	columns := make(map[string]struct{}, len(d.ColumnOrder))
	for _, col := range d.ColumnOrder {
		if _, dup := columns[col]; dup {
			return errors.Newf(errors.ErrorTypeSchema, "schema %s: duplicate column %q", d.ID, col)
		}
		columns[col] = struct{}{}
	}

	for _, col := range d.BusinessKey {
		if _, ok := columns[col]; !ok {
			return errors.Newf(errors.ErrorTypeSchema, "schema %s: business key column %q not in column order", d.ID, col)
		}
	}
	for _, col := range d.Required {
		if _, ok := columns[col]; !ok {
			return errors.Newf(errors.ErrorTypeSchema, "schema %s: required column %q not in column order", d.ID, col)
		}
	}
	return nil
}

// ValidateRecord checks one record against the descriptor: every required
// column must be present and non-null, and the record must not carry
// columns outside the column order.
func (d *Descriptor) ValidateRecord(rec models.Record) error {
	columns := make(map[string]struct{}, len(d.ColumnOrder))
	for _, col := range d.ColumnOrder {
		columns[col] = struct{}{}
	}

	for _, col := range d.Required {
		v, ok := rec[col]
		if !ok || v == nil {
			return errors.Newf(errors.ErrorTypeValidation, "schema %s: required column %q is missing or null", d.ID, col)
		}
	}
	for col := range rec {
		if _, ok := columns[col]; !ok {
			return errors.Newf(errors.ErrorTypeValidation, "schema %s: unexpected column %q", d.ID, col)
		}
	}
	return nil
}

// Key returns the registry key for an (id, version) pair.
func (d *Descriptor) Key() string {
	return descriptorKey(d.ID, d.Version)
}

func descriptorKey(id, version string) string {
	return fmt.Sprintf("%s@%s", id, version)
}
