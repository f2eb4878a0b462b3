// Package models provides the record representation shared by the
// acquisition pipelines. A Record is one business row: a mapping of column
// name to value, produced by source normalization and consumed by schema
// validation, hashing, QC, and the artifact writers.
package models

import "sort"

// Record is one business row keyed by column name.
type Record map[string]interface{}

// Clone returns a shallow copy of the record. Migrations and hashing operate
// on copies so the caller's record set is never mutated.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Subset returns a new record containing only the named columns. Columns
// absent from the record are omitted from the result, not materialized as
// nulls.
func (r Record) Subset(columns []string) Record {
	out := make(Record, len(columns))
	for _, c := range columns {
		if v, ok := r[c]; ok {
			out[c] = v
		}
	}
	return out
}

// Columns returns the record's column names in sorted order.
func (r Record) Columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// CloneAll returns fresh copies of every record in the set.
func CloneAll(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
