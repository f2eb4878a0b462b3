package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/errors"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/models"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/qc"
)

// CSVOptions controls dataset serialization.
type CSVOptions struct {
	// Delimiter between fields, ',' when zero.
	Delimiter rune
	// NullRepr is the text written for missing or null cells.
	NullRepr string
	// Gzip compresses the artifact when set; callers should name the file
	// accordingly.
	Gzip bool
}

// WriteDatasetCSV serializes records with a fixed column order. Every row
// emits exactly the declared columns; values outside the column order are
// dropped, missing values render as NullRepr. Floats use the shortest
// round-trip decimal form so output bytes are reproducible.
func WriteDatasetCSV(w io.Writer, records []models.Record, columnOrder []string, opts CSVOptions) error {
	if len(columnOrder) == 0 {
		return errors.New(errors.ErrorTypeWrite, "dataset column order must not be empty")
	}

	var gz *gzip.Writer
	if opts.Gzip {
		gz = gzip.NewWriter(w)
		w = gz
	}

	cw := csv.NewWriter(w)
	if opts.Delimiter != 0 {
		cw.Comma = opts.Delimiter
	}

	if err := cw.Write(columnOrder); err != nil {
		return err
	}

	row := make([]string, len(columnOrder))
	for _, rec := range records {
		for i, col := range columnOrder {
			row[i] = formatCell(rec[col], opts.NullRepr)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		if gz != nil {
			gz.Close()
		}
		return err
	}
	// The gzip footer is written on close; a failed close means a truncated
	// artifact.
	if gz != nil {
		if err := gz.Close(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeWrite, "failed to finalize gzip stream")
		}
	}
	return nil
}

// WriteQualityReportCSV serializes the per-column quality profile.
func WriteQualityReportCSV(w io.Writer, report *qc.Report) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"column", "null_count", "null_fraction", "unique_count", "dtype"}); err != nil {
		return err
	}
	for _, col := range report.Columns {
		err := cw.Write([]string{
			col.Column,
			strconv.Itoa(col.NullCount),
			strconv.FormatFloat(col.NullFraction, 'f', 6, 64),
			strconv.Itoa(col.UniqueCount),
			col.DType,
		})
		if err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Meta is the run metadata sidecar written next to the dataset.
type Meta struct {
	PipelineVersion string            `yaml:"pipeline_version"`
	SourceSystem    string            `yaml:"source_system"`
	RunID           string            `yaml:"run_id"`
	GeneratedAt     string            `yaml:"generated_at"`
	RowCount        int               `yaml:"row_count"`
	SchemaID        string            `yaml:"schema_id,omitempty"`
	SchemaVersion   string            `yaml:"schema_version,omitempty"`
	FileChecksums   map[string]string `yaml:"file_checksums"`
}

// NewMeta starts a sidecar stamped with the current UTC time.
func NewMeta(pipelineVersion, sourceSystem, runID string) *Meta {
	return &Meta{
		PipelineVersion: pipelineVersion,
		SourceSystem:    sourceSystem,
		RunID:           runID,
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
		FileChecksums:   make(map[string]string),
	}
}

// WriteMetaYAML serializes the sidecar.
func WriteMetaYAML(w io.Writer, meta *Meta) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(meta)
}

func formatCell(v interface{}, nullRepr string) string {
	switch t := v.(type) {
	case nil:
		return nullRepr
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}
