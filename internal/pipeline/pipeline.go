// Package pipeline orchestrates one acquisition run per source: fetch the
// remote listing, migrate records to the target schema version, validate,
// hash, profile quality, and publish the artifacts atomically. The quality
// report is written even when the run fails its quality gate, so a failed
// run still leaves evidence of why.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/errors"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/hash"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/logger"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/models"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/observability"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/output"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/qc"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/schema"
)

// BusinessKeyHashColumn and RowHashColumn are appended to every dataset.
const (
	BusinessKeyHashColumn = "business_key_hash"
	RowHashColumn         = "row_hash"
)

// maxMigrationHops bounds schema migration chains. Real version graphs are
// short; a longer path indicates a registration mistake.
const maxMigrationHops = 8

// Source is one configured boundary client the pipeline can drain.
type Source interface {
	// Name identifies the source in config, metrics, and artifact names.
	Name() string
	// Fetch drains the complete listing.
	Fetch(ctx context.Context) ([]models.Record, error)
	// DataVersion is the schema version the source currently emits.
	DataVersion() string
}

// Options carries the run-level knobs.
type Options struct {
	PipelineVersion string
	NullRepr        string
	Gzip            bool
	// FailGate is the severity at or above which quality violations fail
	// the run.
	FailGate qc.Severity
}

// Result summarizes one finished run.
type Result struct {
	Source    string
	RunID     string
	RowCount  int
	Report    *qc.Report
	Artifacts []string
}

// Pipeline executes acquisition runs for one source.
type Pipeline struct {
	source     Source
	descriptor *schema.Descriptor
	schemas    *schema.Registry
	migrations *schema.MigrationRegistry
	profiler   *qc.Profiler
	writer     *output.AtomicWriter
	opts       Options
	logger     *zap.Logger
}

// New wires a pipeline. The descriptor names the target schema the run
// publishes; it must already be registered.
func New(
	source Source,
	schemaID string,
	targetVersion string,
	schemas *schema.Registry,
	migrations *schema.MigrationRegistry,
	profiler *qc.Profiler,
	writer *output.AtomicWriter,
	opts Options,
	logger *zap.Logger,
) (*Pipeline, error) {
	descriptor, err := schemas.Get(schemaID, targetVersion)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		source:     source,
		descriptor: descriptor,
		schemas:    schemas,
		migrations: migrations,
		profiler:   profiler,
		writer:     writer,
		opts:       opts,
		logger: logger.With(zap.String("schema", descriptor.ID)),
	}, nil
}

// Run executes one acquisition run end to end. The run identity is stamped
// into the context so every layer logging through the context carries the
// same run_id and source fields.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	ctx = logger.NewContext(ctx, p.writer.RunID(), p.source.Name(), "acquisition")
	ctx, span := observability.StartSpan(ctx, "pipeline.run",
		attribute.String("source", p.source.Name()),
		attribute.String("run_id", p.writer.RunID()),
	)

	result, err := p.run(ctx)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	observability.RecordRunOutcome(p.source.Name(), outcome)
	observability.EndSpan(span, err)

	return result, err
}

func (p *Pipeline) run(ctx context.Context) (*Result, error) {
	result := &Result{
		Source: p.source.Name(),
		RunID:  p.writer.RunID(),
	}

	log := p.logger.With(logger.ContextFields(ctx)...)
	log.Info("starting run")

	records, err := p.source.Fetch(ctx)
	if err != nil {
		return result, err
	}
	observability.AddRecordsFetched(p.source.Name(), len(records))
	log.Info("fetched records", zap.Int("count", len(records)))

	records, err = p.migrate(log, records)
	if err != nil {
		return result, err
	}

	if err := p.validate(records); err != nil {
		return result, err
	}

	records, err = p.addHashes(records)
	if err != nil {
		return result, err
	}

	report := p.profiler.Profile(records, p.descriptor.ColumnOrder)
	result.Report = report
	result.RowCount = len(records)
	for _, v := range report.Violations {
		observability.RecordQualityViolation(p.source.Name(), v.Severity.String())
	}

	meta := output.NewMeta(p.opts.PipelineVersion, p.source.Name(), result.RunID)
	meta.RowCount = len(records)
	meta.SchemaID = p.descriptor.ID
	meta.SchemaVersion = p.descriptor.Version

	// The quality report is published before the gate is checked, so a
	// failed run still documents its violations.
	reportName := p.source.Name() + "_quality_report.csv"
	if err := p.writeChecksummed(meta, reportName, func(w io.Writer) error {
		return output.WriteQualityReportCSV(w, report)
	}); err != nil {
		return result, err
	}
	result.Artifacts = append(result.Artifacts, reportName)

	if report.ShouldFail(p.opts.FailGate) {
		if metaErr := p.writeMeta(meta); metaErr != nil {
			log.Error("failed to write run metadata", zap.Error(metaErr))
		}
		worst, _ := report.WorstSeverity()
		return result, errors.Newf(errors.ErrorTypeQuality,
			"quality gate failed: %d violations, worst severity %s", len(report.Violations), worst).
			WithDetail("run_id", result.RunID).
			WithDetail("source", result.Source).
			WithDetail("violations", len(report.Violations))
	}

	datasetName := p.source.Name() + ".csv"
	if p.opts.Gzip {
		datasetName += ".gz"
	}
	columnOrder := append(append([]string{}, p.descriptor.ColumnOrder...), BusinessKeyHashColumn, RowHashColumn)
	if err := p.writeChecksummed(meta, datasetName, func(w io.Writer) error {
		return output.WriteDatasetCSV(w, records, columnOrder, output.CSVOptions{
			NullRepr: p.opts.NullRepr,
			Gzip:     p.opts.Gzip,
		})
	}); err != nil {
		return result, err
	}
	result.Artifacts = append(result.Artifacts, datasetName)

	if err := p.writeMeta(meta); err != nil {
		return result, err
	}
	result.Artifacts = append(result.Artifacts, p.source.Name()+"_meta.yaml")

	log.Info("run complete",
		zap.Int("rows", result.RowCount),
		zap.Int("violations", len(report.Violations)))
	return result, nil
}

// migrate brings fetched records from the source's emitted version to the
// target schema version. Data at a version with no registered migrations is
// a version mismatch, not a path resolution failure.
func (p *Pipeline) migrate(log *zap.Logger, records []models.Record) ([]models.Record, error) {
	from := p.source.DataVersion()
	if from == "" || from == p.descriptor.Version {
		return records, nil
	}

	if !p.migrations.HasMigrationsFrom(p.descriptor.ID, from) {
		return nil, &schema.VersionMismatchError{
			SchemaID: p.descriptor.ID,
			Found:    from,
			Expected: p.descriptor.Version,
		}
	}

	path, err := p.migrations.ResolvePath(p.descriptor.ID, from, p.descriptor.Version, maxMigrationHops)
	if err != nil {
		return nil, err
	}

	log.Info("migrating records",
		zap.String("from", from),
		zap.String("to", p.descriptor.Version),
		zap.Int("steps", len(path)))
	return schema.ApplyMigrations(records, path)
}

func (p *Pipeline) validate(records []models.Record) error {
	for i, rec := range records {
		if err := p.descriptor.ValidateRecord(rec); err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, fmt.Sprintf("record %d", i))
		}
	}
	return nil
}

// addHashes stamps every record with its identity and content digests.
func (p *Pipeline) addHashes(records []models.Record) ([]models.Record, error) {
	out := make([]models.Record, 0, len(records))
	for i, rec := range records {
		pair, err := hash.RecordPair(rec, p.descriptor.BusinessKey)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("record %d hash", i))
		}
		hashed := rec.Clone()
		hashed[BusinessKeyHashColumn] = pair.BusinessKeyHash
		hashed[RowHashColumn] = pair.RowHash
		out = append(out, hashed)
	}
	return out, nil
}

// writeChecksummed serializes an artifact to memory, records its checksum
// in the metadata sidecar, and publishes it atomically.
func (p *Pipeline) writeChecksummed(meta *output.Meta, name string, write func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to serialize "+name)
	}
	meta.FileChecksums[name] = hash.Bytes(buf.Bytes())

	return p.writer.WriteFile(name, func(w io.Writer) error {
		_, err := w.Write(buf.Bytes())
		return err
	})
}

func (p *Pipeline) writeMeta(meta *output.Meta) error {
	return p.writer.WriteFile(p.source.Name()+"_meta.yaml", func(w io.Writer) error {
		return output.WriteMetaYAML(w, meta)
	})
}
