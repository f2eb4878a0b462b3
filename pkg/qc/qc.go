// Package qc computes per-column quality metrics over a record batch and
// evaluates them against configured thresholds. Violations carry a
// severity; whether a run fails is decided by comparing the worst observed
// severity against the pipeline's configured gate.
package qc

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/models"
)

// Severity ranks quality violations.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// ParseSeverity reads a severity from config text.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", s)
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Threshold is one configured bound on one metric. Min and Max are both
// optional; a nil bound is not checked.
type Threshold struct {
	// Metric names the value under test, e.g. "doi.coverage" or
	// "standard_value.null_fraction".
	Metric string `yaml:"metric" json:"metric"`
	// Min fails the check when the observed value is below it.
	Min *float64 `yaml:"min" json:"min,omitempty"`
	// Max fails the check when the observed value is above it.
	Max *float64 `yaml:"max" json:"max,omitempty"`
	// Severity of a violation of this threshold.
	Severity Severity `yaml:"-" json:"severity"`
}

// Violation is one failed threshold check.
type Violation struct {
	Metric    string
	Value     float64
	Condition string
	Severity  Severity
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s=%g violates %s", v.Severity, v.Metric, v.Value, v.Condition)
}

// ColumnMetrics is the per-column profile of one batch.
type ColumnMetrics struct {
	Column       string  `json:"column"`
	NullCount    int     `json:"null_count"`
	NullFraction float64 `json:"null_fraction"`
	UniqueCount  int     `json:"unique_count"`
	DType        string  `json:"dtype"`
}

// Coverage is the non-null fraction of the column.
func (m ColumnMetrics) Coverage() float64 {
	return 1 - m.NullFraction
}

// Report is the full quality profile of one batch.
type Report struct {
	RowCount   int
	Columns    []ColumnMetrics
	Violations []Violation
	EvaluatedAt time.Time
}

// WorstSeverity returns the highest severity among the violations, or
// SeverityInfo and false when there are none.
func (r *Report) WorstSeverity() (Severity, bool) {
	if len(r.Violations) == 0 {
		return SeverityInfo, false
	}
	worst := r.Violations[0].Severity
	for _, v := range r.Violations[1:] {
		if v.Severity > worst {
			worst = v.Severity
		}
	}
	return worst, true
}

// ShouldFail reports whether the run must fail given the configured gate.
// A violation at or above the gate severity fails the run.
func (r *Report) ShouldFail(gate Severity) bool {
	worst, any := r.WorstSeverity()
	return any && worst >= gate
}

// Profiler computes quality reports for record batches.
type Profiler struct {
	thresholds []Threshold
	logger     *zap.Logger
}

// NewProfiler creates a profiler with the configured thresholds.
func NewProfiler(thresholds []Threshold, logger *zap.Logger) *Profiler {
	return &Profiler{thresholds: thresholds, logger: logger}
}

// Profile computes column metrics over the batch and evaluates every
// configured threshold. Columns are the union of all record keys plus the
// declared column order, so a column that is null everywhere still shows up.
func (p *Profiler) Profile(records []models.Record, columnOrder []string) *Report {
	report := &Report{
		RowCount:    len(records),
		EvaluatedAt: time.Now().UTC(),
	}

	columns := unionColumns(records, columnOrder)
	metricValues := make(map[string]float64)

	for _, col := range columns {
		m := profileColumn(records, col)
		report.Columns = append(report.Columns, m)

		metricValues[col+".null_count"] = float64(m.NullCount)
		metricValues[col+".null_fraction"] = m.NullFraction
		metricValues[col+".unique_count"] = float64(m.UniqueCount)
		metricValues[col+".coverage"] = m.Coverage()
	}
	metricValues["row_count"] = float64(report.RowCount)

	report.Violations = EvaluateThresholds(metricValues, p.thresholds)
	for _, v := range report.Violations {
		p.logger.Warn("quality threshold violated",
			zap.String("metric", v.Metric),
			zap.Float64("value", v.Value),
			zap.String("condition", v.Condition),
			zap.String("severity", v.Severity.String()))
	}

	return report
}

// EvaluateThresholds checks observed metric values against the thresholds.
// A threshold whose metric was not observed is skipped.
func EvaluateThresholds(values map[string]float64, thresholds []Threshold) []Violation {
	var violations []Violation
	for _, th := range thresholds {
		value, observed := values[th.Metric]
		if !observed {
			continue
		}
		if th.Min != nil && value < *th.Min {
			violations = append(violations, Violation{
				Metric:    th.Metric,
				Value:     value,
				Condition: fmt.Sprintf("min=%g", *th.Min),
				Severity:  th.Severity,
			})
		}
		if th.Max != nil && value > *th.Max {
			violations = append(violations, Violation{
				Metric:    th.Metric,
				Value:     value,
				Condition: fmt.Sprintf("max=%g", *th.Max),
				Severity:  th.Severity,
			})
		}
	}
	return violations
}

func profileColumn(records []models.Record, col string) ColumnMetrics {
	m := ColumnMetrics{Column: col}

	unique := make(map[string]struct{})
	dtypes := make(map[string]struct{})

	for _, rec := range records {
		v, ok := rec[col]
		if !ok || v == nil {
			m.NullCount++
			continue
		}
		unique[fmt.Sprintf("%v", v)] = struct{}{}
		dtypes[dtypeOf(v)] = struct{}{}
	}

	m.UniqueCount = len(unique)
	if len(records) > 0 {
		m.NullFraction = float64(m.NullCount) / float64(len(records))
	}
	m.DType = summarizeDTypes(dtypes)
	return m
}

func dtypeOf(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int"
	case float32, float64:
		return "float"
	case time.Time:
		return "datetime"
	case []interface{}:
		return "list"
	case map[string]interface{}, models.Record:
		return "object"
	default:
		return "unknown"
	}
}

func summarizeDTypes(dtypes map[string]struct{}) string {
	if len(dtypes) == 0 {
		return "null"
	}
	names := make([]string, 0, len(dtypes))
	for name := range dtypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func unionColumns(records []models.Record, columnOrder []string) []string {
	seen := make(map[string]struct{}, len(columnOrder))
	out := make([]string, 0, len(columnOrder))
	for _, col := range columnOrder {
		seen[col] = struct{}{}
		out = append(out, col)
	}

	var extra []string
	for _, rec := range records {
		for col := range rec {
			if _, ok := seen[col]; !ok {
				seen[col] = struct{}{}
				extra = append(extra, col)
			}
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}
