// Package chembl fetches bioactivity records from the ChEMBL REST API.
// ChEMBL paginates with limit/offset, so the client drains listings with
// the page-number strategy in offset mode.
package chembl

import (
	"context"
	"net/url"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/errors"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/models"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/pagination"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/schema"
)

// SourceName is the registry identifier used in config and metrics.
const SourceName = "chembl"

// SchemaID identifies the activity dataset schema.
const SchemaID = "chembl_activity"

// activityColumns is the canonical output column order.
var activityColumns = []string{
	"activity_id",
	"assay_chembl_id",
	"molecule_chembl_id",
	"target_chembl_id",
	"document_chembl_id",
	"standard_type",
	"standard_relation",
	"standard_value",
	"standard_units",
	"pchembl_value",
}

// Descriptor returns the activity schema at its current version.
func Descriptor() *schema.Descriptor {
	return &schema.Descriptor{
		ID:          SchemaID,
		Version:     "2.0",
		ColumnOrder: activityColumns,
		BusinessKey: []string{"activity_id"},
		Required:    []string{"activity_id", "molecule_chembl_id"},
	}
}

// Client drains activity listings from ChEMBL.
type Client struct {
	fetcher  pagination.Fetcher
	pageSize int
	maxPages int
	logger   *zap.Logger
}

// NewClient builds a ChEMBL client on top of a resilient fetcher.
func NewClient(fetcher pagination.Fetcher, pageSize, maxPages int, logger *zap.Logger) *Client {
	if pageSize <= 0 {
		pageSize = 25
	}
	return &Client{
		fetcher:  fetcher,
		pageSize: pageSize,
		maxPages: maxPages,
		logger:   logger,
	}
}

// FetchActivities drains the activity listing matching the filter query.
func (c *Client) FetchActivities(ctx context.Context, filter url.Values) ([]models.Record, error) {
	strategy := &pagination.PageNumberStrategy{
		OffsetParam: "offset",
		LimitParam:  "limit",
		Parse:       parseActivities,
		MaxPages:    c.maxPages,
		Logger:      c.logger,
	}

	query := url.Values{"format": {"json"}}
	for k, vs := range filter {
		query[k] = vs
	}

	return strategy.FetchAll(ctx, c.fetcher, pagination.Request{
		Path:      "activity.json",
		Query:     query,
		PageSize:  c.pageSize,
		UniqueKey: "activity_id",
	})
}

type activityPayload struct {
	Activities []json.RawMessage `json:"activities"`
}

// parseActivities extracts the activity objects from one response page.
// Non-object entries are skipped, ChEMBL occasionally serves nulls in the
// activities array.
func parseActivities(body []byte) ([]models.Record, error) {
	var payload activityPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode activity page")
	}

	records := make([]models.Record, 0, len(payload.Activities))
	for _, raw := range payload.Activities {
		var item map[string]interface{}
		if err := json.Unmarshal(raw, &item); err != nil || item == nil {
			continue
		}
		records = append(records, normalizeActivity(item))
	}
	return records, nil
}

// normalizeActivity projects a raw API object onto the activity schema.
func normalizeActivity(item map[string]interface{}) models.Record {
	rec := models.Record{}
	for _, col := range activityColumns {
		if v, ok := item[col]; ok && v != nil {
			rec[col] = v
		}
	}

	// ChEMBL serves numeric fields as strings in some payload variants.
	for _, col := range []string{"standard_value", "pchembl_value"} {
		if s, ok := rec[col].(string); ok {
			if f, ok := parseFloat(s); ok {
				rec[col] = f
			}
		}
	}
	return rec
}

// MigrateV1ToV2 upgrades activity records from schema 1.0, which used the
// published_* column names, to the standard_* columns of 2.0.
func MigrateV1ToV2(rec models.Record) (models.Record, error) {
	renames := map[string]string{
		"published_type":     "standard_type",
		"published_relation": "standard_relation",
		"published_value":    "standard_value",
		"published_units":    "standard_units",
	}
	for from, to := range renames {
		if v, ok := rec[from]; ok {
			if _, taken := rec[to]; !taken {
				rec[to] = v
			}
			delete(rec, from)
		}
	}
	return rec, nil
}

func parseFloat(s string) (float64, bool) {
	var f float64
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return 0, false
	}
	return f, true
}
