// Package crossref fetches bibliographic work records from the Crossref
// REST API. Crossref paginates with deep-paging cursor tokens: the first
// request sends cursor "*" and each response carries the token for the
// next page.
package crossref

import (
	"context"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/errors"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/models"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/pagination"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/schema"
)

// SourceName is the registry identifier used in config and metrics.
const SourceName = "crossref"

// SchemaID identifies the work dataset schema.
const SchemaID = "crossref_work"

var workColumns = []string{
	"doi",
	"title",
	"type",
	"container_title",
	"publisher",
	"issued_year",
	"referenced_by_count",
}

// Descriptor returns the work schema at its current version.
func Descriptor() *schema.Descriptor {
	return &schema.Descriptor{
		ID:          SchemaID,
		Version:     "1.1",
		ColumnOrder: workColumns,
		BusinessKey: []string{"doi"},
		Required:    []string{"doi"},
	}
}

// Client drains work listings from Crossref.
type Client struct {
	fetcher  pagination.Fetcher
	pageSize int
	maxPages int
	logger   *zap.Logger
}

// NewClient builds a Crossref client on top of a resilient fetcher.
func NewClient(fetcher pagination.Fetcher, pageSize, maxPages int, logger *zap.Logger) *Client {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		fetcher:  fetcher,
		pageSize: pageSize,
		maxPages: maxPages,
		logger:   logger,
	}
}

// FetchWorks drains the works listing matching the filter query.
func (c *Client) FetchWorks(ctx context.Context, filter url.Values) ([]models.Record, error) {
	strategy := &pagination.CursorStrategy{
		CursorParam:   "cursor",
		InitialCursor: "*",
		PageSizeParam: "rows",
		Parse:         parseWorks,
		MaxPages:      c.maxPages,
		Logger:        c.logger,
	}

	return strategy.FetchAll(ctx, c.fetcher, pagination.Request{
		Path:      "works",
		Query:     filter,
		PageSize:  c.pageSize,
		UniqueKey: "doi",
	})
}

type worksPayload struct {
	Message struct {
		Items      []map[string]interface{} `json:"items"`
		NextCursor string                   `json:"next-cursor"`
	} `json:"message"`
}

// parseWorks extracts the work objects and the next cursor from a page.
func parseWorks(body []byte) (pagination.CursorPage, error) {
	var payload worksPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return pagination.CursorPage{}, errors.Wrap(err, errors.ErrorTypeData, "failed to decode works page")
	}

	page := pagination.CursorPage{NextCursor: payload.Message.NextCursor}
	for _, item := range payload.Message.Items {
		if item == nil {
			continue
		}
		page.Records = append(page.Records, normalizeWork(item))
	}
	return page, nil
}

// normalizeWork flattens one Crossref work object onto the work schema.
// DOIs are normalized to lowercase, the canonical form Crossref itself
// documents for matching.
func normalizeWork(item map[string]interface{}) models.Record {
	rec := models.Record{}

	if doi, ok := item["DOI"].(string); ok && doi != "" {
		rec["doi"] = strings.ToLower(doi)
	}
	if t, ok := item["type"].(string); ok {
		rec["type"] = t
	}
	if p, ok := item["publisher"].(string); ok {
		rec["publisher"] = p
	}
	if title := firstString(item["title"]); title != "" {
		rec["title"] = title
	}
	if container := firstString(item["container-title"]); container != "" {
		rec["container_title"] = container
	}
	if year, ok := issuedYear(item["issued"]); ok {
		rec["issued_year"] = year
	}
	if count, ok := item["is-referenced-by-count"].(float64); ok {
		rec["referenced_by_count"] = int(count)
	}

	return rec
}

// firstString unwraps Crossref's list-of-strings fields.
func firstString(v interface{}) string {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return ""
	}
	s, _ := list[0].(string)
	return s
}

// issuedYear digs the year out of a Crossref date-parts structure.
func issuedYear(v interface{}) (int, bool) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return 0, false
	}
	parts, ok := obj["date-parts"].([]interface{})
	if !ok || len(parts) == 0 {
		return 0, false
	}
	first, ok := parts[0].([]interface{})
	if !ok || len(first) == 0 {
		return 0, false
	}
	year, ok := first[0].(float64)
	if !ok {
		return 0, false
	}
	return int(year), true
}
