// Package pagination walks multi-page API listings to completion. Two
// strategies cover the public registries: cursor tokens (Crossref-style,
// the server hands back the next position) and page numbers or offsets
// (ChEMBL-style, the client computes the next position). Both deduplicate
// keyed records across pages, since registries may repeat rows on page
// boundaries.
package pagination

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/errors"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/models"
)

// Fetcher executes one GET against a source. *clients.ResilientClient
// satisfies this.
type Fetcher interface {
	Get(ctx context.Context, path string, query url.Values) ([]byte, error)
}

// Request describes one paginated listing to drain.
type Request struct {
	// Path is the endpoint path relative to the source base URL.
	Path string
	// Query holds fixed parameters sent with every page request.
	Query url.Values
	// PageSize is the requested page size. Strategies stop early when a
	// page comes back shorter than this.
	PageSize int
	// UniqueKey names the record field used for cross-page deduplication.
	// Records missing the field pass through undeduplicated.
	UniqueKey string
}

// Strategy drains a paginated listing into a flat record slice.
type Strategy interface {
	FetchAll(ctx context.Context, fetcher Fetcher, req Request) ([]models.Record, error)
}

// CursorPage is one parsed cursor-mode response.
type CursorPage struct {
	Records []models.Record
	// NextCursor is the token for the following page, empty when the
	// listing is exhausted.
	NextCursor string
}

// CursorStrategy follows server-issued cursor tokens. Each response names
// the next position; the walk ends when the server stops issuing tokens.
// A token is requested at most once, so a server echoing an old cursor
// terminates the walk with an error instead of looping.
type CursorStrategy struct {
	// CursorParam is the query parameter carrying the token.
	CursorParam string
	// PageSizeParam is the query parameter for the page size ("rows" for
	// Crossref). Left empty, no page size is sent.
	PageSizeParam string
	// InitialCursor seeds the first request ("*" for Crossref).
	InitialCursor string
	// Parse extracts the page's records and the next token.
	Parse func(body []byte) (CursorPage, error)
	// MaxPages bounds the walk; 0 means unbounded.
	MaxPages int

	Logger *zap.Logger
}

// FetchAll drains the listing from the initial cursor to exhaustion.
func (s *CursorStrategy) FetchAll(ctx context.Context, fetcher Fetcher, req Request) ([]models.Record, error) {
	logger := s.logger()

	var out []models.Record
	dedup := newDeduper(req.UniqueKey)
	consumed := make(map[string]struct{})

	cursor := s.InitialCursor
	for page := 0; ; page++ {
		if s.MaxPages > 0 && page >= s.MaxPages {
			logger.Warn("stopping at page cap", zap.Int("max_pages", s.MaxPages))
			break
		}

		if _, seen := consumed[cursor]; seen {
			return out, errors.Newf(errors.ErrorTypeData,
				"cursor %q already consumed, server is looping", cursor)
		}
		consumed[cursor] = struct{}{}

		query := cloneQuery(req.Query)
		if cursor != "" {
			query.Set(s.CursorParam, cursor)
		}
		if req.PageSize > 0 && s.PageSizeParam != "" {
			query.Set(s.PageSizeParam, strconv.Itoa(req.PageSize))
		}

		body, err := fetcher.Get(ctx, req.Path, query)
		if err != nil {
			return out, err
		}

		parsed, err := s.Parse(body)
		if err != nil {
			return out, errors.Wrap(err, errors.ErrorTypeData, "failed to parse cursor page")
		}

		out = dedup.append(out, parsed.Records)
		logger.Debug("fetched page",
			zap.Int("page", page),
			zap.Int("records", len(parsed.Records)),
			zap.Int("total", len(out)))

		if parsed.NextCursor == "" {
			break
		}
		// An empty page with a fresh cursor also means the listing is done.
		if len(parsed.Records) == 0 {
			break
		}
		cursor = parsed.NextCursor
	}

	return out, nil
}

func (s *CursorStrategy) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

// PageNumberStrategy computes page positions client-side, either as a page
// counter or as an offset/limit pair. The walk ends at the first short page.
type PageNumberStrategy struct {
	// PageParam selects page-counter mode. Each request then carries the
	// page number plus the equivalent offset and limit, so servers on
	// either convention see a consistent position.
	PageParam string
	// StartPage is the first page number; 0 means 1.
	StartPage int

	// OffsetParam and LimitParam name the offset/limit parameters. In
	// page-counter mode they default to "offset" and "limit"; with
	// PageParam empty the strategy runs in pure offset mode and both are
	// required.
	OffsetParam string
	LimitParam  string

	// Parse extracts the page's records.
	Parse func(body []byte) ([]models.Record, error)
	// MaxPages bounds the walk; 0 means unbounded.
	MaxPages int

	Logger *zap.Logger
}

// FetchAll drains the listing page by page until a short page.
func (s *PageNumberStrategy) FetchAll(ctx context.Context, fetcher Fetcher, req Request) ([]models.Record, error) {
	logger := s.logger()

	if req.PageSize <= 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "page size must be positive for page-number pagination")
	}

	if s.PageParam == "" && (s.OffsetParam == "" || s.LimitParam == "") {
		return nil, errors.New(errors.ErrorTypeValidation, "offset mode needs both offset and limit parameters")
	}

	start := s.StartPage
	if start <= 0 {
		start = 1
	}
	offsetName := s.OffsetParam
	if offsetName == "" {
		offsetName = "offset"
	}
	limitName := s.LimitParam
	if limitName == "" {
		limitName = "limit"
	}

	var out []models.Record
	dedup := newDeduper(req.UniqueKey)

	for page := 0; ; page++ {
		if s.MaxPages > 0 && page >= s.MaxPages {
			logger.Warn("stopping at page cap", zap.Int("max_pages", s.MaxPages))
			break
		}

		query := cloneQuery(req.Query)
		if s.PageParam != "" {
			query.Set(s.PageParam, strconv.Itoa(start+page))
		}
		query.Set(offsetName, strconv.Itoa(page*req.PageSize))
		query.Set(limitName, strconv.Itoa(req.PageSize))

		body, err := fetcher.Get(ctx, req.Path, query)
		if err != nil {
			return out, err
		}

		records, err := s.Parse(body)
		if err != nil {
			return out, errors.Wrap(err, errors.ErrorTypeData, "failed to parse page")
		}

		out = dedup.append(out, records)
		logger.Debug("fetched page",
			zap.Int("page", page),
			zap.Int("records", len(records)),
			zap.Int("total", len(out)))

		if len(records) < req.PageSize {
			break
		}
	}

	return out, nil
}

func (s *PageNumberStrategy) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

// deduper drops repeats of keyed records across pages. The first occurrence
// wins; records without the key are kept unconditionally.
type deduper struct {
	key  string
	seen map[string]struct{}
}

func newDeduper(key string) *deduper {
	return &deduper{key: key, seen: make(map[string]struct{})}
}

func (d *deduper) append(out []models.Record, records []models.Record) []models.Record {
	if d.key == "" {
		return append(out, records...)
	}
	for _, rec := range records {
		raw, ok := rec[d.key]
		if !ok || raw == nil {
			out = append(out, rec)
			continue
		}
		id := keyString(raw)
		if _, dup := d.seen[id]; dup {
			continue
		}
		d.seen[id] = struct{}{}
		out = append(out, rec)
	}
	return out
}

func keyString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func cloneQuery(q url.Values) url.Values {
	out := make(url.Values, len(q)+2)
	for k, vs := range q {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
