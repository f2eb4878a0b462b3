package pagination

import (
	"context"
	"fmt"
	"net/url"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/models"
)

// fakeFetcher replays canned responses and records the queries it saw.
type fakeFetcher struct {
	responses map[string][]byte
	pages     [][]byte
	calls     []url.Values
	errOnCall int
}

func (f *fakeFetcher) Get(_ context.Context, _ string, query url.Values) ([]byte, error) {
	f.calls = append(f.calls, query)
	if f.errOnCall > 0 && len(f.calls) == f.errOnCall {
		return nil, fmt.Errorf("connection reset")
	}
	if f.responses != nil {
		cursor := query.Get("cursor")
		body, ok := f.responses[cursor]
		if !ok {
			return nil, fmt.Errorf("unexpected cursor %q", cursor)
		}
		return body, nil
	}
	idx := len(f.calls) - 1
	if idx >= len(f.pages) {
		return []byte(`{"items":[]}`), nil
	}
	return f.pages[idx], nil
}

type itemsPayload struct {
	Items      []map[string]interface{} `json:"items"`
	NextCursor string                   `json:"next_cursor"`
}

func parseItems(body []byte) (CursorPage, error) {
	var payload itemsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return CursorPage{}, err
	}
	page := CursorPage{NextCursor: payload.NextCursor}
	for _, item := range payload.Items {
		page.Records = append(page.Records, models.Record(item))
	}
	return page, nil
}

func parseItemsFlat(body []byte) ([]models.Record, error) {
	page, err := parseItems(body)
	return page.Records, err
}

func pageBody(t *testing.T, next string, ids ...int) []byte {
	t.Helper()
	payload := itemsPayload{NextCursor: next}
	for _, id := range ids {
		payload.Items = append(payload.Items, map[string]interface{}{"id": fmt.Sprintf("rec-%d", id)})
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body
}

func TestCursorStrategyWalksThreePages(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"":  pageBody(t, "a", 0),
		"a": pageBody(t, "b", 1),
		"b": pageBody(t, "", 2),
	}}

	strategy := &CursorStrategy{CursorParam: "cursor", Parse: parseItems}
	records, err := strategy.FetchAll(context.Background(), fetcher, Request{
		Path:      "/items",
		UniqueKey: "id",
	})
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, "rec-0", records[0]["id"])
	assert.Equal(t, "rec-1", records[1]["id"])
	assert.Equal(t, "rec-2", records[2]["id"])

	// Exactly three requests, with the server-issued cursors in order.
	require.Len(t, fetcher.calls, 3)
	assert.Equal(t, "", fetcher.calls[0].Get("cursor"))
	assert.Equal(t, "a", fetcher.calls[1].Get("cursor"))
	assert.Equal(t, "b", fetcher.calls[2].Get("cursor"))
}

func TestCursorStrategySeedsInitialCursor(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"*": pageBody(t, "", 0),
	}}

	strategy := &CursorStrategy{
		CursorParam:   "cursor",
		InitialCursor: "*",
		PageSizeParam: "rows",
		Parse:         parseItems,
	}
	records, err := strategy.FetchAll(context.Background(), fetcher, Request{
		Path:     "/works",
		PageSize: 100,
	})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "100", fetcher.calls[0].Get("rows"))
}

func TestCursorStrategyRejectsCursorLoop(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"":  pageBody(t, "a", 0),
		"a": pageBody(t, "a", 1),
	}}

	strategy := &CursorStrategy{CursorParam: "cursor", Parse: parseItems}
	records, err := strategy.FetchAll(context.Background(), fetcher, Request{Path: "/items"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "already consumed")
	// Records fetched before the loop was detected are preserved.
	assert.Len(t, records, 2)
}

func TestCursorStrategyDeduplicatesAcrossPages(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"":  pageBody(t, "a", 0, 1),
		"a": pageBody(t, "", 1, 2),
	}}

	strategy := &CursorStrategy{CursorParam: "cursor", Parse: parseItems}
	records, err := strategy.FetchAll(context.Background(), fetcher, Request{
		Path:      "/items",
		UniqueKey: "id",
	})
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestCursorStrategyUnkeyedRecordsPassThrough(t *testing.T) {
	body, err := json.Marshal(itemsPayload{Items: []map[string]interface{}{
		{"name": "x"}, {"name": "x"}, {"id": nil, "name": "y"},
	}})
	require.NoError(t, err)

	fetcher := &fakeFetcher{responses: map[string][]byte{"": body}}
	strategy := &CursorStrategy{CursorParam: "cursor", Parse: parseItems}
	records, err := strategy.FetchAll(context.Background(), fetcher, Request{
		Path:      "/items",
		UniqueKey: "id",
	})
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestCursorStrategyPropagatesFetchError(t *testing.T) {
	fetcher := &fakeFetcher{
		responses: map[string][]byte{"": pageBody(t, "a", 0)},
		errOnCall: 2,
	}

	strategy := &CursorStrategy{CursorParam: "cursor", Parse: parseItems}
	records, err := strategy.FetchAll(context.Background(), fetcher, Request{Path: "/items"})

	require.Error(t, err)
	assert.Len(t, records, 1)
}

func TestPageNumberStrategyStopsOnShortPage(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]byte{
		pageBody(t, "", 0, 1),
		pageBody(t, "", 2, 3),
		pageBody(t, "", 4),
	}}

	strategy := &PageNumberStrategy{PageParam: "page", StartPage: 1, Parse: parseItemsFlat}
	records, err := strategy.FetchAll(context.Background(), fetcher, Request{
		Path:      "/activities",
		PageSize:  2,
		UniqueKey: "id",
	})
	require.NoError(t, err)

	assert.Len(t, records, 5)
	require.Len(t, fetcher.calls, 3)
	assert.Equal(t, "1", fetcher.calls[0].Get("page"))
	assert.Equal(t, "2", fetcher.calls[1].Get("page"))
	assert.Equal(t, "3", fetcher.calls[2].Get("page"))
	// Page-counter requests carry the equivalent offset/limit pair too.
	assert.Equal(t, "0", fetcher.calls[0].Get("offset"))
	assert.Equal(t, "2", fetcher.calls[1].Get("offset"))
	assert.Equal(t, "4", fetcher.calls[2].Get("offset"))
	assert.Equal(t, "2", fetcher.calls[0].Get("limit"))
}

func TestPageNumberStrategyDefaultsStartPage(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]byte{pageBody(t, "", 0)}}

	strategy := &PageNumberStrategy{PageParam: "page", Parse: parseItemsFlat}
	_, err := strategy.FetchAll(context.Background(), fetcher, Request{
		Path:     "/activities",
		PageSize: 25,
	})
	require.NoError(t, err)

	// A zero-value StartPage means the first page is numbered 1, with the
	// matching offset and limit alongside it.
	require.Len(t, fetcher.calls, 1)
	assert.Equal(t, "1", fetcher.calls[0].Get("page"))
	assert.Equal(t, "0", fetcher.calls[0].Get("offset"))
	assert.Equal(t, "25", fetcher.calls[0].Get("limit"))
}

func TestPageNumberStrategyOffsetModeRequiresBothParams(t *testing.T) {
	strategy := &PageNumberStrategy{OffsetParam: "offset", Parse: parseItemsFlat}
	_, err := strategy.FetchAll(context.Background(), &fakeFetcher{}, Request{
		Path:     "/activities",
		PageSize: 10,
	})
	require.Error(t, err)
}

func TestPageNumberStrategyOffsetMode(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]byte{
		pageBody(t, "", 0, 1),
		pageBody(t, "", 2),
	}}

	strategy := &PageNumberStrategy{
		OffsetParam: "offset",
		LimitParam:  "limit",
		Parse:       parseItemsFlat,
	}
	records, err := strategy.FetchAll(context.Background(), fetcher, Request{
		Path:     "/activities",
		PageSize: 2,
	})
	require.NoError(t, err)

	assert.Len(t, records, 3)
	require.Len(t, fetcher.calls, 2)
	assert.Equal(t, "0", fetcher.calls[0].Get("offset"))
	assert.Equal(t, "2", fetcher.calls[0].Get("limit"))
	assert.Equal(t, "2", fetcher.calls[1].Get("offset"))
}

func TestPageNumberStrategyEmptyFirstPage(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]byte{pageBody(t, "")}}

	strategy := &PageNumberStrategy{PageParam: "page", Parse: parseItemsFlat}
	records, err := strategy.FetchAll(context.Background(), fetcher, Request{
		Path:     "/activities",
		PageSize: 25,
	})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Len(t, fetcher.calls, 1)
}

func TestPageNumberStrategyRequiresPageSize(t *testing.T) {
	strategy := &PageNumberStrategy{PageParam: "page", Parse: parseItemsFlat}
	_, err := strategy.FetchAll(context.Background(), &fakeFetcher{}, Request{Path: "/x"})
	require.Error(t, err)
}

func TestMaxPagesCap(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]byte{
		pageBody(t, "", 0, 1),
		pageBody(t, "", 2, 3),
		pageBody(t, "", 4, 5),
	}}

	strategy := &PageNumberStrategy{PageParam: "page", Parse: parseItemsFlat, MaxPages: 2}
	records, err := strategy.FetchAll(context.Background(), fetcher, Request{
		Path:     "/activities",
		PageSize: 2,
	})
	require.NoError(t, err)
	assert.Len(t, records, 4)
	assert.Len(t, fetcher.calls, 2)
}
