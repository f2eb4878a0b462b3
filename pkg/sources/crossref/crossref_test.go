package crossref

import (
	"context"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	responses map[string][]byte
	calls     []url.Values
}

func (f *fakeFetcher) Get(_ context.Context, _ string, query url.Values) ([]byte, error) {
	f.calls = append(f.calls, query)
	body, ok := f.responses[query.Get("cursor")]
	if !ok {
		return nil, fmt.Errorf("unexpected cursor %q", query.Get("cursor"))
	}
	return body, nil
}

func TestDescriptorIsValid(t *testing.T) {
	require.NoError(t, Descriptor().Validate())
}

func worksPage(next string, dois ...string) []byte {
	items := ""
	for i, doi := range dois {
		if i > 0 {
			items += ","
		}
		items += fmt.Sprintf(`{
			"DOI": %q,
			"type": "journal-article",
			"title": ["Sample Work"],
			"container-title": ["J Med Chem"],
			"publisher": "ACS",
			"issued": {"date-parts": [[2021, 3]]},
			"is-referenced-by-count": 12
		}`, doi)
	}
	return []byte(fmt.Sprintf(`{"message":{"items":[%s],"next-cursor":%q}}`, items, next))
}

func TestFetchWorksCursorPagination(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"*":  worksPage("tokA", "10.1021/A", "10.1021/B"),
		"tokA": worksPage("", "10.1021/C"),
	}}

	client := NewClient(fetcher, 2, 0, zap.NewNop())
	records, err := client.FetchWorks(context.Background(), url.Values{"filter": {"type:journal-article"}})
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, "10.1021/a", records[0]["doi"])
	assert.Equal(t, "Sample Work", records[0]["title"])
	assert.Equal(t, "J Med Chem", records[0]["container_title"])
	assert.Equal(t, 2021, records[0]["issued_year"])
	assert.Equal(t, 12, records[0]["referenced_by_count"])

	require.Len(t, fetcher.calls, 2)
	assert.Equal(t, "*", fetcher.calls[0].Get("cursor"))
	assert.Equal(t, "tokA", fetcher.calls[1].Get("cursor"))
	assert.Equal(t, "2", fetcher.calls[0].Get("rows"))
	assert.Equal(t, "type:journal-article", fetcher.calls[0].Get("filter"))
}

func TestParseWorksTolerantOfSparseItems(t *testing.T) {
	page, err := parseWorks([]byte(`{"message":{"items":[
		{"DOI":"10.1/X"},
		{"title":["No DOI here"]},
		null
	],"next-cursor":""}}`))
	require.NoError(t, err)

	require.Len(t, page.Records, 2)
	assert.Equal(t, "10.1/x", page.Records[0]["doi"])
	assert.NotContains(t, page.Records[1], "doi")
}

func TestParseWorksMalformed(t *testing.T) {
	_, err := parseWorks([]byte(`{"message":`))
	require.Error(t, err)
}

func TestIssuedYearEdgeCases(t *testing.T) {
	_, ok := issuedYear(nil)
	assert.False(t, ok)

	_, ok = issuedYear(map[string]interface{}{"date-parts": []interface{}{}})
	assert.False(t, ok)

	year, ok := issuedYear(map[string]interface{}{
		"date-parts": []interface{}{[]interface{}{float64(2019)}},
	})
	assert.True(t, ok)
	assert.Equal(t, 2019, year)
}
