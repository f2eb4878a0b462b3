package chembl

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	pages [][]byte
	calls []url.Values
}

func (f *fakeFetcher) Get(_ context.Context, _ string, query url.Values) ([]byte, error) {
	f.calls = append(f.calls, query)
	idx := len(f.calls) - 1
	if idx >= len(f.pages) {
		return []byte(`{"activities":[]}`), nil
	}
	return f.pages[idx], nil
}

func TestDescriptorIsValid(t *testing.T) {
	require.NoError(t, Descriptor().Validate())
}

func TestFetchActivitiesOffsetPagination(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]byte{
		[]byte(`{"activities":[
			{"activity_id":101,"molecule_chembl_id":"CHEMBL25","standard_type":"IC50","standard_value":"4.5","standard_units":"nM"},
			{"activity_id":102,"molecule_chembl_id":"CHEMBL26","standard_value":7.1}
		]}`),
		[]byte(`{"activities":[
			{"activity_id":103,"molecule_chembl_id":"CHEMBL27"}
		]}`),
	}}

	client := NewClient(fetcher, 2, 0, zap.NewNop())
	records, err := client.FetchActivities(context.Background(), url.Values{"target_chembl_id": {"CHEMBL240"}})
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, "CHEMBL25", records[0]["molecule_chembl_id"])
	assert.Equal(t, 4.5, records[0]["standard_value"])
	assert.Equal(t, 7.1, records[1]["standard_value"])

	require.Len(t, fetcher.calls, 2)
	assert.Equal(t, "0", fetcher.calls[0].Get("offset"))
	assert.Equal(t, "2", fetcher.calls[0].Get("limit"))
	assert.Equal(t, "2", fetcher.calls[1].Get("offset"))
	assert.Equal(t, "json", fetcher.calls[0].Get("format"))
	assert.Equal(t, "CHEMBL240", fetcher.calls[0].Get("target_chembl_id"))
}

func TestParseActivitiesSkipsNonObjects(t *testing.T) {
	records, err := parseActivities([]byte(`{"activities":[
		{"activity_id":1,"molecule_chembl_id":"CHEMBL1"},
		null,
		"garbage",
		{"activity_id":2,"molecule_chembl_id":"CHEMBL2"}
	]}`))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestParseActivitiesRejectsMalformedPage(t *testing.T) {
	_, err := parseActivities([]byte(`{"activities":`))
	require.Error(t, err)
}

func TestMigrateV1ToV2RenamesPublishedColumns(t *testing.T) {
	rec, err := MigrateV1ToV2(map[string]interface{}{
		"activity_id":     1,
		"published_value": 4.5,
		"published_units": "nM",
		"standard_type":   "IC50",
	})
	require.NoError(t, err)

	assert.Equal(t, 4.5, rec["standard_value"])
	assert.Equal(t, "nM", rec["standard_units"])
	assert.Equal(t, "IC50", rec["standard_type"])
	assert.NotContains(t, rec, "published_value")
}

func TestNormalizeActivityDropsUnknownColumns(t *testing.T) {
	rec := normalizeActivity(map[string]interface{}{
		"activity_id":     1,
		"internal_debug":  "x",
		"standard_value":  "not-a-number",
		"standard_units":  "nM",
	})

	assert.NotContains(t, rec, "internal_debug")
	// Unparseable numeric strings are kept as-is for QC to surface.
	assert.Equal(t, "not-a-number", rec["standard_value"])
	assert.Equal(t, "nM", rec["standard_units"])
}
