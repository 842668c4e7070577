package query

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_SimpleEqualFilter(t *testing.T) {
	values := url.Values{"status": {"eq.active"}}
	q, err := Parse("widgets", values, http.Header{}, nil, Options{})
	require.NoError(t, err)
	require.Len(t, q.Filters, 1)
	assert.Equal(t, "status", q.Filters[0].Column)
	assert.Equal(t, OpEqual, q.Filters[0].Operator)
	assert.Equal(t, "active", q.Filters[0].Value)
}

func TestParse_InFilter(t *testing.T) {
	values := url.Values{"id": {"in.(1,2,3)"}}
	q, err := Parse("widgets", values, http.Header{}, nil, Options{})
	require.NoError(t, err)
	require.Len(t, q.Filters, 1)
	assert.Equal(t, OpIn, q.Filters[0].Operator)
	assert.Equal(t, []string{"1", "2", "3"}, q.Filters[0].Value)
}

func TestParse_NegatedFilter(t *testing.T) {
	values := url.Values{"status": {"not.eq.archived"}}
	q, err := Parse("widgets", values, http.Header{}, nil, Options{})
	require.NoError(t, err)
	require.Len(t, q.Filters, 1)
	assert.True(t, q.Filters[0].Negated)
	assert.Equal(t, OpEqual, q.Filters[0].Operator)
}

func TestParse_ILikeWildcard(t *testing.T) {
	values := url.Values{"name": {"ilike.*jo*"}}
	q, err := Parse("widgets", values, http.Header{}, nil, Options{})
	require.NoError(t, err)
	require.Len(t, q.Filters, 1)
	assert.Equal(t, OpILike, q.Filters[0].Operator)
	assert.Equal(t, "*jo*", q.Filters[0].Value)
}

func TestParse_OrGroup(t *testing.T) {
	values := url.Values{"or": {"(status.eq.active,status.eq.pending)"}}
	q, err := Parse("widgets", values, http.Header{}, nil, Options{})
	require.NoError(t, err)
	require.Len(t, q.Filters, 2)
	assert.NotZero(t, q.Filters[0].OrGroupID)
	assert.Equal(t, q.Filters[0].OrGroupID, q.Filters[1].OrGroupID)
}

func TestParse_ReservedParamsAreNotFilters(t *testing.T) {
	values := url.Values{"select": {"id,name"}, "limit": {"10"}}
	q, err := Parse("widgets", values, http.Header{}, nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, q.Filters)
}

func TestParse_UnknownOperatorErrors(t *testing.T) {
	values := url.Values{"status": {"bogus.active"}}
	_, err := Parse("widgets", values, http.Header{}, nil, Options{})
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 400, perr.Status)
}

func TestParse_MalformedFilterErrors(t *testing.T) {
	values := url.Values{"status": {"noperiodatall"}}
	_, err := Parse("widgets", values, http.Header{}, nil, Options{})
	require.Error(t, err)
}

func TestParse_RangeHeaderDerivesLimitOffset(t *testing.T) {
	headers := http.Header{}
	headers.Set("Range", "10-19")
	q, err := Parse("widgets", url.Values{}, headers, nil, Options{})
	require.NoError(t, err)
	require.NotNil(t, q.Limit)
	require.NotNil(t, q.Offset)
	assert.Equal(t, 10, *q.Offset)
	assert.Equal(t, 10, *q.Limit)
	assert.Equal(t, CountExact, q.Count)
}

func TestParse_RangeUnitMustBeItems(t *testing.T) {
	headers := http.Header{}
	headers.Set("Range", "0-9")
	headers.Set("Range-Unit", "bytes")
	_, err := Parse("widgets", url.Values{}, headers, nil, Options{})
	require.Error(t, err)
}

func TestParse_PreferReturnMinimal(t *testing.T) {
	headers := http.Header{}
	headers.Set("Prefer", "return=minimal")
	q, err := Parse("widgets", url.Values{}, headers, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, ReturnMinimal, q.PreferReturn)
}

func TestParse_PreferResolutionMergeDuplicates(t *testing.T) {
	headers := http.Header{}
	headers.Set("Prefer", "resolution=merge-duplicates,return=representation")
	q, err := Parse("widgets", url.Values{}, headers, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, ResolutionMergeDuplicates, q.PreferResolution)
	assert.Equal(t, ReturnRepresentation, q.PreferReturn)
}

func TestParse_AcceptSingleObjectHeader(t *testing.T) {
	headers := http.Header{}
	headers.Set("Accept", "application/vnd.pgrst.object+json")
	q, err := Parse("widgets", url.Values{}, headers, nil, Options{})
	require.NoError(t, err)
	assert.True(t, q.SingleObject)
}

func TestParse_PageLimitsCapMaxPageSize(t *testing.T) {
	q, err := Parse("widgets", url.Values{"limit": {"500"}}, http.Header{}, nil, Options{Limits: Limits{MaxPageSize: 100}})
	require.NoError(t, err)
	assert.Equal(t, 100, *q.Limit)
}

func TestParse_PageLimitsDefaultApplied(t *testing.T) {
	q, err := Parse("widgets", url.Values{}, http.Header{}, nil, Options{Limits: Limits{DefaultPageSize: 25}})
	require.NoError(t, err)
	require.NotNil(t, q.Limit)
	assert.Equal(t, 25, *q.Limit)
}

func TestParse_JSONObjectBodyBecomesSingleRow(t *testing.T) {
	q, err := Parse("widgets", url.Values{}, http.Header{}, []byte(`{"name":"a"}`), Options{})
	require.NoError(t, err)
	require.Len(t, q.Rows, 1)
	assert.Equal(t, "a", q.Rows[0]["name"])
}

func TestParse_JSONArrayBodyBecomesMultipleRows(t *testing.T) {
	q, err := Parse("widgets", url.Values{}, http.Header{}, []byte(`[{"name":"a"},{"name":"b"}]`), Options{})
	require.NoError(t, err)
	require.Len(t, q.Rows, 2)
}

func TestParse_MalformedJSONBodyErrors(t *testing.T) {
	_, err := Parse("widgets", url.Values{}, http.Header{}, []byte(`not json`), Options{})
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 400, perr.Status)
}

func TestParse_SchemaFromAcceptProfileHeader(t *testing.T) {
	headers := http.Header{}
	headers.Set("Accept-Profile", "tenant_a")
	q, err := Parse("widgets", url.Values{}, headers, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "tenant_a", q.Schema)
}
