package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCodeRatio(t *testing.T) {
	r := &RouteData{}
	assert.Equal(t, 0.0, r.StatusCodeRatio(200), "no responses yet")

	r.StatusCodes = StatusCodes{200: 3, 500: 1}
	assert.InDelta(t, 75.0, r.StatusCodeRatio(200), 1e-9)
	assert.InDelta(t, 25.0, r.StatusCodeRatio(500), 1e-9)
	assert.Equal(t, 0.0, r.StatusCodeRatio(404))
	assert.Equal(t, int64(4), r.TotalResponses())
}

func TestIncrementStatusCode(t *testing.T) {
	r := &RouteData{}
	r.IncrementStatusCode(404)
	r.IncrementStatusCode(404)
	assert.Equal(t, int64(2), r.StatusCodeCount(404))
	assert.Equal(t, int64(0), r.StatusCodeCount(200))
}

func TestRouteDataString(t *testing.T) {
	assert.Equal(t, "RouteData#7", (&RouteData{ID: 7}).String())
	assert.Equal(t, "GET app_home (prod)", (&RouteData{Name: "app_home", Env: "prod", HTTPMethod: ptr("GET")}).String())
	assert.Equal(t, "app_home (dev)", (&RouteData{Name: "app_home", Env: "dev"}).String())
}

func TestMarkAsReviewed(t *testing.T) {
	r := &RouteData{}
	r.MarkAsReviewed(ptr(true), nil, ptr("ana"))
	assert.True(t, r.Reviewed)
	require.NotNil(t, r.ReviewedAt)
	assert.True(t, *r.QueriesImproved)
	assert.Nil(t, r.TimeImproved)
	assert.Equal(t, "ana", *r.ReviewedBy)
}

func TestAccessRecordHasSingleOwner(t *testing.T) {
	a := &RouteData{ID: 1}
	b := &RouteData{ID: 2}
	rec := &AccessRecord{}

	a.AddAccessRecord(rec)
	assert.Equal(t, uint(1), rec.RouteDataID)
	assert.Len(t, a.Records, 1)

	b.AddAccessRecord(rec)
	assert.Empty(t, a.Records)
	assert.Len(t, b.Records, 1)
	assert.Same(t, b, rec.RouteData)
	assert.Equal(t, uint(2), rec.RouteDataID)

	// Removing from a non-owner is a no-op.
	a.RemoveAccessRecord(rec)
	assert.Same(t, b, rec.RouteData)

	b.RemoveAccessRecord(rec)
	assert.Nil(t, rec.RouteData)
	assert.Empty(t, b.Records)
	assert.Zero(t, rec.RouteDataID)
}

func TestStatusCodesScan(t *testing.T) {
	var s StatusCodes
	require.NoError(t, s.Scan(`{"200":2,"500":1}`))
	assert.Equal(t, StatusCodes{200: 2, 500: 1}, s)

	require.NoError(t, s.Scan(nil))
	assert.Nil(t, s)

	require.NoError(t, s.Scan([]byte("null")))
	assert.Nil(t, s)

	assert.Error(t, s.Scan(42))

	v, err := StatusCodes(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}
