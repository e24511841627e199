package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "routeperf/internal/errors"
	"routeperf/internal/perf"
)

var _ perf.Publisher = (*Conn)(nil)

type fakeRecorder struct {
	got []perf.Sample
	err error
}

func (f *fakeRecorder) RecordSync(_ context.Context, s perf.Sample) (perf.Result, error) {
	if f.err != nil {
		return perf.Result{}, f.err
	}
	f.got = append(f.got, s)
	return perf.Result{IsNew: len(f.got) == 1, WasUpdated: len(f.got) > 1}, nil
}

func TestEncodeDecode(t *testing.T) {
	rt := 0.3
	code := 500
	in := perf.Sample{
		Route:       "app_home",
		Env:         "prod",
		RequestTime: &rt,
		StatusCode:  &code,
		Params:      map[string]any{"page": "2"},
		RequestID:   "req-9",
	}
	data, err := Encode(in, time.Now())
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in.Route, out.Route)
	assert.Equal(t, 0.3, *out.RequestTime)
	assert.Equal(t, 500, *out.StatusCode)
	assert.Nil(t, out.TotalQueries, "missing metrics stay nil")
	assert.Equal(t, "2", out.Params["page"])
	assert.Equal(t, "req-9", out.RequestID)
}

func TestDecodeRejects(t *testing.T) {
	tests := map[string]string{
		"garbage":       `not json`,
		"wrong version": `{"v":99,"sample":{"route":"a","env":"dev"}}`,
		"no route":      `{"v":1,"sample":{"env":"dev"}}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(data))
			require.Error(t, err)
			assert.True(t, perrors.IsCategory(err, perrors.CategoryValidation))
		})
	}
}

func TestHandle(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	data, err := Encode(perf.Sample{Route: "a", Env: "dev"}, time.Now())
	require.NoError(t, err)

	outcome, err := Handle(ctx, rec, data)
	require.NoError(t, err)
	assert.Equal(t, Acked, outcome)
	require.Len(t, rec.got, 1)
	assert.Equal(t, "a", rec.got[0].Route)

	outcome, err = Handle(ctx, rec, []byte("{"))
	assert.Error(t, err)
	assert.Equal(t, Dropped, outcome)

	rec.err = errors.New("database is locked")
	outcome, err = Handle(ctx, rec, data)
	assert.EqualError(t, err, "database is locked")
	assert.Equal(t, Retried, outcome)
}

func TestConnectFailureIsDependencyError(t *testing.T) {
	_, err := Connect(context.Background(), "nats://127.0.0.1:1", "ROUTEPERF", "routeperf.metrics")
	require.Error(t, err)
	assert.True(t, perrors.IsCategory(err, perrors.CategoryDependency))
}
