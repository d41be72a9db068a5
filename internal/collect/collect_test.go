package collect

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/goleak"

	"github.com/sells-group/envgraph/internal/boundary"
	"github.com/sells-group/envgraph/internal/imagery"
	"github.com/sells-group/envgraph/internal/model"
	"github.com/sells-group/envgraph/internal/observability"
	"github.com/sells-group/envgraph/internal/source"
	"github.com/sells-group/envgraph/internal/tabular"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeFetcher struct {
	mu       sync.Mutex
	requests []imagery.Request
	inFlight atomic.Int32
	peak     atomic.Int32
	fn       func(imagery.Request) (imagery.Result, error)
}

func (f *fakeFetcher) Reduce(_ context.Context, req imagery.Request) (imagery.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.fn(req)
}

func mustSource(t *testing.T, name string) *source.Source {
	t.Helper()
	reg, err := source.NewRegistry()
	require.NoError(t, err)
	src, err := reg.Get(name)
	require.NoError(t, err)
	return src
}

func districts(names ...string) []boundary.District {
	out := make([]boundary.District, len(names))
	for i, n := range names {
		out[i] = boundary.District{Name: n, Geometry: geom.NewPointFlat(geom.XY, []float64{float64(i), 0})}
	}
	return out
}

func sequentialIDs() func() string {
	var n atomic.Int32
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func TestRunAbsorbsFailures(t *testing.T) {
	src := mustSource(t, "co")
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	windows := Weekly(start, start.AddDate(0, 0, 14), 7)

	f := &fakeFetcher{fn: func(req imagery.Request) (imagery.Result, error) {
		x, _ := req.Geometry.(*geom.Point)
		switch {
		case x.X() == 1 && req.Start.Equal(start):
			return nil, errors.New("quota exceeded")
		case x.X() == 2:
			return imagery.Result{"CO_column_number_density": nil}, nil
		}
		v := 0.03
		return imagery.Result{"CO_column_number_density": &v}, nil
	}}

	metrics := observability.NewMetricsForTesting()
	c := New(f, 2, WithMetrics(metrics), WithIDFunc(sequentialIDs()))
	rep, err := c.Run(context.Background(), src, districts("Pune", "Solapur", "Satara"), windows)
	require.NoError(t, err)

	assert.Equal(t, 6, rep.Tasks)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 2, rep.Empty)
	assert.Equal(t, 3, rep.Succeeded)
	assert.Equal(t, rep.Tasks, rep.Succeeded+rep.Empty+rep.Failed)
	assert.LessOrEqual(t, f.peak.Load(), int32(2))
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.FetchRequests.WithLabelValues(src.Name, observability.OutcomeEmpty)), 0)

	// Rows keep district then window order. All-null results leave no row.
	require.Len(t, rep.Rows, 3)
	assert.Equal(t, "Pune", rep.Rows[0][1])
	assert.Equal(t, "2020-01-01T00:00:00 to 2020-01-08T00:00:00", rep.Rows[0][2])
	assert.Equal(t, "Pune", rep.Rows[1][1])
	assert.Equal(t, "Solapur", rep.Rows[2][1])
	assert.Equal(t, "2020-01-08T00:00:00 to 2020-01-15T00:00:00", rep.Rows[2][2])
	assert.Equal(t, src.Label, rep.Rows[0][3])

	recs := rep.Records()
	assert.Equal(t, "0.03", recs[0].Get("CO_column_number_density"))
	assert.Equal(t, "", recs[0].Get("cloud_height"))
	for _, r := range rep.Rows {
		assert.NotEqual(t, "Satara", r[1])
	}

	assert.Equal(t, src.Collection, f.requests[0].Collection)
	assert.Equal(t, src.Bands(), f.requests[0].Bands)
}

func TestRunLandCoverYears(t *testing.T) {
	src := mustSource(t, "landcover")
	f := &fakeFetcher{fn: func(req imagery.Request) (imagery.Result, error) {
		out := imagery.Result{}
		for _, b := range req.Bands {
			v := 0.1
			out[b] = &v
		}
		return out, nil
	}}

	rep, err := New(f, 4).Run(context.Background(), src, districts("Pune"), Years(2017, 2019))
	require.NoError(t, err)
	require.Len(t, rep.Rows, 3)
	assert.Equal(t, "2017", rep.Rows[0][2])
	assert.Equal(t, "year", rep.Header[2])
	assert.Equal(t, "histogram", f.requests[0].Reducer)
	assert.Len(t, f.requests[0].Classes, 9)

	path := filepath.Join(t.TempDir(), "landcover.csv")
	require.NoError(t, rep.WriteFile(path))
	recs, err := tabular.ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	assert.Equal(t, "0.1", recs[0].Get(model.ClassWater))
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeFetcher{fn: func(imagery.Request) (imagery.Result, error) {
		cancel()
		return imagery.Result{}, nil
	}}

	_, err := New(f, 1).Run(ctx, mustSource(t, "ozone"), districts("Pune", "Solapur"), Years(2020, 2021))
	assert.Error(t, err)
}

func TestWeekly(t *testing.T) {
	start := time.Date(2018, 11, 22, 12, 0, 13, 0, time.UTC)
	end := start.AddDate(0, 0, 10)

	ws := Weekly(start, end, 7)
	require.Len(t, ws, 2)
	assert.Equal(t, start.AddDate(0, 0, 7), ws[0].End)
	assert.Equal(t, end, ws[1].End)
	assert.Equal(t, "2018-11-22T12:00:13 to 2018-11-29T12:00:13", ws[0].Timestamp())

	assert.Empty(t, Weekly(end, start, 7))
	assert.Len(t, Weekly(start, start.AddDate(0, 0, 14), 0), 2)
}

func TestPlan(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2020, 1, 15, 6, 0, 0, 0, time.UTC))
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	ws := Plan(mustSource(t, "aerosol"), start, time.Time{}, 7, clock)
	require.Len(t, ws, 3)
	assert.Equal(t, clock.Now(), ws[2].End)

	ws = Plan(mustSource(t, "aerosol"), start, start.AddDate(0, 0, 7), 7, clock)
	assert.Len(t, ws, 1)

	ws = Plan(mustSource(t, "landcover"), start, time.Time{}, 7, clock)
	require.Len(t, ws, 7)
	assert.Equal(t, 2017, ws[0].Year)
	assert.Equal(t, "2023", ws[6].Timestamp())
}
