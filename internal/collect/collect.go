// Package collect fans imagery reductions out over districts and time
// windows with a bounded worker pool and assembles the measurement table.
package collect

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/envgraph/internal/boundary"
	"github.com/sells-group/envgraph/internal/imagery"
	"github.com/sells-group/envgraph/internal/ingest"
	"github.com/sells-group/envgraph/internal/observability"
	"github.com/sells-group/envgraph/internal/source"
	"github.com/sells-group/envgraph/internal/tabular"
)

// Collector runs reductions for one source at a time.
type Collector struct {
	fetcher     imagery.Fetcher
	concurrency int
	metrics     *observability.Metrics
	clock       clockwork.Clock
	newID       func() string
	log         *zap.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithMetrics records fetch outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

// WithClock sets the clock used for timing.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Collector) { c.clock = clock }
}

// WithIDFunc replaces the measurement id generator.
func WithIDFunc(fn func() string) Option {
	return func(c *Collector) { c.newID = fn }
}

// New creates a Collector running at most concurrency tasks at once.
func New(f imagery.Fetcher, concurrency int, opts ...Option) *Collector {
	c := &Collector{
		fetcher:     f,
		concurrency: max(1, concurrency),
		clock:       clockwork.NewRealClock(),
		newID:       uuid.NewString,
		log:         zap.L().With(zap.String("component", "collect")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Report is the outcome of one run. Rows follow Header, which is the
// ingest table layout of the source type.
type Report struct {
	Source    string
	Tasks     int
	Succeeded int // tasks that produced a row
	Empty     int // every band null, no row
	Failed    int
	Header    []string
	Rows      [][]string
}

// Records returns the rows as table records for the ingest loader.
func (r *Report) Records() []tabular.Record {
	return tabular.NewRecords(r.Header, r.Rows)
}

// WriteFile writes the table as CSV or XLSX.
func (r *Report) WriteFile(path string) error {
	return tabular.WriteFile(path, r.Header, r.Rows)
}

// Run reduces src over every district and window. A failing task is
// logged and counted and never cancels the others. A result with every
// band null is counted as empty and produces no row. Rows keep district
// then window order. Only ctx cancellation makes Run fail.
func (c *Collector) Run(ctx context.Context, src *source.Source, districts []boundary.District, windows []Window) (*Report, error) {
	runStart := c.clock.Now()
	type task struct {
		district boundary.District
		window   Window
	}
	tasks := make([]task, 0, len(districts)*len(windows))
	for _, d := range districts {
		for _, w := range windows {
			tasks = append(tasks, task{district: d, window: w})
		}
	}

	slots := make([][]string, len(tasks))
	var failed, empty atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for i, tk := range tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			start := c.clock.Now()
			res, err := c.fetcher.Reduce(ctx, imagery.Request{
				Collection: src.Collection,
				Geometry:   tk.district.Geometry,
				Start:      tk.window.Start,
				End:        tk.window.End,
				Bands:      src.Bands(),
				Scale:      src.Scale,
				Reducer:    src.Reducer,
				Classes:    src.Classes,
			})
			elapsed := c.clock.Since(start)
			if err != nil {
				failed.Add(1)
				c.metrics.ObserveFetch(src.Name, observability.OutcomeError, elapsed)
				c.log.Warn("reduce failed",
					zap.String("source", src.Name),
					zap.String("district", tk.district.Name),
					zap.String("window", tk.window.Timestamp()),
					zap.Error(err),
				)
				return nil
			}
			if res.Empty() {
				empty.Add(1)
				c.metrics.ObserveFetch(src.Name, observability.OutcomeEmpty, elapsed)
				return nil
			}
			c.metrics.ObserveFetch(src.Name, observability.OutcomeSuccess, elapsed)
			slots[i] = c.row(src, tk.district.Name, tk.window, res)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "collect: run cancelled")
	}

	rep := &Report{
		Source: src.Name,
		Tasks:  len(tasks),
		Failed: int(failed.Load()),
		Empty:  int(empty.Load()),
		Header: ingest.Header(src.Type),
	}
	for _, row := range slots {
		if row != nil {
			rep.Rows = append(rep.Rows, row)
		}
	}
	rep.Succeeded = len(rep.Rows)

	c.log.Info("collection finished",
		zap.String("source", src.Name),
		zap.Int("tasks", rep.Tasks),
		zap.Int("succeeded", rep.Succeeded),
		zap.Int("empty", rep.Empty),
		zap.Int("failed", rep.Failed),
		zap.Duration("elapsed", c.clock.Since(runStart)),
	)
	return rep, nil
}

func (c *Collector) row(src *source.Source, district string, w Window, res imagery.Result) []string {
	row := []string{c.newID(), district, w.Timestamp(), src.Label}
	for _, band := range src.Bands() {
		if v := res[band]; v != nil {
			row = append(row, strconv.FormatFloat(*v, 'g', -1, 64))
		} else {
			row = append(row, "")
		}
	}
	return row
}
