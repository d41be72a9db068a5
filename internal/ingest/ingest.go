// Package ingest loads collected measurement tables into the graph:
// completeness filter, missing-records sink, measurement nodes and their
// HAS_MEASUREMENT and BELONGS_TO edges.
package ingest

import (
	"context"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/envgraph/internal/model"
	"github.com/sells-group/envgraph/internal/normalize"
	"github.com/sells-group/envgraph/internal/observability"
	"github.com/sells-group/envgraph/internal/source"
	"github.com/sells-group/envgraph/internal/store"
	"github.com/sells-group/envgraph/internal/tabular"
)

// Table columns shared by every measurement type.
const (
	ColID        = "measurement_id"
	ColDistrict  = "district_name"
	ColTimestamp = "timestamp"
	ColYear      = "year"
	ColDataset   = "dataset"
)

const batchSize = 500

// TimeColumn returns the column holding the timestamp of t.
func TimeColumn(t model.MeasurementType) string {
	if t.Annual() {
		return ColYear
	}
	return ColTimestamp
}

// Header returns the table header for measurements of t.
func Header(t model.MeasurementType) []string {
	return append([]string{ColID, ColDistrict, TimeColumn(t), ColDataset}, t.Fields()...)
}

// ReadRecords converts table records into wide rows of t. Empty or
// unparseable numeric cells become missing values.
func ReadRecords(recs []tabular.Record, t model.MeasurementType) []normalize.Row {
	fields := t.Fields()
	timeCol := TimeColumn(t)

	out := make([]normalize.Row, len(recs))
	for i, rec := range recs {
		cols := make(map[string]string, len(rec.Header))
		for _, h := range rec.Header {
			cols[h] = rec.Get(h)
		}
		values := make(map[string]*float64, len(fields))
		for _, f := range fields {
			if v, err := strconv.ParseFloat(rec.Get(f), 64); err == nil {
				values[f] = &v
			}
		}
		out[i] = normalize.Row{
			Number:   rec.Number,
			District: model.CanonicalName(rec.Get(ColDistrict)),
			Date:     rec.Get(timeCol),
			Values:   values,
			Columns:  cols,
		}
	}
	return out
}

// Result summarizes one load.
type Result struct {
	Type     model.MeasurementType
	Read     int
	Loaded   int
	Rejected int
	SinkPath string
}

// Pipeline loads measurement rows into a store.
type Pipeline struct {
	store   store.Store
	sink    normalize.Sink
	metrics *observability.Metrics
	log     *zap.Logger
}

// NewPipeline creates a Pipeline. metrics may be nil.
func NewPipeline(st store.Store, sink normalize.Sink, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		store:   st,
		sink:    sink,
		metrics: metrics,
		log:     zap.L().With(zap.String("component", "ingest")),
	}
}

// LoadFile reads a CSV or XLSX table and loads it for src.
func (p *Pipeline) LoadFile(ctx context.Context, src *source.Source, path string) (*Result, error) {
	recs, err := tabular.ReadFile(ctx, path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}
	var header []string
	if len(recs) > 0 {
		header = recs[0].Header
	}
	return p.Load(ctx, src, header, ReadRecords(recs, src.Type))
}

// Load persists the complete rows and sends the rest to the sink. Rows
// without an id, district or timestamp are rejected too. Re-loading the
// same rows creates nothing new.
func (p *Pipeline) Load(ctx context.Context, src *source.Source, header []string, rows []normalize.Row) (*Result, error) {
	t := src.Type
	if len(header) == 0 {
		header = Header(t)
	}
	res := &Result{Type: t, Read: len(rows)}

	var identified []normalize.Row
	var missing []normalize.MissingRecord
	for _, r := range rows {
		var absent []string
		for _, col := range []string{ColID, ColDistrict, TimeColumn(t)} {
			if r.Columns[col] == "" {
				absent = append(absent, col)
			}
		}
		if len(absent) > 0 {
			missing = append(missing, normalize.MissingRecord{RowNumber: r.Number, Columns: r.Columns, Missing: absent})
			continue
		}
		identified = append(identified, r)
	}
	complete, incomplete := normalize.FilterComplete(identified, t.Fields())
	missing = append(missing, incomplete...)
	sort.SliceStable(missing, func(i, j int) bool { return missing[i].RowNumber < missing[j].RowNumber })

	path, err := p.sink.Write(t, header, missing)
	if err != nil {
		return nil, err
	}
	res.Rejected = len(missing)
	res.SinkPath = path
	if path != "" {
		p.log.Info("missing records written",
			zap.String("type", string(t)),
			zap.Int("rows", len(missing)),
			zap.String("path", path),
		)
	}

	if err := p.store.UpsertNodes(ctx, store.Node{
		Label: store.LabelDataset,
		Key:   src.Dataset.ID,
		Props: src.Dataset.Properties(),
	}); err != nil {
		return nil, eris.Wrap(err, "ingest: upsert dataset")
	}

	for start := 0; start < len(complete); start += batchSize {
		end := min(start+batchSize, len(complete))
		if err := p.loadBatch(ctx, src, complete[start:end]); err != nil {
			return nil, err
		}
	}
	res.Loaded = len(complete)

	p.metrics.ObserveIngest(string(t), res.Loaded, res.Rejected)
	p.log.Info("measurements loaded",
		zap.String("type", string(t)),
		zap.Int("read", res.Read),
		zap.Int("loaded", res.Loaded),
		zap.Int("rejected", res.Rejected),
	)
	return res, nil
}

func (p *Pipeline) loadBatch(ctx context.Context, src *source.Source, rows []normalize.Row) error {
	label := store.MeasurementLabel(src.Type)
	nodes := make([]store.Node, 0, len(rows))
	edges := make([]store.Edge, 0, 2*len(rows))

	for _, r := range rows {
		m := ToMeasurement(src, r)
		nodes = append(nodes, store.Node{Label: label, Key: m.ID, Props: m.Properties()})
		ref := store.NodeRef{Label: label, Key: m.ID}
		edges = append(edges,
			store.Edge{From: store.NodeRef{Label: store.LabelDistrict, Key: m.Region}, To: ref, Type: store.RelHasMeasurement},
			store.Edge{From: ref, To: store.NodeRef{Label: store.LabelDataset, Key: src.Dataset.ID}, Type: store.RelBelongsTo},
		)
	}

	if err := p.store.UpsertNodes(ctx, nodes...); err != nil {
		return eris.Wrap(err, "ingest: upsert measurements")
	}
	if err := p.store.UpsertEdges(ctx, edges...); err != nil {
		return eris.Wrap(err, "ingest: upsert measurement edges")
	}
	return nil
}

// ToMeasurement builds the measurement of a complete row. The dataset
// column falls back to the source label.
func ToMeasurement(src *source.Source, r normalize.Row) model.Measurement {
	m := model.Measurement{
		ID:        r.Columns[ColID],
		Type:      src.Type,
		Region:    r.District,
		Timestamp: r.Date,
		Dataset:   r.Columns[ColDataset],
		Values:    make(map[string]float64, len(r.Values)),
	}
	if m.Dataset == "" {
		m.Dataset = src.Label
	}
	for _, f := range src.Type.Fields() {
		if v := r.Values[f]; v != nil {
			m.Values[f] = *v
		}
	}
	return m
}
