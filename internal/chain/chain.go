// Package chain links the measurements of each (region, type) partition
// into a single NEXT path ordered by time.
package chain

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/envgraph/internal/model"
	"github.com/sells-group/envgraph/internal/observability"
	"github.com/sells-group/envgraph/internal/store"
)

// Builder builds and checks temporal chains.
type Builder struct {
	store   store.Store
	metrics *observability.Metrics
	log     *zap.Logger
}

// NewBuilder creates a Builder. metrics may be nil.
func NewBuilder(st store.Store, metrics *observability.Metrics) *Builder {
	return &Builder{
		store:   st,
		metrics: metrics,
		log:     zap.L().With(zap.String("component", "chain")),
	}
}

// Stats summarizes one build.
type Stats struct {
	Type       model.MeasurementType
	Records    int // measurements read
	Skipped    int // unparseable timestamps
	Partitions int
	Linked     int // NEXT edges upserted
	Removed    int // stale NEXT edges removed
}

type entry struct {
	id string
	ts time.Time
}

// Build links the measurements of t. Records are ordered by timestamp
// within each region, ties keep measurement id order. NEXT edges of a
// partition that are not part of the computed chain are removed first,
// so re-running after new records arrive keeps a single path.
func (b *Builder) Build(ctx context.Context, t model.MeasurementType) (*Stats, error) {
	rows, err := b.store.Run(ctx, store.QueryMeasurementKeys, store.Params{Type: t})
	if err != nil {
		return nil, eris.Wrapf(err, "chain: read %s keys", t)
	}

	stats := &Stats{Type: t, Records: len(rows)}
	parts := make(map[string][]entry)
	for _, r := range rows {
		if _, ok := parts[r.Region]; !ok {
			parts[r.Region] = nil
		}
		ts, ok := model.ParseChainTime(t, r.Timestamp)
		if !ok {
			stats.Skipped++
			b.log.Debug("skipping unparseable timestamp",
				zap.String("type", string(t)),
				zap.String("id", r.ID),
				zap.String("timestamp", r.Timestamp),
			)
			continue
		}
		parts[r.Region] = append(parts[r.Region], entry{id: r.ID, ts: ts})
	}

	regions := make([]string, 0, len(parts))
	for region := range parts {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	for _, region := range regions {
		linked, removed, err := b.linkPartition(ctx, t, region, parts[region])
		if err != nil {
			return nil, err
		}
		stats.Linked += linked
		stats.Removed += removed
	}
	stats.Partitions = len(regions)

	b.metrics.ObserveChain(string(t), stats.Linked)
	b.log.Info("chain built",
		zap.String("type", string(t)),
		zap.Int("records", stats.Records),
		zap.Int("skipped", stats.Skipped),
		zap.Int("partitions", stats.Partitions),
		zap.Int("linked", stats.Linked),
		zap.Int("removed", stats.Removed),
	)
	return stats, nil
}

func (b *Builder) linkPartition(ctx context.Context, t model.MeasurementType, region string, entries []entry) (linked, removed int, err error) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ts.Before(entries[j].ts) })

	label := store.MeasurementLabel(t)
	link := func(from, to string) store.Edge {
		return store.Edge{
			From: store.NodeRef{Label: label, Key: from},
			To:   store.NodeRef{Label: label, Key: to},
			Type: store.RelNext,
		}
	}

	want := make(map[[2]string]bool, len(entries))
	edges := make([]store.Edge, 0, len(entries))
	for i := 1; i < len(entries); i++ {
		want[[2]string{entries[i-1].id, entries[i].id}] = true
		edges = append(edges, link(entries[i-1].id, entries[i].id))
	}

	existing, err := b.store.Run(ctx, store.QueryNextEdges, store.Params{Type: t, Region: region})
	if err != nil {
		return 0, 0, eris.Wrapf(err, "chain: read %s edges of %s", t, region)
	}
	var stale []store.Edge
	for _, e := range existing {
		if !want[[2]string{e.FromID, e.ToID}] {
			stale = append(stale, link(e.FromID, e.ToID))
		}
	}
	if err := b.store.RemoveEdges(ctx, stale...); err != nil {
		return 0, 0, eris.Wrapf(err, "chain: remove stale %s edges of %s", t, region)
	}
	if err := b.store.UpsertEdges(ctx, edges...); err != nil {
		return 0, 0, eris.Wrapf(err, "chain: link %s measurements of %s", t, region)
	}
	return len(edges), len(stale), nil
}

// BuildAll builds the chains of every measurement type in turn.
func (b *Builder) BuildAll(ctx context.Context) ([]*Stats, error) {
	out := make([]*Stats, 0, len(model.AllTypes))
	for _, t := range model.AllTypes {
		s, err := b.Build(ctx, t)
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Report is the result of walking one partition's chain.
type Report struct {
	Type       model.MeasurementType
	Region     string
	Expected   int // measurements with a parseable timestamp
	Heads      int
	Tails      int
	Branches   int // nodes with more than one NEXT in or out
	Length     int // distinct nodes reached from the heads
	OutOfOrder int // consecutive pairs where time goes backwards
}

// OK reports whether the partition forms one ordered path over every
// parseable measurement.
func (r *Report) OK() bool {
	if r.Expected <= 1 {
		return r.Heads == 0 && r.Tails == 0 && r.Length == 0
	}
	return r.Heads == 1 && r.Tails == 1 && r.Branches == 0 &&
		r.Length == r.Expected && r.OutOfOrder == 0
}

// Verify walks the chain of one partition from its head and checks the
// degree of every linked node.
func (b *Builder) Verify(ctx context.Context, t model.MeasurementType, region string) (*Report, error) {
	keys, err := b.store.Run(ctx, store.QueryMeasurementKeys, store.Params{Type: t})
	if err != nil {
		return nil, eris.Wrapf(err, "chain: read %s keys", t)
	}
	rep := &Report{Type: t, Region: region}
	for _, k := range keys {
		if k.Region != region {
			continue
		}
		if _, ok := model.ParseChainTime(t, k.Timestamp); ok {
			rep.Expected++
		}
	}

	edges, err := b.store.Run(ctx, store.QueryNextEdges, store.Params{Type: t, Region: region})
	if err != nil {
		return nil, eris.Wrapf(err, "chain: read %s edges of %s", t, region)
	}
	out := make(map[string]int)
	in := make(map[string]int)
	for _, e := range edges {
		out[e.FromID]++
		in[e.ToID]++
	}
	linked := make(map[string]bool, len(out)+len(in))
	for id := range out {
		linked[id] = true
	}
	for id := range in {
		linked[id] = true
	}
	for id := range linked {
		if out[id] > 1 || in[id] > 1 {
			rep.Branches++
		}
		if out[id] == 0 {
			rep.Tails++
		}
	}

	walk, err := b.store.Run(ctx, store.QueryChain, store.Params{Type: t, Region: region})
	if err != nil {
		return nil, eris.Wrapf(err, "chain: walk %s chain of %s", t, region)
	}

	seen := make(map[string]bool, len(walk))
	var prev time.Time
	for i, r := range walk {
		if r.Depth == 0 {
			rep.Heads++
		}
		seen[r.ID] = true
		ts, ok := model.ParseChainTime(t, r.Timestamp)
		if !ok {
			rep.OutOfOrder++
			continue
		}
		if i > 0 && ts.Before(prev) {
			rep.OutOfOrder++
		}
		prev = ts
	}
	rep.Length = len(seen)
	return rep, nil
}
