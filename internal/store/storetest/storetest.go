// Package storetest provides a migrated on-disk SQLite store and small
// graph fixtures for package tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/envgraph/internal/model"
	"github.com/sells-group/envgraph/internal/store"
)

// NewSQLite opens a migrated SQLite store in a temp dir, closed on cleanup.
func NewSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// District upserts district nodes with only a name.
func District(t *testing.T, st store.Store, names ...string) {
	t.Helper()
	nodes := make([]store.Node, len(names))
	for i, n := range names {
		nodes[i] = store.Node{Label: store.LabelDistrict, Key: n, Props: model.District{Name: n}.Properties()}
	}
	require.NoError(t, st.UpsertNodes(context.Background(), nodes...))
}

// Neighbors links from to each of to with NEIGHBOR_OF.
func Neighbors(t *testing.T, st store.Store, from string, to ...string) {
	t.Helper()
	edges := make([]store.Edge, len(to))
	for i, n := range to {
		edges[i] = store.Edge{
			From: store.NodeRef{Label: store.LabelDistrict, Key: from},
			To:   store.NodeRef{Label: store.LabelDistrict, Key: n},
			Type: store.RelNeighborOf,
		}
	}
	require.NoError(t, st.UpsertEdges(context.Background(), edges...))
}

// Measurement persists m with every numeric field of its type set to
// value and links it to its district when linkDistrict is true.
func Measurement(t *testing.T, st store.Store, m model.Measurement, value float64, linkDistrict bool) {
	t.Helper()
	if m.Values == nil {
		m.Values = make(map[string]float64)
		for _, f := range m.Type.Fields() {
			m.Values[f] = value
		}
	}
	label := store.MeasurementLabel(m.Type)
	ctx := context.Background()
	require.NoError(t, st.UpsertNodes(ctx, store.Node{Label: label, Key: m.ID, Props: m.Properties()}))
	if linkDistrict {
		require.NoError(t, st.UpsertEdges(ctx, store.Edge{
			From: store.NodeRef{Label: store.LabelDistrict, Key: m.Region},
			To:   store.NodeRef{Label: label, Key: m.ID},
			Type: store.RelHasMeasurement,
		}))
	}
}

// Count returns the number of nodes with label l.
func Count(t *testing.T, st store.Store, l store.Label) int64 {
	t.Helper()
	rows, err := st.Run(context.Background(), store.QueryCountNodes, store.Params{Label: l})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0].Count
}

// CountEdges returns the number of edges of type r.
func CountEdges(t *testing.T, st store.Store, r store.RelType) int64 {
	t.Helper()
	rows, err := st.Run(context.Background(), store.QueryCountEdges, store.Params{Rel: r})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0].Count
}
