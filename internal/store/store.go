// Package store persists the measurement graph. Backends share one
// contract: idempotent node and edge upserts plus a closed table of
// named queries.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/envgraph/internal/model"
)

// Label is a node label. Only the labels declared here are accepted.
type Label string

// Node labels.
const (
	LabelDistrict  Label = "District"
	LabelDataset   Label = "Dataset"
	LabelCO        Label = "CO_Measurement"
	LabelOzone     Label = "Ozone_Measurement"
	LabelAerosol   Label = "Aerosol_AI_Measurement"
	LabelLandCover Label = "LandCoverMeasurement"
)

type labelSpec struct {
	keyProp string
	mutable bool
}

var labels = map[Label]labelSpec{
	LabelDistrict:  {keyProp: "name"},
	LabelDataset:   {keyProp: "dataset_id", mutable: true},
	LabelCO:        {keyProp: "measurement_id"},
	LabelOzone:     {keyProp: "measurement_id"},
	LabelAerosol:   {keyProp: "measurement_id"},
	LabelLandCover: {keyProp: "measurement_id"},
}

// MeasurementLabel maps a measurement type to its node label.
func MeasurementLabel(t model.MeasurementType) Label { return Label(t.Label()) }

// Valid reports whether l is a declared label.
func (l Label) Valid() bool {
	_, ok := labels[l]
	return ok
}

// KeyProperty is the property that uniquely identifies nodes of l.
func (l Label) KeyProperty() string { return labels[l].keyProp }

// Mutable reports whether re-upserting an existing node replaces its
// properties. Districts and measurements keep their first write.
func (l Label) Mutable() bool { return labels[l].mutable }

// Measurement reports whether l is one of the measurement labels.
func (l Label) Measurement() bool { return labels[l].keyProp == "measurement_id" }

// RelType is a relationship type.
type RelType string

// Relationship types.
const (
	RelHasMeasurement RelType = "HAS_MEASUREMENT"
	RelBelongsTo      RelType = "BELONGS_TO"
	RelNeighborOf     RelType = "NEIGHBOR_OF"
	RelNext           RelType = "NEXT"
)

// Valid reports whether r is a declared relationship type.
func (r RelType) Valid() bool {
	switch r {
	case RelHasMeasurement, RelBelongsTo, RelNeighborOf, RelNext:
		return true
	}
	return false
}

// NodeRef addresses a node by label and key.
type NodeRef struct {
	Label Label
	Key   string
}

// Node is a node to upsert. Props must be JSON-compatible scalars.
type Node struct {
	Label Label
	Key   string
	Props map[string]any
}

// Edge is a directed relationship between two existing nodes.
type Edge struct {
	From NodeRef
	To   NodeRef
	Type RelType
}

// QueryID names one entry of the fixed query table.
type QueryID string

// Queries every backend implements.
const (
	// QueryMeasurementKeys lists id, region and timestamp of every
	// measurement of Params.Type, ordered by id.
	QueryMeasurementKeys QueryID = "measurement_keys"
	// QuerySeries returns measurements of Params.Type linked to
	// Params.District with start <= timestamp <= end.
	QuerySeries QueryID = "series"
	// QueryNeighborSeries is QuerySeries over every neighbor of Params.District.
	QueryNeighborSeries QueryID = "neighbor_series"
	// QueryLandCover matches land cover by region, ignoring case.
	QueryLandCover QueryID = "landcover"
	// QueryNeighborLandCover returns land cover of every neighbor of Params.District.
	QueryNeighborLandCover QueryID = "neighbor_landcover"
	// QueryChain walks NEXT edges of one (type, region) partition from its head.
	QueryChain QueryID = "chain"
	// QueryNextEdges lists the NEXT edges of one partition.
	QueryNextEdges QueryID = "next_edges"
	QueryNeighbors QueryID = "neighbors"
	QueryDistricts QueryID = "districts"
	QueryCountNodes QueryID = "count_nodes"
	QueryCountEdges QueryID = "count_edges"
)

// Params carries the named parameters of a query. Each query reads only
// the fields it needs.
type Params struct {
	Type     model.MeasurementType
	District string
	Region   string
	Start    string
	End      string
	Label    Label
	Rel      RelType
}

// Row is one result row. Which fields are set depends on the query.
type Row struct {
	ID        string
	Region    string
	Timestamp string
	Neighbor  string
	Name      string
	FromID    string
	ToID      string
	Depth     int
	Count     int64
	Props     map[string]any
}

// Store is the graph persistence contract.
type Store interface {
	UpsertNodes(ctx context.Context, nodes ...Node) error
	UpsertEdges(ctx context.Context, edges ...Edge) error
	RemoveEdges(ctx context.Context, edges ...Edge) error
	Run(ctx context.Context, q QueryID, p Params) ([]Row, error)

	Migrate(ctx context.Context) error
	Close() error
}

func validateNodes(nodes []Node) error {
	for _, n := range nodes {
		if !n.Label.Valid() {
			return eris.Errorf("store: invalid label %q", n.Label)
		}
		if strings.TrimSpace(n.Key) == "" {
			return eris.Errorf("store: empty key for %s node", n.Label)
		}
	}
	return nil
}

func validateEdges(edges []Edge) error {
	for _, e := range edges {
		if !e.Type.Valid() {
			return eris.Errorf("store: invalid relationship type %q", e.Type)
		}
		for _, ref := range []NodeRef{e.From, e.To} {
			if !ref.Label.Valid() {
				return eris.Errorf("store: invalid label %q", ref.Label)
			}
			if ref.Key == "" {
				return eris.Errorf("store: empty key on %s edge endpoint", e.Type)
			}
		}
	}
	return nil
}

// validate checks that p carries what q needs.
func (p Params) validate(q QueryID) error {
	switch q {
	case QueryMeasurementKeys:
		return p.requireType()
	case QuerySeries, QueryNeighborSeries:
		if err := p.requireType(); err != nil {
			return err
		}
		if p.District == "" {
			return eris.Errorf("store: %s requires a district", q)
		}
	case QueryLandCover, QueryNeighborLandCover, QueryNeighbors:
		if p.District == "" {
			return eris.Errorf("store: %s requires a district", q)
		}
	case QueryChain, QueryNextEdges:
		if err := p.requireType(); err != nil {
			return err
		}
		if p.Region == "" {
			return eris.Errorf("store: %s requires a region", q)
		}
	case QueryCountNodes:
		if !p.Label.Valid() {
			return eris.Errorf("store: invalid label %q", p.Label)
		}
	case QueryCountEdges:
		if !p.Rel.Valid() {
			return eris.Errorf("store: invalid relationship type %q", p.Rel)
		}
	case QueryDistricts:
	default:
		return eris.Errorf("store: unknown query %q", q)
	}
	return nil
}

func (p Params) requireType() error {
	if !p.Type.Valid() {
		return eris.Errorf("store: invalid measurement type %q", p.Type)
	}
	return nil
}

// nodeColumns extracts the promoted region and timestamp columns used by
// the relational backends. Both are nil for non-measurement nodes.
func nodeColumns(n Node) (region, ts *string) {
	if !n.Label.Measurement() {
		return nil, nil
	}
	if v, ok := n.Props["region"].(string); ok {
		region = &v
	}
	if v, ok := n.Props["timestamp"].(string); ok {
		ts = &v
	}
	return region, ts
}
