package store

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rotisserie/eris"

	"github.com/sells-group/envgraph/internal/model"
)

// cypherRunner executes one Cypher statement and returns its records as maps.
type cypherRunner interface {
	run(ctx context.Context, cypher string, params map[string]any, write bool) ([]map[string]any, error)
}

// Neo4jStore implements Store on a Neo4j database. Labels and
// relationship types reach Cypher only through the compiled tables below.
type Neo4jStore struct {
	exec    cypherRunner
	closeFn func(context.Context) error
}

// Neo4jConfig holds connection settings for NewNeo4j.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (d *driverRunner) run(ctx context.Context, cypher string, params map[string]any, write bool) ([]map[string]any, error) {
	routing := neo4j.ExecuteQueryWithReadersRouting()
	if write {
		routing = neo4j.ExecuteQueryWithWritersRouting()
	}
	res, err := neo4j.ExecuteQuery(ctx, d.driver, cypher, params, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(d.database), routing)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(res.Records))
	for i, rec := range res.Records {
		out[i] = rec.AsMap()
	}
	return out, nil
}

// NewNeo4j connects to Neo4j and verifies connectivity.
func NewNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, eris.Wrap(err, "neo4j: create driver")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, eris.Wrap(err, "neo4j: verify connectivity")
	}
	return &Neo4jStore{
		exec:    &driverRunner{driver: driver, database: cfg.Database},
		closeFn: driver.Close,
	}, nil
}

// Migrate creates a uniqueness constraint per label so concurrent MERGEs
// cannot duplicate a key.
func (s *Neo4jStore) Migrate(ctx context.Context) error {
	for _, l := range sortedLabels() {
		cypher := fmt.Sprintf("CREATE CONSTRAINT %s_key IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
			l, l, l.KeyProperty())
		if _, err := s.exec.run(ctx, cypher, nil, true); err != nil {
			return eris.Wrapf(err, "neo4j: create constraint for %s", l)
		}
	}
	return nil
}

func (s *Neo4jStore) Close() error {
	if s.closeFn != nil {
		return eris.Wrap(s.closeFn(context.Background()), "neo4j: close")
	}
	return nil
}

func (s *Neo4jStore) UpsertNodes(ctx context.Context, nodes ...Node) error {
	if len(nodes) == 0 {
		return nil
	}
	if err := validateNodes(nodes); err != nil {
		return err
	}

	byLabel := make(map[Label][]map[string]any)
	var order []Label
	for _, n := range nodes {
		if _, seen := byLabel[n.Label]; !seen {
			order = append(order, n.Label)
		}
		props := make(map[string]any, len(n.Props)+1)
		for k, v := range n.Props {
			props[k] = v
		}
		props[n.Label.KeyProperty()] = n.Key
		byLabel[n.Label] = append(byLabel[n.Label], map[string]any{"key": n.Key, "props": props})
	}

	for _, l := range order {
		if _, err := s.exec.run(ctx, nodeUpsertCypher[l], map[string]any{"rows": byLabel[l]}, true); err != nil {
			return eris.Wrapf(err, "neo4j: upsert %s nodes", l)
		}
	}
	return nil
}

func (s *Neo4jStore) UpsertEdges(ctx context.Context, edges ...Edge) error {
	return s.execEdges(ctx, "upsert", edgeUpsertCypher, edges)
}

func (s *Neo4jStore) RemoveEdges(ctx context.Context, edges ...Edge) error {
	return s.execEdges(ctx, "remove", edgeRemoveCypher, edges)
}

type edgeShape struct {
	rel      RelType
	from, to Label
}

func (s *Neo4jStore) execEdges(ctx context.Context, op string, tmpl func(edgeShape) string, edges []Edge) error {
	if len(edges) == 0 {
		return nil
	}
	if err := validateEdges(edges); err != nil {
		return err
	}

	groups := make(map[edgeShape][]map[string]any)
	var order []edgeShape
	for _, e := range edges {
		shape := edgeShape{rel: e.Type, from: e.From.Label, to: e.To.Label}
		if _, seen := groups[shape]; !seen {
			order = append(order, shape)
		}
		groups[shape] = append(groups[shape], map[string]any{"from": e.From.Key, "to": e.To.Key})
	}

	for _, shape := range order {
		if _, err := s.exec.run(ctx, tmpl(shape), map[string]any{"rows": groups[shape]}, true); err != nil {
			return eris.Wrapf(err, "neo4j: %s %s edges", op, shape.rel)
		}
	}
	return nil
}

func (s *Neo4jStore) Run(ctx context.Context, q QueryID, p Params) ([]Row, error) {
	if err := p.validate(q); err != nil {
		return nil, err
	}
	cypher, err := compiledCypher(q, p)
	if err != nil {
		return nil, err
	}

	params := map[string]any{
		"district": p.District,
		"region":   p.Region,
		"from_ts":  p.Start,
		"to_ts":    p.End,
	}
	recs, err := s.exec.run(ctx, cypher, params, false)
	if err != nil {
		return nil, eris.Wrapf(err, "neo4j: run %s", q)
	}

	out := make([]Row, len(recs))
	for i, rec := range recs {
		out[i] = rowFromRecord(rec)
	}
	return out, nil
}

var nodeUpsertCypher = func() map[Label]string {
	m := make(map[Label]string, len(labels))
	for l, spec := range labels {
		set := "ON CREATE SET n += row.props"
		if spec.mutable {
			set = "SET n += row.props"
		}
		m[l] = fmt.Sprintf("UNWIND $rows AS row MERGE (n:%s {%s: row.key}) %s", l, spec.keyProp, set)
	}
	return m
}()

func edgeUpsertCypher(e edgeShape) string {
	return fmt.Sprintf(
		"UNWIND $rows AS row MATCH (a:%s {%s: row.from}) MATCH (b:%s {%s: row.to}) MERGE (a)-[:%s]->(b)",
		e.from, e.from.KeyProperty(), e.to, e.to.KeyProperty(), e.rel)
}

func edgeRemoveCypher(e edgeShape) string {
	return fmt.Sprintf(
		"UNWIND $rows AS row MATCH (a:%s {%s: row.from})-[r:%s]->(b:%s {%s: row.to}) DELETE r",
		e.from, e.from.KeyProperty(), e.rel, e.to, e.to.KeyProperty())
}

// Per-type templates are compiled once for every measurement label.
var typedCypher = map[QueryID]string{
	QueryMeasurementKeys: `MATCH (m:%s)
RETURN m.measurement_id AS id, m.region AS region, toString(m.timestamp) AS timestamp
ORDER BY id`,
	QuerySeries: `MATCH (:District {name: $district})-[:HAS_MEASUREMENT]->(m:%s)
WHERE m.timestamp >= $from_ts AND m.timestamp <= $to_ts
RETURN m.measurement_id AS id, m.timestamp AS timestamp, properties(m) AS props
ORDER BY timestamp, id`,
	QueryNeighborSeries: `MATCH (:District {name: $district})-[:NEIGHBOR_OF]->(n:District)-[:HAS_MEASUREMENT]->(m:%s)
WHERE m.timestamp >= $from_ts AND m.timestamp <= $to_ts
RETURN n.name AS neighbor, m.measurement_id AS id, m.timestamp AS timestamp, properties(m) AS props
ORDER BY neighbor, timestamp, id`,
	QueryChain: `MATCH (h:%s {region: $region})
WHERE (h)-[:NEXT]->() AND NOT ()-[:NEXT]->(h)
MATCH p = (h)-[:NEXT*0..]->(m)
RETURN m.measurement_id AS id, toString(m.timestamp) AS timestamp, length(p) AS depth
ORDER BY depth, id`,
	QueryNextEdges: `MATCH (a:%s {region: $region})-[:NEXT]->(b)
RETURN a.measurement_id AS from_id, b.measurement_id AS to_id
ORDER BY from_id, to_id`,
}

var staticCypher = map[QueryID]string{
	QueryLandCover: `MATCH (m:LandCoverMeasurement)
WHERE toLower(m.region) = toLower($district)
RETURN m.measurement_id AS id, toString(m.timestamp) AS timestamp, properties(m) AS props
ORDER BY timestamp, id`,
	QueryNeighborLandCover: `MATCH (:District {name: $district})-[:NEIGHBOR_OF]->(n:District)
WITH collect(n.name) AS names
MATCH (m:LandCoverMeasurement)
WHERE m.region IN names
RETURN m.region AS neighbor, m.measurement_id AS id, toString(m.timestamp) AS timestamp, properties(m) AS props
ORDER BY neighbor, timestamp, id`,
	QueryNeighbors: `MATCH (:District {name: $district})-[:NEIGHBOR_OF]->(n:District)
RETURN n.name AS name ORDER BY name`,
	QueryDistricts: `MATCH (d:District) RETURN d.name AS name ORDER BY name`,
}

var compiledTyped = func() map[QueryID]map[model.MeasurementType]string {
	m := make(map[QueryID]map[model.MeasurementType]string, len(typedCypher))
	for q, tmpl := range typedCypher {
		m[q] = make(map[model.MeasurementType]string, len(model.AllTypes))
		for _, t := range model.AllTypes {
			m[q][t] = fmt.Sprintf(tmpl, t.Label())
		}
	}
	return m
}()

var compiledCounts = func() (nodes map[Label]string, edges map[RelType]string) {
	nodes = make(map[Label]string, len(labels))
	for l := range labels {
		nodes[l] = fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS count", l)
	}
	edges = make(map[RelType]string)
	for _, r := range []RelType{RelHasMeasurement, RelBelongsTo, RelNeighborOf, RelNext} {
		edges[r] = fmt.Sprintf("MATCH ()-[r:%s]->() RETURN count(r) AS count", r)
	}
	return nodes, edges
}

var countNodesCypher, countEdgesCypher = compiledCounts()

func compiledCypher(q QueryID, p Params) (string, error) {
	if byType, ok := compiledTyped[q]; ok {
		return byType[p.Type], nil
	}
	if c, ok := staticCypher[q]; ok {
		return c, nil
	}
	switch q {
	case QueryCountNodes:
		return countNodesCypher[p.Label], nil
	case QueryCountEdges:
		return countEdgesCypher[p.Rel], nil
	}
	return "", eris.Errorf("neo4j: unknown query %q", q)
}

func rowFromRecord(rec map[string]any) Row {
	var r Row
	r.ID = asString(rec["id"])
	r.Region = asString(rec["region"])
	r.Timestamp = asString(rec["timestamp"])
	r.Neighbor = asString(rec["neighbor"])
	r.Name = asString(rec["name"])
	r.FromID = asString(rec["from_id"])
	r.ToID = asString(rec["to_id"])
	if d, ok := rec["depth"].(int64); ok {
		r.Depth = int(d)
	}
	if c, ok := rec["count"].(int64); ok {
		r.Count = c
	}
	if props, ok := rec["props"].(map[string]any); ok {
		r.Props = props
		if r.Region == "" {
			r.Region = asString(props["region"])
		}
	}
	return r
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

func sortedLabels() []Label {
	return []Label{LabelDistrict, LabelDataset, LabelCO, LabelOzone, LabelAerosol, LabelLandCover}
}
