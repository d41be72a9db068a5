package store

import (
	"encoding/json"
	"regexp"

	"github.com/rotisserie/eris"
)

// Relational schema shared by the Postgres and SQLite backends. Nodes
// carry their full property map as JSON; region and ts are promoted
// for measurement nodes so series lookups stay indexable.

const (
	upsertEdgeSQL = `INSERT INTO edges (rel, from_label, from_key, to_label, to_key)
SELECT CAST($1 AS TEXT), CAST($2 AS TEXT), CAST($3 AS TEXT), CAST($4 AS TEXT), CAST($5 AS TEXT)
WHERE EXISTS (SELECT 1 FROM nodes WHERE label = $2 AND node_key = $3)
  AND EXISTS (SELECT 1 FROM nodes WHERE label = $4 AND node_key = $5)
ON CONFLICT DO NOTHING`

	removeEdgeSQL = `DELETE FROM edges
WHERE rel = $1 AND from_label = $2 AND from_key = $3 AND to_label = $4 AND to_key = $5`
)

// relQuery is one compiled entry of the relational query table.
type relQuery struct {
	sql  string
	args func(p Params) []any
	scan func(s scannable) (Row, error)
}

type scannable interface {
	Scan(dest ...any) error
}

func typeLabel(p Params) string { return string(MeasurementLabel(p.Type)) }

var relationalQueries = map[QueryID]relQuery{
	QueryMeasurementKeys: {
		sql: `SELECT node_key, COALESCE(region, ''), COALESCE(ts, '')
FROM nodes WHERE label = $1
ORDER BY node_key`,
		args: func(p Params) []any { return []any{typeLabel(p)} },
		scan: func(s scannable) (Row, error) {
			var r Row
			err := s.Scan(&r.ID, &r.Region, &r.Timestamp)
			return r, err
		},
	},
	QuerySeries: {
		sql: `SELECT m.node_key, COALESCE(m.ts, ''), m.props
FROM edges e
JOIN nodes m ON m.label = e.to_label AND m.node_key = e.to_key
WHERE e.rel = 'HAS_MEASUREMENT' AND e.from_label = 'District' AND e.from_key = $2
  AND e.to_label = $1 AND m.ts >= $3 AND m.ts <= $4
ORDER BY m.ts, m.node_key`,
		args: func(p Params) []any { return []any{typeLabel(p), p.District, p.Start, p.End} },
		scan: scanSeries,
	},
	QueryNeighborSeries: {
		sql: `SELECT nb.to_key, m.node_key, COALESCE(m.ts, ''), m.props
FROM edges nb
JOIN edges e ON e.rel = 'HAS_MEASUREMENT' AND e.from_label = 'District' AND e.from_key = nb.to_key AND e.to_label = $1
JOIN nodes m ON m.label = e.to_label AND m.node_key = e.to_key
WHERE nb.rel = 'NEIGHBOR_OF' AND nb.from_label = 'District' AND nb.from_key = $2
  AND m.ts >= $3 AND m.ts <= $4
ORDER BY nb.to_key, m.ts, m.node_key`,
		args: func(p Params) []any { return []any{typeLabel(p), p.District, p.Start, p.End} },
		scan: scanNeighborSeries,
	},
	QueryLandCover: {
		sql: `SELECT m.node_key, COALESCE(m.ts, ''), m.props
FROM nodes m
WHERE m.label = 'LandCoverMeasurement' AND lower(m.region) = lower(CAST($1 AS TEXT))
ORDER BY m.ts, m.node_key`,
		args: func(p Params) []any { return []any{p.District} },
		scan: scanSeries,
	},
	QueryNeighborLandCover: {
		sql: `SELECT m.region, m.node_key, COALESCE(m.ts, ''), m.props
FROM edges nb
JOIN nodes m ON m.label = 'LandCoverMeasurement' AND m.region = nb.to_key
WHERE nb.rel = 'NEIGHBOR_OF' AND nb.from_label = 'District' AND nb.from_key = $1
ORDER BY m.region, m.ts, m.node_key`,
		args: func(p Params) []any { return []any{p.District} },
		scan: scanNeighborSeries,
	},
	QueryChain: {
		sql: `WITH RECURSIVE walk (node_key, ts, depth) AS (
	SELECT h.node_key, h.ts, 0
	FROM nodes h
	WHERE h.label = $1 AND h.region = $2
	  AND EXISTS (SELECT 1 FROM edges o WHERE o.rel = 'NEXT' AND o.from_label = h.label AND o.from_key = h.node_key)
	  AND NOT EXISTS (SELECT 1 FROM edges i WHERE i.rel = 'NEXT' AND i.to_label = h.label AND i.to_key = h.node_key)
	UNION ALL
	SELECT n.node_key, n.ts, w.depth + 1
	FROM walk w
	JOIN edges e ON e.rel = 'NEXT' AND e.from_label = $1 AND e.from_key = w.node_key
	JOIN nodes n ON n.label = e.to_label AND n.node_key = e.to_key
	WHERE w.depth < 1000000
)
SELECT node_key, COALESCE(ts, ''), depth FROM walk ORDER BY depth, node_key`,
		args: func(p Params) []any { return []any{typeLabel(p), p.Region} },
		scan: func(s scannable) (Row, error) {
			var r Row
			err := s.Scan(&r.ID, &r.Timestamp, &r.Depth)
			return r, err
		},
	},
	QueryNextEdges: {
		sql: `SELECT e.from_key, e.to_key
FROM edges e
JOIN nodes a ON a.label = e.from_label AND a.node_key = e.from_key
WHERE e.rel = 'NEXT' AND e.from_label = $1 AND a.region = $2
ORDER BY e.from_key, e.to_key`,
		args: func(p Params) []any { return []any{typeLabel(p), p.Region} },
		scan: func(s scannable) (Row, error) {
			var r Row
			err := s.Scan(&r.FromID, &r.ToID)
			return r, err
		},
	},
	QueryNeighbors: {
		sql: `SELECT to_key FROM edges
WHERE rel = 'NEIGHBOR_OF' AND from_label = 'District' AND from_key = $1
ORDER BY to_key`,
		args: func(p Params) []any { return []any{p.District} },
		scan: scanName,
	},
	QueryDistricts: {
		sql:  `SELECT node_key FROM nodes WHERE label = 'District' ORDER BY node_key`,
		args: func(Params) []any { return nil },
		scan: scanName,
	},
	QueryCountNodes: {
		sql:  `SELECT COUNT(*) FROM nodes WHERE label = $1`,
		args: func(p Params) []any { return []any{string(p.Label)} },
		scan: scanCount,
	},
	QueryCountEdges: {
		sql:  `SELECT COUNT(*) FROM edges WHERE rel = $1`,
		args: func(p Params) []any { return []any{string(p.Rel)} },
		scan: scanCount,
	},
}

func lookupRelational(q QueryID, p Params) (relQuery, error) {
	if err := p.validate(q); err != nil {
		return relQuery{}, err
	}
	rq, ok := relationalQueries[q]
	if !ok {
		return relQuery{}, eris.Errorf("store: unknown query %q", q)
	}
	return rq, nil
}

func scanSeries(s scannable) (Row, error) {
	var r Row
	var props []byte
	if err := s.Scan(&r.ID, &r.Timestamp, &props); err != nil {
		return r, err
	}
	return r, decodeProps(props, &r)
}

func scanNeighborSeries(s scannable) (Row, error) {
	var r Row
	var props []byte
	if err := s.Scan(&r.Neighbor, &r.ID, &r.Timestamp, &props); err != nil {
		return r, err
	}
	return r, decodeProps(props, &r)
}

func scanName(s scannable) (Row, error) {
	var r Row
	err := s.Scan(&r.Name)
	return r, err
}

func scanCount(s scannable) (Row, error) {
	var r Row
	err := s.Scan(&r.Count)
	return r, err
}

func decodeProps(raw []byte, r *Row) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &r.Props); err != nil {
		return eris.Wrapf(err, "store: decode props of %s", r.ID)
	}
	if region, ok := r.Props["region"].(string); ok {
		r.Region = region
	}
	return nil
}

func encodeProps(n Node) ([]byte, error) {
	props := make(map[string]any, len(n.Props)+1)
	for k, v := range n.Props {
		props[k] = v
	}
	props[n.Label.KeyProperty()] = n.Key
	b, err := json.Marshal(props)
	if err != nil {
		return nil, eris.Wrapf(err, "store: encode props of %s %s", n.Label, n.Key)
	}
	return b, nil
}

var positional = regexp.MustCompile(`\$(\d+)`)

// sqliteDialect rewrites $N placeholders into SQLite's ?N form.
func sqliteDialect(sql string) string {
	return positional.ReplaceAllString(sql, "?$1")
}
