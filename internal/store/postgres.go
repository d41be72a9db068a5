package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/envgraph/internal/db"
)

const nodesTable = "nodes"

var nodeCopyColumns = []string{"label", "node_key", "region", "ts", "props"}

// PostgresStore implements Store on relational node and edge tables using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS nodes (
	label    TEXT NOT NULL,
	node_key TEXT NOT NULL,
	region   TEXT,
	ts       TEXT,
	props    JSONB NOT NULL,
	PRIMARY KEY (label, node_key)
);

CREATE TABLE IF NOT EXISTS edges (
	rel        TEXT NOT NULL,
	from_label TEXT NOT NULL,
	from_key   TEXT NOT NULL,
	to_label   TEXT NOT NULL,
	to_key     TEXT NOT NULL,
	PRIMARY KEY (rel, from_label, from_key, to_label, to_key)
);

CREATE INDEX IF NOT EXISTS idx_nodes_region_ts ON nodes(label, region, ts);
CREATE INDEX IF NOT EXISTS idx_nodes_region_lower ON nodes(label, lower(region));
CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(rel, to_label, to_key);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertNodes bulk-loads nodes through db.BulkUpsert. Immutable labels are
// written with DO NOTHING, mutable ones replace their properties.
func (s *PostgresStore) UpsertNodes(ctx context.Context, nodes ...Node) error {
	if len(nodes) == 0 {
		return nil
	}
	if err := validateNodes(nodes); err != nil {
		return err
	}

	var keep, replace [][]any
	for _, n := range nodes {
		props, err := encodeProps(n)
		if err != nil {
			return err
		}
		region, ts := nodeColumns(n)
		row := []any{string(n.Label), n.Key, region, ts, props}
		if n.Label.Mutable() {
			replace = append(replace, row)
		} else {
			keep = append(keep, row)
		}
	}

	for _, batch := range []struct {
		rows         [][]any
		keepExisting bool
	}{
		{rows: keep, keepExisting: true},
		{rows: replace},
	} {
		if len(batch.rows) == 0 {
			continue
		}
		_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
			Table:        nodesTable,
			Columns:      nodeCopyColumns,
			ConflictKeys: []string{"label", "node_key"},
			KeepExisting: batch.keepExisting,
		}, batch.rows)
		if err != nil {
			return eris.Wrap(err, "postgres: upsert nodes")
		}
	}
	return nil
}

func (s *PostgresStore) UpsertEdges(ctx context.Context, edges ...Edge) error {
	return s.execEdges(ctx, "upsert", upsertEdgeSQL, edges)
}

func (s *PostgresStore) RemoveEdges(ctx context.Context, edges ...Edge) error {
	return s.execEdges(ctx, "remove", removeEdgeSQL, edges)
}

func (s *PostgresStore) execEdges(ctx context.Context, op, stmt string, edges []Edge) error {
	if len(edges) == 0 {
		return nil
	}
	if err := validateEdges(edges); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin %s edges", op)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, e := range edges {
		if _, err := tx.Exec(ctx, stmt, edgeArgs(e)...); err != nil {
			return eris.Wrapf(err, "postgres: %s %s edge %s -> %s", op, e.Type, e.From.Key, e.To.Key)
		}
	}

	return eris.Wrapf(tx.Commit(ctx), "postgres: commit %s edges", op)
}

func (s *PostgresStore) Run(ctx context.Context, q QueryID, p Params) ([]Row, error) {
	rq, err := lookupRelational(q, p)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, rq.sql, rq.args(p)...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: run %s", q)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := rq.scan(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", q)
		}
		out = append(out, r)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s", q)
}
