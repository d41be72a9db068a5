package store

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS nodes (
	label    TEXT NOT NULL,
	node_key TEXT NOT NULL,
	region   TEXT,
	ts       TEXT,
	props    TEXT NOT NULL,
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
CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(rel, to_label, to_key);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertNodes(ctx context.Context, nodes ...Node) error {
	if len(nodes) == 0 {
		return nil
	}
	if err := validateNodes(nodes); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert nodes")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, n := range nodes {
		props, err := encodeProps(n)
		if err != nil {
			return err
		}
		region, ts := nodeColumns(n)

		stmt := `INSERT INTO nodes (label, node_key, region, ts, props) VALUES (?1, ?2, ?3, ?4, ?5)
ON CONFLICT (label, node_key) DO NOTHING`
		if n.Label.Mutable() {
			stmt = `INSERT INTO nodes (label, node_key, region, ts, props) VALUES (?1, ?2, ?3, ?4, ?5)
ON CONFLICT (label, node_key) DO UPDATE SET region = excluded.region, ts = excluded.ts, props = excluded.props`
		}
		if _, err := tx.ExecContext(ctx, stmt, string(n.Label), n.Key, region, ts, string(props)); err != nil {
			return eris.Wrapf(err, "sqlite: upsert %s %s", n.Label, n.Key)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit upsert nodes")
}

func (s *SQLiteStore) UpsertEdges(ctx context.Context, edges ...Edge) error {
	return s.execEdges(ctx, "upsert", sqliteDialect(upsertEdgeSQL), edges)
}

func (s *SQLiteStore) RemoveEdges(ctx context.Context, edges ...Edge) error {
	return s.execEdges(ctx, "remove", sqliteDialect(removeEdgeSQL), edges)
}

func (s *SQLiteStore) execEdges(ctx context.Context, op, stmt string, edges []Edge) error {
	if len(edges) == 0 {
		return nil
	}
	if err := validateEdges(edges); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin %s edges", op)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, e := range edges {
		if _, err := tx.ExecContext(ctx, stmt, edgeArgs(e)...); err != nil {
			return eris.Wrapf(err, "sqlite: %s %s edge %s -> %s", op, e.Type, e.From.Key, e.To.Key)
		}
	}

	return eris.Wrapf(tx.Commit(), "sqlite: commit %s edges", op)
}

func (s *SQLiteStore) Run(ctx context.Context, q QueryID, p Params) ([]Row, error) {
	rq, err := lookupRelational(q, p)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqliteDialect(rq.sql), rq.args(p)...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: run %s", q)
	}
	defer rows.Close() //nolint:errcheck

	var out []Row
	for rows.Next() {
		r, err := rq.scan(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", q)
		}
		out = append(out, r)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s", q)
}

func edgeArgs(e Edge) []any {
	return []any{string(e.Type), string(e.From.Label), e.From.Key, string(e.To.Label), e.To.Key}
}
