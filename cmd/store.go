package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/envgraph/internal/source"
	"github.com/sells-group/envgraph/internal/store"
)

// openStore connects to the configured backend and applies the schema.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	zap.L().Debug("store ready", zap.String("driver", cfg.Store.Driver))
	return st, nil
}

// selectSources resolves --source names, all sources when names is empty.
func selectSources(names []string) ([]*source.Source, error) {
	reg, err := source.NewRegistry()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return reg.All(), nil
	}
	return reg.Select(names)
}
