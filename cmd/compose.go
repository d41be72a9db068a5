package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/envgraph/internal/query"
)

var composeReq query.Request

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Print the composite feature payload for one district",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		composer, closeCache := newComposer(st)
		defer closeCache()

		resp, err := composer.Compose(ctx, composeReq)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	f := composeCmd.Flags()
	f.StringVar(&composeReq.District, "district", "", "district name")
	f.StringVar(&composeReq.StartDate, "start", "", "start date (YYYY-MM-DD)")
	f.StringVar(&composeReq.EndDate, "end", "", "end date (YYYY-MM-DD)")
	f.StringVar(&composeReq.PredictionTarget, "target", "CO", "prediction target: CO, Ozone or Aerosol")
	f.BoolVar(&composeReq.NeighborInfluence, "neighbors", false, "include neighbor series")
	f.BoolVar(&composeReq.LandcoverInfluence, "landcover", false, "include land cover")
	f.BoolVar(&composeReq.AtmosphericInfluence, "atmospheric", false, "include the other atmospheric series")
	_ = composeCmd.MarkFlagRequired("district")
	_ = composeCmd.MarkFlagRequired("start")
	_ = composeCmd.MarkFlagRequired("end")
	rootCmd.AddCommand(composeCmd)
}

// newComposer returns the query service, wrapped in the Redis cache when
// one is configured. The returned func releases the cache.
func newComposer(q query.Querier) (query.Composer, func()) {
	svc := query.NewService(q, metrics)
	if !cfg.Cache.Enabled() {
		return svc, func() {}
	}

	rc := query.NewRedisCache(cfg.Cache)
	zap.L().Info("compose cache enabled",
		zap.String("addr", cfg.Cache.RedisAddr),
		zap.Int("ttl_secs", cfg.Cache.TTLSecs),
	)
	ttl := time.Duration(cfg.Cache.TTLSecs) * time.Second
	return query.NewCachedService(svc, rc, ttl, metrics), func() { _ = rc.Close() }
}

// purgeComposeCache drops cached composite responses after the graph has
// changed. Failures are logged only.
func purgeComposeCache(ctx context.Context) {
	if !cfg.Cache.Enabled() {
		return
	}
	rc := query.NewRedisCache(cfg.Cache)
	defer rc.Close() //nolint:errcheck

	n, err := rc.Purge(ctx)
	if err != nil {
		zap.L().Warn("compose cache purge failed", zap.Error(err))
		return
	}
	zap.L().Info("compose cache purged", zap.Int("keys", n))
}
