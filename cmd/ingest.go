package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/envgraph/internal/boundary"
	"github.com/sells-group/envgraph/internal/chain"
	"github.com/sells-group/envgraph/internal/collect"
	"github.com/sells-group/envgraph/internal/imagery"
	"github.com/sells-group/envgraph/internal/ingest"
	"github.com/sells-group/envgraph/internal/model"
	"github.com/sells-group/envgraph/internal/normalize"
	"github.com/sells-group/envgraph/internal/resilience"
	"github.com/sells-group/envgraph/internal/source"
	"github.com/sells-group/envgraph/internal/store"
)

var (
	ingestSources  []string
	ingestStart    string
	ingestEnd      string
	ingestBoundary string
	ingestOutDir   string
	ingestFile     string
	loadChain      bool
	runChain       bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Collect and load measurements",
}

var ingestFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Reduce imagery per district and window into measurement tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		srcs, err := selectSources(ingestSources)
		if err != nil {
			return err
		}
		collector, districts, err := newCollector()
		if err != nil {
			return err
		}

		for _, src := range srcs {
			rep, err := collectSource(ctx, collector, src, districts)
			if err != nil {
				return err
			}
			path := filepath.Join(ingestOutDir, src.Name+".csv")
			if err := rep.WriteFile(path); err != nil {
				return eris.Wrapf(err, "ingest fetch: write %s", path)
			}
			fmt.Printf("%s: %d rows (%d empty, %d failed of %d tasks) -> %s\n",
				src.Name, rep.Succeeded, rep.Empty, rep.Failed, rep.Tasks, path)
		}
		return nil
	},
}

var ingestLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a measurement table into the graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if len(ingestSources) != 1 {
			return eris.New("ingest load: exactly one --source is required")
		}
		srcs, err := selectSources(ingestSources)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		defer purgeComposeCache(ctx)

		res, err := newPipeline(st).LoadFile(ctx, srcs[0], ingestFile)
		if err != nil {
			return err
		}
		printLoad(res)

		if loadChain {
			return buildChains(ctx, chain.NewBuilder(st, metrics), []model.MeasurementType{res.Type})
		}
		return nil
	},
}

var ingestRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch and load every selected source, then rebuild chains",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		srcs, err := selectSources(ingestSources)
		if err != nil {
			return err
		}
		collector, districts, err := newCollector()
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		defer purgeComposeCache(ctx)

		pipeline := newPipeline(st)
		var types []model.MeasurementType
		for _, src := range srcs {
			rep, err := collectSource(ctx, collector, src, districts)
			if err != nil {
				return err
			}
			res, err := pipeline.Load(ctx, src, rep.Header, ingest.ReadRecords(rep.Records(), src.Type))
			if err != nil {
				return err
			}
			printLoad(res)
			types = append(types, src.Type)
		}

		if !runChain {
			return nil
		}
		return buildChains(ctx, chain.NewBuilder(st, metrics), types)
	},
}

func init() {
	for _, c := range []*cobra.Command{ingestFetchCmd, ingestLoadCmd, ingestRunCmd} {
		c.Flags().StringSliceVar(&ingestSources, "source", nil, "sources to process (default all): co, ozone, aerosol, landcover")
	}
	for _, c := range []*cobra.Command{ingestFetchCmd, ingestRunCmd} {
		c.Flags().StringVar(&ingestStart, "start", "2018-07-10", "first day of weekly windows (YYYY-MM-DD)")
		c.Flags().StringVar(&ingestEnd, "end", "", "end of weekly windows, exclusive (default now)")
		c.Flags().StringVar(&ingestBoundary, "boundary", "", "district boundaries, .shp or .geojson (default collect.boundary_file)")
	}
	ingestFetchCmd.Flags().StringVar(&ingestOutDir, "out-dir", ".", "directory for the per-source tables")
	ingestLoadCmd.Flags().StringVar(&ingestFile, "file", "", "measurement table (csv or xlsx)")
	_ = ingestLoadCmd.MarkFlagRequired("file")
	ingestLoadCmd.Flags().BoolVar(&loadChain, "chain", false, "rebuild NEXT chains for the loaded type")
	ingestRunCmd.Flags().BoolVar(&runChain, "chain", true, "rebuild NEXT chains after loading")

	ingestCmd.AddCommand(ingestFetchCmd, ingestLoadCmd, ingestRunCmd)
	rootCmd.AddCommand(ingestCmd)
}

func newCollector() (*collect.Collector, []boundary.District, error) {
	path := ingestBoundary
	if path == "" {
		path = cfg.Collect.BoundaryFile
	}
	if path == "" {
		return nil, nil, eris.New("ingest: no boundary file (set --boundary or collect.boundary_file)")
	}
	districts, err := boundary.Load(path)
	if err != nil {
		return nil, nil, err
	}

	fetcher := imagery.NewClient(cfg.Imagery, imagery.WithPolicy(resilience.FromImageryConfig(cfg.Imagery, clockwork.NewRealClock())))
	return collect.New(fetcher, cfg.Collect.MaxConcurrency, collect.WithMetrics(metrics)), districts, nil
}

func collectSource(ctx context.Context, c *collect.Collector, src *source.Source, districts []boundary.District) (*collect.Report, error) {
	start, ok := model.ParseBound(ingestStart)
	if !ok {
		return nil, eris.Errorf("ingest: invalid --start %q", ingestStart)
	}
	var end time.Time
	if ingestEnd != "" {
		if end, ok = model.ParseBound(ingestEnd); !ok {
			return nil, eris.Errorf("ingest: invalid --end %q", ingestEnd)
		}
	}

	windows := collect.Plan(src, start, end, cfg.Collect.WindowDays, clockwork.NewRealClock())
	zap.L().Info("collecting",
		zap.String("source", src.Name),
		zap.Int("districts", len(districts)),
		zap.Int("windows", len(windows)),
	)
	return c.Run(ctx, src, districts, windows)
}

func newPipeline(st store.Store) *ingest.Pipeline {
	sink := normalize.Sink{Dir: cfg.Ingest.MissingDir, Format: cfg.Ingest.MissingFormat}
	return ingest.NewPipeline(st, sink, metrics)
}

func printLoad(res *ingest.Result) {
	fmt.Printf("%s: read %d, loaded %d, rejected %d", res.Type, res.Read, res.Loaded, res.Rejected)
	if res.SinkPath != "" {
		fmt.Printf(" (rejects in %s)", res.SinkPath)
	}
	fmt.Println()
}
