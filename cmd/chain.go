package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/envgraph/internal/chain"
	"github.com/sells-group/envgraph/internal/model"
	"github.com/sells-group/envgraph/internal/store"
)

var (
	chainTypes   []string
	chainRegions []string
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Build and check temporal NEXT chains",
}

var chainBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Link measurements of each district in time order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		types, err := parseTypes(chainTypes)
		if err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		defer purgeComposeCache(ctx)

		return buildChains(ctx, chain.NewBuilder(st, metrics), types)
	},
}

var chainVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Walk each chain and report heads, length and ordering",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		types, err := parseTypes(chainTypes)
		if err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		regions := chainRegions
		if len(regions) == 0 {
			rows, err := st.Run(ctx, store.QueryDistricts, store.Params{})
			if err != nil {
				return eris.Wrap(err, "chain verify: list districts")
			}
			for _, r := range rows {
				regions = append(regions, r.Name)
			}
		}

		b := chain.NewBuilder(st, metrics)
		var reports []*chain.Report
		for _, t := range types {
			for _, region := range regions {
				rep, err := b.Verify(ctx, t, model.CanonicalName(region))
				if err != nil {
					return err
				}
				reports = append(reports, rep)
			}
		}

		if bad := formatReports(os.Stdout, reports); bad > 0 {
			return eris.Errorf("chain verify: %d broken chains", bad)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{chainBuildCmd, chainVerifyCmd} {
		c.Flags().StringSliceVar(&chainTypes, "type", nil, "measurement types (default all)")
	}
	chainVerifyCmd.Flags().StringSliceVar(&chainRegions, "region", nil, "districts to check (default all)")

	chainCmd.AddCommand(chainBuildCmd, chainVerifyCmd)
	rootCmd.AddCommand(chainCmd)
}

func parseTypes(names []string) ([]model.MeasurementType, error) {
	if len(names) == 0 {
		return model.AllTypes, nil
	}
	out := make([]model.MeasurementType, 0, len(names))
	for _, n := range names {
		t, err := model.ParseMeasurementType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func buildChains(ctx context.Context, b *chain.Builder, types []model.MeasurementType) error {
	for _, t := range types {
		s, err := b.Build(ctx, t)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d records, %d skipped, %d partitions, %d linked, %d removed\n",
			s.Type, s.Records, s.Skipped, s.Partitions, s.Linked, s.Removed)
	}
	return nil
}

// formatReports writes one line per partition and returns how many are broken.
func formatReports(out io.Writer, reports []*chain.Report) int {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TYPE\tREGION\tEXPECTED\tHEADS\tTAILS\tBRANCHES\tLENGTH\tOUT_OF_ORDER\tSTATUS")

	bad := 0
	for _, r := range reports {
		status := "ok"
		if !r.OK() {
			status = "BROKEN"
			bad++
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Type, r.Region, r.Expected, r.Heads, r.Tails, r.Branches, r.Length, r.OutOfOrder, status)
	}
	_ = w.Flush()
	return bad
}
