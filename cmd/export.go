package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/envgraph/internal/model"
	"github.com/sells-group/envgraph/internal/normalize"
	"github.com/sells-group/envgraph/internal/query"
	"github.com/sells-group/envgraph/internal/store"
	"github.com/sells-group/envgraph/internal/tabular"
)

var (
	exportStart string
	exportEnd   string
	exportOut   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the gap-filled atmospheric feature table",
	Long:  "Pivots CO, Ozone and Aerosol per district and day, fills missing CO from the reading gap_fill_days later, and drops days with neither Ozone nor Aerosol.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rule := normalize.Rule{
			Parameter: string(model.CO),
			Offset:    time.Duration(cfg.Ingest.GapFillDays) * 24 * time.Hour,
		}
		header, rows, err := exportFeatures(ctx, st, exportStart, exportEnd, rule)
		if err != nil {
			return err
		}
		if err := tabular.WriteFile(exportOut, header, rows); err != nil {
			return err
		}
		fmt.Printf("Wrote %d rows to %s\n", len(rows), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportStart, "start", "0000", "lower timestamp bound")
	exportCmd.Flags().StringVar(&exportEnd, "end", "9999", "upper timestamp bound")
	exportCmd.Flags().StringVar(&exportOut, "out", "features.csv", "output table (csv or xlsx)")
	rootCmd.AddCommand(exportCmd)
}

// exportFeatures reads every district's atmospheric series and returns
// the pivoted, gap-filled table.
func exportFeatures(ctx context.Context, q query.Querier, start, end string, rule normalize.Rule) ([]string, [][]string, error) {
	districts, err := q.Run(ctx, store.QueryDistricts, store.Params{})
	if err != nil {
		return nil, nil, eris.Wrap(err, "export: list districts")
	}

	var long []normalize.LongRow
	for _, d := range districts {
		for _, t := range model.AtmosphericTypes {
			rows, err := q.Run(ctx, store.QuerySeries, store.Params{Type: t, District: d.Name, Start: start, End: end})
			if err != nil {
				return nil, nil, eris.Wrapf(err, "export: %s series of %s", t, d.Name)
			}
			for _, r := range rows {
				lr := normalize.LongRow{District: d.Name, Date: model.DatePart(r.Timestamp), Parameter: string(t)}
				if v, ok := r.Props[t.TargetField()].(float64); ok {
					lr.Value = &v
				}
				long = append(long, lr)
			}
		}
	}

	kept, dropped := normalize.GapFill(normalize.Pivot(long), rule)
	out := normalize.DropAllMissing(kept, string(model.Ozone), string(model.Aerosol))
	zap.L().Info("export prepared",
		zap.Int("readings", len(long)),
		zap.Int("rows", len(out)),
		zap.Int("unfilled", len(dropped)),
	)

	header := []string{"district", "date"}
	for _, t := range model.AtmosphericTypes {
		header = append(header, string(t))
	}
	table := make([][]string, len(out))
	for i, r := range out {
		row := []string{r.District, r.Date}
		for _, t := range model.AtmosphericTypes {
			if v := r.Values[string(t)]; v != nil {
				row = append(row, strconv.FormatFloat(*v, 'g', -1, 64))
			} else {
				row = append(row, "")
			}
		}
		table[i] = row
	}
	return header, table, nil
}
