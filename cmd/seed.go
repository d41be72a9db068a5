package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/envgraph/internal/seed"
	"github.com/sells-group/envgraph/internal/source"
)

var (
	seedDistricts    string
	seedNeighbors    string
	seedNoSymmetrize bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load districts, datasets and neighbor relations",
	Long:  "Upserts District and Dataset nodes and NEIGHBOR_OF edges. Safe to re-run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		districts, err := seed.LoadDistricts(ctx, seedDistricts)
		if err != nil {
			return err
		}
		adj, err := seed.LoadNeighbors(seedNeighbors)
		if err != nil {
			return err
		}

		if seedNoSymmetrize {
			adj = seed.Dedupe(adj)
		} else {
			var missing []seed.Asymmetry
			adj, missing = seed.Symmetrize(adj)
			for _, a := range missing {
				zap.L().Warn("adding missing reverse neighbor",
					zap.String("district", a.To),
					zap.String("neighbor", a.From),
				)
			}
		}

		reg, err := source.NewRegistry()
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		defer purgeComposeCache(ctx)

		res, err := seed.NewSeeder(st).Seed(ctx, districts, reg.Datasets(), adj)
		if err != nil {
			return eris.Wrap(err, "seed")
		}

		fmt.Printf("Seeded %d districts, %d datasets, %d neighbor edges\n", res.Districts, res.Datasets, res.Neighbors)
		if len(res.Unknown) > 0 {
			fmt.Printf("Skipped %d unknown adjacency names: %v\n", len(res.Unknown), res.Unknown)
		}
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedDistricts, "districts", "district_info.csv", "district table (csv or xlsx)")
	seedCmd.Flags().StringVar(&seedNeighbors, "neighbors", "neighbors.json", "district adjacency JSON")
	seedCmd.Flags().BoolVar(&seedNoSymmetrize, "no-symmetrize", false, "keep the adjacency relation as given")
	rootCmd.AddCommand(seedCmd)
}
