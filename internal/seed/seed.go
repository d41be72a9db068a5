// Package seed loads the spatial reference data (districts, adjacency and
// dataset metadata) into the graph store.
package seed

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/envgraph/internal/model"
	"github.com/sells-group/envgraph/internal/store"
	"github.com/sells-group/envgraph/internal/tabular"
)

// Adjacency maps a district name to the names of its neighbors.
type Adjacency map[string][]string

// LoadDistricts reads the district reference table. Columns are
// district_id, District_name, centroid_latitude, centroid_longitude and area.
func LoadDistricts(ctx context.Context, path string) ([]model.District, error) {
	recs, err := tabular.ReadFile(ctx, path)
	if err != nil {
		return nil, eris.Wrap(err, "seed: load districts")
	}

	out := make([]model.District, 0, len(recs))
	for _, rec := range recs {
		d := model.District{
			ID:   rec.Get("district_id"),
			Name: model.CanonicalName(rec.Get("District_name")),
		}
		if d.Name == "" {
			return nil, eris.Errorf("seed: row %d has no district name", rec.Number)
		}
		for _, f := range []struct {
			col string
			dst *float64
		}{
			{"centroid_latitude", &d.CentroidLatitude},
			{"centroid_longitude", &d.CentroidLongitude},
			{"area", &d.Area},
		} {
			v, err := strconv.ParseFloat(rec.Get(f.col), 64)
			if err != nil {
				return nil, eris.Wrapf(err, "seed: row %d column %s", rec.Number, f.col)
			}
			*f.dst = v
		}
		out = append(out, d)
	}
	return out, nil
}

// LoadNeighbors reads a JSON object of district name to neighbor names.
func LoadNeighbors(path string) (Adjacency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "seed: read %s", path)
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "seed: decode %s", path)
	}

	adj := make(Adjacency, len(raw))
	for d, ns := range raw {
		name := model.CanonicalName(d)
		for _, n := range ns {
			adj[name] = append(adj[name], model.CanonicalName(n))
		}
		if _, ok := adj[name]; !ok {
			adj[name] = nil
		}
	}
	return adj, nil
}

// Asymmetry is a pair where From lists To as a neighbor but not the
// other way round.
type Asymmetry struct {
	From string
	To   string
}

// Symmetrize returns a copy of adj where every edge has its reverse, plus
// the asymmetric pairs that were completed. Self loops and duplicate
// entries are dropped. Output lists are sorted.
func Symmetrize(adj Adjacency) (Adjacency, []Asymmetry) {
	has := make(map[[2]string]bool)
	for d, ns := range adj {
		for _, n := range ns {
			has[[2]string{d, n}] = true
		}
	}

	var missing []Asymmetry
	for pair := range has {
		if pair[0] == pair[1] {
			continue
		}
		if !has[[2]string{pair[1], pair[0]}] {
			missing = append(missing, Asymmetry{From: pair[0], To: pair[1]})
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].From != missing[j].From {
			return missing[i].From < missing[j].From
		}
		return missing[i].To < missing[j].To
	})
	for _, a := range missing {
		has[[2]string{a.To, a.From}] = true
	}

	return fromPairs(adj, has), missing
}

// Dedupe drops self loops and repeated neighbors without adding reverse
// edges.
func Dedupe(adj Adjacency) Adjacency {
	has := make(map[[2]string]bool)
	for d, ns := range adj {
		for _, n := range ns {
			has[[2]string{d, n}] = true
		}
	}
	return fromPairs(adj, has)
}

func fromPairs(adj Adjacency, has map[[2]string]bool) Adjacency {
	out := make(Adjacency, len(adj))
	for d := range adj {
		out[d] = nil
	}
	for pair := range has {
		if pair[0] != pair[1] {
			out[pair[0]] = append(out[pair[0]], pair[1])
		}
	}
	for d := range out {
		sort.Strings(out[d])
	}
	return out
}

// Seeder writes reference data to a store.
type Seeder struct {
	store store.Store
	log   *zap.Logger
}

// NewSeeder creates a Seeder.
func NewSeeder(st store.Store) *Seeder {
	return &Seeder{store: st, log: zap.L().With(zap.String("component", "seed"))}
}

// Result summarizes one seeding run.
type Result struct {
	Districts int
	Datasets  int
	Neighbors int
	// Unknown lists adjacency names that match no district. Their edges
	// are not created.
	Unknown []string
}

// Seed upserts districts (first write wins), datasets (metadata refreshed)
// and NEIGHBOR_OF edges. Re-running is safe.
func (s *Seeder) Seed(ctx context.Context, districts []model.District, datasets []model.Dataset, adj Adjacency) (*Result, error) {
	nodes := make([]store.Node, 0, len(districts)+len(datasets))
	known := make(map[string]bool, len(districts))
	for _, d := range districts {
		known[d.Name] = true
		nodes = append(nodes, store.Node{Label: store.LabelDistrict, Key: d.Name, Props: d.Properties()})
	}
	for _, ds := range datasets {
		nodes = append(nodes, store.Node{Label: store.LabelDataset, Key: ds.ID, Props: ds.Properties()})
	}
	if err := s.store.UpsertNodes(ctx, nodes...); err != nil {
		return nil, eris.Wrap(err, "seed: upsert nodes")
	}

	res := &Result{Districts: len(districts), Datasets: len(datasets)}
	unknown := make(map[string]bool)

	names := make([]string, 0, len(adj))
	for d := range adj {
		names = append(names, d)
	}
	sort.Strings(names)

	var edges []store.Edge
	for _, d := range names {
		for _, n := range adj[d] {
			if !known[d] || !known[n] {
				for _, name := range []string{d, n} {
					if !known[name] {
						unknown[name] = true
					}
				}
				continue
			}
			edges = append(edges, store.Edge{
				From: store.NodeRef{Label: store.LabelDistrict, Key: d},
				To:   store.NodeRef{Label: store.LabelDistrict, Key: n},
				Type: store.RelNeighborOf,
			})
		}
	}
	if err := s.store.UpsertEdges(ctx, edges...); err != nil {
		return nil, eris.Wrap(err, "seed: upsert neighbor edges")
	}
	res.Neighbors = len(edges)

	for name := range unknown {
		res.Unknown = append(res.Unknown, name)
	}
	sort.Strings(res.Unknown)
	if len(res.Unknown) > 0 {
		s.log.Warn("adjacency names match no district", zap.Strings("names", res.Unknown))
	}

	s.log.Info("seeded reference data",
		zap.Int("districts", res.Districts),
		zap.Int("datasets", res.Datasets),
		zap.Int("neighbor_edges", res.Neighbors),
	)
	return res, nil
}
