package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/envgraph/internal/model"
	"github.com/sells-group/envgraph/internal/store"
	"github.com/sells-group/envgraph/internal/store/storetest"
)

const districtsCSV = `district_id,District_name,centroid_latitude,centroid_longitude,area
MH-PU,Pune,18.52,73.85,15643
MH-SO,Solapur,17.66,75.90,14895
MH-AH,Ahmednagar,19.09,74.74,17048
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDistricts(t *testing.T) {
	ds, err := LoadDistricts(context.Background(), writeFile(t, "districts.csv", districtsCSV))
	require.NoError(t, err)
	require.Len(t, ds, 3)
	assert.Equal(t, model.District{
		ID:                "MH-PU",
		Name:              "Pune",
		CentroidLatitude:  18.52,
		CentroidLongitude: 73.85,
		Area:              15643,
	}, ds[0])
}

func TestLoadDistricts_BadRows(t *testing.T) {
	_, err := LoadDistricts(context.Background(), writeFile(t, "d.csv",
		"district_id,District_name,centroid_latitude,centroid_longitude,area\nX,Pune,abc,1,1\n"))
	assert.ErrorContains(t, err, "centroid_latitude")

	_, err = LoadDistricts(context.Background(), writeFile(t, "d.csv",
		"district_id,District_name,centroid_latitude,centroid_longitude,area\nX, ,1,1,1\n"))
	assert.ErrorContains(t, err, "no district name")
}

func TestLoadNeighbors(t *testing.T) {
	adj, err := LoadNeighbors(writeFile(t, "n.json", `{"Pune": ["Solapur", " Ahmednagar"], "Solapur": []}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Solapur", "Ahmednagar"}, adj["Pune"])
	assert.Contains(t, adj, "Solapur")

	_, err = LoadNeighbors(writeFile(t, "n.json", `["Pune"]`))
	assert.Error(t, err)
}

func TestSymmetrize(t *testing.T) {
	adj := Adjacency{
		"Pune":       {"Solapur", "Ahmednagar", "Pune", "Solapur"},
		"Solapur":    {"Pune"},
		"Ahmednagar": nil,
	}

	sym, missing := Symmetrize(adj)
	assert.Equal(t, []Asymmetry{{From: "Pune", To: "Ahmednagar"}}, missing)
	assert.Equal(t, []string{"Ahmednagar", "Solapur"}, sym["Pune"])
	assert.Equal(t, []string{"Pune"}, sym["Solapur"])
	assert.Equal(t, []string{"Pune"}, sym["Ahmednagar"])

	// Input is untouched.
	assert.Empty(t, adj["Ahmednagar"])

	raw := Dedupe(adj)
	assert.Equal(t, []string{"Ahmednagar", "Solapur"}, raw["Pune"])
	assert.Empty(t, raw["Ahmednagar"])
}

func TestSeederSeed(t *testing.T) {
	ctx := context.Background()
	st := storetest.NewSQLite(t)

	districts, err := LoadDistricts(ctx, writeFile(t, "districts.csv", districtsCSV))
	require.NoError(t, err)
	adj, _ := Symmetrize(Adjacency{
		"Pune":    {"Solapur", "Ahmednagar", "Satara"},
		"Solapur": {"Pune"},
	})
	datasets := []model.Dataset{{ID: "COPERNICUS/S5P/NRTI/L3_CO", Name: "CO"}}

	s := NewSeeder(st)
	res, err := s.Seed(ctx, districts, datasets, adj)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Districts)
	assert.Equal(t, 4, res.Neighbors)
	assert.Equal(t, []string{"Satara"}, res.Unknown)

	// Re-seeding keeps counts stable and refreshes dataset metadata only.
	districts[0].Area = 1
	datasets[0].Name = "Carbon monoxide"
	_, err = s.Seed(ctx, districts, datasets, adj)
	require.NoError(t, err)

	assert.Equal(t, int64(3), storetest.Count(t, st, store.LabelDistrict))
	assert.Equal(t, int64(1), storetest.Count(t, st, store.LabelDataset))
	assert.Equal(t, int64(4), storetest.CountEdges(t, st, store.RelNeighborOf))

	rows, err := st.Run(ctx, store.QueryNeighbors, store.Params{District: "Pune"})
	require.NoError(t, err)
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Name
	}
	assert.ElementsMatch(t, []string{"Solapur", "Ahmednagar"}, names)

	rows, err = st.Run(ctx, store.QueryNeighbors, store.Params{District: "Ahmednagar"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Pune", rows[0].Name)
}
