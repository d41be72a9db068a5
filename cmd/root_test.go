package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/envgraph/internal/chain"
	"github.com/sells-group/envgraph/internal/model"
	"github.com/sells-group/envgraph/internal/normalize"
	"github.com/sells-group/envgraph/internal/store/storetest"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"seed", "ingest", "chain", "compose", "export", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "envgraph", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestIngestCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range ingestCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"fetch", "load", "run"} {
		assert.True(t, names[name], "ingest should have subcommand %q", name)
	}
}

func TestCommandFlags(t *testing.T) {
	seedFlag := seedCmd.Flags().Lookup("no-symmetrize")
	require.NotNil(t, seedFlag)
	assert.Equal(t, "false", seedFlag.DefValue)

	assert.Equal(t, "false", ingestLoadCmd.Flags().Lookup("chain").DefValue)
	assert.Equal(t, "true", ingestRunCmd.Flags().Lookup("chain").DefValue)

	for _, name := range []string{"district", "start", "end", "target", "neighbors", "landcover", "atmospheric"} {
		assert.NotNil(t, composeCmd.Flags().Lookup(name), "compose should have --%s", name)
	}

	port := serveCmd.Flags().Lookup("port")
	require.NotNil(t, port)
	assert.Equal(t, "0", port.DefValue)
}

func TestParseTypes(t *testing.T) {
	all, err := parseTypes(nil)
	require.NoError(t, err)
	assert.Equal(t, model.AllTypes, all)

	some, err := parseTypes([]string{"ozone", "LandCover"})
	require.NoError(t, err)
	assert.Equal(t, []model.MeasurementType{model.Ozone, model.LandCover}, some)

	_, err = parseTypes([]string{"methane"})
	assert.Error(t, err)
}

func TestFormatReports(t *testing.T) {
	var buf bytes.Buffer
	bad := formatReports(&buf, []*chain.Report{
		{Type: model.CO, Region: "Pune", Expected: 3, Heads: 1, Tails: 1, Length: 3},
		{Type: model.CO, Region: "Solapur", Expected: 3, Heads: 2, Tails: 1, Branches: 1, Length: 3},
		{Type: model.CO, Region: "Satara", Expected: 3, Heads: 1, Tails: 2, Branches: 1, Length: 3},
	})
	assert.Equal(t, 2, bad)
	assert.Contains(t, buf.String(), "BRANCHES")
	assert.Contains(t, buf.String(), "BROKEN")
	assert.Contains(t, buf.String(), "Pune")
}

func TestExportFeatures(t *testing.T) {
	st := storetest.NewSQLite(t)
	storetest.District(t, st, "Pune")

	day := func(d string) string { return d + "T00:00:00 to " + d + "T23:59:59" }
	put := func(id string, typ model.MeasurementType, ts string, v float64) {
		storetest.Measurement(t, st, model.Measurement{ID: id, Type: typ, Region: "Pune", Timestamp: ts}, v, true)
	}
	// 01-01 has Ozone but no CO; CO two days later fills it.
	put("o1", model.Ozone, day("2020-01-01"), 0.2)
	put("c3", model.CO, day("2020-01-03"), 0.05)
	put("a3", model.Aerosol, day("2020-01-03"), 1.5)
	// 01-05 has CO only and is dropped for lacking Ozone and Aerosol.
	put("c5", model.CO, day("2020-01-05"), 0.07)
	// 01-09 has Ozone but nothing to fill CO from.
	put("o9", model.Ozone, day("2020-01-09"), 0.3)

	header, rows, err := exportFeatures(context.Background(), st, "2020-01-01", "2020-12-31", normalize.DefaultRule)
	require.NoError(t, err)

	assert.Equal(t, []string{"district", "date", "CO", "Ozone", "Aerosol"}, header)
	assert.Equal(t, [][]string{
		{"Pune", "2020-01-01", "0.05", "0.2", ""},
		{"Pune", "2020-01-03", "0.05", "", "1.5"},
	}, rows)
}
