// Package boundary loads district polygons for the collector. Deriving
// centroids, areas or adjacency from them is left to upstream tooling.
package boundary

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/envgraph/internal/model"
)

// Name properties, in lookup order.
var nameProps = []string{"shapeName", "shapeName_1"}

// District is a named district geometry in EPSG:4326.
type District struct {
	Name     string
	Geometry geom.T
}

// Load reads boundaries from a GeoJSON or shapefile, chosen by extension.
func Load(path string) ([]District, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return LoadShapefile(path)
	case ".geojson", ".json":
		return LoadGeoJSON(path)
	default:
		return nil, eris.Errorf("boundary: unsupported file %s", path)
	}
}

// LoadGeoJSON reads a FeatureCollection. Features without a name or a
// geometry are skipped.
func LoadGeoJSON(path string) ([]District, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: read %s", path)
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "boundary: decode %s", path)
	}

	var out []District
	var skipped int
	for _, f := range fc.Features {
		name := featureName(f.Properties)
		if name == "" || f.Geometry == nil {
			skipped++
			continue
		}
		out = append(out, District{Name: name, Geometry: f.Geometry})
	}
	logSkipped(path, skipped)
	return out, nil
}

func featureName(props map[string]any) string {
	for _, key := range nameProps {
		if v, ok := props[key].(string); ok {
			if name := model.CanonicalName(v); name != "" {
				return name
			}
		}
	}
	return ""
}

// LoadShapefile reads polygon records of a shapefile.
func LoadShapefile(path string) ([]District, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		fieldIdx[strings.TrimRight(f.String(), "\x00")] = i
	}

	var out []District
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		var name string
		for _, key := range nameProps {
			if idx, ok := fieldIdx[key]; ok {
				if name = model.CanonicalName(strings.TrimRight(reader.Attribute(idx), "\x00")); name != "" {
					break
				}
			}
		}

		poly, ok := shape.(*shp.Polygon)
		if name == "" || !ok {
			skipped++
			continue
		}
		g := polygonToMultiPolygon(poly)
		if g == nil {
			skipped++
			continue
		}
		out = append(out, District{Name: name, Geometry: g})
	}
	logSkipped(path, skipped)
	return out, nil
}

// ByName indexes districts by name. Later duplicates win.
func ByName(ds []District) map[string]geom.T {
	out := make(map[string]geom.T, len(ds))
	for _, d := range ds {
		out[d.Name] = d.Geometry
	}
	return out
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon.
// Each ring becomes its own polygon.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("boundary: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("boundary: skipping malformed polygon", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

func logSkipped(path string, skipped int) {
	if skipped > 0 {
		zap.L().Warn("boundary: skipped features",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
}
