package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CanonicalName trims a district name and puts it in Unicode NFC so names
// from CSV, JSON and shapefile sources compare equal.
func CanonicalName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// District is an administrative region. Name is the node key.
type District struct {
	ID                string  `json:"district_id"`
	Name              string  `json:"name"`
	CentroidLatitude  float64 `json:"centroid_latitude"`
	CentroidLongitude float64 `json:"centroid_longitude"`
	Area              float64 `json:"area"`
}

// Properties returns the node properties of the district.
func (d District) Properties() map[string]any {
	return map[string]any{
		"district_id":        d.ID,
		"name":               d.Name,
		"centroid_latitude":  d.CentroidLatitude,
		"centroid_longitude": d.CentroidLongitude,
		"area":               d.Area,
	}
}

// Dataset describes a remote data product.
type Dataset struct {
	ID                string `yaml:"dataset_id" json:"dataset_id"`
	Name              string `yaml:"name" json:"name"`
	Description       string `yaml:"description" json:"description"`
	TemporalCoverage  string `yaml:"temporal_coverage" json:"temporal_coverage"`
	SpatialResolution string `yaml:"spatial_resolution" json:"spatial_resolution"`
}

// Properties returns the node properties of the dataset.
func (d Dataset) Properties() map[string]any {
	return map[string]any{
		"dataset_id":         d.ID,
		"name":               d.Name,
		"description":        d.Description,
		"temporal_coverage":  d.TemporalCoverage,
		"spatial_resolution": d.SpatialResolution,
	}
}
