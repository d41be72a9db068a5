package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// MeasurementType identifies one family of measurement nodes.
type MeasurementType string

// Measurement types persisted in the graph.
const (
	CO        MeasurementType = "CO"
	Ozone     MeasurementType = "Ozone"
	Aerosol   MeasurementType = "Aerosol"
	LandCover MeasurementType = "LandCover"
)

// AllTypes lists every measurement type in chain-build order.
var AllTypes = []MeasurementType{CO, Ozone, Aerosol, LandCover}

// AtmosphericTypes lists the types that can be a prediction target.
var AtmosphericTypes = []MeasurementType{CO, Ozone, Aerosol}

// Land cover class columns, in the order the classifier emits them.
const (
	ClassWater             = "Water"
	ClassTrees             = "Trees"
	ClassFloodedVegetation = "Flooded_Vegetation"
	ClassCrops             = "Crops"
	ClassBuiltArea         = "Built_Area"
	ClassBareGround        = "Bare_Ground"
	ClassSnowIce           = "Snow_Ice"
	ClassClouds            = "Clouds"
	ClassRangeland         = "Rangeland"
)

type typeSpec struct {
	label  string
	target string
	fields []string
}

var specs = map[MeasurementType]typeSpec{
	CO: {
		label:  "CO_Measurement",
		target: "CO_column_number_density",
		fields: []string{
			"CO_column_number_density",
			"H2O_column_number_density",
			"cloud_height",
			"sensor_altitude",
			"sensor_azimuth_angle",
			"sensor_zenith_angle",
			"solar_azimuth_angle",
			"solar_zenith_angle",
		},
	},
	Ozone: {
		label:  "Ozone_Measurement",
		target: "O3_column_number_density",
		fields: []string{
			"O3_column_number_density",
			"O3_column_number_density_amf",
			"O3_slant_column_number_density",
			"O3_effective_temperature",
			"cloud_fraction",
			"sensor_azimuth_angle",
			"sensor_zenith_angle",
			"solar_azimuth_angle",
			"solar_zenith_angle",
		},
	},
	Aerosol: {
		label:  "Aerosol_AI_Measurement",
		target: "absorbing_aerosol_index",
		fields: []string{
			"absorbing_aerosol_index",
			"sensor_altitude",
			"sensor_azimuth_angle",
			"sensor_zenith_angle",
			"solar_azimuth_angle",
			"solar_zenith_angle",
		},
	},
	LandCover: {
		label: "LandCoverMeasurement",
		fields: []string{
			ClassWater,
			ClassTrees,
			ClassFloodedVegetation,
			ClassCrops,
			ClassBuiltArea,
			ClassBareGround,
			ClassSnowIce,
			ClassClouds,
			ClassRangeland,
		},
	},
}

// ParseMeasurementType resolves a type name. Matching is case-insensitive
// so CLI input like "ozone" works.
func ParseMeasurementType(s string) (MeasurementType, error) {
	for _, t := range AllTypes {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", eris.Errorf("model: unknown measurement type %q", s)
}

// ParseTarget resolves a prediction target. Only atmospheric types are
// targets and the match is exact.
func ParseTarget(s string) (MeasurementType, bool) {
	for _, t := range AtmosphericTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Valid reports whether t is one of the known types.
func (t MeasurementType) Valid() bool {
	_, ok := specs[t]
	return ok
}

// Label returns the node label used for this type.
func (t MeasurementType) Label() string { return specs[t].label }

// TargetField returns the headline numeric field, empty for LandCover.
func (t MeasurementType) TargetField() string { return specs[t].target }

// Fields returns the fixed numeric fields of this type.
func (t MeasurementType) Fields() []string {
	f := specs[t].fields
	out := make([]string, len(f))
	copy(out, f)
	return out
}

// Annual reports whether timestamps of this type are bare years.
func (t MeasurementType) Annual() bool { return t == LandCover }

// Siblings returns the other atmospheric types, in canonical order.
func (t MeasurementType) Siblings() []MeasurementType {
	var out []MeasurementType
	for _, a := range AtmosphericTypes {
		if a != t {
			out = append(out, a)
		}
	}
	return out
}

// Measurement is a single observation for one district and time slot.
type Measurement struct {
	ID        string
	Type      MeasurementType
	Region    string
	Timestamp string
	Dataset   string
	Values    map[string]float64
}

// Validate checks that every numeric field of the type is present.
func (m *Measurement) Validate() error {
	if m.ID == "" {
		return eris.New("model: measurement id is required")
	}
	if !m.Type.Valid() {
		return eris.Errorf("model: unknown measurement type %q", m.Type)
	}
	for _, f := range m.Type.Fields() {
		if _, ok := m.Values[f]; !ok {
			return eris.Errorf("model: measurement %s missing field %s", m.ID, f)
		}
	}
	return nil
}

// Properties flattens the measurement into node properties.
func (m *Measurement) Properties() map[string]any {
	props := make(map[string]any, len(m.Values)+4)
	props["measurement_id"] = m.ID
	props["region"] = m.Region
	props["timestamp"] = m.Timestamp
	props["dataset"] = m.Dataset
	for k, v := range m.Values {
		props[k] = v
	}
	return props
}
