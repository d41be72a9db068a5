// Package source describes the remote measurement products the collector
// pulls from and the Dataset nodes they are attributed to.
package source

import (
	"sort"

	"github.com/sells-group/envgraph/internal/model"
)

// Cadence describes how often a source publishes a new reading.
type Cadence string

// Cadences.
const (
	Weekly Cadence = "weekly"
	Annual Cadence = "annual"
)

// Reducers understood by the imagery service.
const (
	ReducerMean      = "mean"
	ReducerHistogram = "histogram"
)

// Source is one remote measurement product.
type Source struct {
	Name       string                `yaml:"name"`
	Type       model.MeasurementType `yaml:"type"`
	Collection string                `yaml:"collection"`
	Label      string                `yaml:"label"` // value of the dataset property on measurements
	Scale      float64               `yaml:"scale"`
	Reducer    string                `yaml:"reducer"`
	Cadence    Cadence               `yaml:"cadence"`
	FirstYear  int                   `yaml:"first_year"`
	LastYear   int                   `yaml:"last_year"`
	Classes    map[int]string        `yaml:"classes"` // raw class value -> field, histogram reducers only
	Dataset    model.Dataset         `yaml:"dataset"`
}

// Bands returns the band names requested from the imagery service. For
// histogram sources these are the class fields.
func (s *Source) Bands() []string { return s.Type.Fields() }

// ClassValues returns the raw class values in ascending order.
func (s *Source) ClassValues() []int {
	out := make([]int, 0, len(s.Classes))
	for v := range s.Classes {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
