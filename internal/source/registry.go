package source

import (
	_ "embed"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/envgraph/internal/model"
)

//go:embed catalog.yaml
var catalogYAML []byte

type catalog struct {
	Sources []*Source `yaml:"sources"`
}

// Registry maps source names to their definitions.
type Registry struct {
	sources map[string]*Source
	order   []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated from the embedded catalog.
func NewRegistry() (*Registry, error) {
	return Parse(catalogYAML)
}

// Parse builds a registry from a YAML catalog.
func Parse(data []byte) (*Registry, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "source: parse catalog")
	}
	r := &Registry{sources: make(map[string]*Source)}
	for _, s := range c.Sources {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a source to the registry.
func (r *Registry) Register(s *Source) error {
	if s.Name == "" {
		return eris.New("source: name is required")
	}
	if !s.Type.Valid() {
		return eris.Errorf("source: %s has unknown type %q", s.Name, s.Type)
	}
	if s.Dataset.ID == "" {
		return eris.Errorf("source: %s has no dataset id", s.Name)
	}
	switch s.Cadence {
	case Weekly:
	case Annual:
		if s.FirstYear == 0 || s.LastYear < s.FirstYear {
			return eris.Errorf("source: %s has invalid year range %d-%d", s.Name, s.FirstYear, s.LastYear)
		}
	default:
		return eris.Errorf("source: %s has unknown cadence %q", s.Name, s.Cadence)
	}
	if _, dup := r.sources[s.Name]; dup {
		return eris.Errorf("source: duplicate source %q", s.Name)
	}
	r.sources[s.Name] = s
	r.order = append(r.order, s.Name)
	return nil
}

// Get returns a source by name, ignoring case.
func (r *Registry) Get(name string) (*Source, error) {
	s, ok := r.sources[strings.ToLower(name)]
	if !ok {
		return nil, eris.Errorf("source: unknown source %q", name)
	}
	return s, nil
}

// ByType returns the source that produces measurements of t.
func (r *Registry) ByType(t model.MeasurementType) (*Source, error) {
	for _, name := range r.order {
		if s := r.sources[name]; s.Type == t {
			return s, nil
		}
	}
	return nil, eris.Errorf("source: no source for type %s", t)
}

// Select returns the named sources, or all when names is empty.
func (r *Registry) Select(names []string) ([]*Source, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	out := make([]*Source, 0, len(names))
	for _, n := range names {
		s, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// All returns all sources in registration order.
func (r *Registry) All() []*Source {
	out := make([]*Source, len(r.order))
	for i, name := range r.order {
		out[i] = r.sources[name]
	}
	return out
}

// Datasets returns the Dataset metadata of every source.
func (r *Registry) Datasets() []model.Dataset {
	out := make([]model.Dataset, len(r.order))
	for i, name := range r.order {
		out[i] = r.sources[name].Dataset
	}
	return out
}

// AllNames returns all source names in registration order.
func (r *Registry) AllNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
