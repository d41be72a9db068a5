// Package query composes the per-district feature payload served by the
// API: the target series, optional sibling series, neighbor series and
// land cover, all read concurrently from the graph store.
package query

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/envgraph/internal/model"
	"github.com/sells-group/envgraph/internal/observability"
	"github.com/sells-group/envgraph/internal/store"
)

// Validation errors. They are returned before any store access.
var (
	ErrInvalidTarget    = eris.New("query: prediction target must be one of CO, Ozone, Aerosol")
	ErrInvalidDateRange = eris.New("query: start_date and end_date must be dates with start_date <= end_date")
	ErrInvalidDistrict  = eris.New("query: district is required")
)

// IsValidation reports whether err is one of the request validation errors.
func IsValidation(err error) bool {
	return eris.Is(err, ErrInvalidTarget) || eris.Is(err, ErrInvalidDateRange) || eris.Is(err, ErrInvalidDistrict)
}

// Options selects the optional sections of a composite response.
type Options struct {
	NeighborInfluence    bool `json:"neighbor_influence"`
	LandcoverInfluence   bool `json:"landcover_influence"`
	AtmosphericInfluence bool `json:"atmospheric_influence"`
}

// Request is a composite feature request.
type Request struct {
	District         string `json:"district"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
	PredictionTarget string `json:"prediction_target"`
	Options
}

// Normalize trims the request strings and canonicalizes the district name.
func (r Request) Normalize() Request {
	r.District = model.CanonicalName(r.District)
	r.StartDate = strings.TrimSpace(r.StartDate)
	r.EndDate = strings.TrimSpace(r.EndDate)
	r.PredictionTarget = strings.TrimSpace(r.PredictionTarget)
	return r
}

// Validate checks r and returns the resolved target type.
func (r Request) Validate() (model.MeasurementType, error) {
	if strings.TrimSpace(r.District) == "" {
		return "", ErrInvalidDistrict
	}
	target, ok := model.ParseTarget(strings.TrimSpace(r.PredictionTarget))
	if !ok {
		return "", eris.Wrapf(ErrInvalidTarget, "got %q", r.PredictionTarget)
	}
	start, ok := model.ParseBound(r.StartDate)
	if !ok {
		return "", eris.Wrapf(ErrInvalidDateRange, "start_date %q", r.StartDate)
	}
	end, ok := model.ParseBound(r.EndDate)
	if !ok {
		return "", eris.Wrapf(ErrInvalidDateRange, "end_date %q", r.EndDate)
	}
	if start.After(end) {
		return "", eris.Wrapf(ErrInvalidDateRange, "%s is after %s", r.StartDate, r.EndDate)
	}
	return target, nil
}

// AtmosEntry is one atmospheric reading. It encodes as
// {"timestamp", "id", <Field>: value, "parameter": <Field>}.
type AtmosEntry struct {
	Timestamp string
	ID        string
	Field     string
	Value     *float64
}

// MarshalJSON writes the entry with the value keyed by its field name.
func (e AtmosEntry) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range []struct {
		key string
		val any
	}{
		{"timestamp", e.Timestamp},
		{"id", e.ID},
		{e.Field, e.Value},
		{"parameter", e.Field},
	} {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(kv.key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(kv.val)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the encoding produced by MarshalJSON.
func (e *AtmosEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out AtmosEntry
	for key, dst := range map[string]*string{"timestamp": &out.Timestamp, "id": &out.ID, "parameter": &out.Field} {
		if v, ok := raw[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return eris.Wrapf(err, "query: decode %s", key)
			}
		}
	}
	if v, ok := raw[out.Field]; ok && out.Field != "" {
		if err := json.Unmarshal(v, &out.Value); err != nil {
			return eris.Wrapf(err, "query: decode %s", out.Field)
		}
	}
	*e = out
	return nil
}

// LandCoverEntry is one annual land cover reading.
type LandCoverEntry struct {
	Timestamp  string   `json:"timestamp"`
	ID         string   `json:"id"`
	Water      *float64 `json:"water"`
	Trees      *float64 `json:"trees"`
	Crops      *float64 `json:"crops"`
	BuiltArea  *float64 `json:"built_area"`
	BareGround *float64 `json:"bare_ground"`
	Rangeland  *float64 `json:"rangeland"`
}

// CompositeResponse is the composed payload. Landcover and
// NeighbourLandcover are nil (encoded as null) when not requested;
// NeighbourAtmosphere is always an object.
type CompositeResponse struct {
	District            string                             `json:"district"`
	Atmosphere          map[string][]AtmosEntry            `json:"atmosphere"`
	Landcover           []LandCoverEntry                   `json:"landcover"`
	NeighbourAtmosphere map[string]map[string][]AtmosEntry `json:"neighbour_atmosphere"`
	NeighbourLandcover  map[string][]LandCoverEntry        `json:"neighbour_landcover"`
}

// Querier runs named store queries. store.Store satisfies it.
type Querier interface {
	Run(ctx context.Context, q store.QueryID, p store.Params) ([]store.Row, error)
}

// Composer builds composite responses.
type Composer interface {
	Compose(ctx context.Context, req Request) (*CompositeResponse, error)
}

// Service composes responses from a graph store.
type Service struct {
	store   Querier
	metrics *observability.Metrics
	log     *zap.Logger
}

// NewService creates a Service. metrics may be nil.
func NewService(q Querier, metrics *observability.Metrics) *Service {
	return &Service{
		store:   q,
		metrics: metrics,
		log:     zap.L().With(zap.String("component", "query")),
	}
}

// Compose validates req and reads every requested section concurrently.
// Any sub-query failure fails the whole request; no partial payload is
// returned.
func (s *Service) Compose(ctx context.Context, req Request) (*CompositeResponse, error) {
	began := time.Now()
	req = req.Normalize()

	target, err := req.Validate()
	if err != nil {
		s.metrics.ObserveCompose(observability.OutcomeInvalid, time.Since(began))
		return nil, err
	}

	types := []model.MeasurementType{target}
	if req.AtmosphericInfluence {
		types = append(types, target.Siblings()...)
	}

	primary := make([][]store.Row, len(types))
	neighbors := make([][]store.Row, len(types))
	var landcover, neighborLandcover []store.Row

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		p := store.Params{Type: t, District: req.District, Start: req.StartDate, End: req.EndDate}
		g.Go(func() error {
			rows, err := s.store.Run(gctx, store.QuerySeries, p)
			if err != nil {
				return eris.Wrapf(err, "query: %s series", t)
			}
			primary[i] = rows
			return nil
		})
		if req.NeighborInfluence {
			g.Go(func() error {
				rows, err := s.store.Run(gctx, store.QueryNeighborSeries, p)
				if err != nil {
					return eris.Wrapf(err, "query: %s neighbor series", t)
				}
				neighbors[i] = rows
				return nil
			})
		}
	}
	if req.LandcoverInfluence {
		p := store.Params{District: req.District}
		g.Go(func() error {
			rows, err := s.store.Run(gctx, store.QueryLandCover, p)
			if err != nil {
				return eris.Wrap(err, "query: land cover")
			}
			landcover = rows
			return nil
		})
		if req.NeighborInfluence {
			g.Go(func() error {
				rows, err := s.store.Run(gctx, store.QueryNeighborLandCover, p)
				if err != nil {
					return eris.Wrap(err, "query: neighbor land cover")
				}
				neighborLandcover = rows
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		s.metrics.ObserveCompose(observability.OutcomeError, time.Since(began))
		s.log.Error("compose failed", zap.String("district", req.District), zap.Error(err))
		return nil, err
	}

	resp := &CompositeResponse{
		District:            req.District,
		Atmosphere:          make(map[string][]AtmosEntry, len(types)),
		NeighbourAtmosphere: make(map[string]map[string][]AtmosEntry),
	}
	for i, t := range types {
		resp.Atmosphere[string(t)] = atmosEntries(t, primary[i])
		for nb, rows := range groupByNeighbor(neighbors[i]) {
			if resp.NeighbourAtmosphere[nb] == nil {
				resp.NeighbourAtmosphere[nb] = make(map[string][]AtmosEntry)
			}
			resp.NeighbourAtmosphere[nb][string(t)] = atmosEntries(t, rows)
		}
	}
	if req.LandcoverInfluence {
		resp.Landcover = landCoverEntries(landcover)
		if req.NeighborInfluence {
			resp.NeighbourLandcover = make(map[string][]LandCoverEntry)
			for nb, rows := range groupByNeighbor(neighborLandcover) {
				resp.NeighbourLandcover[nb] = landCoverEntries(rows)
			}
		}
	}

	s.metrics.ObserveCompose(observability.OutcomeSuccess, time.Since(began))
	s.log.Debug("composed",
		zap.String("district", req.District),
		zap.String("target", string(target)),
		zap.Int("series", len(types)),
		zap.Int("neighbors", len(resp.NeighbourAtmosphere)),
	)
	return resp, nil
}

// atmosEntries converts series rows, skipping rows whose timestamp cannot
// be normalized. The result is never nil.
func atmosEntries(t model.MeasurementType, rows []store.Row) []AtmosEntry {
	field := t.TargetField()
	out := make([]AtmosEntry, 0, len(rows))
	for _, r := range rows {
		ts, ok := model.NormalizeTimestamp(r.Timestamp)
		if !ok {
			continue
		}
		out = append(out, AtmosEntry{Timestamp: ts, ID: r.ID, Field: field, Value: number(r.Props[field])})
	}
	return out
}

func landCoverEntries(rows []store.Row) []LandCoverEntry {
	out := make([]LandCoverEntry, 0, len(rows))
	for _, r := range rows {
		ts, ok := model.NormalizeTimestamp(r.Timestamp)
		if !ok {
			continue
		}
		out = append(out, LandCoverEntry{
			Timestamp:  ts,
			ID:         r.ID,
			Water:      number(r.Props[model.ClassWater]),
			Trees:      number(r.Props[model.ClassTrees]),
			Crops:      number(r.Props[model.ClassCrops]),
			BuiltArea:  number(r.Props[model.ClassBuiltArea]),
			BareGround: number(r.Props[model.ClassBareGround]),
			Rangeland:  number(r.Props[model.ClassRangeland]),
		})
	}
	return out
}

// groupByNeighbor splits neighbor rows by Row.Neighbor. Neighbors without
// rows do not appear.
func groupByNeighbor(rows []store.Row) map[string][]store.Row {
	out := make(map[string][]store.Row)
	for _, r := range rows {
		out[r.Neighbor] = append(out[r.Neighbor], r)
	}
	return out
}

// number converts a decoded property to a float. Anything non-numeric is nil.
func number(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int64:
		f = float64(n)
	case int:
		f = float64(n)
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return nil
		}
		f = x
	default:
		return nil
	}
	return &f
}
