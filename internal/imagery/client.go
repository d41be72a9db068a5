// Package imagery is a client for the remote imagery reduction service
// that turns a collection, a district geometry and a time window into
// per-band values.
package imagery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/envgraph/internal/config"
	"github.com/sells-group/envgraph/internal/resilience"
)

const reducePath = "/v1/reduce"

// Request asks for one reduction of a collection over a region.
type Request struct {
	Collection string
	Geometry   geom.T
	Start      time.Time
	End        time.Time
	Bands      []string
	Scale      float64
	Reducer    string
	// Classes maps raw class values to output names for histogram reducers.
	Classes map[int]string
}

// Result maps each band to its reduced value. A nil value is a null.
type Result map[string]*float64

// Empty reports whether no band carries a value.
func (r Result) Empty() bool {
	for _, v := range r {
		if v != nil {
			return false
		}
	}
	return true
}

// Fetcher reduces imagery over a region.
type Fetcher interface {
	Reduce(ctx context.Context, req Request) (Result, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithPolicy sets the rate limit, breaker and retry policy.
func WithPolicy(p *resilience.Policy) Option {
	return func(c *httpClient) {
		c.policy = p
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	policy  *resilience.Policy
}

// NewClient creates an imagery client from config. Without WithPolicy the
// policy is derived from cfg.
func NewClient(cfg config.ImageryConfig, opts ...Option) Fetcher {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &httpClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy == nil {
		c.policy = resilience.FromImageryConfig(cfg, nil)
	}
	return c
}

type reduceBody struct {
	Collection string            `json:"collection"`
	Geometry   json.RawMessage   `json:"geometry"`
	Start      string            `json:"start"`
	End        string            `json:"end"`
	Bands      []string          `json:"bands"`
	Scale      float64           `json:"scale"`
	Reducer    string            `json:"reducer"`
	Classes    map[string]string `json:"classes,omitempty"`
}

type reduceResponse struct {
	Values map[string]*float64 `json:"values"`
}

// Reduce posts the request to the service. Only requested bands are kept
// in the result; bands the service omits come back as nil.
func (c *httpClient) Reduce(ctx context.Context, req Request) (Result, error) {
	if req.Geometry == nil {
		return nil, eris.New("imagery: geometry is required")
	}
	g, err := geojson.Marshal(req.Geometry)
	if err != nil {
		return nil, eris.Wrap(err, "imagery: encode geometry")
	}

	body := reduceBody{
		Collection: req.Collection,
		Geometry:   g,
		Start:      req.Start.UTC().Format(time.RFC3339),
		End:        req.End.UTC().Format(time.RFC3339),
		Bands:      req.Bands,
		Scale:      req.Scale,
		Reducer:    req.Reducer,
	}
	if len(req.Classes) > 0 {
		body.Classes = make(map[string]string, len(req.Classes))
		for v, name := range req.Classes {
			body.Classes[strconv.Itoa(v)] = name
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "imagery: marshal request")
	}

	resp, err := resilience.Call(ctx, c.policy, func(ctx context.Context) (*reduceResponse, error) {
		return c.post(ctx, payload)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "imagery: reduce %s", req.Collection)
	}

	out := make(Result, len(req.Bands))
	for _, b := range req.Bands {
		out[b] = resp.Values[b]
	}
	return out, nil
}

func (c *httpClient) post(ctx context.Context, payload []byte) (*reduceResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+reducePath, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "imagery: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "imagery: http request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, eris.Wrap(err, "imagery: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("imagery", resp.StatusCode, string(data))
	}

	var out reduceResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "imagery: decode response")
	}
	return &out, nil
}
