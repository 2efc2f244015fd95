package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/i474232898/weather-quilt/internal/common"
	"github.com/i474232898/weather-quilt/internal/weather"
)

// DefaultACISBaseURL is the public RCC-ACIS web services endpoint.
const DefaultACISBaseURL = "https://data.rcc-acis.org"

const (
	endpointStnData = "StnData"
	endpointStnMeta = "StnMeta"

	metaElems = "pcpn,maxt,mint"
)

type acisElem struct {
	Name   string `json:"name"`
	Normal string `json:"normal,omitempty"`
	Add    string `json:"add,omitempty"`
}

// stnDataElems is the fixed element list requested for every daily fetch. Positions 1, 2 and 7
// of each returned day (maxt, mint, pcpn) are the ones the normalizer reads.
var stnDataElems = []acisElem{
	{Name: "maxt", Add: "t"},
	{Name: "mint", Add: "t"},
	{Name: "avgt", Add: "t"},
	{Name: "avgt", Normal: "departure91", Add: "t"},
	{Name: "hdd", Add: "t"},
	{Name: "cdd", Add: "t"},
	{Name: "pcpn", Add: "t"},
	{Name: "snow", Add: "t"},
	{Name: "snwd", Add: "t"},
}

type stnDataRequest struct {
	Elems []acisElem `json:"elems"`
	SID   string     `json:"sid"`
	SDate string     `json:"sDate"`
	EDate string     `json:"eDate"`
}

type stnMetaRequest struct {
	BBox  string `json:"bbox,omitempty"`
	State string `json:"state,omitempty"`
	Elems string `json:"elems"`
	Meta  string `json:"meta,omitempty"`
}

// ACISConfig configures an ACISClient. Zero durations fall back to 60s for data and 30s for metadata.
type ACISConfig struct {
	BaseURL     string
	DataTimeout time.Duration
	MetaTimeout time.Duration
	MaxRetries  int
	Observer    RequestObserver
}

// ACISClient implements weather.Upstream against the RCC-ACIS StnData and StnMeta endpoints.
type ACISClient struct {
	baseURL  string
	data     *resilientClient
	meta     *resilientClient
	observer RequestObserver
}

var _ weather.Upstream = (*ACISClient)(nil)

func NewACISClient(cfg ACISConfig) *ACISClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultACISBaseURL
	}
	if cfg.DataTimeout <= 0 {
		cfg.DataTimeout = 60 * time.Second
	}
	if cfg.MetaTimeout <= 0 {
		cfg.MetaTimeout = 30 * time.Second
	}

	backoff := BackoffConfig{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}

	// Both endpoints share one breaker: an outage hits the whole service.
	breaker := newCircuitBreaker("acis")
	return &ACISClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		data:     &resilientClient{http: &http.Client{Timeout: cfg.DataTimeout}, backoff: backoff, breaker: breaker},
		meta:     &resilientClient{http: &http.Client{Timeout: cfg.MetaTimeout}, backoff: backoff, breaker: breaker},
		observer: cfg.Observer,
	}
}

// FetchDaily posts a StnData request for stationID over [from, to].
func (c *ACISClient) FetchDaily(ctx context.Context, stationID string, from, to time.Time) (weather.DailyPayload, error) {
	body := stnDataRequest{
		Elems: stnDataElems,
		SID:   stationID,
		SDate: common.FormatDay(from),
		EDate: common.FormatDay(to),
	}

	var payload struct {
		Meta  json.RawMessage        `json:"meta"`
		Data  []weather.RawDayRecord `json:"data"`
		Error string                 `json:"error"`
	}
	if err := c.post(ctx, c.data, endpointStnData, body, &payload); err != nil {
		return weather.DailyPayload{}, err
	}
	if payload.Error != "" {
		return weather.DailyPayload{}, fmt.Errorf("%w: %s", weather.ErrInvalidUpstream, payload.Error)
	}
	if payload.Data == nil {
		return weather.DailyPayload{}, fmt.Errorf("%w: missing data field", weather.ErrInvalidUpstream)
	}

	return weather.DailyPayload{Meta: payload.Meta, Data: payload.Data}, nil
}

// FindStations posts a StnMeta request. BBox takes precedence over State.
func (c *ACISClient) FindStations(ctx context.Context, q weather.StationQuery) ([]weather.StationCandidate, error) {
	body := stnMetaRequest{Elems: metaElems, Meta: q.Meta}
	if q.BBox != "" {
		body.BBox = q.BBox
	} else {
		body.State = q.State
	}

	var payload struct {
		Meta  []weather.StationCandidate `json:"meta"`
		Error string                     `json:"error"`
	}
	if err := c.post(ctx, c.meta, endpointStnMeta, body, &payload); err != nil {
		return nil, err
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("%w: %s", weather.ErrInvalidUpstream, payload.Error)
	}
	return payload.Meta, nil
}

func (c *ACISClient) post(ctx context.Context, rc *resilientClient, endpoint string, body, out any) (err error) {
	started := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveRequest(endpoint, requestOutcome(err), time.Since(started))
		}
	}()

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", endpoint, err)
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := rc.do(ctx, buildRequest)
	if err != nil {
		return fmt.Errorf("acis %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", weather.ErrInvalidUpstream, endpoint, err)
	}
	return nil
}

func requestOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, weather.ErrInvalidUpstream):
		return "invalid"
	case errors.Is(err, errCircuitOpen):
		return "circuit_open"
	default:
		return "error"
	}
}
