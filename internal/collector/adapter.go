package collector

import (
	"context"
	"fmt"
	"time"

	"gridscan/internal/entsoe"
)

// CollectorError wraps an upstream failure with the endpoint/area context the
// engines report on. The underlying entsoe.APIError (status code, Retry-After)
// stays reachable through Unwrap.
type CollectorError struct {
	Endpoint Endpoint
	AreaCode string
	Err      error
}

func (e *CollectorError) Error() string {
	return fmt.Sprintf("collector: %s/%s: %v", e.Endpoint, e.AreaCode, e.Err)
}

func (e *CollectorError) Unwrap() error { return e.Err }

// Fetched is the uniform result of one upstream call: exactly one of Load or
// Prices is set on success, or NoData is true when the upstream acknowledged
// an empty interval.
type Fetched struct {
	Load         *entsoe.GLMarketDocument
	Prices       *entsoe.PublicationMarketDocument
	NoData       bool
	NoDataReason string
}

// apiClient is the slice of the ENTSO-E client the adapter consumes.
type apiClient interface {
	FetchLoadDocument(ctx context.Context, p entsoe.RequestParams) (*entsoe.GLMarketDocument, error)
	FetchPriceDocument(ctx context.Context, p entsoe.RequestParams) (*entsoe.PublicationMarketDocument, error)
}

// Adapter exposes one call per endpoint over the raw API client and resolves
// area codes to EIC identifiers.
type Adapter struct {
	client   apiClient
	areaEICs map[string]string
}

// defaultAreaEICs maps the bidding zones the platform collects by default.
var defaultAreaEICs = map[string]string{
	"DE":    "10Y1001A1001A83F",
	"DE-LU": "10Y1001A1001A82H",
	"FR":    "10YFR-RTE------C",
	"NL":    "10YNL----------L",
	"BE":    "10YBE----------2",
	"AT":    "10YAT-APG------L",
}

// NewAdapter builds an adapter. extraAreas adds to or overrides the default
// area->EIC table.
func NewAdapter(client apiClient, extraAreas map[string]string) *Adapter {
	areas := make(map[string]string, len(defaultAreaEICs)+len(extraAreas))
	for k, v := range defaultAreaEICs {
		areas[k] = v
	}
	for k, v := range extraAreas {
		areas[k] = v
	}
	return &Adapter{client: client, areaEICs: areas}
}

// Fetch performs one chunk request for the given endpoint. Half-open interval
// [start, end).
func (a *Adapter) Fetch(ctx context.Context, ep Endpoint, area string, start, end time.Time) (*Fetched, error) {
	cfg, ok := Config(ep)
	if !ok {
		return nil, &CollectorError{Endpoint: ep, AreaCode: area, Err: fmt.Errorf("unknown endpoint")}
	}

	eic, ok := a.areaEICs[area]
	if !ok {
		return nil, &CollectorError{Endpoint: ep, AreaCode: area, Err: fmt.Errorf("no EIC code for area")}
	}

	params := entsoe.RequestParams{
		DocumentType: cfg.DocumentType,
		ProcessType:  cfg.ProcessType,
		PeriodStart:  start,
		PeriodEnd:    end,
	}

	if cfg.IsPrice {
		params.InDomain = eic
		params.OutDomain = eic
		doc, err := a.client.FetchPriceDocument(ctx, params)
		if err != nil {
			if entsoe.IsNoData(err) {
				return &Fetched{NoData: true, NoDataReason: err.Error()}, nil
			}
			return nil, &CollectorError{Endpoint: ep, AreaCode: area, Err: err}
		}
		return &Fetched{Prices: doc}, nil
	}

	params.OutBiddingZoneDomain = eic
	doc, err := a.client.FetchLoadDocument(ctx, params)
	if err != nil {
		if entsoe.IsNoData(err) {
			return &Fetched{NoData: true, NoDataReason: err.Error()}, nil
		}
		return nil, &CollectorError{Endpoint: ep, AreaCode: area, Err: err}
	}
	return &Fetched{Load: doc}, nil
}

// Per-endpoint methods, the closed call surface the engines use indirectly
// through Fetch. Kept for operator tooling that addresses one family.

func (a *Adapter) ActualLoad(ctx context.Context, area string, start, end time.Time) (*Fetched, error) {
	return a.Fetch(ctx, EndpointActualLoad, area, start, end)
}

func (a *Adapter) DayAheadForecast(ctx context.Context, area string, start, end time.Time) (*Fetched, error) {
	return a.Fetch(ctx, EndpointDayAheadForecast, area, start, end)
}

func (a *Adapter) WeekAheadForecast(ctx context.Context, area string, start, end time.Time) (*Fetched, error) {
	return a.Fetch(ctx, EndpointWeekAheadForecast, area, start, end)
}

func (a *Adapter) MonthAheadForecast(ctx context.Context, area string, start, end time.Time) (*Fetched, error) {
	return a.Fetch(ctx, EndpointMonthAheadForecast, area, start, end)
}

func (a *Adapter) YearAheadForecast(ctx context.Context, area string, start, end time.Time) (*Fetched, error) {
	return a.Fetch(ctx, EndpointYearAheadForecast, area, start, end)
}

func (a *Adapter) ForecastMargin(ctx context.Context, area string, start, end time.Time) (*Fetched, error) {
	return a.Fetch(ctx, EndpointForecastMargin, area, start, end)
}

func (a *Adapter) DayAheadPrices(ctx context.Context, area string, start, end time.Time) (*Fetched, error) {
	return a.Fetch(ctx, EndpointDayAheadPrices, area, start, end)
}

// KnownAreas lists the areas the adapter can resolve, for validation in tools.
func (a *Adapter) KnownAreas() []string {
	out := make([]string, 0, len(a.areaEICs))
	for area := range a.areaEICs {
		out = append(out, area)
	}
	return out
}
