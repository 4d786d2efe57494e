package collector

import (
	"sort"
	"time"

	"gridscan/internal/entsoe"
	"gridscan/internal/models"
)

// Endpoint names one upstream query family.
type Endpoint string

const (
	EndpointActualLoad         Endpoint = "actual_load"
	EndpointDayAheadForecast   Endpoint = "day_ahead_forecast"
	EndpointWeekAheadForecast  Endpoint = "week_ahead_forecast"
	EndpointMonthAheadForecast Endpoint = "month_ahead_forecast"
	EndpointYearAheadForecast  Endpoint = "year_ahead_forecast"
	EndpointForecastMargin     Endpoint = "forecast_margin"
	EndpointDayAheadPrices     Endpoint = "day_ahead_prices"
)

// EndpointConfig is the per-endpoint collection profile. ExpectedInterval is
// the spacing between successive points the upstream publishes for this
// family; MaxChunkDays caps the span of a single request.
type EndpointConfig struct {
	Name             Endpoint
	DataType         models.EnergyDataType
	DocumentType     string
	ProcessType      string
	ExpectedInterval time.Duration
	MaxChunkDays     int
	IsForwardLooking bool
	ForecastHorizon  time.Duration
	IsPrice          bool
}

var endpointConfigs = map[Endpoint]EndpointConfig{
	EndpointActualLoad: {
		Name:             EndpointActualLoad,
		DataType:         models.DataTypeActual,
		DocumentType:     entsoe.DocTypeSystemTotalLoad,
		ProcessType:      entsoe.ProcessRealised,
		ExpectedInterval: 5 * time.Minute,
		MaxChunkDays:     3,
	},
	EndpointDayAheadForecast: {
		Name:             EndpointDayAheadForecast,
		DataType:         models.DataTypeDayAhead,
		DocumentType:     entsoe.DocTypeSystemTotalLoad,
		ProcessType:      entsoe.ProcessDayAhead,
		ExpectedInterval: 15 * time.Minute,
		MaxChunkDays:     7,
		IsForwardLooking: true,
		ForecastHorizon:  48 * time.Hour,
	},
	EndpointWeekAheadForecast: {
		Name:             EndpointWeekAheadForecast,
		DataType:         models.DataTypeWeekAhead,
		DocumentType:     entsoe.DocTypeSystemTotalLoad,
		ProcessType:      entsoe.ProcessWeekAhead,
		ExpectedInterval: 30 * time.Minute,
		MaxChunkDays:     14,
		IsForwardLooking: true,
		ForecastHorizon:  14 * 24 * time.Hour,
	},
	EndpointMonthAheadForecast: {
		Name:             EndpointMonthAheadForecast,
		DataType:         models.DataTypeMonthAhead,
		DocumentType:     entsoe.DocTypeSystemTotalLoad,
		ProcessType:      entsoe.ProcessMonthAhead,
		ExpectedInterval: 2 * time.Hour,
		MaxChunkDays:     30,
		IsForwardLooking: true,
		ForecastHorizon:  62 * 24 * time.Hour,
	},
	EndpointYearAheadForecast: {
		Name:             EndpointYearAheadForecast,
		DataType:         models.DataTypeYearAhead,
		DocumentType:     entsoe.DocTypeSystemTotalLoad,
		ProcessType:      entsoe.ProcessYearAhead,
		ExpectedInterval: 6 * time.Hour,
		MaxChunkDays:     90,
		IsForwardLooking: true,
		ForecastHorizon:  730 * 24 * time.Hour,
	},
	EndpointForecastMargin: {
		Name:             EndpointForecastMargin,
		DataType:         models.DataTypeForecastMargin,
		DocumentType:     entsoe.DocTypeLoadForecastMargin,
		ProcessType:      entsoe.ProcessYearAhead,
		ExpectedInterval: 12 * time.Hour,
		MaxChunkDays:     30,
		IsForwardLooking: true,
		ForecastHorizon:  365 * 24 * time.Hour,
	},
	EndpointDayAheadPrices: {
		Name:             EndpointDayAheadPrices,
		DataType:         models.DataTypeDayAhead,
		DocumentType:     entsoe.DocTypePriceDocument,
		ProcessType:      entsoe.ProcessDayAhead,
		ExpectedInterval: 15 * time.Minute,
		MaxChunkDays:     7,
		IsForwardLooking: true,
		ForecastHorizon:  48 * time.Hour,
		IsPrice:          true,
	},
}

// Config returns the profile for ep, with ok=false for unknown endpoints.
func Config(ep Endpoint) (EndpointConfig, bool) {
	cfg, ok := endpointConfigs[ep]
	return cfg, ok
}

// Endpoints lists all known endpoints in stable order.
func Endpoints() []Endpoint {
	out := make([]Endpoint, 0, len(endpointConfigs))
	for ep := range endpointConfigs {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
