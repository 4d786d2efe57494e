package backfill

import (
	"context"
	"math"

	"gridscan/internal/collector"
	"gridscan/internal/models"
)

// backfillThresholdPct is the coverage below which a pair is flagged for
// backfill.
const backfillThresholdPct = 95.0

// AnalyzeCoverage compares stored point counts against the publication
// cadence for each (area, endpoint) pair over the trailing window. Empty
// areas/endpoints fall back to the configured areas and every known
// endpoint; yearsBack <= 0 falls back to the configured historical depth.
func (e *Engine) AnalyzeCoverage(ctx context.Context, areas []string, endpoints []collector.Endpoint, yearsBack int) ([]models.CoverageAnalysis, error) {
	if len(areas) == 0 {
		areas = e.areas
	}
	if len(endpoints) == 0 {
		endpoints = collector.Endpoints()
	}
	if yearsBack <= 0 {
		yearsBack = e.historicalYears
	}

	end := e.clock.Now()
	start := end.AddDate(-yearsBack, 0, 0)

	var out []models.CoverageAnalysis
	for _, area := range areas {
		for _, ep := range endpoints {
			cfg, ok := collector.Config(ep)
			if !ok {
				return nil, &CoverageError{Endpoint: string(ep), Reason: "unknown endpoint"}
			}

			var (
				actual int64
				err    error
			)
			if cfg.IsPrice {
				actual, err = e.counter.CountPricePoints(ctx, area, cfg.DataType, start, end)
			} else {
				actual, err = e.counter.CountLoadPoints(ctx, area, cfg.DataType, start, end)
			}
			if err != nil {
				return nil, err
			}

			expected := int64(end.Sub(start).Minutes() / cfg.ExpectedInterval.Minutes())
			pct := 100.0
			if expected > 0 {
				pct = math.Round(100*100*float64(actual)/float64(expected)) / 100
				if pct > 100 {
					pct = 100
				}
			}

			out = append(out, models.CoverageAnalysis{
				AreaCode:           area,
				EndpointName:       string(ep),
				PeriodStart:        start,
				PeriodEnd:          end,
				ExpectedPoints:     expected,
				ActualPoints:       actual,
				CoveragePercentage: pct,
				NeedsBackfill:      pct < backfillThresholdPct,
			})
		}
	}
	return out, nil
}
