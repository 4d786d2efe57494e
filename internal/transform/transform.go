// Package transform turns decoded ENTSO-E market documents into typed data
// points. It is pure: no I/O, deterministic output for a given document.
package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gridscan/internal/entsoe"
	"gridscan/internal/models"
)

// DataSource is stamped onto every emitted point.
const DataSource = "entsoe"

// LoadDocument transforms one GL_MarketDocument into load points. Points with
// a missing position or quantity are skipped silently; structural problems
// fail with a typed error.
func LoadDocument(doc *entsoe.GLMarketDocument) ([]models.EnergyDataPoint, error) {
	if doc == nil {
		return nil, &DocumentError{Reason: "nil document"}
	}
	if doc.MRID == "" {
		return nil, &DocumentError{Reason: "missing document mRID"}
	}
	createdAt, err := entsoe.ParseDocTime(doc.CreatedDateTime)
	if err != nil {
		return nil, &DocumentError{Reason: fmt.Sprintf("bad createdDateTime: %v", err)}
	}

	dataType, err := mapLoadDataType(doc.ProcessType, doc.Type)
	if err != nil {
		return nil, err
	}
	revision := parseRevision(doc.RevisionNumber)

	var points []models.EnergyDataPoint
	for _, ts := range doc.TimeSeries {
		if ts.MRID == "" {
			return nil, &DocumentError{Reason: "time series missing mRID"}
		}
		area, err := extractAreaCode(ts.OutBiddingZone.Code(), "")
		if err != nil {
			return nil, err
		}
		for _, period := range ts.Periods {
			start, end, res, err := decodePeriod(period)
			if err != nil {
				return nil, err
			}
			for _, pt := range period.Points {
				if pt.Position == nil || pt.Quantity == nil {
					continue
				}
				ts2, err := pointTimestamp(start, period.Resolution, res, *pt.Position)
				if err != nil {
					return nil, err
				}
				points = append(points, models.EnergyDataPoint{
					Timestamp:         ts2,
					AreaCode:          area,
					DataType:          dataType,
					BusinessType:      ts.BusinessType,
					Quantity:          *pt.Quantity,
					Unit:              ts.QuantityUnit,
					DataSource:        DataSource,
					DocumentMRID:      doc.MRID,
					RevisionNumber:    revision,
					DocumentCreatedAt: createdAt,
					TimeSeriesMRID:    ts.MRID,
					Resolution:        period.Resolution,
					CurveType:         ts.CurveType,
					ObjectAggregation: ts.ObjectAggregation,
					Position:          *pt.Position,
					PeriodStart:       start,
					PeriodEnd:         end,
				})
			}
		}
	}
	return points, nil
}

// PriceDocument transforms one Publication_MarketDocument into price points.
func PriceDocument(doc *entsoe.PublicationMarketDocument) ([]models.EnergyPricePoint, error) {
	if doc == nil {
		return nil, &DocumentError{Reason: "nil document"}
	}
	if doc.MRID == "" {
		return nil, &DocumentError{Reason: "missing document mRID"}
	}
	createdAt, err := entsoe.ParseDocTime(doc.CreatedDateTime)
	if err != nil {
		return nil, &DocumentError{Reason: fmt.Sprintf("bad createdDateTime: %v", err)}
	}

	dataType, err := mapPriceDataType(doc.ProcessType, doc.Type)
	if err != nil {
		return nil, err
	}
	revision := parseRevision(doc.RevisionNumber)

	var points []models.EnergyPricePoint
	for _, ts := range doc.TimeSeries {
		if ts.MRID == "" {
			return nil, &DocumentError{Reason: "time series missing mRID"}
		}
		area, err := extractAreaCode(ts.InDomain.Code(), "")
		if err != nil {
			return nil, err
		}
		for _, period := range ts.Periods {
			start, end, res, err := decodePeriod(period)
			if err != nil {
				return nil, err
			}
			for _, pt := range period.Points {
				if pt.Position == nil || pt.PriceAmount == nil {
					continue
				}
				ts2, err := pointTimestamp(start, period.Resolution, res, *pt.Position)
				if err != nil {
					return nil, err
				}
				points = append(points, models.EnergyPricePoint{
					Timestamp:                   ts2,
					AreaCode:                    area,
					DataType:                    dataType,
					BusinessType:                ts.BusinessType,
					PriceAmount:                 *pt.PriceAmount,
					CurrencyUnitName:            ts.CurrencyUnit,
					PriceMeasureUnitName:        ts.PriceMeasureUnit,
					AuctionType:                 ts.AuctionType,
					ContractMarketAgreementType: ts.ContractType,
					DataSource:                  DataSource,
					DocumentMRID:                doc.MRID,
					RevisionNumber:              revision,
					DocumentCreatedAt:           createdAt,
					TimeSeriesMRID:              ts.MRID,
					Resolution:                  period.Resolution,
					CurveType:                   ts.CurveType,
					Position:                    *pt.Position,
					PeriodStart:                 start,
					PeriodEnd:                   end,
				})
			}
		}
	}
	return points, nil
}

func decodePeriod(period entsoe.Period) (start, end time.Time, res Duration, err error) {
	start, err = entsoe.ParseDocTime(period.TimeInterval.Start)
	if err != nil {
		return start, end, res, &DocumentError{Reason: fmt.Sprintf("bad period start: %v", err)}
	}
	end, err = entsoe.ParseDocTime(period.TimeInterval.End)
	if err != nil {
		return start, end, res, &DocumentError{Reason: fmt.Sprintf("bad period end: %v", err)}
	}
	res, err = ParseISODuration(period.Resolution)
	if err != nil {
		return start, end, res, &TimestampError{Resolution: period.Resolution, PeriodStart: start, Position: 0, Err: err}
	}
	return start, end, res, nil
}

// pointTimestamp places the 1-based position within its period:
// period_start + (position-1) x resolution.
func pointTimestamp(start time.Time, rawRes string, res Duration, position int) (time.Time, error) {
	if position < 1 {
		return time.Time{}, &TimestampError{
			Resolution:  rawRes,
			PeriodStart: start,
			Position:    position,
			Err:         fmt.Errorf("position must be >= 1"),
		}
	}
	return res.AddTo(start, position-1), nil
}

func parseRevision(raw string) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}
