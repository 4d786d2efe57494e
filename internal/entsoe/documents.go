package entsoe

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Document type codes used by the Transparency Platform.
const (
	DocTypeSystemTotalLoad    = "A65"
	DocTypeLoadForecastMargin = "A70"
	DocTypePriceDocument      = "A44"
)

// Process type codes.
const (
	ProcessDayAhead            = "A01"
	ProcessIntraDayIncremental = "A02"
	ProcessRealised            = "A16"
	ProcessWeekAhead           = "A31"
	ProcessMonthAhead          = "A32"
	ProcessYearAhead           = "A33"
)

// AreaID is an EIC-coded domain reference (element value + codingScheme attr).
type AreaID struct {
	CodingScheme string `xml:"codingScheme,attr"`
	Value        string `xml:",chardata"`
}

func (a AreaID) Code() string { return strings.TrimSpace(a.Value) }

// TimeInterval bounds a period. Values look like "2024-01-01T00:00Z".
type TimeInterval struct {
	Start string `xml:"start"`
	End   string `xml:"end"`
}

// Point is one value inside a period. Position and the value fields are
// pointers so missing elements decode to nil rather than zero.
type Point struct {
	Position    *int     `xml:"position"`
	Quantity    *float64 `xml:"quantity"`
	PriceAmount *float64 `xml:"price.amount"`
}

// Period is a resolution-spaced run of points inside a time series.
type Period struct {
	TimeInterval TimeInterval `xml:"timeInterval"`
	Resolution   string       `xml:"resolution"`
	Points       []Point      `xml:"Point"`
}

// GLTimeSeries is one series of a load document.
type GLTimeSeries struct {
	MRID              string   `xml:"mRID"`
	BusinessType      string   `xml:"businessType"`
	ObjectAggregation string   `xml:"objectAggregation"`
	OutBiddingZone    AreaID   `xml:"outBiddingZone_Domain.mRID"`
	QuantityUnit      string   `xml:"quantity_Measure_Unit.name"`
	CurveType         string   `xml:"curveType"`
	Periods           []Period `xml:"Period"`
}

// GLMarketDocument is a decoded load / load-forecast document.
type GLMarketDocument struct {
	XMLName         xml.Name       `xml:"GL_MarketDocument"`
	MRID            string         `xml:"mRID"`
	RevisionNumber  string         `xml:"revisionNumber"`
	Type            string         `xml:"type"`
	ProcessType     string         `xml:"process.processType"`
	CreatedDateTime string         `xml:"createdDateTime"`
	TimeSeries      []GLTimeSeries `xml:"TimeSeries"`
}

// PubTimeSeries is one series of a price publication document.
type PubTimeSeries struct {
	MRID             string   `xml:"mRID"`
	BusinessType     string   `xml:"businessType"`
	InDomain         AreaID   `xml:"in_Domain.mRID"`
	OutDomain        AreaID   `xml:"out_Domain.mRID"`
	CurrencyUnit     string   `xml:"currency_Unit.name"`
	PriceMeasureUnit string   `xml:"price_Measure_Unit.name"`
	AuctionType      string   `xml:"auction.type"`
	ContractType     string   `xml:"contract_MarketAgreement.type"`
	CurveType        string   `xml:"curveType"`
	Periods          []Period `xml:"Period"`
}

// PublicationMarketDocument is a decoded day-ahead price document.
type PublicationMarketDocument struct {
	XMLName         xml.Name        `xml:"Publication_MarketDocument"`
	MRID            string          `xml:"mRID"`
	RevisionNumber  string          `xml:"revisionNumber"`
	Type            string          `xml:"type"`
	ProcessType     string          `xml:"process.processType"`
	CreatedDateTime string          `xml:"createdDateTime"`
	TimeSeries      []PubTimeSeries `xml:"TimeSeries"`
}

// AcknowledgementMarketDocument is returned instead of data when the request
// is rejected or matches nothing. Reason code 999 means "no matching data".
type AcknowledgementMarketDocument struct {
	XMLName xml.Name `xml:"Acknowledgement_MarketDocument"`
	MRID    string   `xml:"mRID"`
	Reason  struct {
		Code string `xml:"code"`
		Text string `xml:"text"`
	} `xml:"Reason"`
}

const reasonCodeNoData = "999"

// docTimeLayouts covers the timestamp shapes the platform emits: minute
// precision with a bare Z, and full RFC3339.
var docTimeLayouts = []string{
	"2006-01-02T15:04Z",
	time.RFC3339,
	"2006-01-02T15:04:05Z",
}

// ParseDocTime parses a document timestamp into UTC.
func ParseDocTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range docTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized document time %q", s)
}

// FormatPeriod renders a request boundary as yyyyMMddHHmm in UTC.
func FormatPeriod(t time.Time) string {
	return t.UTC().Format("200601021504")
}
