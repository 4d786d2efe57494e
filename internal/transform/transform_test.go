package transform

import (
	"errors"
	"testing"
	"time"

	"gridscan/internal/entsoe"
	"gridscan/internal/models"
)

func intp(n int) *int          { return &n }
func floatp(f float64) *float64 { return &f }

func validLoadDoc() *entsoe.GLMarketDocument {
	doc := &entsoe.GLMarketDocument{
		MRID:            "load-doc-1",
		RevisionNumber:  "2",
		Type:            "A65",
		ProcessType:     "A16",
		CreatedDateTime: "2024-01-15T10:30Z",
	}
	ts := entsoe.GLTimeSeries{
		MRID:              "ts-1",
		BusinessType:      "A04",
		ObjectAggregation: "A01",
		QuantityUnit:      "MAW",
		CurveType:         "A01",
	}
	ts.OutBiddingZone.Value = "10Y1001A1001A83F"
	period := entsoe.Period{Resolution: "PT15M"}
	period.TimeInterval.Start = "2024-01-15T00:00Z"
	period.TimeInterval.End = "2024-01-15T01:00Z"
	period.Points = []entsoe.Point{
		{Position: intp(1), Quantity: floatp(41500)},
		{Position: intp(2), Quantity: floatp(41620.5)},
		{Position: intp(3), Quantity: floatp(41580)},
		{Position: intp(4), Quantity: floatp(41710)},
	}
	ts.Periods = []entsoe.Period{period}
	doc.TimeSeries = []entsoe.GLTimeSeries{ts}
	return doc
}

func TestLoadDocument(t *testing.T) {
	t.Parallel()

	points, err := LoadDocument(validLoadDoc())
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if len(points) != 4 {
		t.Fatalf("got %d points, want 4", len(points))
	}

	first := points[0]
	if first.AreaCode != "DE" {
		t.Errorf("area = %q, want DE", first.AreaCode)
	}
	if first.DataType != models.DataTypeActual {
		t.Errorf("data type = %q, want actual", first.DataType)
	}
	if first.Quantity != 41500 {
		t.Errorf("quantity = %v", first.Quantity)
	}
	if first.DataSource != "entsoe" {
		t.Errorf("data source = %q", first.DataSource)
	}
	if first.RevisionNumber == nil || *first.RevisionNumber != 2 {
		t.Errorf("revision = %v, want 2", first.RevisionNumber)
	}

	// timestamp = period start + (position-1) x resolution
	periodStart := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	for i, p := range points {
		want := periodStart.Add(time.Duration(i) * 15 * time.Minute)
		if !p.Timestamp.Equal(want) {
			t.Errorf("point %d timestamp = %v, want %v", i, p.Timestamp, want)
		}
		if p.Position != i+1 {
			t.Errorf("point %d position = %d", i, p.Position)
		}
	}
}

func TestLoadDocumentSkipsIncompletePoints(t *testing.T) {
	t.Parallel()

	doc := validLoadDoc()
	doc.TimeSeries[0].Periods[0].Points = []entsoe.Point{
		{Position: intp(1), Quantity: floatp(100)},
		{Position: nil, Quantity: floatp(200)},
		{Position: intp(3), Quantity: nil},
		{Position: intp(4), Quantity: floatp(400)},
	}

	points, err := LoadDocument(doc)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2 (incomplete points skipped)", len(points))
	}
	if points[0].Position != 1 || points[1].Position != 4 {
		t.Errorf("kept positions %d, %d", points[0].Position, points[1].Position)
	}
}

func TestLoadDocumentStructuralErrors(t *testing.T) {
	t.Parallel()

	t.Run("nil document", func(t *testing.T) {
		t.Parallel()
		_, err := LoadDocument(nil)
		var derr *DocumentError
		if !errors.As(err, &derr) {
			t.Fatalf("err = %v, want DocumentError", err)
		}
	})

	t.Run("missing document mRID", func(t *testing.T) {
		t.Parallel()
		doc := validLoadDoc()
		doc.MRID = ""
		var derr *DocumentError
		if _, err := LoadDocument(doc); !errors.As(err, &derr) {
			t.Fatalf("err = %v, want DocumentError", err)
		}
	})

	t.Run("missing series mRID", func(t *testing.T) {
		t.Parallel()
		doc := validLoadDoc()
		doc.TimeSeries[0].MRID = ""
		var derr *DocumentError
		if _, err := LoadDocument(doc); !errors.As(err, &derr) {
			t.Fatalf("err = %v, want DocumentError", err)
		}
	})

	t.Run("unknown mapping", func(t *testing.T) {
		t.Parallel()
		doc := validLoadDoc()
		doc.ProcessType = "A02"
		var merr *MappingError
		if _, err := LoadDocument(doc); !errors.As(err, &merr) {
			t.Fatalf("err = %v, want MappingError", err)
		}
	})

	t.Run("bad resolution", func(t *testing.T) {
		t.Parallel()
		doc := validLoadDoc()
		doc.TimeSeries[0].Periods[0].Resolution = "QT15M"
		var terr *TimestampError
		if _, err := LoadDocument(doc); !errors.As(err, &terr) {
			t.Fatalf("err = %v, want TimestampError", err)
		}
	})

	t.Run("position below one", func(t *testing.T) {
		t.Parallel()
		doc := validLoadDoc()
		doc.TimeSeries[0].Periods[0].Points = []entsoe.Point{
			{Position: intp(0), Quantity: floatp(100)},
		}
		var terr *TimestampError
		if _, err := LoadDocument(doc); !errors.As(err, &terr) {
			t.Fatalf("err = %v, want TimestampError", err)
		}
	})
}

func TestPriceDocument(t *testing.T) {
	t.Parallel()

	doc := &entsoe.PublicationMarketDocument{
		MRID:            "price-doc-1",
		RevisionNumber:  "1",
		Type:            "A44",
		ProcessType:     "A01",
		CreatedDateTime: "2024-01-15T11:00Z",
	}
	ts := entsoe.PubTimeSeries{
		MRID:             "pts-1",
		BusinessType:     "A62",
		CurrencyUnit:     "EUR",
		PriceMeasureUnit: "MWH",
		AuctionType:      "A01",
		ContractType:     "A01",
		CurveType:        "A03",
	}
	ts.InDomain.Value = "10YFR-RTE------C"
	period := entsoe.Period{Resolution: "PT60M"}
	period.TimeInterval.Start = "2024-01-15T00:00Z"
	period.TimeInterval.End = "2024-01-15T02:00Z"
	period.Points = []entsoe.Point{
		{Position: intp(1), PriceAmount: floatp(68.42)},
		{Position: intp(2), PriceAmount: floatp(71.10)},
	}
	ts.Periods = []entsoe.Period{period}
	doc.TimeSeries = []entsoe.PubTimeSeries{ts}

	points, err := PriceDocument(doc)
	if err != nil {
		t.Fatalf("PriceDocument: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2", len(points))
	}

	first := points[0]
	if first.AreaCode != "FR" {
		t.Errorf("area = %q, want FR", first.AreaCode)
	}
	if first.DataType != models.DataTypeDayAhead {
		t.Errorf("data type = %q, want day_ahead", first.DataType)
	}
	if first.PriceAmount != 68.42 || first.CurrencyUnitName != "EUR" {
		t.Errorf("price fields = %v %q", first.PriceAmount, first.CurrencyUnitName)
	}
	second := points[1]
	wantTS := time.Date(2024, 1, 15, 1, 0, 0, 0, time.UTC)
	if !second.Timestamp.Equal(wantTS) {
		t.Errorf("second point timestamp = %v, want %v", second.Timestamp, wantTS)
	}
}

func TestPriceDocumentRejectsNonDayAhead(t *testing.T) {
	t.Parallel()

	doc := &entsoe.PublicationMarketDocument{
		MRID:            "price-doc-2",
		Type:            "A44",
		ProcessType:     "A16",
		CreatedDateTime: "2024-01-15T11:00Z",
	}
	var merr *MappingError
	if _, err := PriceDocument(doc); !errors.As(err, &merr) {
		t.Fatalf("err = %v, want MappingError", err)
	}
}

func TestParseRevision(t *testing.T) {
	t.Parallel()

	if got := parseRevision(" 3 "); got == nil || *got != 3 {
		t.Errorf("parseRevision(\" 3 \") = %v", got)
	}
	if got := parseRevision(""); got != nil {
		t.Errorf("parseRevision(\"\") = %v, want nil", got)
	}
	if got := parseRevision("abc"); got != nil {
		t.Errorf("parseRevision(\"abc\") = %v, want nil", got)
	}
}
