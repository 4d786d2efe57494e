package entsoe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

const loadDocXML = `<?xml version="1.0" encoding="UTF-8"?>
<GL_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-6:generationloaddocument:3:0">
  <mRID>load-1</mRID>
  <revisionNumber>1</revisionNumber>
  <type>A65</type>
  <process.processType>A16</process.processType>
  <createdDateTime>2024-01-15T10:30:00Z</createdDateTime>
  <TimeSeries>
    <mRID>ts-1</mRID>
    <businessType>A04</businessType>
    <objectAggregation>A01</objectAggregation>
    <outBiddingZone_Domain.mRID codingScheme="A01">10Y1001A1001A83F</outBiddingZone_Domain.mRID>
    <quantity_Measure_Unit.name>MAW</quantity_Measure_Unit.name>
    <curveType>A01</curveType>
    <Period>
      <timeInterval>
        <start>2024-01-15T00:00Z</start>
        <end>2024-01-15T00:30Z</end>
      </timeInterval>
      <resolution>PT15M</resolution>
      <Point><position>1</position><quantity>41500</quantity></Point>
      <Point><position>2</position><quantity>41620.5</quantity></Point>
    </Period>
  </TimeSeries>
</GL_MarketDocument>`

const ackNoDataXML = `<?xml version="1.0" encoding="UTF-8"?>
<Acknowledgement_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-1:acknowledgementdocument:8:1">
  <mRID>ack-1</mRID>
  <Reason>
    <code>999</code>
    <text>No matching data found for Data item Actual Total Load</text>
  </Reason>
</Acknowledgement_MarketDocument>`

const ackRejectedXML = `<?xml version="1.0" encoding="UTF-8"?>
<Acknowledgement_MarketDocument>
  <mRID>ack-2</mRID>
  <Reason>
    <code>401</code>
    <text>Unauthorized. Missing or invalid security token</text>
  </Reason>
</Acknowledgement_MarketDocument>`

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientOptions{
		BaseURL:           srv.URL,
		SecurityToken:     "test-token",
		RequestsPerSecond: 1000,
		Burst:             1000,
	})
}

func loadParams() RequestParams {
	return RequestParams{
		DocumentType:         DocTypeSystemTotalLoad,
		ProcessType:          ProcessRealised,
		OutBiddingZoneDomain: "10Y1001A1001A83F",
		PeriodStart:          time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		PeriodEnd:            time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
	}
}

func TestFetchLoadDocument(t *testing.T) {
	t.Parallel()

	var gotQuery map[string]string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Write([]byte(loadDocXML))
	})

	doc, err := c.FetchLoadDocument(context.Background(), loadParams())
	if err != nil {
		t.Fatalf("FetchLoadDocument: %v", err)
	}

	if doc.MRID != "load-1" || doc.ProcessType != "A16" {
		t.Errorf("doc = %+v", doc)
	}
	if len(doc.TimeSeries) != 1 || len(doc.TimeSeries[0].Periods[0].Points) != 2 {
		t.Fatalf("decoded series = %+v", doc.TimeSeries)
	}
	if doc.TimeSeries[0].OutBiddingZone.Code() != "10Y1001A1001A83F" {
		t.Errorf("bidding zone = %q", doc.TimeSeries[0].OutBiddingZone.Code())
	}
	pt := doc.TimeSeries[0].Periods[0].Points[1]
	if pt.Position == nil || *pt.Position != 2 || pt.Quantity == nil || *pt.Quantity != 41620.5 {
		t.Errorf("point = %+v", pt)
	}

	want := map[string]string{
		"securityToken":         "test-token",
		"documentType":          "A65",
		"processType":           "A16",
		"outBiddingZone_Domain": "10Y1001A1001A83F",
		"periodStart":           "202401150000",
		"periodEnd":             "202401160000",
	}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}
}

func TestFetchLoadDocumentNoData(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(ackNoDataXML))
	})

	_, err := c.FetchLoadDocument(context.Background(), loadParams())
	if !IsNoData(err) {
		t.Fatalf("err = %v, want no-data sentinel", err)
	}
	if IsRetriable(err) {
		t.Error("no-data must not be classified retriable")
	}
}

func TestFetchLoadDocumentRejectedAcknowledgement(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(ackRejectedXML))
	})

	_, err := c.FetchLoadDocument(context.Background(), loadParams())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if IsNoData(err) {
		t.Error("rejection must not look like no-data")
	}
}

func TestFetchLoadDocumentRateLimited(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.FetchLoadDocument(context.Background(), loadParams())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if apiErr.RetryAfter != 2*time.Minute {
		t.Errorf("retry after = %v, want 2m", apiErr.RetryAfter)
	}
	if !IsRetriable(err) {
		t.Error("429 with Retry-After should be retriable")
	}
}

func TestFetchLoadDocumentServerError(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.FetchLoadDocument(context.Background(), loadParams())
	if !IsRetriable(err) {
		t.Errorf("5xx should be retriable, err = %v", err)
	}
}

func TestFetchLoadDocumentBadRequestIsPermanent(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.FetchLoadDocument(context.Background(), loadParams())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if IsRetriable(err) {
		t.Error("400 must be permanent")
	}
}

func TestFetchPriceDocumentUsesDomainPair(t *testing.T) {
	t.Parallel()

	var got url.Values
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Write([]byte(`<Publication_MarketDocument><mRID>p-1</mRID><type>A44</type><process.processType>A01</process.processType><createdDateTime>2024-01-15T11:00Z</createdDateTime></Publication_MarketDocument>`))
	})

	_, err := c.FetchPriceDocument(context.Background(), RequestParams{
		DocumentType: DocTypePriceDocument,
		ProcessType:  ProcessDayAhead,
		InDomain:     "10YFR-RTE------C",
		OutDomain:    "10YFR-RTE------C",
		PeriodStart:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		PeriodEnd:    time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("FetchPriceDocument: %v", err)
	}
	if got.Get("in_Domain") != "10YFR-RTE------C" || got.Get("out_Domain") != "10YFR-RTE------C" {
		t.Errorf("domain params = %v", got)
	}
	if got.Get("outBiddingZone_Domain") != "" {
		t.Error("price request must not send outBiddingZone_Domain")
	}
}

func TestParseDocTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2024-01-15T00:00Z", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), false},
		{"2024-01-15T10:30:00Z", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), false},
		{"2024-01-15T10:30:00+01:00", time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC), false},
		{" 2024-01-15T00:00Z ", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), false},
		{"15.01.2024", time.Time{}, true},
		{"", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := ParseDocTime(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDocTime(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !got.Equal(tt.want) {
			t.Errorf("ParseDocTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatPeriod(t *testing.T) {
	t.Parallel()

	in := time.Date(2024, 1, 15, 23, 45, 0, 0, time.FixedZone("CET", 3600))
	if got := FormatPeriod(in); got != "202401152245" {
		t.Errorf("FormatPeriod = %q, want UTC-normalized 202401152245", got)
	}
}
