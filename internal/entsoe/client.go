package entsoe

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoData is returned when the platform acknowledges the request but holds
// no matching data for the interval. Callers treat this as a normal outcome,
// not a failure.
var ErrNoData = errors.New("entsoe: no matching data for interval")

// IsNoData reports whether err is the no-data sentinel.
func IsNoData(err error) bool { return errors.Is(err, ErrNoData) }

// APIError is an upstream HTTP failure classified for retry decisions.
type APIError struct {
	StatusCode int
	RetryAfter time.Duration // zero when the upstream sent no hint
	Message    string
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("entsoe: status %d (retry after %s): %s", e.StatusCode, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("entsoe: status %d: %s", e.StatusCode, e.Message)
}

// Retriable reports whether the failure is worth retrying: server errors
// always, 429 only when the upstream told us when to come back.
func (e *APIError) Retriable() bool {
	if e.StatusCode >= 500 {
		return true
	}
	if e.StatusCode == http.StatusTooManyRequests {
		return e.RetryAfter > 0
	}
	return false
}

// IsRetriable classifies any upstream error: APIError per its own rule,
// timeouts and cancelled deadlines as retriable, everything else permanent.
func IsRetriable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retriable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// RequestParams describes one Transparency Platform query. Exactly one of
// OutBiddingZoneDomain (load documents) or InDomain+OutDomain (price
// documents) is set.
type RequestParams struct {
	DocumentType string
	ProcessType  string

	OutBiddingZoneDomain string
	InDomain             string
	OutDomain            string

	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Client talks to the ENTSO-E Transparency Platform REST API. All requests
// pass through a shared rate limiter so concurrent callers cannot exceed the
// platform's request budget.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type ClientOptions struct {
	BaseURL           string
	SecurityToken     string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
}

func NewClient(opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://web-api.tp.entsoe.eu/api"
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.Burst == 0 {
		opts.Burst = 4
	}
	return &Client{
		baseURL:    opts.BaseURL,
		token:      opts.SecurityToken,
		httpClient: &http.Client{Timeout: opts.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
	}
}

// FetchLoadDocument requests a GL_MarketDocument (total load or forecast
// margin). Returns ErrNoData when the platform has nothing for the interval.
func (c *Client) FetchLoadDocument(ctx context.Context, p RequestParams) (*GLMarketDocument, error) {
	body, err := c.get(ctx, p)
	if err != nil {
		return nil, err
	}
	var doc GLMarketDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode GL_MarketDocument: %w", err)
	}
	return &doc, nil
}

// FetchPriceDocument requests a Publication_MarketDocument (day-ahead prices).
func (c *Client) FetchPriceDocument(ctx context.Context, p RequestParams) (*PublicationMarketDocument, error) {
	body, err := c.get(ctx, p)
	if err != nil {
		return nil, err
	}
	var doc PublicationMarketDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode Publication_MarketDocument: %w", err)
	}
	return &doc, nil
}

func (c *Client) get(ctx context.Context, p RequestParams) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("securityToken", c.token)
	q.Set("documentType", p.DocumentType)
	if p.ProcessType != "" {
		q.Set("processType", p.ProcessType)
	}
	if p.OutBiddingZoneDomain != "" {
		q.Set("outBiddingZone_Domain", p.OutBiddingZoneDomain)
	}
	if p.InDomain != "" {
		q.Set("in_Domain", p.InDomain)
	}
	if p.OutDomain != "" {
		q.Set("out_Domain", p.OutDomain)
	}
	q.Set("periodStart", FormatPeriod(p.PeriodStart))
	q.Set("periodEnd", FormatPeriod(p.PeriodEnd))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "gridscan/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("entsoe request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("entsoe read body: %w", err)
	}

	// The platform reports "no matching data" as an Acknowledgement document,
	// usually with HTTP 200 but occasionally with 400.
	if ack := decodeAcknowledgement(body); ack != nil {
		if ack.Reason.Code == reasonCodeNoData {
			return nil, fmt.Errorf("%w: %s", ErrNoData, ack.Reason.Text)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("rejected (reason %s): %s", ack.Reason.Code, ack.Reason.Text)}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    http.StatusText(resp.StatusCode),
		}
	}
	return body, nil
}

func decodeAcknowledgement(body []byte) *AcknowledgementMarketDocument {
	var ack AcknowledgementMarketDocument
	if err := xml.Unmarshal(body, &ack); err != nil {
		return nil
	}
	if ack.Reason.Code == "" {
		return nil
	}
	return &ack
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
