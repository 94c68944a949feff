// client.go contains the HTTP plumbing for talking to the testbook api, the
// endpoint specific logic lives in listing.go and papers.go.

package testbook

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"pyqfetch/internal/components/assert"
	"pyqfetch/internal/components/chrono"
	"pyqfetch/internal/components/telemetry"
	"pyqfetch/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_client_fetch_listing = "client.fetch-listing"
	report_client_fetch_paper   = "client.fetch-paper"
	report_client_fetch_answers = "client.fetch-answers"
	report_client_backoff       = "client.backoff"
)

const listingType = "[Target Page] getPypTargetTests"

type Options struct {
	ListingBaseUrl string
	PaperBaseUrl   string
	// AuthCode is sent as the auth_code query parameter of the paper endpoints.
	AuthCode     string
	Language     string
	ClientTag    string
	UserAgent    string
	ListingLimit int

	Timeout           time.Duration
	RequestsPerSecond float64
	// Throttle is waited after every listing year.
	Throttle         time.Duration
	Retry            RetryPolicy
	CloudflareBypass bool

	// Dump receives every request/response exchange when set.
	Dump restyutil.InstrumentOutput
}

type Client struct {
	opts  Options
	doer  Doer
	retry retrier
	clock chrono.API
	tel   telemetry.API
}

// NewClient creates a client that talks to the api over resty.
func NewClient(opts Options, clock chrono.API, tel telemetry.API) *Client {
	return NewClientWithDoer(opts, newRestyDoer(opts, tel), clock, tel)
}

// NewClientWithDoer creates a client that sends every request through doer.
func NewClientWithDoer(opts Options, doer Doer, clock chrono.API, tel telemetry.API) *Client {
	assert.NotNil(doer)
	assert.NotNil(clock)
	assert.NotNil(tel)
	assert.Positive(opts.Retry.MaxRetries)

	if opts.Language == "" {
		opts.Language = "English"
	}
	if opts.ClientTag == "" {
		opts.ClientTag = "web,1.2"
	}
	if opts.ListingLimit <= 0 {
		opts.ListingLimit = 2000
	}

	return &Client{
		opts: opts,
		doer: doer,
		retry: retrier{
			doer:   doer,
			clock:  clock,
			policy: opts.Retry,
		},
		clock: clock,
		tel:   telemetry.NewScopedAPI("testbook_scraper", tel),
	}
}

type restyDoer struct {
	http *resty.Client
}

func newRestyDoer(opts Options, tel telemetry.API) restyDoer {
	httpClient := resty.New()
	if opts.CloudflareBypass {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}
	if opts.UserAgent != "" {
		httpClient.SetHeader("user-agent", opts.UserAgent)
	}
	httpClient.SetHeader("accept", "application/json")
	if opts.Timeout > 0 {
		httpClient.SetTimeout(opts.Timeout)
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	// burst of 1: requests are spaced evenly
	rateLimiter := rate.NewLimiter(rate.Limit(rps), 1)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel, "pyqfetch/testbook")
	restyutil.DumpExchanges(httpClient, opts.Dump)

	return restyDoer{http: httpClient}
}

func (d restyDoer) Do(ctx context.Context, url string) (int, []byte, error) {
	res, err := d.http.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return 0, nil, err
	}
	return res.StatusCode(), res.Body(), nil
}

func (c *Client) listingUrl(targetId string, year int) string {
	query := url.Values{}
	query.Set("id", targetId)
	query.Set("skip", "0")
	query.Set("limit", fmt.Sprint(c.opts.ListingLimit))
	query.Set("year", fmt.Sprint(year))
	query.Set("stage", "")
	query.Set("type", listingType)
	query.Set("language", c.opts.Language)
	return fmt.Sprintf("%s/%s?%s", c.opts.ListingBaseUrl, url.PathEscape(targetId), query.Encode())
}

func (c *Client) itemUrl(itemId, suffix string) string {
	query := url.Values{}
	query.Set("auth_code", c.opts.AuthCode)
	query.Set("X-Tb-Client", c.opts.ClientTag)
	query.Set("language", c.opts.Language)
	query.Set("attemptNo", "1")
	return fmt.Sprintf("%s/%s%s?%s", c.opts.PaperBaseUrl, url.PathEscape(itemId), suffix, query.Encode())
}
