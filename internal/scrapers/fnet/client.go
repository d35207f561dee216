package fnet

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"time"

	"fnet-dataget/internal/components/assert"
	"fnet-dataget/internal/components/chrono"
	"fnet-dataget/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/net/publicsuffix"
)

const (
	DefaultBaseUrl = "http://www.fnet.bosai.go.jp/auth/dataget/"
	DefaultTimeout = 120 * time.Second

	datagetPath  = "cgi-bin/dataget.cgi"
	downloadPath = "dlDialogue.php"
)

var tracer = otel.Tracer("scrapers/fnet")

var meter = otel.Meter("scrapers/fnet")
var fetchCounter, _ = meter.Int64Counter(
	"fnet.fetches",
	metric.WithDescription("waveform requests by outcome"),
)

type ClientOptions struct {
	// BaseUrl defaults to DefaultBaseUrl.
	BaseUrl  string
	Username string
	Password string
	// Timeout bounds each individual request, defaults to DefaultTimeout.
	Timeout time.Duration
	// Diagnostics receives the reason whenever a request yields no data,
	// defaults to os.Stderr.
	Diagnostics io.Writer
	// MessageOutput optionally receives a dump of every HTTP exchange.
	MessageOutput telemetry.MessageOutput
}

// Client requests waveform archives from F-net. It keeps one authenticated
// session, and is meant to have at most one FetchWaveform in flight since the
// service fails downloads for concurrent requests from the same account.
type Client struct {
	http        *resty.Client
	instrument  *telemetry.RestyInstrument
	diagnostics io.Writer

	tel   telemetry.API
	clock chrono.TimeAPI
}

type proxyCtxKeyType int

var proxyCtxKey proxyCtxKeyType

func withProxies(ctx context.Context, proxies map[string]*url.URL) context.Context {
	if len(proxies) == 0 {
		return ctx
	}
	return context.WithValue(ctx, proxyCtxKey, proxies)
}

// proxyFromContext picks the proxy for a request from the per-call proxies
// stored on its context, falling back to the environment.
func proxyFromContext(req *http.Request) (*url.URL, error) {
	proxies, ok := req.Context().Value(proxyCtxKey).(map[string]*url.URL)
	if ok {
		proxy, ok := proxies[req.URL.Scheme]
		if ok {
			return proxy, nil
		}
	}
	return http.ProxyFromEnvironment(req)
}

// NewClient panics if tel, clock or the username is missing.
func NewClient(opts ClientOptions, tel telemetry.API, clock chrono.TimeAPI) (*Client, error) {
	assert.NotNil(tel)
	assert.NotNil(clock)
	assert.NotEmptyStr(opts.Username, "username")

	tel = telemetry.NewScopedAPI("fnet_scraper", tel)

	baseUrl := opts.BaseUrl
	if baseUrl == "" {
		baseUrl = DefaultBaseUrl
	}
	parsedBaseUrl, err := url.Parse(baseUrl)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	diagnostics := opts.Diagnostics
	if diagnostics == nil {
		diagnostics = os.Stderr
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = proxyFromContext

	httpClient := resty.New()
	httpClient.SetTransport(transport)
	httpClient.SetBaseURL(baseUrl)
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.SetBasicAuth(opts.Username, opts.Password)
	// the service only speaks plain http
	httpClient.SetDisableWarn(true)
	httpClient.SetHeader("user-agent", "fnet-dataget/1.0")
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(parsedBaseUrl.Hostname()))
	httpClient.SetTimeout(timeout)

	instrument := telemetry.InstrumentResty(httpClient, tel, "scrapers/fnet/http", opts.MessageOutput)

	return &Client{
		http:        httpClient,
		instrument:  instrument,
		diagnostics: diagnostics,
		tel:         tel,
		clock:       clock,
	}, nil
}
