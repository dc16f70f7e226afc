// Package api is the HTTP client of the helpmetest API: tests, health
// checks, deployments, artifacts, identity and interactive command execution.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/helpmetest/cli/pkg/logging"
	"github.com/helpmetest/cli/pkg/telemetry"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "helpmetest-cli"
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	RateLimit   float64
	Burst       int
	InsecureTLS bool
	Version     string
	Logger      *logging.Logger
	// HTTPClient replaces the default transports; used by tests.
	HTTPClient *http.Client
}

// Client talks to the helpmetest API.
type Client struct {
	baseURL    *url.URL
	token      string
	userAgent  string
	httpClient *http.Client
	// streamClient has no overall timeout; streamed responses are bounded by
	// the request context instead.
	streamClient *http.Client
	limiter      *rate.Limiter
	logger       *logging.Logger
	tracer       trace.Tracer

	identityGroup singleflight.Group
	identityMu    sync.RWMutex
	identity      *Identity
}

// New creates a client.
func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("api url is required")
	}
	// url.Parse treats scheme-less hosts as paths; prefix https:// for convenience.
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid api url %q: missing host", opts.BaseURL)
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL:   parsed,
		token:     strings.TrimSpace(opts.Token),
		userAgent: userAgent,
		logger:    logging.OrDiscard(opts.Logger),
		tracer:    telemetry.Tracer(),
	}
	if v := strings.TrimSpace(opts.Version); v != "" {
		c.userAgent = userAgent + "/" + v
	}

	if opts.HTTPClient != nil {
		c.httpClient = opts.HTTPClient
		streamed := *opts.HTTPClient
		streamed.Timeout = 0
		c.streamClient = &streamed
	} else {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureTLS {
			if transport.TLSClientConfig == nil {
				transport.TLSClientConfig = &tls.Config{}
			}
			transport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402
		}
		c.httpClient = &http.Client{Timeout: timeout, Transport: transport}
		c.streamClient = &http.Client{Transport: transport}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(limit, burst)
	return c, nil
}

// BaseURL returns the normalized API base URL.
func (c *Client) BaseURL() string {
	return strings.TrimRight(c.baseURL.String(), "/")
}

// HasToken reports whether requests are authenticated.
func (c *Client) HasToken() bool {
	return c.token != ""
}

func (c *Client) apiURL(p string) string {
	u := *c.baseURL
	rel, err := url.Parse(p)
	if err == nil {
		u.Path = path.Join(strings.TrimSuffix(u.Path, "/"), "/api", rel.Path)
		q := u.Query()
		for key, vals := range rel.Query() {
			for _, val := range vals {
				q.Add(key, val)
			}
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	u.Path = path.Join(strings.TrimSuffix(u.Path, "/"), "/api", p)
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL(p), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// call is one API round trip.
type call struct {
	method string
	path   string
	// route is the path template used for metrics and spans.
	route  string
	body   any
	stream bool
}

// do sends the request and returns the response when the status is 2xx.
// Any other status is turned into an *APIError and the body is closed.
func (c *Client) do(ctx context.Context, cl call) (*http.Response, error) {
	ctx, span := c.tracer.Start(ctx, "api "+cl.method+" "+cl.route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.AttrRoute.String(cl.route)))
	defer span.End()

	var body io.Reader
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, cl.method, cl.path, body)
	if err != nil {
		return nil, err
	}

	client := c.httpClient
	if cl.stream {
		client = c.streamClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		telemetry.ObserveAPIRequest(cl.method, cl.route, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		c.logger.DebugContext(ctx, "api request failed", "method", cl.method, "route", cl.route, "error", err)
		return nil, err
	}
	telemetry.ObserveAPIRequest(cl.method, cl.route, resp.StatusCode, time.Since(start))
	span.SetAttributes(telemetry.AttrStatus.Int(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		apiErr := newAPIError(cl.method, cl.route, resp)
		span.SetStatus(codes.Error, resp.Status)
		return nil, apiErr
	}
	return resp, nil
}

// getJSON decodes a JSON response into out.
func (c *Client) getJSON(ctx context.Context, route, p string, out any) error {
	return c.sendJSON(ctx, http.MethodGet, route, p, nil, out)
}

func (c *Client) sendJSON(ctx context.Context, method, route, p string, in, out any) error {
	resp, err := c.do(ctx, call{method: method, path: p, route: route, body: in})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return decodeError(route, err)
	}
	return nil
}

func escape(segment string) string {
	return url.PathEscape(segment)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
