package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pkt.systems/arangox/internal/svcfields"
	"pkt.systems/pslog"
)

// Default client tuning knobs exposed for callers that want to mirror the
// driver's defaults.
const (
	DefaultHTTPTimeout         = 30 * time.Second
	DefaultMaxIdleConns        = 256
	DefaultMaxIdleConnsPerHost = 128
	DefaultDatabase            = "_system"
	DefaultUsername            = "root"
)

const (
	headerAuthorization = "Authorization"
	headerTxnID         = "x-arango-trx-id"
	headerDirtyRead     = "x-arango-allow-dirty-read"
	headerQueueTime     = "x-arango-queue-time-seconds"
	headerCorrelationID = "X-Correlation-Id"
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json"
)

// Client dispatches requests to one of the configured server endpoints and
// decodes the responses. A Client is safe for concurrent use; cursors it
// returns are not.
type Client struct {
	pool             *hostPool
	httpClient       *http.Client
	httpTimeout      time.Duration
	httpTraceEnabled bool
	tracing          bool
	database         string
	strategy         LoadBalancing
	defaultHeader    http.Header
	authHeader       string
	logger           pslog.Base
	metrics          *clientMetrics

	txnMu      sync.RWMutex
	ambientTxn string

	lastQueueTime atomic.Int64

	closeOnce sync.Once
}

// Option customises client construction.
type Option func(*Client)

// WithHTTPClient supplies a custom HTTP client/transport stack. The client
// works on a shallow copy, so cli itself is not modified.
func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) {
		if cli != nil {
			c.httpClient = cli
		}
	}
}

// WithLogger supplies a logger for client diagnostics.
// Passing nil falls back to pslog.NoopLogger().
func WithLogger(logger pslog.Base) Option {
	return func(c *Client) {
		if logger == nil {
			c.logger = pslog.NoopLogger()
			return
		}
		if full, ok := logger.(pslog.Logger); ok {
			c.logger = svcfields.WithSubsystem(full, "client.sdk")
			return
		}
		c.logger = logger
	}
}

// WithHTTPTimeout overrides the default per-request timeout. Request.Timeout
// takes precedence when set.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpTimeout = d
		}
	}
}

// WithLoadBalancing selects the host selection strategy.
func WithLoadBalancing(strategy LoadBalancing) Option {
	return func(c *Client) {
		c.strategy = strategy
	}
}

// WithDatabase scopes every request path to /_db/<name>. The system database
// needs no prefix.
func WithDatabase(name string) Option {
	return func(c *Client) {
		c.database = strings.TrimSpace(name)
	}
}

// WithBasicAuth sets credentials used when neither the request nor the
// endpoint URL carries any.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.authHeader = basicAuth(username, password)
	}
}

// WithBearerToken sets a bearer token used when the request carries no
// Authorization header.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		token = strings.TrimSpace(token)
		if token == "" {
			return
		}
		c.authHeader = "bearer " + token
	}
}

// WithHeader adds a header sent with every request unless the request sets it.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if c.defaultHeader == nil {
			c.defaultHeader = make(http.Header)
		}
		c.defaultHeader.Set(key, value)
	}
}

// WithHTTPTrace enables net/http/httptrace diagnostics on requests.
// Traces are emitted through the configured client logger.
func WithHTTPTrace() Option {
	return func(c *Client) {
		c.httpTraceEnabled = true
	}
}

// WithTracing wraps the HTTP transport with OpenTelemetry instrumentation so
// every exchange produces a client span under the globally configured tracer
// provider.
func WithTracing() Option {
	return func(c *Client) {
		c.tracing = true
	}
}

// New creates a client for a single endpoint or a comma-separated endpoint
// list (e.g. http://db1:8529,http://db2:8529).
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("arangox: baseURL required")
	}
	endpoints, err := ParseEndpoints(trimmed)
	if err != nil {
		return nil, err
	}
	return newClient(endpoints, opts)
}

// NewWithEndpoints constructs a client from a slice of server endpoints.
func NewWithEndpoints(endpoints []string, opts ...Option) (*Client, error) {
	normalized, err := parseEndpointSlice(endpoints)
	if err != nil {
		return nil, err
	}
	return newClient(normalized, opts)
}

func newClient(endpoints []string, opts []Option) (*Client, error) {
	c := &Client{
		httpTimeout: DefaultHTTPTimeout,
		database:    DefaultDatabase,
		strategy:    LoadBalancingNone,
		logger:      pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.initialize(endpoints); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initialize(endpoints []string) error {
	if c.logger == nil {
		c.logger = pslog.NoopLogger()
	}
	strategy, err := ParseLoadBalancing(string(c.strategy))
	if err != nil {
		return err
	}
	c.strategy = strategy
	httpClient, bases, err := prepareHTTPResources(endpoints)
	if err != nil {
		return err
	}
	if c.httpClient == nil {
		c.httpClient = httpClient
	} else {
		// The caller's client may be shared; adjust a copy.
		cp := *c.httpClient
		c.httpClient = &cp
	}
	if c.httpClient.Transport == nil {
		if base, ok := http.DefaultTransport.(*http.Transport); ok {
			tr := base.Clone()
			applyDefaultTransportTuning(tr)
			c.httpClient.Transport = tr
		}
	}
	if c.tracing {
		c.httpClient.Transport = otelhttp.NewTransport(c.httpClient.Transport)
	}
	// Timeouts are enforced per request through the context.
	c.httpClient.Timeout = 0
	if c.httpTimeout <= 0 {
		c.httpTimeout = DefaultHTTPTimeout
	}
	pool, err := newHostPool(bases, c.strategy)
	if err != nil {
		return err
	}
	c.pool = pool
	c.metrics = newClientMetrics(c.logger)
	c.logInfo("client.init", "endpoints", redactEndpoints(bases), "strategy", string(c.strategy), "database", c.database)
	return nil
}

func prepareHTTPResources(endpoints []string) (*http.Client, []string, error) {
	if len(endpoints) == 0 {
		return nil, nil, fmt.Errorf("arangox: no endpoints provided")
	}
	multi := len(endpoints) > 1
	bases := make([]string, len(endpoints))
	var httpClient *http.Client
	for i, ep := range endpoints {
		if multi && strings.HasPrefix(ep, "unix://") {
			return nil, nil, fmt.Errorf("arangox: unix endpoints cannot be combined with others")
		}
		cli, base, err := buildHTTPClient(ep)
		if err != nil {
			return nil, nil, err
		}
		if i == 0 {
			httpClient = cli
		}
		bases[i] = strings.TrimRight(base, "/")
	}
	return httpClient, bases, nil
}

func buildHTTPClient(rawBase string) (*http.Client, string, error) {
	trimmed := strings.TrimSpace(rawBase)
	if trimmed == "" {
		return nil, "", fmt.Errorf("arangox: baseURL required")
	}
	if strings.HasPrefix(trimmed, "unix://") {
		return newUnixHTTPClient(trimmed)
	}
	return &http.Client{}, strings.TrimRight(trimmed, "/"), nil
}

func newUnixHTTPClient(raw string) (*http.Client, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("arangox: parse unix baseURL: %w", err)
	}
	socketPath := u.Path
	if u.Host != "" {
		if socketPath == "" || socketPath == "/" {
			socketPath = "/" + u.Host
		} else {
			socketPath = "/" + u.Host + socketPath
		}
	}
	if socketPath == "" {
		return nil, "", fmt.Errorf("arangox: unix baseURL missing socket path")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	dialer := &net.Dialer{Timeout: DefaultHTTPTimeout, KeepAlive: 15 * time.Second}
	transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
		return dialer.DialContext(ctx, "unix", socketPath)
	}
	transport.DialTLSContext = nil
	transport.TLSClientConfig = nil
	base := "http://unix"
	if u.User != nil {
		base = "http://" + u.User.String() + "@unix"
	}
	return &http.Client{Transport: transport}, base, nil
}

func applyDefaultTransportTuning(tr *http.Transport) {
	if tr == nil {
		return
	}
	tr.MaxIdleConns = DefaultMaxIdleConns
	tr.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	tr.IdleConnTimeout = 90 * time.Second
}

func redactEndpoints(endpoints []string) []string {
	out := make([]string, len(endpoints))
	for i, ep := range endpoints {
		out[i] = redactEndpoint(ep)
	}
	return out
}

func redactEndpoint(ep string) string {
	u, err := url.Parse(ep)
	if err != nil {
		return ep
	}
	return u.Redacted()
}

// Hosts returns the current host list with credentials redacted.
func (c *Client) Hosts() []string {
	return redactEndpoints(c.pool.snapshot())
}

// AddHosts appends endpoints to the pool, skipping ones already known. It
// returns how many were added. Existing host indices never change.
func (c *Client) AddHosts(endpoints ...string) (int, error) {
	normalized, err := parseEndpointSlice(endpoints)
	if err != nil {
		return 0, err
	}
	for _, ep := range normalized {
		if strings.HasPrefix(ep, "unix://") {
			return 0, fmt.Errorf("arangox: unix endpoints cannot be added to a pool")
		}
	}
	added := c.pool.add(normalized)
	if added > 0 {
		c.logInfo("client.hosts.added", "added", added, "hosts", c.Hosts())
	}
	return added, nil
}

// ActiveHost returns the index of the host used for consistent reads without
// affinity.
func (c *Client) ActiveHost() int {
	return c.pool.activeIndex()
}

// UseHost makes idx the active host for consistent reads.
func (c *Client) UseHost(idx int) error {
	return c.pool.setActive(idx)
}

// Database returns the database requests are scoped to.
func (c *Client) Database() string {
	return c.database
}

// LastQueueTime returns the most recent server queue time reported through
// the x-arango-queue-time-seconds header.
func (c *Client) LastQueueTime() time.Duration {
	return time.Duration(c.lastQueueTime.Load())
}

type idleCloser interface {
	CloseIdleConnections()
}

func (c *Client) closeIdleConnections() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport := c.httpClient.Transport; transport != nil {
		if closer, ok := transport.(idleCloser); ok {
			closer.CloseIdleConnections()
		}
		return
	}
	if base, ok := http.DefaultTransport.(*http.Transport); ok {
		base.CloseIdleConnections()
	}
}

// Close releases any idle HTTP connections held by the client.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closeIdleConnections()
	})
	return nil
}

func hasKey(keyvals []any, target string) bool {
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok && key == target {
			return true
		}
	}
	return false
}

func (c *Client) enrichKeyvals(ctx context.Context, keyvals []any) []any {
	if ctx == nil {
		return keyvals
	}
	cid := CorrelationIDFromContext(ctx)
	if cid == "" || hasKey(keyvals, "cid") {
		return keyvals
	}
	enriched := append([]any(nil), keyvals...)
	enriched = append(enriched, "cid", cid)
	return enriched
}

func (c *Client) logTraceCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Trace(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logDebugCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logWarnCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logInfo(msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Info(msg, keyvals...)
}
