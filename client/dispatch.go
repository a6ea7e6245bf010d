package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// Request describes one HTTP exchange. The zero value is a GET of the
// database root.
type Request struct {
	// Method is the HTTP method; empty means GET.
	Method string
	// Path is the escaped resource path below the database prefix, e.g.
	// /_api/cursor. Segments built from identifiers must be url.PathEscape'd.
	Path string
	// Query holds query string parameters.
	Query url.Values
	// Header holds request headers. Keys are case-insensitive.
	Header http.Header
	// Body is nil, []byte, string, io.Reader, or a value encoded as JSON.
	Body any
	// Timeout bounds the exchange. Zero uses the client default.
	Timeout time.Duration
	// Host pins the request to a host index in the pool. Nil lets the pool
	// choose.
	Host *int
	// AllowDirtyRead lets the request be served by a replica.
	AllowDirtyRead bool
	// AbsolutePath skips the database prefix (server-wide APIs).
	AbsolutePath bool
}

// HostIndex returns a pointer suitable for Request.Host.
func HostIndex(idx int) *int {
	return &idx
}

// Response is a completed 2xx exchange.
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int
	// Header is the response header.
	Header http.Header
	// Body is the raw response body.
	Body []byte
	// Host is the pool index of the host that served the request.
	Host int
	// QueueTime is the server-reported queue time, when present.
	QueueTime time.Duration
}

// Decode unmarshals the response body into out. An empty body leaves out
// untouched.
func (r *Response) Decode(out any) error {
	if r == nil || out == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("arangox: decode response: %w", err)
	}
	return nil
}

// Dispatch performs req against one host and returns the response or a
// classified error: *NetworkError when no response arrived, *ServerError for
// structured error bodies, *HTTPError for any other non-2xx status.
// Dispatch never retries and never switches hosts.
func (c *Client) Dispatch(ctx context.Context, req Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	hostIdx, base, err := c.resolveHost(req)
	if err != nil {
		return nil, err
	}
	ctx, finish := c.startDispatchSpan(ctx, method, req.Path, hostIdx, req.AllowDirtyRead)
	resp, err := c.exchange(ctx, method, hostIdx, base, req)
	finish(resp, err)
	return resp, err
}

// DispatchJSON performs req and decodes a 2xx body into out.
func (c *Client) DispatchJSON(ctx context.Context, req Request, out any) (*Response, error) {
	resp, err := c.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := resp.Decode(out); err != nil {
		return resp, err
	}
	return resp, nil
}

func (c *Client) resolveHost(req Request) (int, string, error) {
	if req.Host != nil {
		base, err := c.pool.at(*req.Host)
		if err != nil {
			return 0, "", err
		}
		return *req.Host, base, nil
	}
	idx, base := c.pool.pick(req.AllowDirtyRead)
	return idx, base, nil
}

func (c *Client) exchange(ctx context.Context, method string, hostIdx int, base string, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.httpTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target, userinfo, err := c.buildURL(base, req)
	if err != nil {
		return nil, err
	}
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("arangox: build request: %w", err)
	}
	c.applyHeaders(ctx, httpReq, req, userinfo, contentType)

	display := target.Redacted()
	attemptKV := []any{"method", method, "url", display, "host", hostIdx}
	if req.AllowDirtyRead {
		attemptKV = append(attemptKV, "dirty_read", true)
	}
	if txn := httpReq.Header.Get(headerTxnID); txn != "" {
		attemptKV = append(attemptKV, "txn", txn)
	}
	c.logTraceCtx(ctx, "client.http.attempt", attemptKV...)
	if tr := c.newHTTPTrace(ctx, display); tr != nil {
		httpReq = httpReq.WithContext(httptrace.WithClientTrace(httpReq.Context(), tr))
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logDebugCtx(ctx, "client.http.error", append(attemptKV, "error", err, "duration", time.Since(start))...)
		return nil, &NetworkError{Method: method, URL: display, Host: hostIdx, Err: err}
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.logDebugCtx(ctx, "client.http.read_error", append(attemptKV, "status", httpResp.StatusCode, "error", err)...)
		return nil, &NetworkError{Method: method, URL: display, Host: hostIdx, Err: err}
	}
	queueTime := c.observeQueueTime(httpResp.Header)
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		classified := Classify(httpResp.StatusCode, httpResp.Header, data)
		c.logDebugCtx(ctx, "client.http.failure", append(attemptKV, "status", httpResp.StatusCode, "error", classified, "duration", time.Since(start))...)
		return nil, classified
	}
	c.logTraceCtx(ctx, "client.http.success", append(attemptKV, "status", httpResp.StatusCode, "bytes", len(data), "duration", time.Since(start))...)
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
		Host:       hostIdx,
		QueueTime:  queueTime,
	}, nil
}

func (c *Client) buildURL(base string, req Request) (*url.URL, *url.Userinfo, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, nil, fmt.Errorf("arangox: parse host %q: %w", redactEndpoint(base), err)
	}
	userinfo := u.User
	u.User = nil
	p := req.Path
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !req.AbsolutePath && c.database != "" && c.database != DefaultDatabase {
		p = "/_db/" + url.PathEscape(c.database) + p
	}
	if base := u.EscapedPath(); base != "" {
		p = path.Join(base, p)
	}
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return nil, nil, fmt.Errorf("arangox: request path %q: %w", p, err)
	}
	// Path holds the decoded form and RawPath the wire form; u.String
	// prefers RawPath when it is a valid encoding of Path.
	u.Path = decoded
	u.RawPath = p
	if len(req.Query) > 0 {
		q := u.Query()
		for key, values := range req.Query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, userinfo, nil
}

func encodeBody(body any) (io.Reader, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(v), "", nil
	case string:
		return strings.NewReader(v), "", nil
	case json.RawMessage:
		return bytes.NewReader(v), contentTypeJSON, nil
	case io.Reader:
		return v, "", nil
	default:
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(v); err != nil {
			return nil, "", fmt.Errorf("arangox: encode request body: %w", err)
		}
		return buf, contentTypeJSON, nil
	}
}

func (c *Client) applyHeaders(ctx context.Context, httpReq *http.Request, req Request, userinfo *url.Userinfo, contentType string) {
	for k, vals := range c.defaultHeader {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	for k, vals := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" && httpReq.Header.Get(headerContentType) == "" {
		httpReq.Header.Set(headerContentType, contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", contentTypeJSON)
	}
	if httpReq.Header.Get(headerAuthorization) == "" {
		httpReq.Header.Set(headerAuthorization, c.authorizationFor(userinfo))
	}
	if req.AllowDirtyRead {
		httpReq.Header.Set(headerDirtyRead, "true")
	}
	if txn := c.transactionFor(ctx); txn != "" {
		httpReq.Header.Set(headerTxnID, txn)
	}
	if httpReq.Header.Get(headerCorrelationID) == "" {
		if id := CorrelationIDFromContext(ctx); id != "" {
			httpReq.Header.Set(headerCorrelationID, id)
		}
	}
}

// authorizationFor prefers client-level credentials, then credentials embedded
// in the endpoint URL, then the default root user with an empty password.
func (c *Client) authorizationFor(userinfo *url.Userinfo) string {
	if c.authHeader != "" {
		return c.authHeader
	}
	if userinfo != nil && userinfo.Username() != "" {
		password, _ := userinfo.Password()
		return basicAuth(userinfo.Username(), password)
	}
	return basicAuth(DefaultUsername, "")
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func (c *Client) observeQueueTime(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get(headerQueueTime))
	if raw == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	d := time.Duration(seconds * float64(time.Second))
	c.lastQueueTime.Store(int64(d))
	return d
}

func (c *Client) newHTTPTrace(ctx context.Context, endpoint string) *httptrace.ClientTrace {
	if c == nil || !c.httpTraceEnabled {
		return nil
	}
	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			fields := []any{"endpoint", endpoint, "reused", info.Reused, "was_idle", info.WasIdle}
			if conn := info.Conn; conn != nil {
				if remote := conn.RemoteAddr(); remote != nil {
					fields = append(fields, "remote", remote.String())
				}
			}
			c.logTraceCtx(ctx, "client.http.trace.got_conn", fields...)
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			fields := []any{"endpoint", endpoint}
			if info.Err != nil {
				fields = append(fields, "error", info.Err)
			}
			c.logTraceCtx(ctx, "client.http.trace.wrote_request", fields...)
		},
		GotFirstResponseByte: func() {
			c.logTraceCtx(ctx, "client.http.trace.first_byte", "endpoint", endpoint)
		},
	}
}
