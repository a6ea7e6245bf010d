package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pkt.systems/arangox/api"
)

// QueryOption customises Query and QueryAs.
type QueryOption func(*queryConfig)

type queryConfig struct {
	allowDirtyRead bool
	timeout        time.Duration
	host           *int
}

// WithQueryAllowDirtyRead lets the query and its follow-up fetches be served
// by a replica.
func WithQueryAllowDirtyRead(enabled bool) QueryOption {
	return func(cfg *queryConfig) {
		cfg.allowDirtyRead = enabled
	}
}

// WithQueryTimeout bounds the query request and every request the resulting
// cursor makes.
func WithQueryTimeout(d time.Duration) QueryOption {
	return func(cfg *queryConfig) {
		cfg.timeout = d
	}
}

// WithQueryHost pins the query to a host index in the pool.
func WithQueryHost(idx int) QueryOption {
	return func(cfg *queryConfig) {
		cfg.host = HostIndex(idx)
	}
}

// Query runs req and returns a cursor over raw JSON items.
func (c *Client) Query(ctx context.Context, req api.QueryRequest, opts ...QueryOption) (*Cursor[json.RawMessage], error) {
	return QueryAs[json.RawMessage](ctx, c, req, opts...)
}

// QueryAs runs req and returns a cursor whose items decode into T. The query
// string is sent untouched.
func QueryAs[T any](ctx context.Context, c *Client, req api.QueryRequest, opts ...QueryOption) (*Cursor[T], error) {
	if c == nil {
		return nil, fmt.Errorf("arangox: client required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("arangox: query required")
	}
	var cfg queryConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	var first api.CursorResponse
	resp, err := c.DispatchJSON(ctx, Request{
		Method:         http.MethodPost,
		Path:           "/_api/cursor",
		Body:           req,
		Timeout:        cfg.timeout,
		Host:           cfg.host,
		AllowDirtyRead: cfg.allowDirtyRead,
	}, &first)
	if err != nil {
		return nil, err
	}
	cur, err := NewCursor[T](c, first, resp.Host,
		WithCursorDirtyRead(cfg.allowDirtyRead),
		WithCursorTimeout(cfg.timeout),
	)
	if err != nil {
		if first.ID != "" && first.HasMore {
			c.discardCursor(ctx, first.ID, resp.Host, cfg.timeout)
		}
		return nil, err
	}
	c.logDebugCtx(ctx, "client.query.cursor", cur.logFields("warnings", len(first.Extra.Warnings), "cached", first.Cached)...)
	return cur, nil
}

// discardCursor deletes a server-side cursor no Cursor value was built for.
// Failures are logged; the caller already has an error to report.
func (c *Client) discardCursor(ctx context.Context, id string, host int, timeout time.Duration) {
	ctx = context.WithoutCancel(ctx)
	_, err := c.Dispatch(ctx, Request{
		Method:  http.MethodDelete,
		Path:    "/_api/cursor/" + url.PathEscape(id),
		Host:    HostIndex(host),
		Timeout: timeout,
	})
	c.metrics.recordCursorKill(ctx, host, err)
	if err != nil && !cursorGone(err) {
		c.logWarnCtx(ctx, "client.query.cursor.discard.error", "cursor", id, "host", host, "error", err)
		return
	}
	c.logDebugCtx(ctx, "client.query.cursor.discard", "cursor", id, "host", host)
}
