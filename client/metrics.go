package client

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/pslog"
)

const instrumentationName = "pkt.systems/arangox/client"

type clientMetrics struct {
	tracer          trace.Tracer
	requests        metric.Int64Counter
	requestDuration metric.Int64Histogram
	cursorFetches   metric.Int64Counter
	cursorItems     metric.Int64Counter
	cursorKills     metric.Int64Counter
}

func newClientMetrics(logger pslog.Base) *clientMetrics {
	meter := otel.Meter(instrumentationName)
	m := &clientMetrics{tracer: otel.Tracer(instrumentationName)}
	var err error

	m.requests, err = meter.Int64Counter(
		"arangox.client.requests",
		metric.WithDescription("Requests dispatched by outcome kind"),
	)
	logMetricInitError(logger, "arangox.client.requests", err)

	m.requestDuration, err = meter.Int64Histogram(
		"arangox.client.request.duration_ms",
		metric.WithDescription("Round-trip time of dispatched requests"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "arangox.client.request.duration_ms", err)

	m.cursorFetches, err = meter.Int64Counter(
		"arangox.client.cursor.fetches",
		metric.WithDescription("Follow-up cursor batch fetches"),
	)
	logMetricInitError(logger, "arangox.client.cursor.fetches", err)

	m.cursorItems, err = meter.Int64Counter(
		"arangox.client.cursor.items",
		metric.WithDescription("Items received in cursor batches"),
	)
	logMetricInitError(logger, "arangox.client.cursor.items", err)

	m.cursorKills, err = meter.Int64Counter(
		"arangox.client.cursor.kills",
		metric.WithDescription("Cursor kill requests sent to the server"),
	)
	logMetricInitError(logger, "arangox.client.cursor.kills", err)

	return m
}

// startDispatchSpan opens a client span for one exchange and returns a finish
// callback that records the outcome on the span and the request metrics.
func (c *Client) startDispatchSpan(ctx context.Context, method, path string, host int, dirtyRead bool) (context.Context, func(*Response, error)) {
	m := c.metrics
	if m == nil {
		return ctx, func(*Response, error) {}
	}
	ctx, span := m.tracer.Start(ctx, "arangox.dispatch "+method, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("arangox.path", path),
		attribute.Int("arangox.host", host),
		attribute.Bool("arangox.dirty_read", dirtyRead),
	)
	if cid := CorrelationIDFromContext(ctx); cid != "" {
		span.SetAttributes(attribute.String("arangox.correlation_id", cid))
	}
	begin := time.Now()
	return ctx, func(resp *Response, err error) {
		defer span.End()
		outcome := outcomeKind(err)
		if resp != nil {
			span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
		} else if status := StatusCode(err); status != 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", status))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		attrs := metric.WithAttributes(
			attribute.String("arangox.method", method),
			attribute.String("arangox.host", strconv.Itoa(host)),
			attribute.String("arangox.outcome", outcome),
		)
		mctx := metricContext(ctx)
		if m.requests != nil {
			m.requests.Add(mctx, 1, attrs)
		}
		if m.requestDuration != nil {
			m.requestDuration.Record(mctx, time.Since(begin).Milliseconds(), attrs)
		}
	}
}

func (m *clientMetrics) recordCursorFetch(ctx context.Context, host int, items int, err error) {
	if m == nil {
		return
	}
	ctx = metricContext(ctx)
	attrs := metric.WithAttributes(
		attribute.String("arangox.host", strconv.Itoa(host)),
		attribute.String("arangox.outcome", outcomeKind(err)),
	)
	if m.cursorFetches != nil {
		m.cursorFetches.Add(ctx, 1, attrs)
	}
	if err == nil && items > 0 && m.cursorItems != nil {
		m.cursorItems.Add(ctx, int64(items), metric.WithAttributes(attribute.String("arangox.host", strconv.Itoa(host))))
	}
}

func (m *clientMetrics) recordCursorKill(ctx context.Context, host int, err error) {
	if m == nil || m.cursorKills == nil {
		return
	}
	m.cursorKills.Add(metricContext(ctx), 1, metric.WithAttributes(
		attribute.String("arangox.host", strconv.Itoa(host)),
		attribute.String("arangox.outcome", outcomeKind(err)),
	))
}

func outcomeKind(err error) string {
	if err == nil {
		return "ok"
	}
	var nerr *NetworkError
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return "timeout"
		}
		return "network"
	}
	var serr *ServerError
	if errors.As(err, &serr) {
		return "server"
	}
	var herr *HTTPError
	if errors.As(err, &herr) {
		return "http"
	}
	return "error"
}

func metricContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func logMetricInitError(logger pslog.Base, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
