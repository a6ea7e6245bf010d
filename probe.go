package arangox

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/arangox/api"
	"pkt.systems/arangox/client"
	"pkt.systems/arangox/internal/clock"
	"pkt.systems/arangox/internal/svcfields"
	"pkt.systems/pslog"
)

// ProbeResult is the outcome of probing one host.
type ProbeResult struct {
	Host     int
	Endpoint string
	At       time.Time
	Latency  time.Duration
	Version  string
	Err      error
}

// OK reports whether the host answered.
func (r ProbeResult) OK() bool { return r.Err == nil }

// Prober asks every host in a client's pool for its version at a fixed
// interval. Hosts added to the pool while it runs are probed from the next
// round on.
type Prober struct {
	client   *client.Client
	interval time.Duration
	logger   pslog.Logger
	clock    clock.Clock

	latency  metric.Int64Histogram
	up       metric.Int64Gauge
	failures metric.Int64Counter
}

// NewProber returns a Prober for cli. A non-positive interval selects
// DefaultProbeInterval.
func NewProber(cli *client.Client, interval time.Duration, logger pslog.Logger) (*Prober, error) {
	if cli == nil {
		return nil, fmt.Errorf("probe: client required")
	}
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	p := &Prober{
		client:   cli,
		interval: interval,
		logger:   svcfields.WithSubsystem(logger, "probe"),
		clock:    clock.Real{},
	}
	meter := otel.Meter("pkt.systems/arangox/probe")
	var err error
	if p.latency, err = meter.Int64Histogram("arangox.probe.latency_ms",
		metric.WithDescription("Version round-trip time per host"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("probe: latency histogram: %w", err)
	}
	if p.up, err = meter.Int64Gauge("arangox.probe.up",
		metric.WithDescription("1 when the host answered the last probe, 0 otherwise"),
	); err != nil {
		return nil, fmt.Errorf("probe: up gauge: %w", err)
	}
	if p.failures, err = meter.Int64Counter("arangox.probe.failures",
		metric.WithDescription("Failed probes by error kind"),
	); err != nil {
		return nil, fmt.Errorf("probe: failure counter: %w", err)
	}
	return p, nil
}

// Interval returns the pause between rounds.
func (p *Prober) Interval() time.Duration {
	return p.interval
}

// ProbeOnce probes every host once, in pool order.
func (p *Prober) ProbeOnce(ctx context.Context) []ProbeResult {
	hosts := p.client.Hosts()
	results := make([]ProbeResult, 0, len(hosts))
	for idx, endpoint := range hosts {
		results = append(results, p.probeHost(ctx, idx, endpoint))
	}
	return results
}

func (p *Prober) probeHost(ctx context.Context, idx int, endpoint string) ProbeResult {
	res := ProbeResult{Host: idx, Endpoint: endpoint, At: p.clock.Now()}
	started := time.Now()
	var v api.VersionResponse
	_, err := p.client.DispatchJSON(ctx, client.Request{
		Path: "/_api/version",
		Host: client.HostIndex(idx),
	}, &v)
	res.Latency = time.Since(started)
	res.Err = err
	res.Version = v.Version

	attrs := metric.WithAttributes(attribute.Int("host", idx), attribute.String("endpoint", endpoint))
	p.latency.Record(ctx, res.Latency.Milliseconds(), attrs)
	if err != nil {
		p.up.Record(ctx, 0, attrs)
		p.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("host", idx),
			attribute.String("endpoint", endpoint),
			attribute.String("kind", probeErrorKind(err)),
		))
		p.logger.Warn("probe.host.failed", append(svcfields.Host(idx, endpoint), "error", err)...)
		return res
	}
	p.up.Record(ctx, 1, attrs)
	p.logger.Debug("probe.host.ok", append(svcfields.Host(idx, endpoint), "version", v.Version, "latency", res.Latency)...)
	return res
}

// Run probes every interval until ctx ends, handing each round to report.
// It returns nil when ctx is cancelled.
func (p *Prober) Run(ctx context.Context, report func([]ProbeResult)) error {
	p.logger.Info("probe.start", "interval", p.interval, "hosts", len(p.client.Hosts()))
	defer p.logger.Info("probe.stop")
	for {
		results := p.ProbeOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if report != nil {
			report(results)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-p.clock.After(p.interval):
		}
	}
}

func probeErrorKind(err error) string {
	switch {
	case client.IsNetworkError(err):
		return "network"
	case client.StatusCode(err) != 0:
		if _, ok := client.ErrorNum(err); ok {
			return "server"
		}
		return "http"
	default:
		return "other"
	}
}
