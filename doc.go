// Package arangox wires the HTTP driver core in package client into a
// configurable, observable unit: a YAML/env configuration model, an
// OpenTelemetry bundle (OTLP traces plus a Prometheus /metrics endpoint), a
// file watcher that grows the host pool at runtime, and an in-process test
// server for exercising all of it without a database.
//
// Copyright (C) 2025 Michel Blomgren <https://pkt.systems>
//
// # Configuring a client
//
//	cfg := arangox.DefaultConfig()
//	cfg.Endpoints = []string{"tcp://db1:8529,tcp://db2:8529"}
//	cfg.Database = "orders"
//	cfg.LoadBalancing = "round-robin"
//	cli, err := cfg.NewClient(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cli.Close()
//
// Config.Validate normalizes endpoints (tcp:// → http://, ssl:// → https://,
// default port 8529), fills defaults and rejects unknown strategies. The
// arangox CLI loads the same structure from ~/.arangox/config.yaml and
// ARANGOX_* environment variables.
//
// # Telemetry
//
// SetupTelemetry installs global providers; the client publishes its spans
// and counters through them:
//
//	tel, err := arangox.SetupTelemetry(ctx, arangox.TelemetryConfig{
//	    OTLPEndpoint:  "grpc://otel-collector:4317",
//	    MetricsListen: ":9464",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// # Growing the host pool
//
// WatchHosts keeps a client's pool in sync with a hosts file. New endpoints
// are appended; existing host indices never move, so cursors pinned to a host
// keep working.
//
// # Testing
//
// StartTestServer serves cursors, stream transactions and /_api/version from
// memory. Queries of the form "FOR x IN 1..10 RETURN x" work out of the box;
// other result sets are registered with WithTestQuery.
package arangox
