/*
Package metrics exports loader measurements through Prometheus.

# Overview

A Collector owns a private Prometheus registry and implements
types.MetricsRecorder. The loader reports every tier lookup, network
retrieval, decode and delivery to it; the worker pool snapshot and cache sizes
are pushed as gauges.

	┌─────────────┐
	│  Collector  │
	└──────┬──────┘
	       │
	   ┌───┴─────────────────────────┐
	   │                             │
	┌──▼───────────┐       ┌─────────▼───────┐
	│  Prometheus  │       │  HTTP Endpoints │
	│   Registry   │       │  /metrics       │
	└──────────────┘       │  /health        │
	                       │  /debug/tiers   │
	                       └─────────────────┘

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Address:   "127.0.0.1:9464",
		Path:      "/metrics",
		Namespace: "pictureloader",
	}, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(ctx)

Handler can be mounted on an existing mux instead of calling Start.

# Exported Series

	requests_total{tier}              lookups reaching memory, disk or network
	cache_hits_total{tier,type}       hit or miss per tier
	fetch_total{scheme,status}        network retrievals
	fetch_bytes                       payload size histogram
	fetch_duration_seconds{scheme}    retrieval latency
	decode_duration_seconds{status}   decode latency
	deliveries_total{outcome}         applied or stale deliveries
	cache_size{level}                 KB for memory, bytes for disk
	dispatcher_queue_depth            backlog of the worker pool
	dispatcher_workers                live workers
	errors_total{operation,type}      errors by error code

Nop satisfies the same interface and is used when metrics are disabled.
*/
package metrics
