package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pictureloader/pictureloader/pkg/errors"
	"github.com/pictureloader/pictureloader/pkg/types"
	"github.com/pictureloader/pictureloader/pkg/utils"
)

// Collector records loader metrics into a private Prometheus registry.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	// Prometheus metrics
	requestCounter  *prometheus.CounterVec
	cacheHitCounter *prometheus.CounterVec
	fetchCounter    *prometheus.CounterVec
	fetchBytes      prometheus.Histogram
	fetchDuration   *prometheus.HistogramVec
	decodeDuration  *prometheus.HistogramVec
	deliveryCounter *prometheus.CounterVec
	cacheSizeGauge  *prometheus.GaugeVec
	queueDepthGauge prometheus.Gauge
	workersGauge    prometheus.Gauge
	errorCounter    *prometheus.CounterVec

	// Internal tracking
	tiers     map[string]*TierMetrics
	lastReset time.Time

	// HTTP server for metrics endpoint
	server   *http.Server
	listener net.Listener
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Address   string            `yaml:"address"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Address:   "127.0.0.1:9464",
		Path:      "/metrics",
		Namespace: "pictureloader",
		Labels:    make(map[string]string),
	}
}

// TierMetrics tracks request outcomes for one cache tier.
type TierMetrics struct {
	Requests int64     `json:"requests"`
	Hits     int64     `json:"hits"`
	Misses   int64     `json:"misses"`
	Size     int64     `json:"size"`
	LastHit  time.Time `json:"last_hit"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config, logger *slog.Logger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = utils.DiscardLogger()
	}

	if !config.Enabled {
		return &Collector{config: config, logger: logger}, nil
	}

	collector := &Collector{
		config:    config,
		registry:  prometheus.NewRegistry(),
		logger:    logger,
		tiers:     make(map[string]*TierMetrics),
		lastReset: time.Now(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Registry exposes the private registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics endpoint and the debug summaries.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if !c.config.Enabled {
		mux.HandleFunc("/health", c.healthHandler)
		return mux
	}

	path := c.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/tiers", c.debugTiersHandler)
	return mux
}

// Start listens on the configured address and serves Handler in the background.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", c.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.config.Address, err)
	}

	c.mu.Lock()
	c.listener = ln
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server error", "error", err)
		}
	}()

	c.logger.Info("Metrics server started", "address", ln.Addr().String(), "path", c.config.Path)
	return nil
}

// Addr returns the bound address once Start succeeded.
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordCacheHit records a request answered by tier.
func (c *Collector) RecordCacheHit(tier string) {
	if !c.config.Enabled {
		return
	}

	c.trackTier(tier, true)
	c.requestCounter.With(prometheus.Labels{"tier": tier}).Inc()
	c.cacheHitCounter.With(prometheus.Labels{"tier": tier, "type": "hit"}).Inc()
}

// RecordCacheMiss records a request that tier could not answer.
func (c *Collector) RecordCacheMiss(tier string) {
	if !c.config.Enabled {
		return
	}

	c.trackTier(tier, false)
	c.requestCounter.With(prometheus.Labels{"tier": tier}).Inc()
	c.cacheHitCounter.With(prometheus.Labels{"tier": tier, "type": "miss"}).Inc()
}

// RecordFetch records one network retrieval.
func (c *Collector) RecordFetch(scheme string, bytes int64, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
		c.RecordError("fetch", err)
	}
	c.fetchCounter.With(prometheus.Labels{"scheme": scheme, "status": status}).Inc()
	c.fetchDuration.With(prometheus.Labels{"scheme": scheme}).Observe(duration.Seconds())
	if bytes > 0 {
		c.fetchBytes.Observe(float64(bytes))
	}
}

// RecordDecode records one decode attempt.
func (c *Collector) RecordDecode(duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
		c.RecordError("decode", err)
	}
	c.decodeDuration.With(prometheus.Labels{"status": status}).Observe(duration.Seconds())
}

// RecordDelivery counts applied and stale deliveries.
func (c *Collector) RecordDelivery(outcome string) {
	if !c.config.Enabled {
		return
	}

	c.deliveryCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordError records an error
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}

	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"type":      c.classifyError(err),
	}).Inc()
}

// UpdateCacheSize updates cache size metrics
func (c *Collector) UpdateCacheSize(level string, size int64) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	c.tier(level).Size = size
	c.mu.Unlock()

	c.cacheSizeGauge.With(prometheus.Labels{
		"level": level,
	}).Set(float64(size))
}

// UpdateDispatch publishes the worker pool snapshot.
func (c *Collector) UpdateDispatch(stats types.DispatchStats) {
	if !c.config.Enabled {
		return
	}

	c.queueDepthGauge.Set(float64(stats.Queued))
	c.workersGauge.Set(float64(stats.Workers))
}

// GetMetrics returns current per-tier tracking
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tiers := make(map[string]TierMetrics, len(c.tiers))
	for k, v := range c.tiers {
		tiers[k] = *v
	}

	return map[string]interface{}{
		"tiers":      tiers,
		"last_reset": c.lastReset,
		"uptime":     time.Since(c.lastReset),
	}
}

// ResetMetrics resets the internal tracking; Prometheus counters keep counting.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tiers = make(map[string]*TierMetrics)
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) tier(name string) *TierMetrics {
	t, ok := c.tiers[name]
	if !ok {
		t = &TierMetrics{}
		c.tiers[name] = t
	}
	return t
}

func (c *Collector) trackTier(name string, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.tier(name)
	t.Requests++
	if hit {
		t.Hits++
		t.LastHit = time.Now()
	} else {
		t.Misses++
	}
}

func (c *Collector) initMetrics() {
	ns, sub, labels := c.config.Namespace, c.config.Subsystem, prometheus.Labels(c.config.Labels)

	c.requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "requests_total",
			Help:        "Total number of requests reaching each tier",
			ConstLabels: labels,
		},
		[]string{"tier"},
	)

	c.cacheHitCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "cache_hits_total",
			Help:        "Cache lookups by tier and result",
			ConstLabels: labels,
		},
		[]string{"tier", "type"},
	)

	c.fetchCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "fetch_total",
			Help:        "Network retrievals by scheme and status",
			ConstLabels: labels,
		},
		[]string{"scheme", "status"},
	)

	c.fetchBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "fetch_bytes",
			Help:        "Size of retrieved payloads in bytes",
			Buckets:     prometheus.ExponentialBuckets(1024, 2, 16), // 1KB to ~32MB
			ConstLabels: labels,
		},
	)

	c.fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "fetch_duration_seconds",
			Help:        "Duration of network retrievals in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			ConstLabels: labels,
		},
		[]string{"scheme"},
	)

	c.decodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "decode_duration_seconds",
			Help:        "Duration of picture decodes in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14),
			ConstLabels: labels,
		},
		[]string{"status"},
	)

	c.deliveryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "deliveries_total",
			Help:        "Results handed to targets, by outcome",
			ConstLabels: labels,
		},
		[]string{"outcome"},
	)

	c.cacheSizeGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "cache_size",
			Help:        "Current cache size (KB for memory, bytes for disk)",
			ConstLabels: labels,
		},
		[]string{"level"},
	)

	c.queueDepthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "dispatcher_queue_depth",
			Help:        "Tasks waiting for a worker",
			ConstLabels: labels,
		},
	)

	c.workersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "dispatcher_workers",
			Help:        "Live worker goroutines",
			ConstLabels: labels,
		},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "errors_total",
			Help:        "Total number of errors",
			ConstLabels: labels,
		},
		[]string{"operation", "type"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.requestCounter,
		c.cacheHitCounter,
		c.fetchCounter,
		c.fetchBytes,
		c.fetchDuration,
		c.decodeDuration,
		c.deliveryCounter,
		c.cacheSizeGauge,
		c.queueDepthGauge,
		c.workersGauge,
		c.errorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func (c *Collector) classifyError(err error) string {
	if code := errors.CodeOf(err); code != "" {
		return strings.ToLower(string(code))
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline"):
		return "timeout"
	case strings.Contains(errStr, "connection"):
		return "connection"
	case strings.Contains(errStr, "not found"):
		return "not_found"
	default:
		return "other"
	}
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"pictureloader-metrics"}`)) // Ignore write error for health check
}

func (c *Collector) debugTiersHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")

	// Helper to avoid errcheck issues
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("Picture Loader Tiers\n")
	writef("====================\n\n")
	writef("Uptime: %v\n", time.Since(c.lastReset))
	writef("Last Reset: %v\n\n", c.lastReset)

	if len(c.tiers) == 0 {
		writef("No requests recorded.\n")
		return
	}

	writef("%-10s %10s %10s %10s %12s\n", "Tier", "Requests", "Hits", "Misses", "Size")
	writef("%-10s %10s %10s %10s %12s\n", "----", "--------", "----", "------", "----")

	names := make([]string, 0, len(c.tiers))
	for name := range c.tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := c.tiers[name]
		writef("%-10s %10d %10d %10d %12d\n", name, t.Requests, t.Hits, t.Misses, t.Size)
	}
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordCacheHit(string)                           {}
func (Nop) RecordCacheMiss(string)                          {}
func (Nop) RecordFetch(string, int64, time.Duration, error) {}
func (Nop) RecordDecode(time.Duration, error)               {}
func (Nop) RecordDelivery(string)                           {}
func (Nop) UpdateCacheSize(string, int64)                   {}
func (Nop) UpdateDispatch(types.DispatchStats)              {}

var (
	_ types.MetricsRecorder = (*Collector)(nil)
	_ types.MetricsRecorder = Nop{}
)
