package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scttfrdmn/modelserve/internal/cache"
	"github.com/scttfrdmn/modelserve/pkg/errors"
)

// Collector exports model service metrics to Prometheus. It implements
// cache.Observer.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	// Prediction metrics
	predictionRequests *prometheus.CounterVec
	predictionErrors   *prometheus.CounterVec
	predictionDuration prometheus.Histogram
	predictions        *prometheus.CounterVec

	// Model cache metrics
	modelsLoaded      prometheus.Gauge
	modelLoadDuration prometheus.Histogram
	modelLoads        *prometheus.CounterVec
	modelEvictions    prometheus.Counter
	cacheLookups      *prometheus.CounterVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ cache.Observer = (*Collector)(nil)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`

	// Runtime adds the Go runtime and process collectors.
	Runtime bool `yaml:"runtime"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Namespace: "ml_api",
		Path:      "/metrics",
		Runtime:   true,
	}
}

// NewCollector creates a new metrics collector on a private registry. A
// disabled collector accepts every call and records nothing.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	c.initMetrics()

	if err := c.registerMetrics(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternalError, err, "failed to register metrics").
			WithComponent("metrics")
	}
	return c, nil
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool { return c.config.Enabled }

// Registry returns the underlying registry, or nil when disabled.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordPredictionRequest counts an inbound prediction request.
func (c *Collector) RecordPredictionRequest(endpoint string) {
	if !c.config.Enabled {
		return
	}
	c.predictionRequests.WithLabelValues(endpoint).Inc()
}

// RecordPrediction records a successful prediction.
func (c *Collector) RecordPrediction(model string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.predictionDuration.Observe(duration.Seconds())
	c.predictions.WithLabelValues(model).Inc()
}

// RecordPredictionError counts a failed prediction by error kind.
func (c *Collector) RecordPredictionError(err error) {
	if !c.config.Enabled {
		return
	}
	c.predictionErrors.WithLabelValues(classifyError(err)).Inc()
}

// RecordRequest records a served HTTP request.
func (c *Collector) RecordRequest(method, route string, status int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveLoad implements cache.Observer.
func (c *Collector) ObserveLoad(_ string, d time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	result := "success"
	if err != nil {
		result = classifyError(err)
	}
	c.modelLoads.WithLabelValues(result).Inc()
	c.modelLoadDuration.Observe(d.Seconds())
}

// ObserveLookup implements cache.Observer.
func (c *Collector) ObserveLookup(_ string, hit bool) {
	if !c.config.Enabled {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveEviction implements cache.Observer.
func (c *Collector) ObserveEviction(string) {
	if !c.config.Enabled {
		return
	}
	c.modelEvictions.Inc()
}

// ObserveResident implements cache.Observer.
func (c *Collector) ObserveResident(n int) {
	if !c.config.Enabled {
		return
	}
	c.modelsLoaded.Set(float64(n))
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.predictionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "prediction_requests_total",
			Help:      "Total number of prediction requests",
		},
		[]string{"endpoint"},
	)

	c.predictionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "prediction_errors_total",
			Help:      "Total number of prediction errors",
		},
		[]string{"error_type"},
	)

	c.predictionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "prediction_duration_seconds",
			Help:      "Time spent processing predictions",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
	)

	c.predictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "predictions_total",
			Help:      "Total number of predictions made",
		},
		[]string{"model_name"},
	)

	c.modelsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "models_loaded_total",
			Help:      "Number of models currently resident",
		},
	)

	c.modelLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "model_load_duration_seconds",
			Help:      "Time spent loading models",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~65s
		},
	)

	c.modelLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "model_loads_total",
			Help:      "Model load attempts by result",
		},
		[]string{"result"},
	)

	c.modelEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "model_evictions_total",
			Help:      "Models evicted to respect the cache size",
		},
	)

	c.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_lookups_total",
			Help:      "Model cache lookups by result",
		},
		[]string{"result"},
	)

	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	c.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.predictionRequests,
		c.predictionErrors,
		c.predictionDuration,
		c.predictions,
		c.modelsLoaded,
		c.modelLoadDuration,
		c.modelLoads,
		c.modelEvictions,
		c.cacheLookups,
		c.httpRequests,
		c.httpDuration,
	}
	if c.config.Runtime {
		metrics = append(metrics,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// classifyError maps an error to a low-cardinality label value.
func classifyError(err error) string {
	return strings.ToLower(string(errors.CodeOf(err)))
}
