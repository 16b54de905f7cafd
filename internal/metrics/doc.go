/*
Package metrics exports model service metrics to Prometheus.

The Collector owns a private registry, so several collectors can coexist
in one process (tests create one each). It implements cache.Observer and is
handed to the cache with cache.WithMetrics; the HTTP API records
prediction and request metrics on it directly.

	┌─────────────┐
	│  Collector  │  ← cache.Observer + API recorder
	└──────┬──────┘
	       │
	┌──────▼───────┐         ┌─────────────────┐
	│  Prometheus  │────────▶│  GET /metrics   │
	│   Registry   │         │  (promhttp)     │
	└──────────────┘         └─────────────────┘

Metric names use the configured namespace, ml_api by default:

	ml_api_prediction_requests_total{endpoint}
	ml_api_prediction_errors_total{error_type}
	ml_api_prediction_duration_seconds
	ml_api_predictions_total{model_name}
	ml_api_models_loaded_total
	ml_api_model_load_duration_seconds
	ml_api_model_loads_total{result}
	ml_api_model_evictions_total
	ml_api_cache_lookups_total{result}
	ml_api_http_requests_total{method,route,status}
	ml_api_http_request_duration_seconds{method,route}

Error labels are the lower-cased error code, for example not_found or
corrupt_artifact.
*/
package metrics
