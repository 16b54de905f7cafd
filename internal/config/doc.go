/*
Package config loads the model service configuration.

Settings are layered, later sources overriding earlier ones:

	┌─────────────────────────────────────────────┐
	│          Command-line flags                 │ ← Highest Priority
	│        (applied by cmd/modelserve)          │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Environment Variables                │
	│   (MODELSERVE_*, then MODEL_PATH, PORT...)  │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# File format

	global:
	  log_level: INFO
	  log_format: json
	  default_model: default
	server:
	  address: 0.0.0.0:8000
	  read_timeout: 10s
	  write_timeout: 30s
	  enable_cors: true
	models:
	  path: /app/models
	  extension: .model
	  codec: json
	  cache_size: 10
	  load_timeout: 300s
	  warmup: true
	  warmup_concurrency: 4
	  read_attempts: 3    # local store reads, STORAGE_READ only
	storage:
	  backend: local      # or s3
	  s3:
	    bucket: ml-models
	    prefix: prod/
	metrics:
	  enabled: true
	  namespace: ml_api

# Environment

Every variable is read with the MODELSERVE_ prefix first and then without
it, so deployments that set MODEL_PATH, MODEL_CACHE_SIZE, MODEL_TIMEOUT
(seconds), DEFAULT_MODEL, LOG_LEVEL, HOST, PORT, STORAGE_BACKEND,
AWS_BUCKET or ENABLE_METRICS keep working. Malformed numeric or boolean
values are reported as INVALID_CONFIG errors rather than ignored.

# Validation

Validate rejects a non-positive cache size with CAPACITY_MISCONFIGURED
and every other inconsistency (unknown codec or backend, an s3 backend
without a bucket, an unknown log level) with INVALID_CONFIG.
*/
package config
