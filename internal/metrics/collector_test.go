package metrics

import (
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/scttfrdmn/modelserve/pkg/errors"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(&Config{Enabled: true, Namespace: "ml_api", Path: "/metrics"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v, want nil", err)
	}
	return c
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with valid config", func(t *testing.T) {
		c := newTestCollector(t)
		if c.registry == nil {
			t.Error("collector.registry is nil")
		}
		if !c.Enabled() {
			t.Error("collector should be enabled")
		}
	})

	t.Run("with nil config uses defaults", func(t *testing.T) {
		c, err := NewCollector(nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v, want nil", err)
		}
		if c.config.Namespace != "ml_api" {
			t.Errorf("default namespace = %q, want %q", c.config.Namespace, "ml_api")
		}
		if c.config.Path != "/metrics" {
			t.Errorf("default path = %q, want %q", c.config.Path, "/metrics")
		}
	})

	t.Run("collectors do not share a registry", func(t *testing.T) {
		a := newTestCollector(t)
		b := newTestCollector(t)
		a.ObserveEviction("m")
		if got := testutil.ToFloat64(b.modelEvictions); got != 0 {
			t.Errorf("second collector evictions = %v, want 0", got)
		}
	})
}

func TestDisabledCollector(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewCollector() error = %v, want nil", err)
	}
	if c.Registry() != nil {
		t.Error("disabled collector should not have a registry")
	}

	// None of these may panic on nil metrics.
	c.RecordPredictionRequest("predict")
	c.RecordPrediction("m", time.Millisecond)
	c.RecordPredictionError(errors.ErrNotFound)
	c.RecordRequest(http.MethodGet, "/models", 200, time.Millisecond)
	c.ObserveLoad("m", time.Millisecond, nil)
	c.ObserveLookup("m", true)
	c.ObserveEviction("m")
	c.ObserveResident(3)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("disabled handler status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestCacheObserver(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	c.ObserveLoad("a", 20*time.Millisecond, nil)
	c.ObserveLoad("b", 5*time.Millisecond, errors.New(errors.ErrCodeCorruptArtifact, "bad"))
	c.ObserveLookup("a", true)
	c.ObserveLookup("a", true)
	c.ObserveLookup("z", false)
	c.ObserveEviction("a")
	c.ObserveResident(2)

	if got := testutil.ToFloat64(c.modelLoads.WithLabelValues("success")); got != 1 {
		t.Errorf("successful loads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.modelLoads.WithLabelValues("corrupt_artifact")); got != 1 {
		t.Errorf("corrupt loads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.cacheLookups.WithLabelValues("hit")); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.cacheLookups.WithLabelValues("miss")); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.modelEvictions); got != 1 {
		t.Errorf("evictions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.modelsLoaded); got != 2 {
		t.Errorf("models loaded = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(c.modelLoadDuration); got != 1 {
		t.Errorf("load duration series = %d, want 1", got)
	}
}

func TestPredictionMetrics(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	c.RecordPredictionRequest("predict")
	c.RecordPredictionRequest("predict_batch")
	c.RecordPrediction("churn", 2*time.Millisecond)
	c.RecordPrediction("churn", 3*time.Millisecond)
	c.RecordPredictionError(errors.ErrInvalidInput)
	c.RecordPredictionError(stderrors.New("boom"))

	if got := testutil.ToFloat64(c.predictionRequests.WithLabelValues("predict")); got != 1 {
		t.Errorf("predict requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.predictions.WithLabelValues("churn")); got != 2 {
		t.Errorf("churn predictions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.predictionErrors.WithLabelValues("invalid_input")); got != 1 {
		t.Errorf("invalid_input errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.predictionErrors.WithLabelValues("internal_error")); got != 1 {
		t.Errorf("internal_error errors = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)
	c.ObserveResident(4)
	c.RecordRequest(http.MethodPost, "/predict", 200, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("handler status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"ml_api_models_loaded_total 4",
		`ml_api_http_requests_total{method="POST",route="/predict",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{errors.ErrNotFound, "not_found"},
		{errors.Wrap(errors.ErrCodeStorageRead, stderrors.New("disk"), "read failed"), "storage_read"},
		{errors.ErrTimeout, "operation_timeout"},
		{stderrors.New("plain"), "internal_error"},
	}
	for _, tt := range tests {
		if got := classifyError(tt.err); got != tt.want {
			t.Errorf("classifyError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
