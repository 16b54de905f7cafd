package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/scttfrdmn/modelserve/internal/store"
	"github.com/scttfrdmn/modelserve/pkg/artifact"
	"github.com/scttfrdmn/modelserve/pkg/errors"
	"github.com/scttfrdmn/modelserve/pkg/health"
)

const maxBodyBytes = 10 << 20

// PredictionRequest is the body of POST /predict.
type PredictionRequest struct {
	Features  []float64      `json:"features"`
	ModelName string         `json:"model_name,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// PredictionResponse is a successful prediction.
type PredictionResponse struct {
	Prediction       []float64 `json:"prediction"`
	Probability      []float64 `json:"probability,omitempty"`
	ModelName        string    `json:"model_name"`
	ModelVersion     string    `json:"model_version"`
	ProcessingTimeMs float64   `json:"processing_time_ms"`
	RequestID        string    `json:"request_id"`
}

// BatchError is a failed item in a batch prediction.
type BatchError struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	StatusCode int    `json:"status_code"`
}

// BatchResponse holds one result per request, in order. Each element is a
// *PredictionResponse or a *BatchError.
type BatchResponse struct {
	Results []any `json:"results"`
}

// ModelInfo is the body of GET /models/{id}/info.
type ModelInfo struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Type        string         `json:"type"`
	InputShape  *int           `json:"input_shape"`
	OutputShape *int           `json:"output_shape"`
	LoadedAt    time.Time      `json:"loaded_at"`
	Metadata    map[string]any `json:"metadata"`
}

// Health endpoint handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	state := health.StateHealthy
	var components map[string]*health.ComponentHealth
	if s.health != nil {
		state = s.health.GetOverallHealth()
		components = s.health.GetAllComponents()
	}

	response := map[string]any{
		"status":          state.String(),
		"version":         s.config.Version,
		"uptime_seconds":  s.now().Sub(s.started).Seconds(),
		"models_loaded":   s.models.List(),
		"memory_usage_mb": float64(m.Sys) / (1024 * 1024),
		"timestamp":       s.now().UTC(),
	}
	if components != nil {
		response["components"] = components
	}

	statusCode := http.StatusOK
	switch state {
	case health.StateUnavailable:
		statusCode = http.StatusServiceUnavailable
	case health.StateDegraded:
		statusCode = http.StatusPartialContent
	}

	s.respondJSON(w, statusCode, response)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"alive":     true,
		"timestamp": s.now().UTC(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !s.models.Ready() {
		s.respondError(w, errors.New(errors.ErrCodeServiceUnavailable, "service not ready: no models loaded"))
		return
	}
	if s.health != nil && s.health.GetOverallHealth() == health.StateUnavailable {
		s.respondError(w, errors.New(errors.ErrCodeServiceUnavailable, "service not ready: dependencies unavailable"))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// Model management handlers

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	available, err := s.models.Available(r.Context())
	s.track(err)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"loaded_models":    s.models.List(),
		"available_models": available,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.models.Stats())
}

func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.models.Load(r.Context(), id); err != nil {
		s.track(err)
		s.logger.Warn("model load failed", zap.String("model", id), zap.Error(err))
		s.respondError(w, err)
		return
	}
	s.track(nil)
	s.respondJSON(w, http.StatusOK, map[string]any{
		"message":    fmt.Sprintf("Model %s loaded", id),
		"model_name": id,
		"loaded":     true,
	})
}

func (s *Server) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := store.ValidateID(id); err != nil {
		s.respondError(w, err)
		return
	}
	if !s.models.Unload(id) {
		s.respondError(w, errors.Newf(errors.ErrCodeNotFound, "model %s not loaded", id))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Model %s unloaded", id),
	})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.models.Get(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	extra := rec.Metadata.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	s.respondJSON(w, http.StatusOK, ModelInfo{
		Name:        id,
		Version:     rec.Metadata.Version,
		Type:        rec.Metadata.Type,
		InputShape:  rec.Metadata.InputShape,
		OutputShape: rec.Metadata.OutputShape,
		LoadedAt:    rec.LoadedAt,
		Metadata:    extra,
	})
}

// Prediction handlers

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	s.recorder.RecordPredictionRequest("predict")

	var req PredictionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.recorder.RecordPredictionError(err)
		s.respondError(w, err)
		return
	}

	resp, err := s.predict(r.Context(), req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	s.recorder.RecordPredictionRequest("predict_batch")

	var reqs []PredictionRequest
	if err := decodeBody(w, r, &reqs); err != nil {
		s.recorder.RecordPredictionError(err)
		s.respondError(w, err)
		return
	}
	if s.config.MaxBatchSize > 0 && len(reqs) > s.config.MaxBatchSize {
		err := errors.Newf(errors.ErrCodeInvalidInput, "batch of %d exceeds the limit of %d", len(reqs), s.config.MaxBatchSize).
			WithDetail("max_batch_size", s.config.MaxBatchSize)
		s.recorder.RecordPredictionError(err)
		s.respondError(w, err)
		return
	}

	results := make([]any, 0, len(reqs))
	for _, req := range reqs {
		resp, err := s.predict(r.Context(), req)
		if err != nil {
			body := s.errorBody(err)
			results = append(results, &BatchError{
				Error:      body.Error,
				Code:       body.Code,
				StatusCode: errors.HTTPStatusOf(err),
			})
			continue
		}
		results = append(results, resp)
	}
	s.respondJSON(w, http.StatusOK, BatchResponse{Results: results})
}

// predict serves one request against a resident model. Models are not
// loaded on demand.
func (s *Server) predict(ctx context.Context, req PredictionRequest) (*PredictionResponse, error) {
	start := s.now()
	requestID := RequestID(ctx)

	name := req.ModelName
	if name == "" {
		name = s.config.DefaultModel
	}

	resp, err := s.run(name, req.Features)
	if err != nil {
		s.recorder.RecordPredictionError(err)
		s.logger.Warn("prediction failed",
			zap.String("request_id", requestID),
			zap.String("model", name),
			zap.Error(err))
		return nil, err
	}

	elapsed := s.now().Sub(start)
	resp.ModelName = name
	resp.ProcessingTimeMs = float64(elapsed.Microseconds()) / 1000
	resp.RequestID = requestID

	s.recorder.RecordPrediction(name, elapsed)
	s.logger.Info("prediction completed",
		zap.String("request_id", requestID),
		zap.String("model", name),
		zap.Float64("processing_time_ms", resp.ProcessingTimeMs))
	return resp, nil
}

func (s *Server) run(name string, features []float64) (*PredictionResponse, error) {
	rec, err := s.models.Get(name)
	if err != nil {
		return nil, err
	}
	if err := artifact.ValidateInput(features, rec.Metadata.InputShape); err != nil {
		return nil, err
	}

	prediction, err := rec.Predictor.Predict(features)
	if err != nil {
		return nil, predictionError(err, name)
	}

	resp := &PredictionResponse{
		Prediction:   prediction,
		ModelVersion: rec.Metadata.Version,
	}
	if pp, ok := rec.Predictor.(artifact.ProbabilisticPredictor); ok {
		proba, err := pp.PredictProba(features)
		if err != nil {
			return nil, predictionError(err, name)
		}
		resp.Probability = proba
	}
	return resp, nil
}

func predictionError(err error, model string) error {
	var e *errors.Error
	if errors.As(err, &e) {
		return err
	}
	return errors.Wrap(errors.ErrCodeInternalError, err, "prediction failed").
		WithComponent("api").
		WithOperation("predict").
		WithDetail("model", model)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return errors.New(errors.ErrCodeInvalidInput, "request body is empty")
		}
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid request body")
	}
	if dec.More() {
		return errors.New(errors.ErrCodeInvalidInput, "request body has trailing data")
	}
	return nil
}
