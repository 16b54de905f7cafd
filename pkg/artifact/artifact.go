// Package artifact defines the in-memory model capabilities served by the
// cache, the metadata that describes them, and the on-disk envelope format.
package artifact

import (
	"maps"
)

// Unknown is the value reported for metadata fields absent from the sidecar.
const Unknown = "unknown"

// Predictor is the single compute capability every loaded artifact exposes.
type Predictor interface {
	Predict(features []float64) ([]float64, error)
}

// ProbabilisticPredictor is implemented by artifacts that can also report a
// class probability distribution. Callers type-assert for it; its absence
// means no probabilities are available.
type ProbabilisticPredictor interface {
	Predictor
	PredictProba(features []float64) ([]float64, error)
}

// Document is a decoded sidecar metadata file. A nil Document is valid and
// means no sidecar exists.
type Document map[string]any

// Metadata is the structured form of a sidecar document.
type Metadata struct {
	Version     string         `json:"version"`
	Type        string         `json:"type"`
	InputShape  *int           `json:"input_shape"`
	OutputShape *int           `json:"output_shape"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// DefaultMetadata returns metadata with every field at its default.
func DefaultMetadata() Metadata {
	return Metadata{Version: Unknown, Type: Unknown}
}

// Clone returns a deep copy of m, so the copy can be handed to callers
// without exposing the cached original.
func (m Metadata) Clone() Metadata {
	out := m
	if m.InputShape != nil {
		v := *m.InputShape
		out.InputShape = &v
	}
	if m.OutputShape != nil {
		v := *m.OutputShape
		out.OutputShape = &v
	}
	if m.Extra != nil {
		out.Extra = maps.Clone(m.Extra)
	}
	return out
}
