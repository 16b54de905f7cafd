package artifact

import (
	"math"

	"github.com/scttfrdmn/modelserve/pkg/errors"
)

// Kind names the model family stored in an envelope.
type Kind string

const (
	KindLinear   Kind = "linear"
	KindLogistic Kind = "logistic"
	KindSoftmax  Kind = "softmax"
)

// Envelope is the persisted form of an artifact. Linear and logistic
// models carry a single weight row and bias; softmax models carry one row
// and one bias per class. Classes optionally labels softmax outputs.
type Envelope struct {
	Kind    Kind        `json:"kind"`
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
	Classes []float64   `json:"classes,omitempty"`
}

// Widther is implemented by predictors that know how many features they
// expect.
type Widther interface {
	InputWidth() int
}

// Build validates env and returns the predictor it describes.
func Build(env Envelope) (Predictor, error) {
	if len(env.Weights) == 0 {
		return nil, errors.New(errors.ErrCodeCorruptArtifact, "artifact has no weights")
	}
	width := len(env.Weights[0])
	if width == 0 {
		return nil, errors.New(errors.ErrCodeCorruptArtifact, "artifact has an empty weight row")
	}
	for i, row := range env.Weights {
		if len(row) != width {
			return nil, errors.Newf(errors.ErrCodeCorruptArtifact,
				"weight row %d has %d values, want %d", i, len(row), width)
		}
	}
	if len(env.Bias) != len(env.Weights) {
		return nil, errors.Newf(errors.ErrCodeCorruptArtifact,
			"artifact has %d bias values for %d weight rows", len(env.Bias), len(env.Weights))
	}

	switch env.Kind {
	case KindLinear:
		if len(env.Weights) != 1 {
			return nil, errors.New(errors.ErrCodeCorruptArtifact, "linear artifact must have one weight row")
		}
		return &Linear{weights: env.Weights[0], bias: env.Bias[0]}, nil
	case KindLogistic:
		if len(env.Weights) != 1 {
			return nil, errors.New(errors.ErrCodeCorruptArtifact, "logistic artifact must have one weight row")
		}
		return &Logistic{Linear{weights: env.Weights[0], bias: env.Bias[0]}}, nil
	case KindSoftmax:
		if len(env.Weights) < 2 {
			return nil, errors.New(errors.ErrCodeCorruptArtifact, "softmax artifact needs at least two classes")
		}
		if env.Classes != nil && len(env.Classes) != len(env.Weights) {
			return nil, errors.Newf(errors.ErrCodeCorruptArtifact,
				"softmax artifact has %d class labels for %d classes", len(env.Classes), len(env.Weights))
		}
		return &Softmax{weights: env.Weights, bias: env.Bias, classes: env.Classes}, nil
	case "":
		return nil, errors.New(errors.ErrCodeCorruptArtifact, "artifact kind is missing")
	default:
		return nil, errors.Newf(errors.ErrCodeCorruptArtifact, "unknown artifact kind %q", env.Kind)
	}
}

// Linear computes y = w·x + b.
type Linear struct {
	weights []float64
	bias    float64
}

// InputWidth implements Widther.
func (l *Linear) InputWidth() int { return len(l.weights) }

// Predict implements Predictor.
func (l *Linear) Predict(features []float64) ([]float64, error) {
	z, err := l.score(features)
	if err != nil {
		return nil, err
	}
	return []float64{z}, nil
}

func (l *Linear) score(features []float64) (float64, error) {
	if err := checkWidth(features, len(l.weights)); err != nil {
		return 0, err
	}
	return dot(l.weights, features) + l.bias, nil
}

// Logistic is a binary classifier thresholded at 0.5.
type Logistic struct {
	Linear
}

// Predict implements Predictor.
func (l *Logistic) Predict(features []float64) ([]float64, error) {
	p, err := l.positive(features)
	if err != nil {
		return nil, err
	}
	if p >= 0.5 {
		return []float64{1}, nil
	}
	return []float64{0}, nil
}

// PredictProba implements ProbabilisticPredictor and returns [P(0), P(1)].
func (l *Logistic) PredictProba(features []float64) ([]float64, error) {
	p, err := l.positive(features)
	if err != nil {
		return nil, err
	}
	return []float64{1 - p, p}, nil
}

func (l *Logistic) positive(features []float64) (float64, error) {
	z, err := l.score(features)
	if err != nil {
		return 0, err
	}
	return 1 / (1 + math.Exp(-z)), nil
}

// Softmax is a multi-class classifier.
type Softmax struct {
	weights [][]float64
	bias    []float64
	classes []float64
}

// InputWidth implements Widther.
func (s *Softmax) InputWidth() int { return len(s.weights[0]) }

// Predict implements Predictor. It returns the label of the most likely
// class, or its index when the artifact has no labels.
func (s *Softmax) Predict(features []float64) ([]float64, error) {
	probs, err := s.PredictProba(features)
	if err != nil {
		return nil, err
	}
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	if s.classes != nil {
		return []float64{s.classes[best]}, nil
	}
	return []float64{float64(best)}, nil
}

// PredictProba implements ProbabilisticPredictor.
func (s *Softmax) PredictProba(features []float64) ([]float64, error) {
	if err := checkWidth(features, s.InputWidth()); err != nil {
		return nil, err
	}
	logits := make([]float64, len(s.weights))
	peak := math.Inf(-1)
	for i, row := range s.weights {
		logits[i] = dot(row, features) + s.bias[i]
		peak = math.Max(peak, logits[i])
	}
	var sum float64
	for i, z := range logits {
		logits[i] = math.Exp(z - peak)
		sum += logits[i]
	}
	for i := range logits {
		logits[i] /= sum
	}
	return logits, nil
}

func checkWidth(features []float64, want int) error {
	if len(features) != want {
		return errors.Newf(errors.ErrCodeInvalidInput,
			"expected %d features, got %d", want, len(features)).
			WithDetail("expected", want).
			WithDetail("got", len(features))
	}
	return nil
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
