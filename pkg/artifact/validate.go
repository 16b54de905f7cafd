package artifact

import (
	"math"

	"github.com/scttfrdmn/modelserve/pkg/errors"
)

// ValidateInput checks a feature vector before it reaches a predictor.
// expected is the declared input width, or nil when the metadata has none.
func ValidateInput(features []float64, expected *int) error {
	if len(features) == 0 {
		return errors.New(errors.ErrCodeInvalidInput, "features must not be empty")
	}
	for i, f := range features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.Newf(errors.ErrCodeInvalidInput, "feature %d is not a finite number", i).
				WithDetail("index", i)
		}
	}
	if expected != nil && len(features) != *expected {
		return errors.New(errors.ErrCodeInvalidInput, "invalid input shape").
			WithDetail("expected", *expected).
			WithDetail("got", len(features))
	}
	return nil
}
