package reconcile

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/tphakala/birdid/internal/errors"
)

// probabilityTolerance absorbs float rounding in classifier output.
const probabilityTolerance = 1e-6

// Prediction is one class from an image classifier.
type Prediction struct {
	ClassID     string  `json:"classId"`
	Probability float64 `json:"probability"` // [0, 1]
}

// Classifier identifies species in an image. Implementations must be
// deterministic per input and return probabilities summing to at most 1.
type Classifier interface {
	Classify(ctx context.Context, image io.Reader) ([]Prediction, error)
}

// CandidatesFromPredictions converts probabilities into candidates with
// percentage confidences.
func CandidatesFromPredictions(preds []Prediction) ([]Candidate, error) {
	var sum float64
	out := make([]Candidate, 0, len(preds))
	for _, p := range preds {
		if math.IsNaN(p.Probability) || p.Probability < 0 || p.Probability > 1 {
			return nil, invalidPredictions(fmt.Sprintf("probability %v for %q outside [0, 1]", p.Probability, p.ClassID))
		}
		sum += p.Probability
		out = append(out, Candidate{SpeciesID: p.ClassID, RawConfidence: p.Probability * 100})
	}
	if sum > 1+probabilityTolerance {
		return nil, invalidPredictions(fmt.Sprintf("probabilities sum to %.6f", sum))
	}
	return out, nil
}

func invalidPredictions(msg string) error {
	return errors.Newf("invalid classifier output: %s", msg).
		Component("reconcile").
		Category(errors.CategoryValidation).
		Build()
}
