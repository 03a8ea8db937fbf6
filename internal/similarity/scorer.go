// Package similarity scores feature vectors and keeps the best K candidates.
package similarity

import (
	"fmt"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/domain"
)

// ErrDimensionMismatch marks a candidate whose vector length differs from the
// query vector.
var ErrDimensionMismatch = domain.CandidateCorruption("vector dimension mismatch", nil)

// Vector is a fixed-length feature vector. Stored and extracted vectors are
// L2-normalized, so their dot product is their cosine similarity.
type Vector []float64

// Score returns the dot product of query and candidate. Callers must ensure
// equal lengths (see Compatible); Score does not normalize or clamp.
func Score(query, candidate Vector) float64 {
	var dot float64
	for i := range query {
		dot += query[i] * candidate[i]
	}
	return dot
}

// Compatible checks that candidate can be scored against query.
func Compatible(query, candidate Vector) error {
	if len(query) != len(candidate) {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, len(query), len(candidate))
	}
	return nil
}
