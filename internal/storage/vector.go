package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/similarity"
)

// ErrMalformedVector marks a stored feature vector that cannot be parsed.
var ErrMalformedVector = domain.CandidateCorruption("malformed feature vector", nil)

// ParseVector decodes a feature vector stored as a JSON number array,
// e.g. "[0.12, -0.03, ...]". Empty arrays and null components are malformed.
func ParseVector(raw string) (similarity.Vector, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedVector)
	}
	var components []*float64
	if err := json.Unmarshal([]byte(raw), &components); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVector, err)
	}
	if len(components) == 0 {
		return nil, fmt.Errorf("%w: no components", ErrMalformedVector)
	}
	v := make(similarity.Vector, len(components))
	for i, c := range components {
		if c == nil {
			return nil, fmt.Errorf("%w: null component at index %d", ErrMalformedVector, i)
		}
		v[i] = *c
	}
	return v, nil
}

// EncodeVector serializes a feature vector for the feature_vector column.
func EncodeVector(v similarity.Vector) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode vector: %w", err)
	}
	return string(data), nil
}
