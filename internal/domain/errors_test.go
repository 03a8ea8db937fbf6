package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := StoreFailure("fetch products", errors.New("connection refused"))
	assert.Equal(t, "[store_failure] fetch products: connection refused", err.Error())

	bare := InvalidRequest("category is required", nil)
	assert.Equal(t, "[invalid_request] category is required", bare.Error())
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := fmt.Errorf("match: %w", UpstreamFailure("extract features", cause))

	assert.Equal(t, KindUpstreamFailure, KindOf(err))
	assert.True(t, Is(err, KindUpstreamFailure))
	assert.False(t, Is(err, KindStoreFailure))
	assert.ErrorIs(t, err, cause)
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, Is(nil, KindInvalidRequest))
}
