// Package domain holds the error taxonomy shared by the catalog services.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how far its effect reaches.
type Kind string

const (
	// KindInvalidRequest covers missing or malformed client input.
	KindInvalidRequest Kind = "invalid_request"
	// KindUpstreamFailure covers the feature extractor being unreachable,
	// timing out, or answering with an unusable shape.
	KindUpstreamFailure Kind = "upstream_failure"
	// KindStoreFailure covers errors from the product data source.
	KindStoreFailure Kind = "store_failure"
	// KindCandidateCorruption covers a single unusable candidate row.
	// It is recovered locally and never reaches a client.
	KindCandidateCorruption Kind = "candidate_corruption"
)

// Error is a classified error with context.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

func InvalidRequest(message string, err error) *Error {
	return NewError(KindInvalidRequest, message, err)
}

func UpstreamFailure(message string, err error) *Error {
	return NewError(KindUpstreamFailure, message, err)
}

func StoreFailure(message string, err error) *Error {
	return NewError(KindStoreFailure, message, err)
}

func CandidateCorruption(message string, err error) *Error {
	return NewError(KindCandidateCorruption, message, err)
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or an empty Kind when there is none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
