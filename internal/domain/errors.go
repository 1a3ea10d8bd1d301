package domain

import "errors"

var (
	ErrNotAnImage     = errors.New("file is not an image")
	ErrPhotoTooLarge  = errors.New("photo exceeds size ceiling")
	ErrEmptyCatalog   = errors.New("no products in catalog payload")
	ErrResultNotFound = errors.New("upstream did not return an image")
	ErrSessionGone    = errors.New("session not found")
	ErrStaleRequest   = errors.New("superseded by a newer request")
)

// ErrorKind classifies a workflow failure for retry and display decisions.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindGatewayUnreachable ErrorKind = "gateway_unreachable"
	KindUpstreamStatus     ErrorKind = "upstream_status"
	KindNormalizationEmpty ErrorKind = "normalization_empty"
	KindResultNotFound     ErrorKind = "result_not_found"
)

// ErrorInfo is the failure record carried on the workflow state. Detail holds
// the raw technical cause and is only exposed in diagnostic builds.
type ErrorInfo struct {
	Kind   ErrorKind `json:"kind"`
	Status int       `json:"status,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Retryable reports whether retrying the failed operation can succeed.
// Validation failures need a different file instead.
func (e *ErrorInfo) Retryable() bool {
	return e != nil && e.Kind != KindValidation
}
