// Package classify maps an execution outcome (a result or a client
// error) to exactly one terminal presentation case. Pure function, no
// I/O; a shape matching none of the cases is a defect here, never a
// silent success.
package classify

import (
	"errors"

	apperrors "valueprop-client/internal/common/errors"
	"valueprop-client/internal/models"
)

var ErrUnclassifiable = errors.New("UNCLASSIFIABLE_RESULT")

type Kind int

const (
	// KindApproved renders the full value-proposition view.
	KindApproved Kind = iota
	// KindRejected renders the self-check rejection reason and offers
	// "edit input" or "retry with a different provider". This is a data
	// outcome, not an error.
	KindRejected
	// KindProviderError renders the literal server-provided message and
	// offers a manual retry. Never retried automatically.
	KindProviderError
	// KindNetworkError renders a connection-lost notification. Only the
	// transport variant is retried automatically.
	KindNetworkError
)

func (k Kind) String() string {
	switch k {
	case KindApproved:
		return "approved"
	case KindRejected:
		return "rejected"
	case KindProviderError:
		return "provider_error"
	case KindNetworkError:
		return "network_error"
	}
	return "unknown"
}

// Outcome is one settled presentation case.
type Outcome struct {
	Kind    Kind
	Result  *models.WorkflowResult // set for result-derived cases
	Message string                 // the literal text to surface
	Err     error                  // the underlying error, for error-derived cases

	// AutoRetry is true only for transport failures, where the request
	// never completed. Server responses, however broken, are never
	// retried without the user asking.
	AutoRetry bool
}

// Classify settles one execution. Exactly one of result and callErr is
// expected; a nil result with a nil error is a defect.
func Classify(result *models.WorkflowResult, callErr error) (*Outcome, error) {
	if callErr != nil {
		return classifyError(callErr)
	}
	if result == nil {
		return nil, ErrUnclassifiable
	}

	if result.Success && result.Approved() {
		return &Outcome{Kind: KindApproved, Result: result}, nil
	}

	// Rejection wins over a populated error field when both are present:
	// the rejection reason is the more specific message.
	if !result.Success && result.SelfCheck != nil && !result.SelfCheck.Approved &&
		result.SelfCheck.RejectionReason != nil && *result.SelfCheck.RejectionReason != "" {
		return &Outcome{
			Kind:    KindRejected,
			Result:  result,
			Message: *result.SelfCheck.RejectionReason,
		}, nil
	}

	if !result.Success && result.Error != nil && *result.Error != "" {
		return &Outcome{
			Kind:    KindProviderError,
			Result:  result,
			Message: *result.Error,
		}, nil
	}

	return nil, ErrUnclassifiable
}

func classifyError(callErr error) (*Outcome, error) {
	if apperrors.IsTransport(callErr) {
		return &Outcome{
			Kind:      KindNetworkError,
			Message:   callErr.Error(),
			Err:       callErr,
			AutoRetry: true,
		}, nil
	}

	// A response that arrived but could not be decoded is presented as a
	// connection problem, though it is not retried automatically.
	if apperrors.IsDecode(callErr) {
		return &Outcome{
			Kind:    KindNetworkError,
			Message: callErr.Error(),
			Err:     callErr,
		}, nil
	}

	if he, ok := apperrors.AsHTTP(callErr); ok {
		return &Outcome{
			Kind:    KindProviderError,
			Message: he.Message,
			Err:     callErr,
		}, nil
	}

	return nil, ErrUnclassifiable
}
