package types

import (
	"fmt"

	"github.com/juju/errors"
)

var (
	_ error = &ValidationError{}
	_ error = &TransportError{}
	_ error = &APIError{}
)

type ValidationCode string

const (
	DuplicateBlockID ValidationCode = "DuplicateBlockId"
	UnknownBlock     ValidationCode = "UnknownBlock"
	NoStarterBlock   ValidationCode = "NoStarterBlock"
	InvalidGraph     ValidationCode = "InvalidGraph"
)

/**
 * ValidationError is raised while a workflow is being built or checked,
 * never while it is executing.
 */
type ValidationError struct {
	Code ValidationCode
	Msg  string
}

func NewValidationErrorf(code ValidationCode, format string, args ...interface{}) error {
	return &ValidationError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func IsValidationError(err error, codes ...ValidationCode) bool {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, code := range codes {
		if ve.Code == code {
			return true
		}
	}
	return false
}

type baseError struct {
	BaseErr error
}

func (e *baseError) Error() string {
	return e.BaseErr.Error()
}

func (e *baseError) Unwrap() error {
	return e.BaseErr
}

/**
 * TransportError means the request never produced a usable response:
 * the connection failed, the call timed out or was aborted. Callers
 * decide whether to retry.
 */
type TransportError struct {
	*baseError
	Op       string
	timedOut bool
}

func NewTransportError(op string, otherErr error, timedOut bool) error {
	return &TransportError{baseError: &baseError{otherErr}, Op: op, timedOut: timedOut}
}

func (e *TransportError) Error() string {
	if e.timedOut {
		return fmt.Sprintf("%s: request timed out: %v", e.Op, e.BaseErr)
	}
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.BaseErr)
}

func (e *TransportError) Timeout() bool {
	return e.timedOut
}

func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Timeout()
}

// APIError is a non-2xx response that carried no execution payload.
type APIError struct {
	Status  int
	Body    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Body)
}

func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
