package llm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of generation and grading calls.
type ErrorKind string

const (
	// KindConfiguration means the client is missing required settings. No call was made.
	KindConfiguration ErrorKind = "configuration"
	// KindTransport means the HTTP call to the service failed.
	KindTransport ErrorKind = "transport"
	// KindEmptyResponse means the service answered with no content.
	KindEmptyResponse ErrorKind = "empty_response"
	// KindContractViolation means the content did not match the expected JSON contract.
	KindContractViolation ErrorKind = "contract_violation"
)

// ErrMissingAPIKey is wrapped by configuration errors when no credential is set.
var ErrMissingAPIKey = errors.New("API key is not configured")

// ErrNoJSONObject is wrapped by contract violations when the text holds no JSON object.
var ErrNoJSONObject = errors.New("no JSON object found in response")

// Error is returned by every Client operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func contractViolation(op string, err error) error {
	return &Error{Kind: KindContractViolation, Op: op, Err: err}
}
