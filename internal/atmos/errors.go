// v2
// internal/atmos/errors.go
package atmos

import (
	"errors"
	"fmt"
)

// NetworkError wraps transport-level failures: the request never
// completed or the upstream answered with a non-OK status.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("atmos network failure for %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError wraps shape-level failures: the body arrived but is not
// the JSON array the contract promises.
type ParseError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("atmos parse failure for %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("atmos parse failure for %s: %s", e.URL, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is (or wraps) a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsParse reports whether err is (or wraps) a ParseError.
func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
