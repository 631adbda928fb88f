package sipua

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed indicates the user agent has been destroyed.
	ErrClosed = errors.New("user agent closed")

	// ErrNoAnswer indicates an outbound call was not answered in time.
	ErrNoAnswer = errors.New("no answer")

	// ErrNoResponse indicates a transaction ended without a final response.
	ErrNoResponse = errors.New("no final response")
)

// ResponseError is a final SIP failure response.
type ResponseError struct {
	Method string
	Code   int
	Reason string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s failed: %d %s", e.Method, e.Code, e.Reason)
}

// IsAuthFailure reports whether err is a rejected-credentials response.
func IsAuthFailure(err error) bool {
	var re *ResponseError
	return errors.As(err, &re) && (re.Code == 401 || re.Code == 403 || re.Code == 407)
}
