// Package errs defines the error kinds shared by the comic and VK clients.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteUnavailable reports a transport failure or a non-2xx status.
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrMalformedResponse reports a successful response lacking an expected field.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrFilesystem reports a failure to create the scratch directory or write a file.
	ErrFilesystem = errors.New("filesystem error")
)

// RemoteAPIError is an explicit error returned by the VK API envelope.
type RemoteAPIError struct {
	Method  string
	Code    int
	Message string
}

func (e *RemoteAPIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: API error %d: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: API error: %s", e.Method, e.Message)
}

// HTTPStatus returns an ErrRemoteUnavailable for a response status outside 2xx.
func HTTPStatus(status string) error {
	return fmt.Errorf("%w: HTTP error: %s", ErrRemoteUnavailable, status)
}
