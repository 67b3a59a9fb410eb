package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for search service failures.
var (
	// ErrTransport means the call itself did not complete: connection refused,
	// client-side timeout, cancelled context, or a proxy giving up on the
	// upstream. The remote computation may still be running.
	ErrTransport = errors.New("search service unreachable")
	// ErrProtocol means a response arrived but did not have the expected shape.
	ErrProtocol = errors.New("unexpected response from search service")
)

// ApplicationError is an explicit failure reported by the search service.
// Message is surfaced to users verbatim.
type ApplicationError struct {
	StatusCode int
	Message    string
}

func (e *ApplicationError) Error() string { return e.Message }

func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

func IsProtocol(err error) bool { return errors.Is(err, ErrProtocol) }

func IsApplication(err error) bool {
	var ae *ApplicationError
	return errors.As(err, &ae)
}

// UserMessage returns the text to show a user for err: the service's own
// message for application errors, a generic one otherwise.
func UserMessage(err error) string {
	var ae *ApplicationError
	switch {
	case errors.As(err, &ae):
		return ae.Message
	case errors.Is(err, ErrProtocol):
		return ErrProtocol.Error()
	case errors.Is(err, ErrTransport):
		return ErrTransport.Error()
	case err == nil:
		return ""
	default:
		return err.Error()
	}
}

func protocolError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}
