package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// StatusError is implemented by errors that carry an HTTP-like status.
type StatusError interface {
	error
	HTTPStatus() int
}

// IsServerError reports whether err carries a 5xx status anywhere in its chain.
func IsServerError(err error) bool {
	var se StatusError
	if !errors.As(err, &se) {
		return false
	}
	status := se.HTTPStatus()
	return status >= 500 && status <= 599
}

// IsClientError reports whether err carries a 4xx status anywhere in its chain.
func IsClientError(err error) bool {
	var se StatusError
	if !errors.As(err, &se) {
		return false
	}
	status := se.HTTPStatus()
	return status >= 400 && status <= 499
}

// IsNetworkError reports whether err is a timeout or a connection failure.
// Cancellation is never a network error. Deadline errors count as timeouts;
// Policy.Do stops on its own context before classifying.
func IsNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
