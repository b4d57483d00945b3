package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// StatusError reports a response outside the success range.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d for %s", e.Code, e.URL)
}

// ErrTimeout indicates a timeout or abort while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrServer indicates a 5xx response.
type ErrServer struct {
	Err error
}

func (e ErrServer) Error() string {
	return fmt.Errorf("server: %w", e.Err).Error()
}

func (e ErrServer) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing resource (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrStatus indicates any other non-success response.
type ErrStatus struct {
	Err error
}

func (e ErrStatus) Error() string {
	return fmt.Errorf("status: %w", e.Err).Error()
}

func (e ErrStatus) Unwrap() error {
	return e.Err
}

// transientMarkers are substrings of errors surfaced by browsers and proxies
// that do not carry a typed cause.
var transientMarkers = []string{
	"connection reset",
	"broken pipe",
	"connection refused",
	"timed out",
	"timeout",
	"net::err_",
	"unexpected eof",
}

// temporary is implemented by renderer errors that know they can be retried,
// such as a crashed browser session that will be recreated.
type temporary interface {
	Temporary() bool
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var timeout ErrTimeout
	var conn ErrConnection
	if errors.As(err, &timeout) || errors.As(err, &conn) {
		return err
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code >= http.StatusInternalServerError:
			return ErrServer{Err: err}
		case statusErr.Code == http.StatusRequestTimeout:
			return ErrTimeout{Err: err}
		case statusErr.Code == http.StatusTooManyRequests:
			return ErrRateLimited{Err: err}
		case statusErr.Code == http.StatusForbidden:
			return ErrForbidden{Err: err}
		case statusErr.Code == http.StatusNotFound:
			return ErrNotFound{Err: err}
		default:
			return ErrStatus{Err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrConnection{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	var tmp temporary
	if errors.As(err, &tmp) && tmp.Temporary() {
		return ErrConnection{Err: err}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			if strings.Contains(marker, "time") {
				return ErrTimeout{Err: err}
			}
			return ErrConnection{Err: err}
		}
	}
	return err
}

// IsTransient reports whether err is likely to succeed on retry.
func IsTransient(err error) bool {
	classified := classifyError(err)
	if classified == nil {
		return false
	}
	var timeout ErrTimeout
	var conn ErrConnection
	var server ErrServer
	var rateLimited ErrRateLimited
	return errors.As(classified, &timeout) ||
		errors.As(classified, &conn) ||
		errors.As(classified, &server) ||
		errors.As(classified, &rateLimited)
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var server ErrServer
	if errors.As(err, &server) {
		return "server"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var status ErrStatus
	if errors.As(err, &status) {
		return "status"
	}
	return "other"
}
