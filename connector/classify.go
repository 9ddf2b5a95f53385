package connector

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"
)

// classify maps a transport error to a Failure. ctx is the caller's context,
// used to tell a caller cancellation apart from the call's own deadline.
func classify(ctx context.Context, target string, err error) *Failure {
	f := &Failure{Kind: NetworkError, Cause: err, URL: target}

	switch {
	case isTimeout(err):
		f.Kind = Timeout
		f.Message = "request timed out"
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		f.Message = "request cancelled"
	case isDNSError(err):
		f.Message = "DNS resolution failed"
	case isTLSError(err):
		f.Message = "TLS handshake failed"
	case isRedirectLoop(err):
		f.Message = "too many redirects"
	case isConnectionError(err):
		f.Message = "connection failed"
	default:
		f.Message = "transport failure"
	}
	return f
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isDNSError(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isTLSError(err error) bool {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &unknownAuth) {
		return true
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return true
	}
	return strings.Contains(err.Error(), "tls:")
}

// isRedirectLoop matches the error net/http returns once its redirect
// budget is spent.
func isRedirectLoop(err error) bool {
	var limitErr errTooManyRedirects
	if errors.As(err, &limitErr) {
		return true
	}
	return strings.Contains(err.Error(), "stopped after") && strings.Contains(err.Error(), "redirects")
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable")
}
