package connector

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies a failed call.
type ErrorKind string

const (
	// InvalidInput means the request was rejected before any network I/O.
	InvalidInput ErrorKind = "invalid_input"
	// NetworkError covers DNS, connection, TLS, redirect loops and any other
	// transport fault.
	NetworkError ErrorKind = "network_error"
	// Timeout means the deadline expired before a response arrived.
	Timeout ErrorKind = "timeout"
	// HTTPError means the server answered with a 4xx or 5xx status.
	HTTPError ErrorKind = "http_error"
)

// Result is the outcome of one call: either *Success or *Failure.
type Result interface {
	// OK reports whether the result is a *Success.
	OK() bool
	// Target is the fully built URL, empty when input validation failed
	// before a URL could be constructed.
	Target() string

	sealed()
}

// Success is a completed HTTP exchange with a 1xx, 2xx or 3xx status.
type Success struct {
	StatusCode int
	Headers    http.Header

	// Body holds the decoded JSON value when the response is JSON and parsed
	// cleanly, otherwise nil.
	Body any
	// Raw is the response body as received.
	Raw []byte
	// ParseFailed is set when the response claimed JSON but did not parse.
	ParseFailed bool
	// Truncated is set when the body exceeded the connector's read limit.
	Truncated bool

	URL      string
	Duration time.Duration
}

func (s *Success) OK() bool       { return true }
func (s *Success) Target() string { return s.URL }
func (s *Success) sealed()        {}

// Text returns the raw body as a string.
func (s *Success) Text() string { return string(s.Raw) }

// MarshalJSON renders the success the way tool callers consume it.
func (s *Success) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"status":      "success",
		"status_code": s.StatusCode,
		"url":         s.URL,
		"headers":     flattenHeaders(s.Headers),
		"duration_ms": s.Duration.Milliseconds(),
	}
	if s.Body != nil {
		out["body"] = s.Body
	} else {
		out["body"] = string(s.Raw)
	}
	if s.ParseFailed {
		out["parse_failed"] = true
	}
	if s.Truncated {
		out["truncated"] = true
	}
	return json.Marshal(out)
}

// Failure is a call that did not produce a successful exchange. It is a
// value returned to the caller, never a panic.
type Failure struct {
	Kind ErrorKind
	// StatusCode is set for HTTPError, zero otherwise.
	StatusCode int
	Message    string
	Cause      error
	URL        string
}

func (f *Failure) OK() bool       { return false }
func (f *Failure) Target() string { return f.URL }
func (f *Failure) sealed()        {}

// Error makes a Failure usable wherever an error is expected, for logging.
func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap returns the underlying transport error, if any.
func (f *Failure) Unwrap() error { return f.Cause }

// UserMessage renders the failure for end users, e.g. "Error 404: Not Found".
func (f *Failure) UserMessage() string {
	switch f.Kind {
	case HTTPError:
		return "Error " + f.Message
	case Timeout:
		return "Error: the request timed out"
	case NetworkError:
		return "Error: could not reach the API (" + f.Message + ")"
	default:
		return "Error: " + f.Message
	}
}

// MarshalJSON renders the failure the way tool callers consume it.
func (f *Failure) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"status":  "failure",
		"kind":    f.Kind,
		"message": f.Message,
		"summary": f.UserMessage(),
	}
	if f.StatusCode != 0 {
		out["status_code"] = f.StatusCode
	}
	if f.URL != "" {
		out["url"] = f.URL
	}
	if f.Cause != nil {
		out["cause"] = f.Cause.Error()
	}
	return json.Marshal(out)
}

func invalidInput(format string, args ...any) *Failure {
	return &Failure{Kind: InvalidInput, Message: fmt.Sprintf(format, args...)}
}

func httpFailure(url string, status int, reason string) *Failure {
	if reason == "" {
		reason = http.StatusText(status)
	}
	return &Failure{
		Kind:       HTTPError,
		StatusCode: status,
		Message:    fmt.Sprintf("%d: %s", status, reason),
		URL:        url,
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}
