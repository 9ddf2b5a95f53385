package connector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
	"time"
)

// Method is an HTTP verb accepted by the connector.
type Method string

// Recognized HTTP methods. Anything else is rejected before any network I/O.
const (
	GET     Method = http.MethodGet     // For retrieving information
	POST    Method = http.MethodPost    // For creating resources or sending data
	PUT     Method = http.MethodPut     // For replacing entire resources
	PATCH   Method = http.MethodPatch   // For partial updates
	DELETE  Method = http.MethodDelete  // For removing resources
	HEAD    Method = http.MethodHead    // Headers only
	OPTIONS Method = http.MethodOptions // Capability discovery
)

// Methods lists every recognized method in a stable order.
var Methods = []Method{GET, POST, PUT, PATCH, DELETE, HEAD, OPTIONS}

// ParseMethod normalizes m to upper case and reports whether it is recognized.
func ParseMethod(m string) (Method, bool) {
	method := Method(strings.ToUpper(strings.TrimSpace(m)))
	return method, slices.Contains(Methods, method)
}

// Param is a single query parameter. Value holds a string, number, or boolean.
type Param struct {
	Name  string
	Value any
}

// Params is an ordered list of query parameters. Order is preserved when the
// query string is encoded.
type Params []Param

// ParamsFromMap builds Params from an unordered map. Keys are sorted so the
// resulting query string is reproducible.
func ParamsFromMap(m map[string]any) Params {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := make(Params, 0, len(keys))
	for _, k := range keys {
		params = append(params, Param{Name: k, Value: m[k]})
	}
	return params
}

// Add returns a copy of p with name=value appended.
func (p Params) Add(name string, value any) Params {
	out := make(Params, len(p), len(p)+1)
	copy(out, p)
	return append(out, Param{Name: name, Value: value})
}

// MarshalJSON encodes the params as a JSON object in insertion order.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, param := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(param.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(param.Value)
		if err != nil {
			return nil, fmt.Errorf("query parameter %q: %w", param.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping the document's key order.
func (p *Params) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("query parameters must be a JSON object")
	}

	var params Params
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)

		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("query parameter %q: %w", name, err)
		}
		params = append(params, Param{Name: name, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*p = params
	return nil
}

// Request describes exactly one HTTP call. The connector treats it as
// read-only: none of its maps or slices are modified.
type Request struct {
	// BaseURL is the absolute http(s) URL every path is joined to.
	// It may carry a path prefix such as https://api.example.com/v1.
	BaseURL string `json:"base_url"`

	// Path is appended to BaseURL. Placeholders in curly braces
	// ("/users/{user_id}") are substituted from PathParams.
	Path string `json:"path"`

	Method Method `json:"method"`

	PathParams  map[string]string `json:"path_params,omitempty"`
	QueryParams Params            `json:"query_params,omitempty"`

	// Headers are merged over the connector's default headers.
	Headers map[string]string `json:"headers,omitempty"`

	// Body is any JSON-compatible value. Strings and byte slices are sent
	// as-is when the content type is not JSON.
	Body any `json:"body,omitempty"`

	// Timeout bounds the whole exchange. Zero selects the connector default.
	Timeout time.Duration `json:"-"`
}

type requestJSON struct {
	BaseURL     string            `json:"base_url"`
	Path        string            `json:"path"`
	Method      Method            `json:"method"`
	PathParams  map[string]string `json:"path_params,omitempty"`
	QueryParams Params            `json:"query_params,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        any               `json:"body,omitempty"`
	TimeoutMS   int64             `json:"timeout_ms,omitempty"`
}

// MarshalJSON encodes the timeout as timeout_ms.
func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(requestJSON{
		BaseURL:     r.BaseURL,
		Path:        r.Path,
		Method:      r.Method,
		PathParams:  r.PathParams,
		QueryParams: r.QueryParams,
		Headers:     r.Headers,
		Body:        r.Body,
		TimeoutMS:   r.Timeout.Milliseconds(),
	})
}

// UnmarshalJSON decodes timeout_ms into Timeout.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw requestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Request{
		BaseURL:     raw.BaseURL,
		Path:        raw.Path,
		Method:      raw.Method,
		PathParams:  raw.PathParams,
		QueryParams: raw.QueryParams,
		Headers:     raw.Headers,
		Body:        raw.Body,
		Timeout:     time.Duration(raw.TimeoutMS) * time.Millisecond,
	}
	return nil
}

// hasBody reports whether a request body should be sent.
func (r Request) hasBody() bool {
	switch b := r.Body.(type) {
	case nil:
		return false
	case string:
		return b != ""
	case []byte:
		return len(b) > 0
	default:
		return true
	}
}
