// Package openapi decodes uploaded OpenAPI documents and exposes the
// operations they describe in a compact, prompt-friendly form.
package openapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/paulgrammer/smartapi-connect/connector"
)

// DecodeError reports bytes that are not a JSON object.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid OpenAPI document: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is (or wraps) a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Info contains API metadata.
type Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// Server represents an API server.
type Server struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Parameter represents an operation parameter.
type Parameter struct {
	Name        string          `json:"name"`
	In          string          `json:"in"` // query, path, header, cookie, body (Swagger 2.0)
	Description string          `json:"description,omitempty"`
	Required    bool            `json:"required,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Type        string          `json:"type,omitempty"`
}

// RequestBody represents a request body.
type RequestBody struct {
	Description string                     `json:"description,omitempty"`
	Required    bool                       `json:"required,omitempty"`
	Content     map[string]json.RawMessage `json:"content,omitempty"`
}

// Operation is one method on one path.
type Operation struct {
	Method      connector.Method `json:"method"`
	Path        string           `json:"path"`
	OperationID string           `json:"operationId,omitempty"`
	Summary     string           `json:"summary,omitempty"`
	Description string           `json:"description,omitempty"`
	Parameters  []Parameter      `json:"parameters,omitempty"`
	RequestBody *RequestBody     `json:"requestBody,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
}

// String renders the operation as "GET /pets/{id}".
func (o Operation) String() string {
	return string(o.Method) + " " + o.Path
}

// Document is a decoded OpenAPI (3.x) or Swagger (2.0) document. It is
// read-only once decoded.
type Document struct {
	Version string
	Info    Info
	Servers []Server

	raw        []byte
	operations []Operation
}

type rawDocument struct {
	OpenAPI  string                                `json:"openapi"`
	Swagger  string                                `json:"swagger"`
	Info     json.RawMessage                       `json:"info"`
	Servers  json.RawMessage                       `json:"servers"`
	Host     string                                `json:"host"`
	BasePath string                                `json:"basePath"`
	Schemes  []string                              `json:"schemes"`
	Paths    map[string]map[string]json.RawMessage `json:"paths"`
}

// Decode parses data. Any JSON object is accepted; sections that do not
// match the OpenAPI shape are skipped rather than rejected, so a loosely
// written document still loads.
func Decode(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &DecodeError{Err: errors.New("document is empty")}
	}
	if !json.Valid(trimmed) {
		var v any
		err := json.Unmarshal(trimmed, &v)
		if err == nil {
			err = errors.New("malformed JSON")
		}
		return nil, &DecodeError{Err: err}
	}
	if trimmed[0] != '{' {
		return nil, &DecodeError{Err: errors.New("document must be a JSON object")}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &top); err != nil {
		return nil, &DecodeError{Err: err}
	}

	doc := &Document{raw: append([]byte(nil), trimmed...)}

	var rd rawDocument
	decodeField(top, "openapi", &rd.OpenAPI)
	decodeField(top, "swagger", &rd.Swagger)
	decodeField(top, "host", &rd.Host)
	decodeField(top, "basePath", &rd.BasePath)
	decodeField(top, "schemes", &rd.Schemes)
	decodeField(top, "info", &doc.Info)
	decodeField(top, "servers", &doc.Servers)
	decodeField(top, "paths", &rd.Paths)

	doc.Version = rd.OpenAPI
	if doc.Version == "" {
		doc.Version = rd.Swagger
	}
	if len(doc.Servers) == 0 && rd.Host != "" {
		scheme := "https"
		if len(rd.Schemes) > 0 {
			scheme = rd.Schemes[0]
		}
		doc.Servers = []Server{{URL: scheme + "://" + rd.Host + strings.TrimRight(rd.BasePath, "/")}}
	}

	doc.operations = collectOperations(rd.Paths)
	return doc, nil
}

func decodeField(top map[string]json.RawMessage, key string, dst any) {
	if raw, ok := top[key]; ok {
		_ = json.Unmarshal(raw, dst)
	}
}

func collectOperations(paths map[string]map[string]json.RawMessage) []Operation {
	var ops []Operation
	for path, item := range paths {
		var shared []Parameter
		if raw, ok := item["parameters"]; ok {
			_ = json.Unmarshal(raw, &shared)
		}

		for key, raw := range item {
			method, ok := connector.ParseMethod(key)
			if !ok {
				continue
			}
			var op Operation
			if err := json.Unmarshal(raw, &op); err != nil {
				continue
			}
			op.Method = method
			op.Path = path
			op.Parameters = mergeParameters(shared, op.Parameters)
			ops = append(ops, op)
		}
	}

	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Path != ops[j].Path {
			return ops[i].Path < ops[j].Path
		}
		return methodRank(ops[i].Method) < methodRank(ops[j].Method)
	})
	return ops
}

// mergeParameters applies operation-level parameters over path-level ones,
// keyed by name and location.
func mergeParameters(shared, own []Parameter) []Parameter {
	if len(shared) == 0 {
		return own
	}
	out := make([]Parameter, 0, len(shared)+len(own))
	seen := make(map[string]bool, len(own))
	for _, p := range own {
		seen[p.In+":"+p.Name] = true
	}
	for _, p := range shared {
		if !seen[p.In+":"+p.Name] {
			out = append(out, p)
		}
	}
	return append(out, own...)
}

func methodRank(m connector.Method) int {
	for i, candidate := range connector.Methods {
		if candidate == m {
			return i
		}
	}
	return len(connector.Methods)
}

// Raw returns the document bytes as uploaded, minus surrounding whitespace.
func (d *Document) Raw() []byte {
	return d.raw
}

// Operations returns every operation sorted by path, then method.
func (d *Document) Operations() []Operation {
	return append([]Operation(nil), d.operations...)
}

// Title returns the API title, or "Untitled API".
func (d *Document) Title() string {
	if d.Info.Title == "" {
		return "Untitled API"
	}
	return d.Info.Title
}

// ServerURL returns the first absolute server URL declared by the document.
func (d *Document) ServerURL() (string, bool) {
	for _, s := range d.Servers {
		if strings.HasPrefix(s.URL, "http://") || strings.HasPrefix(s.URL, "https://") {
			return strings.TrimRight(s.URL, "/"), true
		}
	}
	return "", false
}
