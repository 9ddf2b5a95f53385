package openapi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/paulgrammer/smartapi-connect/connector"
)

// Lookup finds the operation for method and path. path may be the template
// as written in the document ("/pets/{id}") or a concrete path ("/pets/42").
func (d *Document) Lookup(method connector.Method, path string) (Operation, bool) {
	method, ok := connector.ParseMethod(string(method))
	if !ok {
		return Operation{}, false
	}
	path = normalizePath(path)

	for _, op := range d.operations {
		if op.Method == method && normalizePath(op.Path) == path {
			return op, true
		}
	}
	for _, op := range d.operations {
		if op.Method == method && matchTemplate(normalizePath(op.Path), path) {
			return op, true
		}
	}
	return Operation{}, false
}

func normalizePath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	p = "/" + strings.Trim(p, "/")
	return p
}

// matchTemplate matches concrete against template segment by segment;
// a {placeholder} segment matches any non-empty segment.
func matchTemplate(template, concrete string) bool {
	ts := strings.Split(template, "/")
	cs := strings.Split(concrete, "/")
	if len(ts) != len(cs) {
		return false
	}
	for i := range ts {
		if strings.HasPrefix(ts[i], "{") && strings.HasSuffix(ts[i], "}") {
			if cs[i] == "" {
				return false
			}
			continue
		}
		if ts[i] != cs[i] {
			return false
		}
	}
	return true
}

// Catalog renders one line per operation, e.g.
//
//	GET /pets/{id} (getPet): Find pet by ID [path: id*; query: fields]
//
// Required parameters carry a trailing '*'.
func (d *Document) Catalog() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", d.Title())
	if d.Info.Version != "" {
		fmt.Fprintf(&b, " (version %s)", d.Info.Version)
	}
	b.WriteString("\n")
	if u, ok := d.ServerURL(); ok {
		fmt.Fprintf(&b, "Server: %s\n", u)
	}

	for _, op := range d.operations {
		b.WriteString(op.String())
		if op.OperationID != "" {
			fmt.Fprintf(&b, " (%s)", op.OperationID)
		}
		if text := firstNonEmpty(op.Summary, op.Description); text != "" {
			fmt.Fprintf(&b, ": %s", oneLine(text))
		}
		if params := describeParameters(op); params != "" {
			fmt.Fprintf(&b, " [%s]", params)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// PromptText returns the document for inclusion in a prompt: the raw JSON
// when it fits in limit bytes, otherwise the catalog. A limit of zero or
// less always returns the raw JSON.
func (d *Document) PromptText(limit int) string {
	if limit <= 0 || len(d.raw) <= limit {
		return string(d.raw)
	}
	return d.Catalog()
}

func describeParameters(op Operation) string {
	groups := make(map[string][]string)
	for _, p := range op.Parameters {
		if p.Name == "" {
			continue
		}
		name := p.Name
		if p.Required || p.In == "path" {
			name += "*"
		}
		groups[p.In] = append(groups[p.In], name)
	}
	if op.RequestBody != nil {
		types := make([]string, 0, len(op.RequestBody.Content))
		for ct := range op.RequestBody.Content {
			types = append(types, ct)
		}
		sort.Strings(types)
		label := "body"
		if op.RequestBody.Required {
			label += "*"
		}
		if len(types) > 0 {
			label += " " + strings.Join(types, ",")
		}
		groups["body"] = append(groups["body"], label)
	}

	var parts []string
	for _, in := range []string{"path", "query", "header", "cookie", "body"} {
		names := groups[in]
		if len(names) == 0 {
			continue
		}
		if in == "body" {
			parts = append(parts, strings.Join(names, ", "))
			continue
		}
		parts = append(parts, in+": "+strings.Join(names, ", "))
	}
	return strings.Join(parts, "; ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
