package connector

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"github.com/yosida95/uritemplate/v3"
)

// BuildURL validates the base URL and path template of req and returns the
// final URL with path placeholders substituted and the query appended.
// It performs no I/O.
func BuildURL(req Request) (string, error) {
	base, err := parseBaseURL(req.BaseURL)
	if err != nil {
		return "", err
	}

	path, err := expandPath(req.Path, req.PathParams)
	if err != nil {
		return "", err
	}

	query, err := encodeQuery(req.QueryParams)
	if err != nil {
		return "", err
	}

	full := joinURL(base, path)
	if query != "" {
		full += "?" + query
	}
	return full, nil
}

// parseBaseURL checks that raw is an absolute http(s) URL with a host and
// returns it without a trailing slash.
func parseBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("base URL is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("base URL %q is not a valid URL: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("base URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base URL %q has no host", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("base URL %q must not carry a query or fragment", raw)
	}

	return strings.TrimRight(raw, "/"), nil
}

// expandPath substitutes every {placeholder} in path. Placeholder names are
// taken literally, as OpenAPI allows any parameter name. Each value is
// percent-encoded, so a value can never introduce extra path segments.
func expandPath(path string, params map[string]string) (string, error) {
	aliased, names, err := scanPlaceholders(path)
	if err != nil {
		return "", err
	}

	tmpl, err := uritemplate.New(aliased)
	if err != nil {
		return "", fmt.Errorf("path %q is not a valid template: %w", path, err)
	}

	values := uritemplate.Values{}
	var missing []string
	for i, name := range names {
		value, ok := params[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		values.Set(placeholderAlias(i), uritemplate.String(value))
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing path parameters: %s", strings.Join(missing, ", "))
	}

	expanded, err := tmpl.Expand(values)
	if err != nil {
		return "", fmt.Errorf("expand path %q: %w", path, err)
	}
	return expanded, nil
}

// PathPlaceholders returns the placeholder names found in path, in order of
// first appearance.
func PathPlaceholders(path string) ([]string, error) {
	_, names, err := scanPlaceholders(path)
	return names, err
}

// scanPlaceholders replaces each {name} in path with a template-safe alias
// and returns the rewritten path with the distinct names. The alias of
// names[i] is placeholderAlias(i).
func scanPlaceholders(path string) (string, []string, error) {
	var (
		b     strings.Builder
		names []string
		index = map[string]int{}
	)

	rest := path
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])

		end := strings.IndexByte(rest[open+1:], '}')
		if end < 0 {
			return "", nil, fmt.Errorf("path %q has an unclosed placeholder", path)
		}
		name := rest[open+1 : open+1+end]
		if name == "" || strings.ContainsRune(name, '{') {
			return "", nil, fmt.Errorf("path %q has an invalid placeholder %q", path, "{"+name+"}")
		}

		i, seen := index[name]
		if !seen {
			i = len(names)
			index[name] = i
			names = append(names, name)
		}
		b.WriteString("{" + placeholderAlias(i) + "}")
		rest = rest[open+end+2:]
	}

	return b.String(), names, nil
}

func placeholderAlias(i int) string {
	return "p" + strconv.Itoa(i)
}

func encodeQuery(params Params) (string, error) {
	if len(params) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(params))
	for _, p := range params {
		if p.Name == "" {
			return "", fmt.Errorf("query parameter with empty name")
		}
		value, err := queryValue(p.Value)
		if err != nil {
			return "", fmt.Errorf("query parameter %q: %w", p.Name, err)
		}
		parts = append(parts, url.QueryEscape(p.Name)+"="+url.QueryEscape(value))
	}
	return strings.Join(parts, "&"), nil
}

// queryValue renders strings, numbers and booleans. Structured values are
// rejected since there is no single agreed encoding for them.
func queryValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case json.Number:
		return val.String(), nil
	case map[string]any, []any:
		return "", fmt.Errorf("must be a string, number or boolean, got %T", v)
	}
	return cast.ToStringE(v)
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(path, "/")
}
