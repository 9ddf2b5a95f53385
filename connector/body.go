package connector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"

	"github.com/spf13/cast"
)

const contentTypeJSON = "application/json"

// encodeBody serializes body according to contentType.
func encodeBody(body any, contentType string) ([]byte, error) {
	mediaType := mediaTypeOf(contentType)

	switch {
	case isJSONMediaType(mediaType):
		if raw, ok := body.(json.RawMessage); ok {
			if !json.Valid(raw) {
				return nil, fmt.Errorf("body is not valid JSON")
			}
			return raw, nil
		}
		return json.Marshal(body)

	case mediaType == "application/x-www-form-urlencoded":
		switch b := body.(type) {
		case string:
			return []byte(b), nil
		case map[string]any:
			form := url.Values{}
			for k, v := range b {
				s, err := queryValue(v)
				if err != nil {
					return nil, fmt.Errorf("form field %q: %w", k, err)
				}
				form.Set(k, s)
			}
			return []byte(form.Encode()), nil
		case map[string]string:
			form := url.Values{}
			for k, v := range b {
				form.Set(k, v)
			}
			return []byte(form.Encode()), nil
		}
		return nil, fmt.Errorf("form body must be an object or string, got %T", body)

	default:
		switch b := body.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
		s, err := cast.ToStringE(body)
		if err != nil {
			return nil, fmt.Errorf("cannot send %T as %s", body, mediaType)
		}
		return []byte(s), nil
	}
}

// readBody reads at most limit bytes and reports whether more were available.
func readBody(r io.Reader, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		data, err := io.ReadAll(r)
		return data, false, err
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// decodeBody parses raw as JSON when the response declares a JSON content
// type. The boolean reports a parse failure of a body that claimed JSON.
func decodeBody(raw []byte, contentType string) (any, bool) {
	if !isJSONMediaType(mediaTypeOf(contentType)) || len(bytes.TrimSpace(raw)) == 0 {
		return nil, false
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, true
	}
	if dec.More() {
		return nil, true
	}
	return v, false
}

func mediaTypeOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mediaType
}

func isJSONMediaType(mediaType string) bool {
	return mediaType == contentTypeJSON || strings.HasSuffix(mediaType, "+json")
}
