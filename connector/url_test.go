package connector

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{
			name: "plain path",
			req:  Request{BaseURL: "https://api.example.com", Path: "/pets"},
			want: "https://api.example.com/pets",
		},
		{
			name: "trailing slash on base and missing slash on path",
			req:  Request{BaseURL: "https://api.example.com/", Path: "pets"},
			want: "https://api.example.com/pets",
		},
		{
			name: "base with prefix",
			req:  Request{BaseURL: "https://api.example.com/v1", Path: "/pets/{id}", PathParams: map[string]string{"id": "9"}},
			want: "https://api.example.com/v1/pets/9",
		},
		{
			name: "placeholder value is encoded",
			req:  Request{BaseURL: "http://localhost:8080", Path: "/files/{name}", PathParams: map[string]string{"name": "a b/c"}},
			want: "http://localhost:8080/files/a%20b%2Fc",
		},
		{
			name: "query keeps insertion order",
			req: Request{
				BaseURL:     "https://api.example.com",
				Path:        "/search",
				QueryParams: Params{{Name: "q", Value: "red shoes"}, {Name: "limit", Value: 10}, {Name: "exact", Value: false}},
			},
			want: "https://api.example.com/search?q=red+shoes&limit=10&exact=false",
		},
		{
			name: "empty path",
			req:  Request{BaseURL: "https://api.example.com"},
			want: "https://api.example.com",
		},
		{
			name: "placeholder names are taken literally",
			req: Request{
				BaseURL:    "https://api.example.com",
				Path:       "/pets/{pet-id}/tags/{tag name}",
				PathParams: map[string]string{"pet-id": "7", "tag name": "small"},
			},
			want: "https://api.example.com/pets/7/tags/small",
		},
		{
			name: "repeated placeholder",
			req:  Request{BaseURL: "https://api.example.com", Path: "/a/{id}/b/{id}", PathParams: map[string]string{"id": "3"}},
			want: "https://api.example.com/a/3/b/3",
		},
		{
			name: "extra path params are ignored",
			req:  Request{BaseURL: "https://api.example.com", Path: "/pets", PathParams: map[string]string{"unused": "x"}},
			want: "https://api.example.com/pets",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildURL(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildURL_Errors(t *testing.T) {
	_, err := BuildURL(Request{BaseURL: "https://api.example.com", Path: "/a/{x}/b/{y}", PathParams: map[string]string{"x": "1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing path parameters: y")

	_, err = BuildURL(Request{BaseURL: "https://api.example.com", Path: "/a/{x", PathParams: map[string]string{"x": "1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unclosed placeholder")

	_, err = BuildURL(Request{BaseURL: "https://api.example.com", Path: "/a/{}"})
	assert.Error(t, err)

	_, err = BuildURL(Request{BaseURL: "https://api.example.com#frag"})
	assert.Error(t, err)

	_, err = BuildURL(Request{BaseURL: "https://"})
	assert.Error(t, err)

	_, err = BuildURL(Request{BaseURL: "https://api.example.com", QueryParams: Params{{Name: "", Value: "x"}}})
	assert.Error(t, err)
}

func TestPathPlaceholders(t *testing.T) {
	names, err := PathPlaceholders("/users/{user_id}/orders/{order_id}")
	require.NoError(t, err)
	assert.Equal(t, []string{"user_id", "order_id"}, names)

	names, err = PathPlaceholders("/pets/{pet-id}/{pet-id}/{x.y}")
	require.NoError(t, err)
	assert.Equal(t, []string{"pet-id", "x.y"}, names)

	names, err = PathPlaceholders("/health")
	require.NoError(t, err)
	assert.Empty(t, names)
}

var (
	segmentValue = rapid.StringMatching(`[A-Za-z0-9 _.~!$&'()*+,;=:@/?#%-]{1,20}`)
	paramName    = rapid.StringMatching(`[a-z][a-z_-]{0,7}`)
)

func TestBuildURL_PathValuesRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		value := segmentValue.Draw(t, "value")

		got, err := BuildURL(Request{
			BaseURL:    "https://api.example.com",
			Path:       "/items/{id}",
			PathParams: map[string]string{"id": value},
		})
		if err != nil {
			t.Fatalf("BuildURL: %v", err)
		}

		encoded := strings.TrimPrefix(got, "https://api.example.com/items/")
		if strings.ContainsAny(encoded, "/?#") {
			t.Fatalf("value %q escaped its segment: %s", value, got)
		}
		decoded, err := url.PathUnescape(encoded)
		if err != nil {
			t.Fatalf("unescape %q: %v", encoded, err)
		}
		if decoded != value {
			t.Fatalf("got %q, want %q", decoded, value)
		}
	})
}

func TestBuildURL_AnyPlaceholderName(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := paramName.Draw(t, "name")
		value := segmentValue.Draw(t, "value")

		got, err := BuildURL(Request{
			BaseURL:    "https://api.example.com",
			Path:       "/items/{" + name + "}/detail",
			PathParams: map[string]string{name: value},
		})
		if err != nil {
			t.Fatalf("BuildURL with placeholder %q: %v", name, err)
		}

		encoded := strings.TrimSuffix(strings.TrimPrefix(got, "https://api.example.com/items/"), "/detail")
		decoded, err := url.PathUnescape(encoded)
		if err != nil || decoded != value {
			t.Fatalf("got %q (%v), want %q", decoded, err, value)
		}
	})
}

func TestBuildURL_SingleSlashJoin(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.SampledFrom([]string{"", "/v1", "/api/v2"}).Draw(t, "prefix")
		trailing := rapid.Bool().Draw(t, "trailing")
		leading := rapid.Bool().Draw(t, "leading")
		segments := rapid.SliceOfN(paramName, 1, 4).Draw(t, "segments")

		base := "https://api.example.com" + prefix
		if trailing {
			base += "/"
		}
		path := strings.Join(segments, "/")
		if leading {
			path = "/" + path
		}

		got, err := BuildURL(Request{BaseURL: base, Path: path})
		if err != nil {
			t.Fatalf("BuildURL: %v", err)
		}
		want := "https://api.example.com" + prefix + "/" + strings.Join(segments, "/")
		if got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	})
}

func TestBuildURL_QueryOrderPreserved(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "n")
		var params Params
		for i := 0; i < n; i++ {
			params = params.Add(paramName.Draw(t, "name"), segmentValue.Draw(t, "value"))
		}

		got, err := BuildURL(Request{BaseURL: "https://api.example.com", Path: "/q", QueryParams: params})
		if err != nil {
			t.Fatalf("BuildURL: %v", err)
		}

		_, rawQuery, found := strings.Cut(got, "?")
		if !found {
			t.Fatalf("no query in %q", got)
		}
		pairs := strings.Split(rawQuery, "&")
		if len(pairs) != len(params) {
			t.Fatalf("got %d pairs, want %d", len(pairs), len(params))
		}
		for i, pair := range pairs {
			name, value, _ := strings.Cut(pair, "=")
			name, _ = url.QueryUnescape(name)
			value, _ = url.QueryUnescape(value)
			if name != params[i].Name || value != params[i].Value {
				t.Fatalf("pair %d: got %s=%s, want %s=%v", i, name, value, params[i].Name, params[i].Value)
			}
		}
	})
}
