package connector

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	m, ok := ParseMethod(" patch ")
	assert.True(t, ok)
	assert.Equal(t, PATCH, m)

	_, ok = ParseMethod("UPDATE")
	assert.False(t, ok)
}

func TestParams_UnmarshalKeepsDocumentOrder(t *testing.T) {
	var params Params
	require.NoError(t, json.Unmarshal([]byte(`{"zeta":"1","alpha":2,"mid":true}`), &params))

	require.Len(t, params, 3)
	assert.Equal(t, "zeta", params[0].Name)
	assert.Equal(t, "alpha", params[1].Name)
	assert.Equal(t, json.Number("2"), params[1].Value)
	assert.Equal(t, "mid", params[2].Name)

	data, err := json.Marshal(params)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":"1","alpha":2,"mid":true}`, string(data))
}

func TestParams_UnmarshalRejectsNonObject(t *testing.T) {
	var params Params
	assert.Error(t, json.Unmarshal([]byte(`["a","b"]`), &params))

	params = Params{{Name: "x"}}
	require.NoError(t, json.Unmarshal([]byte(`null`), &params))
	assert.Nil(t, params)
}

func TestParamsFromMap_SortsKeys(t *testing.T) {
	params := ParamsFromMap(map[string]any{"b": 2, "a": 1, "c": 3})
	assert.Equal(t, Params{{Name: "a", Value: 1}, {Name: "b", Value: 2}, {Name: "c", Value: 3}}, params)
	assert.Nil(t, ParamsFromMap(nil))
}

func TestParams_AddDoesNotAlias(t *testing.T) {
	base := make(Params, 1, 4)
	base[0] = Param{Name: "a", Value: 1}

	first := base.Add("b", 2)
	second := base.Add("c", 3)

	assert.Equal(t, "b", first[1].Name)
	assert.Equal(t, "c", second[1].Name)
	assert.Len(t, base, 1)
}

func TestRequest_JSONTimeout(t *testing.T) {
	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{
		"base_url": "https://api.example.com",
		"method": "POST",
		"path": "/orders",
		"query_params": {"dry_run": true, "currency": "EUR"},
		"body": {"sku": "A1"},
		"timeout_ms": 1500
	}`), &req))

	assert.Equal(t, 1500*time.Millisecond, req.Timeout)
	assert.Equal(t, POST, req.Method)
	assert.Equal(t, "dry_run", req.QueryParams[0].Name)
	assert.Equal(t, "currency", req.QueryParams[1].Name)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"timeout_ms":1500`)
}

func TestRequest_HasBody(t *testing.T) {
	assert.False(t, Request{}.hasBody())
	assert.False(t, Request{Body: ""}.hasBody())
	assert.False(t, Request{Body: []byte{}}.hasBody())
	assert.True(t, Request{Body: map[string]any{}}.hasBody())
	assert.True(t, Request{Body: 0}.hasBody())
}
