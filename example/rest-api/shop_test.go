package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulgrammer/smartapi-connect/connector"
	"github.com/paulgrammer/smartapi-connect/openapi"
)

func TestShop_DocumentMatchesRoutes(t *testing.T) {
	doc, err := openapi.Decode(openAPIDocument)
	require.NoError(t, err)
	assert.Equal(t, "Demo Shop API", doc.Title())
	require.Len(t, doc.Operations(), 6)

	srv := httptest.NewServer(NewShop().Routes())
	defer srv.Close()

	conn := connector.New()
	for _, op := range doc.Operations() {
		path := strings.NewReplacer("{id}", "missing").Replace(op.Path)
		req := connector.Request{BaseURL: srv.URL + "/api", Path: path, Method: op.Method}
		if op.RequestBody != nil {
			req.Body = map[string]any{}
		}

		result := conn.Call(context.Background(), req)
		if f, failed := result.(*connector.Failure); failed {
			assert.NotEqual(t, http.StatusMethodNotAllowed, f.StatusCode, op.String())
			assert.Equal(t, connector.HTTPError, f.Kind, op.String())
		}
	}
}

func TestShop_Orders(t *testing.T) {
	srv := httptest.NewServer(NewShop().Routes())
	defer srv.Close()
	conn := connector.New()

	result := conn.Call(context.Background(), connector.Request{
		BaseURL: srv.URL + "/api",
		Path:    "/orders",
		Method:  connector.POST,
		Body: map[string]any{
			"customer_name":    "Ada",
			"express_shipping": true,
			"items":            []map[string]any{{"product_id": "prod002", "quantity": 2}},
		},
	})
	require.True(t, result.OK(), "%v", result)
	created := result.(*connector.Success)
	assert.Equal(t, http.StatusCreated, created.StatusCode)
	order := created.Body.(map[string]any)
	assert.Equal(t, "ORD1002", order["id"])

	result = conn.Call(context.Background(), connector.Request{
		BaseURL:    srv.URL + "/api",
		Path:       "/orders/{id}/status",
		Method:     connector.GET,
		PathParams: map[string]string{"id": "ORD1002"},
	})
	require.True(t, result.OK(), "%v", result)
	status := result.(*connector.Success).Body.(map[string]any)
	assert.Equal(t, "pending", status["status"])
	assert.Equal(t, true, status["express_shipping"])
}

func TestShop_Search(t *testing.T) {
	srv := httptest.NewServer(NewShop().Routes())
	defer srv.Close()

	result := connector.New().Call(context.Background(), connector.Request{
		BaseURL:     srv.URL + "/api",
		Path:        "/products/search",
		Method:      connector.GET,
		QueryParams: connector.Params{{Name: "category", Value: "accessories"}, {Name: "in_stock_only", Value: true}},
	})
	require.True(t, result.OK(), "%v", result)
	body := result.(*connector.Success).Body.(map[string]any)
	products := body["products"].([]any)
	require.Len(t, products, 1)
	assert.Equal(t, "prod002", products[0].(map[string]any)["id"])
}
