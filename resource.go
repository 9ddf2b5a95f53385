package smartapi

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// CatalogURITemplate addresses the operation catalog of a browser session.
const CatalogURITemplate = "smartapi://sessions/{session_id}/catalog"

// CatalogResource exposes the operations of each session's loaded OpenAPI
// document to MCP clients.
type CatalogResource struct {
	sessions *SessionStore
}

func NewCatalogResource(sessions *SessionStore) *CatalogResource {
	return &CatalogResource{sessions: sessions}
}

func (r *CatalogResource) ResourceTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(CatalogURITemplate, "OpenAPI operation catalog",
		mcp.WithTemplateDescription("One line per operation of the OpenAPI document loaded in a SmartAPI Connect session"),
		mcp.WithTemplateMIMEType("text/plain"),
	)
}

func (r *CatalogResource) Handler(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := templateArg(req.Params.Arguments, "session_id")
	sess, ok := r.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %q not found", id)
	}

	st := sess.State()
	if !st.HasDocument() {
		return nil, fmt.Errorf("session %q has no OpenAPI document loaded", id)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     st.document.Catalog(),
		},
	}, nil
}

// templateArg reads a variable matched from a URI template.
func templateArg(args map[string]any, name string) string {
	switch v := args[name].(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}
