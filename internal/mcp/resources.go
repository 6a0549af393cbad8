package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	keysResourceURI   = "keygate://keys"
	keyResourcePrefix = "keygate://keys/"
)

// registerResources adds read-only key views clients can load into context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			keysResourceURI,
			"Active API Keys",
			mcp.WithResourceDescription("Active API keys, newest first, in masked form."),
			mcp.WithMIMEType("application/json"),
		),
		s.handleKeysResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			keyResourcePrefix+"{id}",
			"API Key",
			mcp.WithTemplateDescription("One API key with its metadata."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleKeyResource,
	)
}

func (s *MCPServer) handleKeysResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	keys, err := s.keys.List(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	items := make([]keyInfo, len(keys))
	for i := range keys {
		items[i] = newKeyInfo(&keys[i])
	}
	return jsonContents(keysResourceURI, items)
}

func (s *MCPServer) handleKeyResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	id := strings.TrimPrefix(uri, keyResourcePrefix)
	if id == "" || id == uri {
		return nil, fmt.Errorf("invalid key URI %q: expected %s{id}", uri, keyResourcePrefix)
	}

	key, err := s.keys.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("key %q: %w", id, err)
	}
	return jsonContents(uri, newKeyInfo(key))
}

func jsonContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
