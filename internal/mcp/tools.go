package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

// keyInfo is the view of a key returned by every tool. It never includes the
// digest, and the plaintext only appears in issue results.
type keyInfo struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Masked      string          `json:"masked"`
	CreatedAt   time.Time       `json:"created_at"`
	Revoked     bool            `json:"revoked"`
	Metadata    *model.Metadata `json:"metadata,omitempty"`
}

func newKeyInfo(k *model.APIKey) keyInfo {
	return keyInfo{
		ID:          k.ID,
		DisplayName: k.Name,
		Masked:      k.Masked(),
		CreatedAt:   k.CreatedAt,
		Revoked:     k.Revoked,
		Metadata:    k.Metadata,
	}
}

// registerTools registers the key tools. Mutating tools are skipped when
// readOnly is set.
func (s *MCPServer) registerTools(srv *server.MCPServer, readOnly bool) {

	// ----- Read tools -----

	srv.AddTool(
		mcp.NewTool("keygate_list_keys",
			mcp.WithDescription(
				"List API keys, newest first. Each entry shows the key id, display name, "+
					"masked form and metadata. Revoked keys are hidden unless include_revoked is true.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithBoolean("include_revoked",
				mcp.Description("Include revoked keys in the result"),
			),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("keygate_get_key",
			mcp.WithDescription("Get one API key by id, including its metadata."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Key id as returned by keygate_list_keys"),
			),
		),
		s.handleGetKey,
	)

	srv.AddTool(
		mcp.NewTool("keygate_verify_key",
			mcp.WithDescription(
				"Check whether a plaintext key is valid. Does not consume rate-limit quota. "+
					"Returns valid=false with reason not_found or revoked otherwise.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("key",
				mcp.Required(),
				mcp.Description("Plaintext key to check"),
			),
		),
		s.handleVerifyKey,
	)

	if readOnly {
		return
	}

	// ----- Mutation tools -----

	srv.AddTool(
		mcp.NewTool("keygate_issue_key",
			mcp.WithDescription(
				"Issue a new API key. The plaintext key appears in this result only and "+
					"cannot be retrieved again. Metadata is optional; when given, kind is required.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("display_name",
				mcp.Description("Label for the key, up to 256 characters"),
			),
			mcp.WithString("kind",
				mcp.Description("Metadata kind, e.g. hardware"),
			),
			mcp.WithObject("attributes",
				mcp.Description("Metadata attributes as string values (e.g. {\"serial\": \"A-17\"}). Requires kind."),
			),
		),
		s.handleIssueKey,
	)

	srv.AddTool(
		mcp.NewTool("keygate_set_metadata",
			mcp.WithDescription("Attach metadata to an existing key, replacing any metadata it already has."),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Key id"),
			),
			mcp.WithString("kind",
				mcp.Required(),
				mcp.Description("Metadata kind"),
			),
			mcp.WithObject("attributes",
				mcp.Description("Metadata attributes as string values"),
			),
		),
		s.handleSetMetadata,
	)

	srv.AddTool(
		mcp.NewTool("keygate_revoke_key",
			mcp.WithDescription(
				"Revoke an API key. Revocation is permanent and takes effect on the next request "+
					"that presents the key.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Key id to revoke"),
			),
		),
		s.handleRevokeKey,
	)
}

// =========================================================================
// Tool handlers
// =========================================================================

func (s *MCPServer) handleListKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	keys, err := s.keys.List(ctx, optionalBool(request, "include_revoked"))
	if err != nil {
		return serviceError("list keys", err)
	}

	items := make([]keyInfo, len(keys))
	for i := range keys {
		items[i] = newKeyInfo(&keys[i])
	}
	return successJSON(items)
}

func (s *MCPServer) handleGetKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	key, err := s.keys.Get(ctx, id)
	if err != nil {
		return serviceError("get key", err)
	}
	return successJSON(newKeyInfo(key))
}

func (s *MCPServer) handleVerifyKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	presented, err := requireString(request, "key")
	if err != nil {
		return toolError("%v", err)
	}
	v, err := s.verifier.Verify(ctx, presented)
	if err != nil {
		return serviceError("verify key", err)
	}

	type verifyResult struct {
		Valid    bool            `json:"valid"`
		KeyID    string          `json:"key_id,omitempty"`
		Metadata *model.Metadata `json:"metadata,omitempty"`
		Reason   string          `json:"reason,omitempty"`
	}
	if !v.Valid {
		return successJSON(verifyResult{Reason: string(v.Reason)})
	}
	return successJSON(verifyResult{Valid: true, KeyID: v.KeyID, Metadata: v.Metadata})
}

func (s *MCPServer) handleIssueKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	req := service.IssueRequest{DisplayName: optionalString(request, "display_name")}

	attrs, err := stringMapArg(request, "attributes")
	if err != nil {
		return toolError("%v", err)
	}
	kind := optionalString(request, "kind")
	if kind == "" && len(attrs) > 0 {
		return toolError("attributes require kind")
	}
	if kind != "" {
		req.Metadata = &service.MetadataInput{Kind: kind, Attributes: attrs}
	}

	issued, err := s.keys.Issue(ctx, req)
	if err != nil {
		return serviceError("issue key", err)
	}

	type issueResult struct {
		keyInfo
		PlaintextKey  string `json:"plaintext_key"`
		MetadataError string `json:"metadata_error,omitempty"`
	}
	res := issueResult{keyInfo: newKeyInfo(issued.Key), PlaintextKey: issued.Plaintext}
	if issued.MetadataErr != nil {
		res.MetadataError = "key stored without metadata"
	}
	s.logger.Info("api key issued over MCP", "key_id", issued.Key.ID)
	return successJSON(res)
}

func (s *MCPServer) handleSetMetadata(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	kind, err := requireString(request, "kind")
	if err != nil {
		return toolError("%v", err)
	}
	attrs, err := stringMapArg(request, "attributes")
	if err != nil {
		return toolError("%v", err)
	}

	meta, err := s.keys.SetMetadata(ctx, id, service.MetadataInput{Kind: kind, Attributes: attrs})
	if err != nil {
		return serviceError("set metadata", err)
	}
	return successJSON(meta)
}

func (s *MCPServer) handleRevokeKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	ok, err := s.keys.Revoke(ctx, id)
	if err != nil {
		return serviceError("revoke key", err)
	}
	if !ok {
		return toolError("Key %s not found or already revoked", id)
	}
	s.logger.Info("api key revoked over MCP", "key_id", id)
	return successJSON(map[string]interface{}{"success": true, "id": id})
}
