package openapi

import "github.com/getkin/kin-openapi/openapi3"

// Component schema names.
const (
	SchemaAPIKey        = "APIKey"
	SchemaIssuedKey     = "IssuedKey"
	SchemaCreateKey     = "CreateKeyRequest"
	SchemaMetadata      = "Metadata"
	SchemaMetadataInput = "MetadataInput"
	SchemaKeyList       = "KeyList"
	SchemaRevokeResult  = "RevokeResult"
	SchemaVerifyRequest = "VerifyRequest"
	SchemaVerifyResult  = "VerifyResult"
	SchemaPing          = "PingResponse"
	SchemaError         = "ErrorResponse"
)

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func prop(typ, format, description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{typ},
		Format:      format,
		Description: description,
	}}
}

func object(required []string, props openapi3.Schemas) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Required:   required,
		Properties: props,
	}}
}

func stringMap(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"object"},
		Description: description,
		AdditionalProperties: openapi3.AdditionalProperties{
			Schema: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
		},
	}}
}

// componentSchemas returns every schema the key API references.
func componentSchemas() openapi3.Schemas {
	metadata := object([]string{"kind", "attributes"}, openapi3.Schemas{
		"id":         prop("string", "uuid", ""),
		"api_key_id": prop("string", "uuid", ""),
		"kind":       prop("string", "", "Metadata kind, e.g. hardware or motor."),
		"attributes": stringMap("Free-form string attributes."),
		"created_at": prop("string", "date-time", ""),
		"updated_at": prop("string", "date-time", ""),
	})

	metadataInput := object([]string{"kind"}, openapi3.Schemas{
		"kind":       prop("string", "", "Metadata kind, 1 to 64 characters."),
		"attributes": stringMap("At most 64 attributes, values up to 2048 characters."),
	})
	metadataInput.Value.Properties["kind"].Value.MaxLength = openapi3.Uint64Ptr(64)

	apiKey := object([]string{"id", "masked", "created_at", "revoked"}, openapi3.Schemas{
		"id":           prop("string", "uuid", ""),
		"display_name": prop("string", "", ""),
		"masked":       prop("string", "", "Display form of the key: \"****\" followed by its last four characters."),
		"created_at":   prop("string", "date-time", ""),
		"revoked":      prop("boolean", "", ""),
		"metadata":     ref(SchemaMetadata),
	})

	issued := object([]string{"id", "plaintext_key", "last4", "created_at"}, openapi3.Schemas{
		"id":             prop("string", "uuid", ""),
		"display_name":   prop("string", "", ""),
		"plaintext_key":  prop("string", "", "The full key. Returned only in this response and never again."),
		"last4":          prop("string", "", ""),
		"created_at":     prop("string", "date-time", ""),
		"metadata":       ref(SchemaMetadata),
		"metadata_error": prop("string", "", "Set when the key was stored but its metadata was not."),
	})

	create := object([]string{"display_name"}, openapi3.Schemas{
		"display_name": prop("string", "", "Label for the key, 1 to 256 characters."),
		"metadata":     ref(SchemaMetadataInput),
	})
	create.Value.Properties["display_name"].Value.MinLength = 1
	create.Value.Properties["display_name"].Value.MaxLength = openapi3.Uint64Ptr(256)

	list := object([]string{"items"}, openapi3.Schemas{
		"items": &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: ref(SchemaAPIKey),
		}},
		"meta": object(nil, openapi3.Schemas{
			"count":           prop("integer", "int32", "Number of keys returned."),
			"include_revoked": prop("boolean", "", ""),
		}),
	})

	revoke := object([]string{"success"}, openapi3.Schemas{
		"success": prop("boolean", "", "True only when this call revoked an active key."),
		"id":      prop("string", "uuid", ""),
	})

	verifyReq := object([]string{"key"}, openapi3.Schemas{
		"key": prop("string", "", "Plaintext key to check."),
	})

	verifyRes := object([]string{"valid"}, openapi3.Schemas{
		"valid":    prop("boolean", "", ""),
		"key_id":   prop("string", "uuid", "Present when valid."),
		"metadata": ref(SchemaMetadata),
		"reason": &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:        &openapi3.Types{"string"},
			Enum:        []interface{}{"not_found", "revoked"},
			Description: "Present when not valid.",
		}},
	})

	ping := object([]string{"ok"}, openapi3.Schemas{
		"ok":       prop("boolean", "", ""),
		"message":  prop("string", "", ""),
		"key_id":   prop("string", "uuid", ""),
		"metadata": ref(SchemaMetadata),
	})

	errResp := object([]string{"error"}, openapi3.Schemas{
		"error": object([]string{"code", "message"}, openapi3.Schemas{
			"code":    prop("integer", "int32", ""),
			"message": prop("string", "", ""),
			"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
		}),
	})

	return openapi3.Schemas{
		SchemaAPIKey:        apiKey,
		SchemaIssuedKey:     issued,
		SchemaCreateKey:     create,
		SchemaMetadata:      metadata,
		SchemaMetadataInput: metadataInput,
		SchemaKeyList:       list,
		SchemaRevokeResult:  revoke,
		SchemaVerifyRequest: verifyReq,
		SchemaVerifyResult:  verifyRes,
		SchemaPing:          ping,
		SchemaError:         errResp,
	}
}
