package openapi

import (
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

// Options controls document generation.
type Options struct {
	BaseURL      string
	APIKeyHeader string
	Version      string
}

// GenerateKeyAPISpec builds the OpenAPI 3.1 document for the key management
// and protected endpoints.
func GenerateKeyAPISpec(opts Options) *openapi3.T {
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = "X-API-Key"
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}

	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "keygate API",
			Description: "Issue, list and revoke API keys, and call endpoints protected by them.",
			Version:     opts.Version,
		},
	}
	if opts.BaseURL != "" {
		doc.Servers = openapi3.Servers{{URL: opts.BaseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"apiKey": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type: "apiKey",
				In:   "header",
				Name: opts.APIKeyHeader,
			},
		},
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
			},
		},
	}
	components.Headers = rateLimitHeaders()
	doc.Components = &components

	doc.Paths = openapi3.NewPaths()
	addKeyPaths(doc)
	addProtectedPaths(doc)
	addHealthPaths(doc)

	return doc
}

var (
	adminSecurity  = &openapi3.SecurityRequirements{{"bearerAuth": {}}}
	apiKeySecurity = &openapi3.SecurityRequirements{{"apiKey": {}}}
	noSecurity     = &openapi3.SecurityRequirements{}
)

func addKeyPaths(doc *openapi3.T) {
	keyIDParam := &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter("keyId").
			WithDescription("Key identifier.").
			WithSchema(&openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "uuid"}),
	}

	includeRevoked := &openapi3.ParameterRef{
		Value: func() *openapi3.Parameter {
			p := openapi3.NewQueryParameter("include_revoked")
			p.Description = "Include revoked keys (\"true\" to enable)."
			p.Schema = &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}
			return p
		}(),
	}

	queryKeyID := &openapi3.ParameterRef{
		Value: openapi3.NewQueryParameter("keyId").
			WithDescription("Key identifier to revoke.").
			WithRequired(true).
			WithSchema(&openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "uuid"}),
	}

	doc.Paths.Set("/api/v1/keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "List keys",
			Description: "Keys newest first. Only the masked form of each key is returned.",
			OperationID: "list_keys",
			Security:    adminSecurity,
			Parameters:  openapi3.Parameters{includeRevoked},
			Responses:   newResponses("200", "Key list", ref(SchemaKeyList), 401, 503),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Issue a key",
			Description: "Generates a new key. The plaintext is returned once in this response.",
			OperationID: "create_key",
			Security:    adminSecurity,
			RequestBody: jsonBody("Key to issue", SchemaCreateKey),
			Responses:   newResponses("201", "Issued key", ref(SchemaIssuedKey), 400, 401, 503),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Revoke a key by query parameter",
			OperationID: "revoke_key_query",
			Security:    adminSecurity,
			Parameters:  openapi3.Parameters{queryKeyID},
			Responses:   newResponses("200", "Key revoked", ref(SchemaRevokeResult), 400, 401, 404, 503),
		},
	})

	doc.Paths.Set("/api/v1/keys/{keyId}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyIDParam},
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Get key details",
			OperationID: "get_key",
			Security:    adminSecurity,
			Responses:   newResponses("200", "Key", ref(SchemaAPIKey), 400, 401, 404, 503),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Revoke a key",
			Description: "Revocation is permanent. Revoking a missing or already revoked key returns 404 with success=false.",
			OperationID: "revoke_key",
			Security:    adminSecurity,
			Responses:   newResponses("200", "Key revoked", ref(SchemaRevokeResult), 400, 401, 404, 503),
		},
	})

	doc.Paths.Set("/api/v1/keys/{keyId}/metadata", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyIDParam},
		Get: &openapi3.Operation{
			Tags:        []string{"metadata"},
			Summary:     "Get key metadata",
			OperationID: "get_key_metadata",
			Security:    adminSecurity,
			Responses:   newResponses("200", "Metadata", ref(SchemaMetadata), 400, 401, 404, 503),
		},
		Put: &openapi3.Operation{
			Tags:        []string{"metadata"},
			Summary:     "Attach or replace key metadata",
			OperationID: "put_key_metadata",
			Security:    adminSecurity,
			RequestBody: jsonBody("Metadata to attach", SchemaMetadataInput),
			Responses:   newResponses("200", "Stored metadata", ref(SchemaMetadata), 400, 401, 404, 503),
		},
	})
}

func addProtectedPaths(doc *openapi3.T) {
	ping := newResponses("200", "Request authorized", ref(SchemaPing), 401, 429, 503)
	withRateLimitHeaders(ping, "200", false)
	withRateLimitHeaders(ping, "429", true)

	doc.Paths.Set("/api/v1/ping", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"protected"},
			Summary:     "Authenticated ping",
			Description: "Succeeds only for a valid, non-revoked key within its rate limit. Each call consumes one unit of quota.",
			OperationID: "ping",
			Security:    apiKeySecurity,
			Responses:   ping,
		},
	})

	doc.Paths.Set("/api/v1/verify", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"protected"},
			Summary:     "Verify a key",
			Description: "Reports whether a key is valid without consuming rate-limit quota.",
			OperationID: "verify_key",
			Security:    adminSecurity,
			RequestBody: jsonBody("Key to verify", SchemaVerifyRequest),
			Responses:   newResponses("200", "Verification result", ref(SchemaVerifyResult), 400, 401, 503),
		},
	})
}

func addHealthPaths(doc *openapi3.T) {
	status := object([]string{"status"}, openapi3.Schemas{
		"status": prop("string", "", ""),
		"checks": stringMap("Per-dependency status."),
	})
	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"health"},
			Summary:     "Liveness probe",
			OperationID: "healthz",
			Security:    noSecurity,
			Responses:   newResponses("200", "Process is running", status),
		},
	})
	doc.Paths.Set("/readyz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"health"},
			Summary:     "Readiness probe",
			OperationID: "readyz",
			Security:    noSecurity,
			Responses:   newResponses("200", "Store and rate limiter reachable", status, 503),
		},
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func jsonBody(description, schemaName string) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: description,
			Required:    true,
			Content:     openapi3.NewContentWithJSONSchemaRef(ref(schemaName)),
		},
	}
}

var errorDescriptions = map[int]string{
	400: "Bad request",
	401: "Unauthorized",
	404: "Not found",
	429: "Rate limit exceeded",
	500: "Internal server error",
	503: "Storage or rate limiter unavailable",
}

// newResponses builds a Responses map with a success response and the listed
// error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef, errorCodes ...int) *openapi3.Responses {
	responses := openapi3.NewResponses()
	// NewResponses seeds a "default" entry that this API never documents.
	responses.Delete("default")

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := ref(SchemaError)
	for _, code := range errorCodes {
		desc := errorDescriptions[code]
		responses.Set(strconv.Itoa(code), &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}

func rateLimitHeaders() openapi3.Headers {
	intHeader := func(desc string) *openapi3.HeaderRef {
		return &openapi3.HeaderRef{Value: &openapi3.Header{Parameter: openapi3.Parameter{
			Description: desc,
			Schema:      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}},
		}}}
	}
	return openapi3.Headers{
		"X-RateLimit-Limit":     intHeader("Requests allowed per window."),
		"X-RateLimit-Remaining": intHeader("Requests left in the current window."),
		"X-RateLimit-Reset":     intHeader("Seconds until the current window resets."),
		"Retry-After":           intHeader("Seconds to wait before retrying."),
	}
}

func withRateLimitHeaders(responses *openapi3.Responses, status string, retryAfter bool) {
	r := responses.Value(status)
	if r == nil || r.Value == nil {
		return
	}
	names := []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"}
	if retryAfter {
		names = append(names, "Retry-After")
	}
	r.Value.Headers = openapi3.Headers{}
	for _, n := range names {
		r.Value.Headers[n] = &openapi3.HeaderRef{Ref: "#/components/headers/" + n}
	}
}
