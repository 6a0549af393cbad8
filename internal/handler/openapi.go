package handler

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/keygate/keygate/internal/openapi"
)

// OpenAPIHandler serves the OpenAPI 3.1 document describing the key API.
type OpenAPIHandler struct {
	doc *openapi3.T
}

// NewOpenAPIHandler builds the document once; it does not change at runtime.
func NewOpenAPIHandler(opts openapi.Options) *OpenAPIHandler {
	return &OpenAPIHandler{doc: openapi.GenerateKeyAPISpec(opts)}
}

// ServeSpec returns the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.doc)
}
