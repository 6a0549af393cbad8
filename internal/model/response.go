package model

// ItemsResponse is the envelope for list endpoints, wrapping results in an
// "items" array with optional metadata.
type ItemsResponse[T any] struct {
	Items []T           `json:"items"`
	Meta  *ResponseMeta `json:"meta,omitempty"`
}

// ResponseMeta carries summary information for list responses.
type ResponseMeta struct {
	Count          int  `json:"count"`
	IncludeRevoked bool `json:"include_revoked,omitempty"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}
