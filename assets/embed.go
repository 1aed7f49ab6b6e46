// Package assets holds static files embedded into the binary.
package assets

import _ "embed"

// OpenAPISpec is the OpenAPI document served at /docs/doc.json.
//
//go:embed openapi.json
var OpenAPISpec []byte
