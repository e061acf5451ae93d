package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

type (
	// Document is the subset of an OpenAPI description the compiler consumes:
	// the paths map keyed by path template, each value a mapping of HTTP method
	// to an operation object. Operations are kept raw so a malformed operation
	// is reported as a skip instead of failing the whole document.
	Document struct {
		OpenAPI string                                `json:"openapi,omitempty"`
		Info    *Info                                 `json:"info,omitempty"`
		Paths   map[string]map[string]json.RawMessage `json:"paths"`
	}

	// Info carries the document title and version for logging.
	Info struct {
		Title   string `json:"title,omitempty"`
		Version string `json:"version,omitempty"`
	}

	// Operation is one path+method entry.
	Operation struct {
		OperationID string       `json:"operationId,omitempty"`
		Summary     string       `json:"summary,omitempty"`
		Description string       `json:"description,omitempty"`
		Parameters  []Parameter  `json:"parameters,omitempty"`
		RequestBody *RequestBody `json:"requestBody,omitempty"`
	}

	// Parameter declares one path or query argument.
	Parameter struct {
		Name     string  `json:"name"`
		In       string  `json:"in"`
		Required bool    `json:"required,omitempty"`
		Schema   *Schema `json:"schema,omitempty"`
	}

	// Schema carries the declared parameter type. Only the type keyword is
	// interpreted; everything else in the source schema is ignored.
	Schema struct {
		Type        string `json:"type,omitempty"`
		Description string `json:"description,omitempty"`
	}

	// RequestBody declares the operation request body. Only the
	// application/json media type is supported.
	RequestBody struct {
		Required bool                 `json:"required,omitempty"`
		Content  map[string]MediaType `json:"content,omitempty"`
	}

	// MediaType holds the raw body schema. Presence is what matters; the body
	// is exposed as a single object argument regardless of its inner shape.
	MediaType struct {
		Schema json.RawMessage `json:"schema,omitempty"`
	}
)

// jsonMediaType is the only request body media type the compiler binds.
const jsonMediaType = "application/json"

// Parse decodes an OpenAPI description from raw bytes. JSON documents are
// decoded directly; anything else is treated as YAML and converted through a
// JSON round-trip so both encodings share one set of types.
func Parse(data []byte) (*Document, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	if trimmed[0] != '{' {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("decode yaml document: %w", err)
		}
		data = converted
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc.Paths == nil {
		return nil, fmt.Errorf("document has no paths")
	}
	return &doc, nil
}

// yamlToJSON converts a YAML document to its JSON encoding. yaml.v3 decodes
// mappings as map[string]any, so the intermediate value marshals to JSON
// without key conversion.
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
