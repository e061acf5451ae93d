// Package compiler turns an OpenAPI description and a base URL into an
// ordered batch of capability descriptors. Compilation is pure data
// transformation: no I/O, no code generation. Individual operations that
// cannot be compiled are recorded as skips and never fail the batch.
package compiler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"goa.design/capgate/runtime/capability"
)

// Skip records one operation the compiler could not turn into a capability,
// with the reason it was left out.
type Skip struct {
	Path   string `json:"path"`
	Method string `json:"method"`
	Reason string `json:"reason"`
}

// bodyArgName is the argument name under which the JSON request body is
// exposed to the model oracle.
const bodyArgName = "request_data"

// Compile enumerates every (path, method) pair in doc whose method is
// supported and produces one capability per compilable operation. Paths are
// visited in sorted order and methods in the canonical support order so the
// output is deterministic. Operations with unsupported methods are ignored
// silently; operations that fail to compile are reported in the skip list.
//
// Name collisions within a batch are not deduplicated: a later operation that
// derives the same name shadows an earlier one once the batch is registered.
func Compile(doc *Document, baseURL string) ([]capability.Capability, []Skip) {
	var (
		caps    []capability.Capability
		skipped []Skip
	)
	paths := make([]string, 0, len(doc.Paths))
	for p := range doc.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		item := doc.Paths[path]
		for _, method := range capability.SupportedMethods {
			raw, ok := item[strings.ToLower(method)]
			if !ok {
				if raw, ok = item[method]; !ok {
					continue
				}
			}
			c, err := compileOperation(path, method, raw, baseURL)
			if err != nil {
				skipped = append(skipped, Skip{Path: path, Method: method, Reason: err.Error()})
				continue
			}
			caps = append(caps, c)
		}
	}
	return caps, skipped
}

func compileOperation(path, method string, raw json.RawMessage, baseURL string) (capability.Capability, error) {
	var op Operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return capability.Capability{}, fmt.Errorf("decode operation: %v", err)
	}

	name := capability.DeriveName(method, path, op.OperationID)
	description := op.Description
	if description == "" {
		description = op.Summary
	}
	if description == "" {
		description = method + " " + path
	}

	var pathParams, queryParams []capability.Param
	for _, p := range op.Parameters {
		if p.Name == "" {
			return capability.Capability{}, fmt.Errorf("parameter without a name")
		}
		param := capability.Param{
			Name:     p.Name,
			Type:     argType(p.Schema),
			Required: p.Required,
		}
		if p.Schema != nil {
			param.Description = p.Schema.Description
		}
		switch p.In {
		case "path":
			pathParams = append(pathParams, param)
		case "query":
			queryParams = append(queryParams, param)
		default:
			// Header and cookie parameters are outside the binding model;
			// drop them rather than failing the operation.
		}
	}

	var body *capability.Param
	if rb := op.RequestBody; rb != nil && len(rb.Content) > 0 {
		if _, ok := rb.Content[jsonMediaType]; !ok {
			return capability.Capability{}, fmt.Errorf("unsupported request body media type")
		}
		body = &capability.Param{
			Name:     bodyArgName,
			Type:     capability.TypeObject,
			Required: rb.Required,
		}
	}

	c := capability.Capability{
		Name:        name,
		Description: description,
		Method:      method,
		URLTemplate: joinURL(baseURL, path),
		PathParams:  pathParams,
		QueryParams: queryParams,
		Body:        body,
	}
	if err := c.Validate(); err != nil {
		return capability.Capability{}, err
	}
	return c, nil
}

// argType maps a declared OpenAPI schema type to the capability argument
// type. Unknown or missing types default to string.
func argType(s *Schema) capability.ArgType {
	if s == nil {
		return capability.TypeString
	}
	switch s.Type {
	case "string":
		return capability.TypeString
	case "integer":
		return capability.TypeInteger
	case "number":
		return capability.TypeNumber
	case "boolean":
		return capability.TypeBoolean
	case "array":
		return capability.TypeList
	case "object":
		return capability.TypeObject
	default:
		return capability.TypeString
	}
}

// joinURL concatenates the base URL and the operation path, normalizing the
// separating slash. Placeholders in the path are preserved verbatim.
func joinURL(baseURL, path string) string {
	base := strings.TrimSuffix(baseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
