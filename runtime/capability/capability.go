// Package capability defines the invocable unit compiled from one API
// operation. A Capability is a purely data-driven descriptor: it carries the
// HTTP binding (method, URL template, parameter partition) and the argument
// schema advertised to the model oracle, and is interpreted at call time by a
// single generic invoker instead of per-operation generated code.
package capability

import (
	"fmt"
	"regexp"
	"strings"
)

type (
	// ArgType restricts the argument types a capability may declare. The set
	// mirrors the OpenAPI primitive types plus list and object composites.
	ArgType string

	// Param describes a single named argument bound to a path segment, a query
	// string parameter, or the JSON request body.
	Param struct {
		// Name is the argument name as declared by the source operation.
		Name string
		// Type is the declared argument type.
		Type ArgType
		// Required reports whether the source operation marks the argument as
		// mandatory.
		Required bool
		// Description documents the argument for prompting purposes. May be
		// empty.
		Description string
	}

	// Capability is an immutable descriptor for one invocable API operation.
	// Descriptors are created by the compiler, owned by registry snapshots and
	// interpreted by the invoker; none of them mutate a Capability after
	// construction.
	Capability struct {
		// Name uniquely identifies the capability within a compiled batch.
		// At most MaxNameLen characters (see ShortenName).
		Name string
		// Description documents the operation for the model oracle.
		Description string
		// Method is the HTTP method, one of GET, POST, PUT, DELETE or PATCH.
		Method string
		// URLTemplate is the base URL joined with the operation path. Path
		// parameters appear as "{name}" placeholders.
		URLTemplate string
		// PathParams lists the arguments bound to URL placeholders, in
		// declaration order.
		PathParams []Param
		// QueryParams lists the arguments attached to the query string, in
		// declaration order.
		QueryParams []Param
		// Body, when non-nil, declares the single JSON request body argument.
		Body *Param
	}
)

// Argument types supported by compiled capabilities. Anything else the source
// document declares is mapped to TypeString by the compiler.
const (
	TypeString  ArgType = "string"
	TypeInteger ArgType = "integer"
	TypeNumber  ArgType = "number"
	TypeBoolean ArgType = "boolean"
	TypeList    ArgType = "list"
	TypeObject  ArgType = "object"
)

// Methods supported by the compiler; operations using any other HTTP method
// are ignored.
var SupportedMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH"}

var placeholderRE = regexp.MustCompile(`\{([^{}]+)\}`)

// MethodSupported reports whether method (any case) is one of the supported
// HTTP methods.
func MethodSupported(method string) bool {
	m := strings.ToUpper(method)
	for _, s := range SupportedMethods {
		if m == s {
			return true
		}
	}
	return false
}

// Placeholders returns the placeholder names appearing in the URL template,
// in order of appearance.
func (c Capability) Placeholders() []string {
	matches := placeholderRE.FindAllStringSubmatch(c.URLTemplate, -1)
	if len(matches) == 0 {
		return nil
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// Validate checks the descriptor invariants: a supported method, a name within
// the length limit and a path parameter entry for every URL placeholder.
func (c Capability) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("capability: name is required")
	}
	if len(c.Name) > MaxNameLen {
		return fmt.Errorf("capability %s: name exceeds %d characters", c.Name, MaxNameLen)
	}
	if !MethodSupported(c.Method) {
		return fmt.Errorf("capability %s: unsupported method %q", c.Name, c.Method)
	}
	declared := make(map[string]struct{}, len(c.PathParams))
	for _, p := range c.PathParams {
		declared[p.Name] = struct{}{}
	}
	for _, name := range c.Placeholders() {
		if _, ok := declared[name]; !ok {
			return fmt.Errorf("capability %s: placeholder {%s} has no path parameter", c.Name, name)
		}
	}
	return nil
}

// Arguments returns every declared argument (path, query, body) in a single
// ordered list: path parameters first, then query parameters, then the body.
func (c Capability) Arguments() []Param {
	args := make([]Param, 0, len(c.PathParams)+len(c.QueryParams)+1)
	args = append(args, c.PathParams...)
	args = append(args, c.QueryParams...)
	if c.Body != nil {
		args = append(args, *c.Body)
	}
	return args
}

// InputSchema materializes the JSON Schema object describing the capability's
// arguments. The same schema is advertised to the model oracle as the tool
// input schema and used by the invoker to validate oracle-proposed arguments
// before the HTTP call.
func (c Capability) InputSchema() map[string]any {
	properties := make(map[string]any)
	var required []string
	for _, p := range c.Arguments() {
		prop := map[string]any{"type": jsonSchemaType(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// jsonSchemaType maps an ArgType to the corresponding JSON Schema type name.
func jsonSchemaType(t ArgType) string {
	switch t {
	case TypeList:
		return "array"
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeObject:
		return string(t)
	default:
		return "string"
	}
}
