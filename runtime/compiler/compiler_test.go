package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/capgate/runtime/capability"
	"goa.design/capgate/runtime/compiler"
)

const userServiceJSON = `{
  "openapi": "3.0.0",
  "info": {"title": "User Service", "version": "1.0.0"},
  "paths": {
    "/users/{id}": {
      "get": {
        "operationId": "getUser",
        "summary": "Fetch a user by ID",
        "parameters": [
          {"name": "id", "in": "path", "required": true, "schema": {"type": "integer"}},
          {"name": "expand", "in": "query", "schema": {"type": "boolean"}}
        ]
      },
      "delete": {
        "operationId": "deleteUser",
        "parameters": [
          {"name": "id", "in": "path", "required": true, "schema": {"type": "integer"}}
        ]
      }
    },
    "/users": {
      "post": {
        "operationId": "createUser",
        "description": "Create a user",
        "requestBody": {
          "required": true,
          "content": {"application/json": {"schema": {"type": "object"}}}
        }
      },
      "head": {"operationId": "probeUsers"}
    }
  }
}`

func compileJSON(t *testing.T, doc, baseURL string) ([]capability.Capability, []compiler.Skip) {
	t.Helper()
	parsed, err := compiler.Parse([]byte(doc))
	require.NoError(t, err)
	return compiler.Compile(parsed, baseURL)
}

func TestCompileUserService(t *testing.T) {
	caps, skipped := compileJSON(t, userServiceJSON, "https://api.example.com")
	require.Empty(t, skipped)
	require.Len(t, caps, 3, "head operation must be ignored silently")

	byName := make(map[string]capability.Capability, len(caps))
	for _, c := range caps {
		byName[c.Name] = c
	}

	get, ok := byName["getUser"]
	require.True(t, ok)
	assert.Equal(t, "GET", get.Method)
	assert.Equal(t, "https://api.example.com/users/{id}", get.URLTemplate)
	assert.Equal(t, "Fetch a user by ID", get.Description)
	require.Len(t, get.PathParams, 1)
	assert.Equal(t, capability.Param{Name: "id", Type: capability.TypeInteger, Required: true}, get.PathParams[0])
	require.Len(t, get.QueryParams, 1)
	assert.Equal(t, capability.Param{Name: "expand", Type: capability.TypeBoolean}, get.QueryParams[0])
	assert.Nil(t, get.Body)

	create, ok := byName["createUser"]
	require.True(t, ok)
	assert.Equal(t, "POST", create.Method)
	require.NotNil(t, create.Body)
	assert.Equal(t, "request_data", create.Body.Name)
	assert.Equal(t, capability.TypeObject, create.Body.Type)
	assert.True(t, create.Body.Required)
}

func TestCompileSynthesizesNames(t *testing.T) {
	doc := `{"paths": {"/orders/{id}/items": {"get": {
		"parameters": [{"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}]
	}}}}`
	caps, skipped := compileJSON(t, doc, "https://api.example.com")
	require.Empty(t, skipped)
	require.Len(t, caps, 1)
	assert.Equal(t, "get__orders_id_items", caps[0].Name)
	assert.Equal(t, "GET /orders/{id}/items", caps[0].Description)
}

func TestCompileTypeMapping(t *testing.T) {
	doc := `{"paths": {"/things": {"get": {
		"operationId": "listThings",
		"parameters": [
			{"name": "s", "in": "query", "schema": {"type": "string"}},
			{"name": "i", "in": "query", "schema": {"type": "integer"}},
			{"name": "n", "in": "query", "schema": {"type": "number"}},
			{"name": "b", "in": "query", "schema": {"type": "boolean"}},
			{"name": "a", "in": "query", "schema": {"type": "array"}},
			{"name": "o", "in": "query", "schema": {"type": "object"}},
			{"name": "x", "in": "query", "schema": {"type": "binary"}},
			{"name": "u", "in": "query"}
		]
	}}}}`
	caps, skipped := compileJSON(t, doc, "https://api.example.com")
	require.Empty(t, skipped)
	require.Len(t, caps, 1)

	want := map[string]capability.ArgType{
		"s": capability.TypeString,
		"i": capability.TypeInteger,
		"n": capability.TypeNumber,
		"b": capability.TypeBoolean,
		"a": capability.TypeList,
		"o": capability.TypeObject,
		"x": capability.TypeString,
		"u": capability.TypeString,
	}
	require.Len(t, caps[0].QueryParams, len(want))
	for _, p := range caps[0].QueryParams {
		assert.Equal(t, want[p.Name], p.Type, "parameter %s", p.Name)
	}
}

func TestCompileSkipsMalformedOperation(t *testing.T) {
	doc := `{"paths": {
		"/good": {"get": {"operationId": "good"}},
		"/bad": {"post": {"operationId": "bad", "parameters": "not-a-list"}}
	}}`
	caps, skipped := compileJSON(t, doc, "https://api.example.com")
	require.Len(t, caps, 1)
	assert.Equal(t, "good", caps[0].Name)
	require.Len(t, skipped, 1)
	assert.Equal(t, "/bad", skipped[0].Path)
	assert.Equal(t, "POST", skipped[0].Method)
	assert.Contains(t, skipped[0].Reason, "decode operation")
}

func TestCompileSkipsUnsupportedBodyMediaType(t *testing.T) {
	doc := `{"paths": {"/upload": {"post": {
		"operationId": "upload",
		"requestBody": {"content": {"multipart/form-data": {"schema": {"type": "object"}}}}
	}}}}`
	caps, skipped := compileJSON(t, doc, "https://api.example.com")
	assert.Empty(t, caps)
	require.Len(t, skipped, 1)
	assert.Contains(t, skipped[0].Reason, "unsupported request body media type")
}

func TestCompileCountInvariant(t *testing.T) {
	caps, skipped := compileJSON(t, userServiceJSON, "https://api.example.com")
	// Three supported-method operations in the document; head does not count.
	assert.Equal(t, 3-len(skipped), len(caps))
}

func TestParseYAML(t *testing.T) {
	doc := `
openapi: "3.0.0"
info:
  title: Weather
  version: "1.0"
paths:
  /forecast:
    get:
      operationId: getForecast
      parameters:
        - name: city
          in: query
          required: true
          schema:
            type: string
`
	parsed, err := compiler.Parse([]byte(doc))
	require.NoError(t, err)
	caps, skipped := compiler.Compile(parsed, "https://weather.example.com/")
	require.Empty(t, skipped)
	require.Len(t, caps, 1)
	assert.Equal(t, "getForecast", caps[0].Name)
	assert.Equal(t, "https://weather.example.com/forecast", caps[0].URLTemplate)
	require.Len(t, caps[0].QueryParams, 1)
	assert.Equal(t, "city", caps[0].QueryParams[0].Name)
}

func TestParseErrors(t *testing.T) {
	_, err := compiler.Parse([]byte("   "))
	require.Error(t, err)

	_, err = compiler.Parse([]byte(`{"openapi": "3.0.0"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no paths")
}

func TestCompileNameCollisionLastWins(t *testing.T) {
	doc := `{"paths": {
		"/a": {"get": {"operationId": "dup"}},
		"/b": {"get": {"operationId": "dup"}}
	}}`
	caps, skipped := compileJSON(t, doc, "https://api.example.com")
	require.Empty(t, skipped)
	// Both compile; shadowing is resolved downstream by whoever indexes the
	// batch by name.
	require.Len(t, caps, 2)
	assert.Equal(t, caps[0].Name, caps[1].Name)
}
