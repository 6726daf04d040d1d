// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package contract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugmesh/plugmesh/internal/contract"
)

const validDeclaration = `
name: vector.store
version: 1.2.0
provider: plugin-vector
capabilities:
  - batch
  - idempotent
methods:
  - name: upsert
    input: UpsertRequest
    output: UpsertResponse
  - name: query
    input: QueryRequest
    output: QueryResponse
`

func TestParseDeclaration(t *testing.T) {
	c, err := contract.ParseDeclaration([]byte(validDeclaration))
	require.NoError(t, err)

	assert.Equal(t, "vector.store", c.Name)
	assert.Equal(t, "1.2.0", c.Version.String())
	assert.Equal(t, "plugin-vector", c.ProviderID)
	assert.Equal(t, []contract.Capability{contract.CapabilityBatch, contract.CapabilityIdempotent}, c.Capabilities)
	require.Len(t, c.Methods, 2)
	assert.Equal(t, "upsert", c.Methods[0].Name)
}

func TestParseDeclaration_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "empty",
			data: "",
		},
		{
			name: "malformed yaml",
			data: "name: [unclosed",
		},
		{
			name: "bad version",
			data: "name: math\nversion: one\nprovider: p\nmethods:\n  - name: add",
		},
		{
			name: "uppercase name",
			data: "name: Math\nversion: 1.0.0\nprovider: p\nmethods:\n  - name: add",
		},
		{
			name: "unknown capability",
			data: "name: math\nversion: 1.0.0\nprovider: p\ncapabilities: [quantum]\nmethods:\n  - name: add",
		},
		{
			name: "no methods",
			data: "name: math\nversion: 1.0.0\nprovider: p",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := contract.ParseDeclaration([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestGenerateSchema(t *testing.T) {
	data, err := contract.GenerateSchema()
	require.NoError(t, err)

	assert.Contains(t, string(data), contract.GetSchemaID())
	assert.Contains(t, string(data), `"name"`)
	assert.Contains(t, string(data), `"methods"`)
}

func TestValidateSchema(t *testing.T) {
	contract.ResetSchemaCache()

	require.NoError(t, contract.ValidateSchema([]byte(validDeclaration)))
}

func TestValidateSchema_RejectsWrongTypes(t *testing.T) {
	contract.ResetSchemaCache()

	bad := "name: math\nversion: 1.0.0\nprovider: p\nmethods: not-a-list"
	err := contract.ValidateSchema([]byte(bad))
	require.Error(t, err)
	assert.NotEmpty(t, contract.FormatSchemaError(err))
}

func TestValidateSchema_Empty(t *testing.T) {
	assert.Error(t, contract.ValidateSchema(nil))
}
