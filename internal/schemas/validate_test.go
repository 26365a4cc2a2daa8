package schemas

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigSchema_Compiles(t *testing.T) {
	schema, err := ConfigSchema()
	require.NoError(t, err)
	assert.NotNil(t, schema)
}

func TestValidateConfig_Valid(t *testing.T) {
	doc := map[string]any{
		"server":   map[string]any{"port": 3001, "public_base_url": "https://pdf.example.com"},
		"storage":  map[string]any{"output_dir": "./output", "retention": "168h", "sweep_interval": 86400},
		"renderer": map[string]any{"engine": "rod", "pool_size": 2},
		"pipeline": map[string]any{"subpage_concurrency": 3, "subpage_timeout": "30s"},
		"crawler":  map[string]any{"requests_per_second": 1.5},
		"logging":  map[string]any{"level": "debug", "max_size_mb": 10},
	}

	assert.NoError(t, ValidateConfig(doc))
}

func TestValidateConfig_EmptyDocument(t *testing.T) {
	assert.NoError(t, ValidateConfig(map[string]any{}))
}

func TestValidateConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		doc   map[string]any
		field string
	}{
		{
			name:  "unknown section",
			doc:   map[string]any{"llm": map[string]any{}},
			field: "(root)",
		},
		{
			name:  "port out of range",
			doc:   map[string]any{"server": map[string]any{"port": 70000}},
			field: "server.port",
		},
		{
			name:  "unknown engine",
			doc:   map[string]any{"renderer": map[string]any{"engine": "webkit"}},
			field: "renderer.engine",
		},
		{
			name:  "malformed duration",
			doc:   map[string]any{"pipeline": map[string]any{"request_timeout": "five minutes"}},
			field: "pipeline.request_timeout",
		},
		{
			name:  "negative rate",
			doc:   map[string]any{"crawler": map[string]any{"requests_per_second": -1}},
			field: "crawler.requests_per_second",
		},
		{
			name:  "wrong level",
			doc:   map[string]any{"logging": map[string]any{"level": "verbose"}},
			field: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.doc)
			require.Error(t, err)

			var validationErr *ValidationError
			require.True(t, errors.As(err, &validationErr), "error should be ValidationError, got %T", err)
			require.NotEmpty(t, validationErr.Errors)

			fields := make([]string, 0, len(validationErr.Errors))
			for _, fe := range validationErr.Errors {
				fields = append(fields, fe.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidateJSONString_Valid(t *testing.T) {
	schemaContent := `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string"}
		}
	}`
	jsonContent := `{"name": "test"}`

	err := ValidateJSONString(schemaContent, jsonContent)
	assert.NoError(t, err)
}

func TestValidateJSONString_Invalid(t *testing.T) {
	schemaContent := `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string"}
		}
	}`
	jsonContent := `{"age": 30}`

	err := ValidateJSONString(schemaContent, jsonContent)
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Greater(t, len(validationErr.Errors), 0)
}

func TestValidateJSONString_BrokenSchema(t *testing.T) {
	err := ValidateJSONString(`{"type": 12}`, `{}`)
	require.Error(t, err)

	var loadErr *SchemaLoadError
	assert.True(t, errors.As(err, &loadErr))
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Errors: []FieldError{
			{Field: "name", Message: "is required"},
			{Field: "age", Message: "must be a number"},
		},
	}

	errorMsg := err.Error()
	assert.Contains(t, errorMsg, "validation failed")
	assert.Contains(t, errorMsg, "name")
	assert.Contains(t, errorMsg, "age")
}
