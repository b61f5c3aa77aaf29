package toolregistry

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoDefinition() Definition {
	return Definition{
		Name:        "echo",
		Description: "Echoes its input",
		Parameters: []Parameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(_ context.Context, params map[string]interface{}) (interface{}, error) {
			return params["text"], nil
		},
	}
}

func TestRegisterAndExecute(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(echoDefinition()))

	result := r.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"})
	assert.True(t, result.Success)
	assert.Equal(t, "hi", result.Output)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(echoDefinition()))
	assert.Error(t, r.Register(echoDefinition()))
}

func TestRegisterValidatesDefinition(t *testing.T) {
	r := New()

	assert.Error(t, r.Register(Definition{Description: "d", Handler: func(context.Context, map[string]interface{}) (interface{}, error) { return nil, nil }}))
	assert.Error(t, r.Register(Definition{Name: "n", Handler: func(context.Context, map[string]interface{}) (interface{}, error) { return nil, nil }}))
	assert.Error(t, r.Register(Definition{Name: "n", Description: "d"}))
	assert.Error(t, r.Register(Definition{
		Name: "n", Description: "d",
		Parameters: []Parameter{{Name: "p", Type: "blob"}},
		Handler:    func(context.Context, map[string]interface{}) (interface{}, error) { return nil, nil },
	}))
	assert.Error(t, r.Register(Definition{
		Name: "n", Description: "d",
		Parameters: []Parameter{{Name: "p", Type: "array"}},
		Handler:    func(context.Context, map[string]interface{}) (interface{}, error) { return nil, nil },
	}))
}

func TestExecuteUnknownOperation(t *testing.T) {
	r := New()
	result := r.Execute(context.Background(), "nope", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown operation")
}

func TestExecuteValidatesParameters(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(echoDefinition()))

	// Missing required parameter.
	result := r.Execute(context.Background(), "echo", map[string]interface{}{})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "invalid parameters")

	// Wrong type.
	result = r.Execute(context.Background(), "echo", map[string]interface{}{"text": 42})
	assert.False(t, result.Success)
}

func TestExecuteArrayParameter(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Definition{
		Name:        "count",
		Description: "Counts list entries",
		Parameters: []Parameter{
			{Name: "items", Type: "array", Items: "string", Description: "Entries", Required: true},
		},
		Handler: func(_ context.Context, params map[string]interface{}) (interface{}, error) {
			return len(params["items"].([]interface{})), nil
		},
	}))

	result := r.Execute(context.Background(), "count", map[string]interface{}{
		"items": []interface{}{"a", "b"},
	})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 2, result.Output)

	result = r.Execute(context.Background(), "count", map[string]interface{}{
		"items": []interface{}{1, 2},
	})
	assert.False(t, result.Success)
}

func TestExecuteHandlerError(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Definition{
		Name:        "fails",
		Description: "Always fails",
		Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			return nil, fmt.Errorf("boom")
		},
	}))

	result := r.Execute(context.Background(), "fails", nil)
	assert.False(t, result.Success)
	assert.Equal(t, "boom", result.Error)
}

func TestSpecs(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(echoDefinition()))

	specs := r.Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, "echo", specs[0]["name"])

	schema := specs[0]["input_schema"].(map[string]interface{})
	assert.Equal(t, "object", schema["type"])
	assert.Contains(t, schema["properties"].(map[string]interface{}), "text")
	assert.Equal(t, []string{"text"}, schema["required"])
}

func TestList(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(echoDefinition()))
	assert.Equal(t, []string{"echo"}, r.List())
}
