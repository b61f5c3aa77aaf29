package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDriver(t *testing.T) {
	d, err := New("openai", "test-key")
	require.NoError(t, err)
	assert.Equal(t, "openai", d.Provider())

	d, err = New("anthropic", "test-key")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", d.Provider())

	_, err = New("gemini", "test-key")
	assert.ErrorContains(t, err, "unsupported driver provider")
}
