package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
  "type": "object",
  "properties": {
    "mode": {"type": "string", "enum": ["merge", "replace", "strict"]},
    "ports": {"type": "array", "items": {"type": "integer"}}
  }
}`

func TestValidator(t *testing.T) {
	v, err := NewValidator("test.json", []byte(testSchema))
	require.NoError(t, err)

	assert.NoError(t, v.Validate(map[string]interface{}{"mode": "strict"}))

	err = v.Validate(map[string]interface{}{"mode": "open"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/mode")

	err = v.Validate(map[string]interface{}{"ports": []interface{}{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/ports/0")
}

func TestNewValidatorRejectsBrokenSchema(t *testing.T) {
	_, err := NewValidator("broken.json", []byte(`{"type": 12}`))
	assert.Error(t, err)
}
