package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	out, err := Marshal(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(out))
}

func TestMarshalNestedDeterminism(t *testing.T) {
	v := map[string]any{
		"outer": map[string]any{"z": "last", "a": "first"},
		"list":  []any{1, "two", nil, true},
	}
	first, err := Marshal(v)
	require.NoError(t, err)
	second, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.Equal(t, `{"list":[1,"two",null,true],"outer":{"a":"first","z":"last"}}`, string(first))
}

func TestMarshalNoHTMLEscaping(t *testing.T) {
	out, err := Marshal(map[string]any{"url": "https://example.com/a?b=1&c=<2>"})
	require.NoError(t, err)
	assert.Equal(t, `{"url":"https://example.com/a?b=1&c=<2>"}`, string(out))
}

func TestMarshalHonorsStructTags(t *testing.T) {
	type payload struct {
		Second string `json:"second"`
		First  string `json:"first"`
		Skip   string `json:"-"`
	}
	out, err := Marshal(payload{Second: "b", First: "a", Skip: "nope"})
	require.NoError(t, err)
	assert.Equal(t, `{"first":"a","second":"b"}`, string(out))
}

func TestMarshalPreservesNumbers(t *testing.T) {
	out, err := Marshal(map[string]any{"n": 10, "f": 2.5})
	require.NoError(t, err)
	assert.Equal(t, `{"f":2.5,"n":10}`, string(out))
}

func TestHashStableAcrossKeyOrder(t *testing.T) {
	h1, err := Hash(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashPrefix(t *testing.T) {
	h := HashBytes([]byte("payload"))
	assert.Contains(t, h, "sha256:")
	assert.Len(t, h, len("sha256:")+64)
}

func TestHashDiffersOnChange(t *testing.T) {
	h1, err := Hash(map[string]any{"field": "original"})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"field": "tampered"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
