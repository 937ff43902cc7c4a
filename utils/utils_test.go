package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inner struct {
	Detail string `json:"detail"`
}

type record struct {
	ID     string `json:"id"`
	Count  int    `json:"count"`
	Nested inner  `json:"nested"`
	Note   string `json:"note,omitempty"`
}

func TestStructToMap(t *testing.T) {
	m, err := StructToMap(record{ID: "abc", Count: 3, Nested: inner{Detail: "x"}})
	require.NoError(t, err)

	assert.Equal(t, "abc", m["id"])
	assert.Equal(t, json.Number("3"), m["count"])
	assert.JSONEq(t, `{"detail":"x"}`, string(m["nested"].(json.RawMessage)))
	assert.NotContains(t, m, "note")

	_, err = StructToMap(42)
	assert.Error(t, err)

	var nilRecord *record
	_, err = StructToMap(nilRecord)
	assert.Error(t, err)
}

func TestMapToStruct(t *testing.T) {
	in := record{ID: "abc", Count: 3, Nested: inner{Detail: "x"}}
	m, err := StructToMap(in)
	require.NoError(t, err)

	out, err := MapToStruct[record](m)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	ptr, err := MapToStruct[*record](m)
	require.NoError(t, err)
	assert.Equal(t, in, *ptr)

	_, err = MapToStruct[record](nil)
	assert.Error(t, err)

	_, err = MapToStruct[int](m)
	assert.Error(t, err)
}
