package querykey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveNilParamIsBareName(t *testing.T) {
	assert.Equal(t, "users", Derive("users", nil))
}

func TestDeriveSameParamsSameKey(t *testing.T) {
	k1 := Derive("user", map[string]any{"id": 1, "active": true})
	k2 := Derive("user", map[string]any{"active": true, "id": 1})
	assert.Equal(t, k1, k2, "map key order must not affect the derived key")
}

func TestDeriveDifferentValuesDifferentKey(t *testing.T) {
	k1 := Derive("user", map[string]any{"id": 1})
	k2 := Derive("user", map[string]any{"id": 2})
	assert.NotEqual(t, k1, k2)
}

func TestDeriveDifferentNamesDifferentKey(t *testing.T) {
	k1 := Derive("user", map[string]any{"id": 1})
	k2 := Derive("post", map[string]any{"id": 1})
	assert.NotEqual(t, k1, k2)
}

func TestDeriveNestedMaps(t *testing.T) {
	k1 := Derive("search", map[string]any{
		"filter": map[string]any{"tag": "go", "page": 2},
	})
	k2 := Derive("search", map[string]any{
		"filter": map[string]any{"page": 2, "tag": "go"},
	})
	assert.Equal(t, k1, k2)
}

func TestDeriveScalarParam(t *testing.T) {
	assert.Equal(t, Derive("user", 42), Derive("user", 42))
	assert.NotEqual(t, Derive("user", 42), Derive("user", 43))
}
