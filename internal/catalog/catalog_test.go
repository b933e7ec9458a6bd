package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	t.Run("recognised lowercase token", func(t *testing.T) {
		code, ok := Resolve("integer")
		assert.True(t, ok)
		assert.Equal(t, Integer, code)
	})

	t.Run("case insensitive", func(t *testing.T) {
		code, ok := Resolve("TEXT")
		assert.True(t, ok)
		assert.Equal(t, Text, code)
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		code, ok := Resolve("  uuid  ")
		assert.True(t, ok)
		assert.Equal(t, UUID, code)
	})

	t.Run("legacy alias resolves to its modern type", func(t *testing.T) {
		code, ok := Resolve("nvarchar")
		assert.True(t, ok)
		assert.Equal(t, Text, code)
	})

	t.Run("unrecognised token", func(t *testing.T) {
		_, ok := Resolve("not-a-type")
		assert.False(t, ok)
	})
}

func TestStorage(t *testing.T) {
	t.Run("integer maps to INTEGER affinity", func(t *testing.T) {
		assert.Equal(t, StorageInt, Storage(Integer))
	})

	t.Run("any type has no fixed affinity", func(t *testing.T) {
		assert.Equal(t, StorageAny, Storage(Any))
	})
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(Text))
	assert.True(t, Valid(Reference))
	assert.False(t, Valid(TypeCode("bogus")))
}

func TestIsNumericAndIsTextual(t *testing.T) {
	assert.True(t, IsNumeric(Integer))
	assert.True(t, IsNumeric(Datetime))
	assert.False(t, IsNumeric(Text))

	assert.True(t, IsTextual(Enum))
	assert.True(t, IsTextual(JSON))
	assert.False(t, IsTextual(Integer))
}
