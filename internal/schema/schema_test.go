package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"flexilite/internal/catalog"
)

func TestRoleRequiresUnique(t *testing.T) {
	t.Run("id role requires unique", func(t *testing.T) {
		assert.True(t, RoleID.RequiresUnique())
	})

	t.Run("create time role does not require unique", func(t *testing.T) {
		assert.False(t, RoleCreateTime.RequiresUnique())
	})

	t.Run("combined bitset requires unique if any bit does", func(t *testing.T) {
		assert.True(t, (RoleCreateTime | RoleUID).RequiresUnique())
	})
}

func TestPropertyDefClone(t *testing.T) {
	minV := 1.0
	original := &PropertyDef{
		Name:     Name{ID: 1, Text: "age"},
		Type:     catalog.Integer,
		MinValue: &minV,
		EnumDef:  &EnumDef{Values: []EnumValue{{Value: "a"}}},
		UnknownFields: map[string]any{"x": 1},
	}

	clone := original.Clone()

	t.Run("clone is a distinct pointer with equal fields", func(t *testing.T) {
		assert.NotSame(t, original, clone)
		assert.Equal(t, original.Name, clone.Name)
		assert.Equal(t, original.Type, clone.Type)
	})

	t.Run("mutating the clone's pointer fields does not affect the original", func(t *testing.T) {
		*clone.MinValue = 99
		assert.Equal(t, 1.0, *original.MinValue)

		clone.EnumDef.Values[0].Value = "b"
		assert.Equal(t, "a", original.EnumDef.Values[0].Value)

		clone.UnknownFields["x"] = 2
		assert.Equal(t, 1, original.UnknownFields["x"])
	})

	t.Run("clone ref count resets to zero", func(t *testing.T) {
		original.RefCount = 5
		assert.Equal(t, 0, original.Clone().RefCount)
	})
}

func TestEnumDefEqual(t *testing.T) {
	a := &EnumDef{Values: []EnumValue{{Value: "x"}, {Value: "y"}}}
	b := &EnumDef{Values: []EnumValue{{Value: "x"}, {Value: "y"}}}
	c := &EnumDef{Values: []EnumValue{{Value: "x"}}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}

func TestClassDefCloneAndLookup(t *testing.T) {
	cd := &ClassDef{
		ClassID: 1,
		Name:    Name{Text: "person"},
		PropMap: map[string]*PropertyDef{
			"name": {Name: Name{Text: "name"}, Type: catalog.Text},
			"age":  {Name: Name{Text: "age"}, Type: catalog.Integer},
		},
	}

	t.Run("property lookup by current name", func(t *testing.T) {
		assert.NotNil(t, cd.Property("name"))
		assert.Nil(t, cd.Property("missing"))
	})

	t.Run("sorted property names are deterministic", func(t *testing.T) {
		assert.Equal(t, []string{"age", "name"}, cd.SortedPropertyNames())
	})

	t.Run("clone shares property pointers until mutated", func(t *testing.T) {
		clone := cd.Clone()
		assert.Equal(t, cd.PropMap["name"], clone.PropMap["name"])
		clone.PropMap["extra"] = &PropertyDef{Name: Name{Text: "extra"}}
		assert.Nil(t, cd.PropMap["extra"])
	})
}
