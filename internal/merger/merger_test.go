package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flexilite/internal/catalog"
	"flexilite/internal/flexerr"
	"flexilite/internal/schema"
)

func propDef(id uint64, name string, code catalog.TypeCode) *schema.PropertyDef {
	return &schema.PropertyDef{ID: id, Name: schema.Name{ID: id, Text: name}, Type: code}
}

func TestMergeCreateClass(t *testing.T) {
	next := &schema.ClassDef{
		PropMap: map[string]*schema.PropertyDef{
			"name": propDef(0, "name", catalog.Text),
		},
	}

	res, err := Merge(nil, next, nil)
	require.NoError(t, err)

	assert.Len(t, res.PropertyChanges, 1)
	assert.Equal(t, schema.Added, res.PropertyChanges[0].Status)
	assert.False(t, res.NeedsDataScan)
}

func TestMergeAddedProperty(t *testing.T) {
	old := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{
		"name": propDef(1, "name", catalog.Text),
	}}
	next := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{
		"name": propDef(1, "name", catalog.Text),
		"age":  propDef(0, "age", catalog.Integer),
	}}

	res, err := Merge(old, next, nil)
	require.NoError(t, err)

	var added, unchanged int
	for _, pc := range res.PropertyChanges {
		switch pc.Status {
		case schema.Added:
			added++
		case schema.NotModified:
			unchanged++
		}
	}
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, unchanged)
}

func TestMergeOmittedPropertyIsCopiedForward(t *testing.T) {
	old := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{
		"name": propDef(1, "name", catalog.Text),
		"age":  propDef(2, "age", catalog.Integer),
	}}
	next := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{
		"name": propDef(1, "name", catalog.Text),
	}}

	res, err := Merge(old, next, nil)
	require.NoError(t, err)

	// Omitting "age" from the new document is not a drop (spec.md §4.4.1):
	// it survives in the merged definition, unchanged id, NotModified, with
	// its ref_count bumped for the new definition that now also holds it.
	merged := res.Merged.PropMap["age"]
	require.NotNil(t, merged)
	assert.Equal(t, uint64(2), merged.ID)
	assert.Equal(t, schema.NotModified, merged.ChangeStatus)
	assert.Equal(t, 1, merged.RefCount)

	var ageChange *PropertyChange
	for i := range res.PropertyChanges {
		if res.PropertyChanges[i].OldName == "age" {
			ageChange = &res.PropertyChanges[i]
		}
	}
	require.NotNil(t, ageChange)
	assert.Equal(t, schema.NotModified, ageChange.Status)
	assert.Equal(t, "age", ageChange.NewName)

	for _, pc := range res.PropertyChanges {
		assert.NotEqual(t, schema.Deleted, pc.Status, "omitting a property must not classify as Deleted")
	}
}

func TestMergeExplicitDropDeletesProperty(t *testing.T) {
	old := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{
		"name": propDef(1, "name", catalog.Text),
		"age":  propDef(2, "age", catalog.Integer),
	}}
	dropped := propDef(2, "age", catalog.Integer)
	dropped.ChangeStatus = schema.Deleted
	next := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{
		"name": propDef(1, "name", catalog.Text),
		"age":  dropped,
	}}

	res, err := Merge(old, next, nil)
	require.NoError(t, err)

	_, stillPresent := res.Merged.PropMap["age"]
	assert.False(t, stillPresent)

	var deleted []string
	for _, pc := range res.PropertyChanges {
		if pc.Status == schema.Deleted {
			deleted = append(deleted, pc.OldName)
		}
	}
	assert.Equal(t, []string{"age"}, deleted)
}

func TestMergeExplicitRename(t *testing.T) {
	old := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{
		"oldName": propDef(1, "oldName", catalog.Text),
	}}
	renamed := propDef(0, "oldName", catalog.Text)
	renamed.RenameTo = "newName"
	next := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{
		"oldName": renamed,
	}}

	res, err := Merge(old, next, nil)
	require.NoError(t, err)

	require.Len(t, res.PropertyChanges, 1)
	pc := res.PropertyChanges[0]
	assert.Equal(t, schema.RenamedState, pc.Status)
	assert.Equal(t, "oldName", pc.OldName)
	assert.Equal(t, "newName", pc.NewName)
	assert.Equal(t, uint64(1), res.Merged.PropMap["newName"].ID)
}

func TestMergeRenameMissingSource(t *testing.T) {
	old := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{}}
	renamed := propDef(0, "ghost", catalog.Text)
	renamed.RenameTo = "newName"
	next := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{"ghost": renamed}}

	_, err := Merge(old, next, nil)
	require.Error(t, err)
	assert.True(t, flexerr.Is(err, flexerr.KindRenameMissing))
}

func TestMergeForbiddenTypeChange(t *testing.T) {
	old := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{
		"x": propDef(1, "x", catalog.Text),
	}}
	next := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{
		"x": propDef(1, "x", catalog.Integer),
	}}

	_, err := Merge(old, next, nil)
	require.Error(t, err)
	assert.True(t, flexerr.Is(err, flexerr.KindIncompatibleTypeChange))
}

func TestMergeTypeChangeRequiringScan(t *testing.T) {
	old := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{
		"x": propDef(1, "x", catalog.Number),
	}}
	next := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{
		"x": propDef(1, "x", catalog.Integer),
	}}

	res, err := Merge(old, next, nil)
	require.NoError(t, err)

	require.Len(t, res.PropertyChanges, 1)
	assert.True(t, res.PropertyChanges[0].RequiresScan)
	assert.True(t, res.NeedsDataScan)
}

func TestMergeTighteningLengthRequiresScan(t *testing.T) {
	old := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{
		"x": {ID: 1, Name: schema.Name{ID: 1, Text: "x"}, Type: catalog.Text, MaxLength: 100},
	}}
	next := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{
		"x": {ID: 1, Name: schema.Name{ID: 1, Text: "x"}, Type: catalog.Text, MaxLength: 10},
	}}

	res, err := Merge(old, next, nil)
	require.NoError(t, err)

	assert.True(t, res.NeedsDataScan)
}

func TestMergeDropMissingProperty(t *testing.T) {
	old := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{
		"name": propDef(1, "name", catalog.Text),
	}}
	ghost := propDef(0, "ghost", catalog.Text)
	ghost.ChangeStatus = schema.Deleted
	next := &schema.ClassDef{PropMap: map[string]*schema.PropertyDef{
		"ghost": ghost,
	}}

	_, err := Merge(old, next, nil)
	require.Error(t, err)
	assert.True(t, flexerr.Is(err, flexerr.KindDropMissing))
}

func TestMergeMixinInheritance(t *testing.T) {
	auditClass := &schema.ClassDef{
		Name: schema.Name{Text: "Audit"},
		PropMap: map[string]*schema.PropertyDef{
			"createdAt": propDef(10, "createdAt", catalog.Datetime),
		},
	}
	resolver := func(ref schema.MetadataRef) (*schema.ClassDef, error) {
		if ref.Name == "Audit" {
			return auditClass, nil
		}
		return nil, nil
	}

	next := &schema.ClassDef{
		Name: schema.Name{Text: "Doc"},
		PropMap: map[string]*schema.PropertyDef{
			"title": propDef(0, "title", catalog.Text),
		},
		Mixins: []schema.MetadataRef{{Name: "Audit"}},
	}

	res, err := Merge(nil, next, resolver)
	require.NoError(t, err)

	assert.NotNil(t, res.Merged.PropMap["title"])
	assert.NotNil(t, res.Merged.PropMap["createdAt"])
	assert.Equal(t, uint64(10), res.Merged.PropMap["createdAt"].ID)
	assert.Equal(t, 1, auditClass.PropMap["createdAt"].RefCount)
}

func TestMergeMixinConflictWithOwnProperty(t *testing.T) {
	auditClass := &schema.ClassDef{
		Name: schema.Name{Text: "Audit"},
		PropMap: map[string]*schema.PropertyDef{
			"title": propDef(10, "title", catalog.Datetime),
		},
	}
	resolver := func(ref schema.MetadataRef) (*schema.ClassDef, error) {
		return auditClass, nil
	}

	next := &schema.ClassDef{
		Name: schema.Name{Text: "Doc"},
		PropMap: map[string]*schema.PropertyDef{
			"title": propDef(0, "title", catalog.Text),
		},
		Mixins: []schema.MetadataRef{{Name: "Audit"}},
	}

	_, err := Merge(nil, next, resolver)
	require.Error(t, err)
	assert.True(t, flexerr.Is(err, flexerr.KindMixinConflict))
}

func TestMergeKeepsOldMixinsWhenNewOmitsThem(t *testing.T) {
	old := &schema.ClassDef{
		PropMap: map[string]*schema.PropertyDef{"name": propDef(1, "name", catalog.Text)},
		Mixins:  []schema.MetadataRef{{Name: "Audit"}},
	}
	next := &schema.ClassDef{
		PropMap: map[string]*schema.PropertyDef{"name": propDef(1, "name", catalog.Text)},
	}

	auditClass := &schema.ClassDef{
		Name:    schema.Name{Text: "Audit"},
		PropMap: map[string]*schema.PropertyDef{"createdAt": propDef(10, "createdAt", catalog.Datetime)},
	}
	resolver := func(ref schema.MetadataRef) (*schema.ClassDef, error) { return auditClass, nil }

	res, err := Merge(old, next, resolver)
	require.NoError(t, err)
	assert.Equal(t, []schema.MetadataRef{{Name: "Audit"}}, res.Merged.Mixins)
	assert.NotNil(t, res.Merged.PropMap["createdAt"])
}
