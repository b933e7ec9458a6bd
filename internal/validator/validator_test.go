package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flexilite/internal/catalog"
	"flexilite/internal/merger"
	"flexilite/internal/schema"
)

type fakeRow struct {
	objectID   int64
	propertyID uint64
	value      any
}

type fakeSource struct {
	rows []fakeRow
}

func (f *fakeSource) ScanClassValues(ctx context.Context, classID uint64, propertyIDs []uint64, fn func(RowValue) error) error {
	for _, r := range f.rows {
		if err := fn(RowValue{ObjectID: r.objectID, PropertyID: r.propertyID, Value: r.value}); err != nil {
			return err
		}
	}
	return nil
}

type fakeRecorder struct {
	records []int64
}

func (f *fakeRecorder) RecordInvalid(ctx context.Context, classID uint64, objectID int64, propName, reason string) error {
	f.records = append(f.records, objectID)
	return nil
}

func TestPlanSkipsChangesNotRequiringScan(t *testing.T) {
	changes := []merger.PropertyChange{
		{RequiresScan: false, New: &schema.PropertyDef{ID: 1, Type: catalog.Text}},
		{RequiresScan: true, New: &schema.PropertyDef{ID: 2, Type: catalog.Integer}, Old: &schema.PropertyDef{Type: catalog.Number}},
	}
	actions := Plan(changes)
	require.Len(t, actions, 1)
	assert.Equal(t, CheckType, actions[0].Kind)
	assert.Equal(t, uint64(2), actions[0].PropertyID)
}

func TestRunAbortMode(t *testing.T) {
	actions := []Action{{Kind: CheckLength, PropertyID: 1, PropName: "name", Prop: &schema.PropertyDef{MaxLength: 3}}}
	src := &fakeSource{rows: []fakeRow{{objectID: 1, propertyID: 1, value: "too long"}}}

	v := New(1024)
	report, err := v.Run(context.Background(), 10, actions, ModeAbort, src, nil)

	require.Error(t, err)
	assert.True(t, report.Aborted)
	assert.Equal(t, 1, report.InvalidRows)
}

func TestRunIgnoreMode(t *testing.T) {
	actions := []Action{{Kind: CheckLength, PropertyID: 1, PropName: "name", Prop: &schema.PropertyDef{MaxLength: 3}}}
	src := &fakeSource{rows: []fakeRow{
		{objectID: 1, propertyID: 1, value: "too long"},
		{objectID: 2, propertyID: 1, value: "ok"},
	}}

	v := New(1024)
	report, err := v.Run(context.Background(), 10, actions, ModeIgnore, src, nil)

	require.NoError(t, err)
	assert.False(t, report.Aborted)
	assert.Equal(t, 1, report.InvalidRows)
	assert.Equal(t, 2, report.ScannedRows)
}

func TestRunMarkMode(t *testing.T) {
	actions := []Action{{Kind: CheckLength, PropertyID: 1, PropName: "name", Prop: &schema.PropertyDef{MaxLength: 3}}}
	src := &fakeSource{rows: []fakeRow{{objectID: 7, propertyID: 1, value: "too long"}}}
	rec := &fakeRecorder{}

	v := New(1024)
	report, err := v.Run(context.Background(), 10, actions, ModeMark, src, rec)

	require.Error(t, err)
	assert.Equal(t, 1, report.InvalidRows)
	assert.Equal(t, []int64{7}, rec.records)
}

func TestRunMarkModeAllValidSurfacesNoError(t *testing.T) {
	actions := []Action{{Kind: CheckLength, PropertyID: 1, PropName: "name", Prop: &schema.PropertyDef{MaxLength: 10}}}
	src := &fakeSource{rows: []fakeRow{{objectID: 7, propertyID: 1, value: "ok"}}}
	rec := &fakeRecorder{}

	v := New(1024)
	report, err := v.Run(context.Background(), 10, actions, ModeMark, src, rec)

	require.NoError(t, err)
	assert.Equal(t, 0, report.InvalidRows)
	assert.Empty(t, rec.records)
}

func TestCheckValueCases(t *testing.T) {
	t.Run("enum rejects unknown member", func(t *testing.T) {
		p := &schema.PropertyDef{EnumDef: &schema.EnumDef{Values: []schema.EnumValue{{Value: "a"}}}}
		assert.Error(t, checkEnum(p, "z"))
		assert.NoError(t, checkEnum(p, "a"))
	})

	t.Run("range rejects out of bounds", func(t *testing.T) {
		min, max := 0.0, 10.0
		p := &schema.PropertyDef{MinValue: &min, MaxValue: &max}
		assert.Error(t, checkRange(p, 11.0))
		assert.NoError(t, checkRange(p, 5.0))
	})

	t.Run("type check accepts numeric string for integer", func(t *testing.T) {
		assert.NoError(t, checkType(catalog.Number, catalog.Integer, "42"))
		assert.Error(t, checkType(catalog.Number, catalog.Integer, "4.5x"))
	})
}
