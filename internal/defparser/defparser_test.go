package defparser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flexilite/internal/catalog"
	"flexilite/internal/flexerr"
)

func TestParseBasicClass(t *testing.T) {
	doc := []byte(`{
		"properties": {
			"fullName": {"rules": {"type": "text", "maxLength": 200}, "index": "unique"},
			"age": {"rules": {"type": "integer"}, "index": "index"}
		}
	}`)

	cd, err := Parse(doc, Options{})
	require.NoError(t, err)

	t.Run("properties are resolved with their declared types", func(t *testing.T) {
		assert.Equal(t, catalog.Text, cd.PropMap["fullName"].Type)
		assert.Equal(t, 200, cd.PropMap["fullName"].MaxLength)
		assert.True(t, cd.PropMap["fullName"].Unique)

		assert.Equal(t, catalog.Integer, cd.PropMap["age"].Type)
		assert.True(t, cd.PropMap["age"].Indexed)
	})
}

func TestParseInvalidPropertyName(t *testing.T) {
	doc := []byte(`{"properties": {"2bad": {"rules": {"type": "text"}}}}`)
	_, err := Parse(doc, Options{})
	require.Error(t, err)
	assert.True(t, flexerr.Is(err, flexerr.KindInvalidName))
}

func TestParseUnknownType(t *testing.T) {
	doc := []byte(`{"properties": {"x": {"rules": {"type": "not-a-type"}}}}`)

	t.Run("lenient mode falls back to text", func(t *testing.T) {
		cd, err := Parse(doc, Options{Strict: false})
		require.NoError(t, err)
		assert.Equal(t, catalog.Text, cd.PropMap["x"].Type)
	})

	t.Run("strict mode rejects it", func(t *testing.T) {
		_, err := Parse(doc, Options{Strict: true})
		require.Error(t, err)
		assert.True(t, flexerr.Is(err, flexerr.KindUnknownType))
	})
}

func TestParseEnumRequiresEnumDef(t *testing.T) {
	doc := []byte(`{"properties": {"status": {"rules": {"type": "enum"}}}}`)
	_, err := Parse(doc, Options{})
	require.Error(t, err)
	assert.True(t, flexerr.Is(err, flexerr.KindInvalidProp))
}

func TestParseReferenceRequiresRefDef(t *testing.T) {
	doc := []byte(`{"properties": {"owner": {"rules": {"type": "reference"}}}}`)
	_, err := Parse(doc, Options{})
	require.Error(t, err)
	assert.True(t, flexerr.Is(err, flexerr.KindInvalidProp))
}

func TestParseRenameAndDropSugar(t *testing.T) {
	doc := []byte(`{
		"properties": {
			"oldName": {"rules": {"type": "text"}, "$renameTo": "newName"},
			"gone": {"rules": {"type": "text"}, "$drop": true}
		}
	}`)
	cd, err := Parse(doc, Options{})
	require.NoError(t, err)

	assert.Equal(t, "newName", cd.PropMap["oldName"].RenameTo)
	assert.Equal(t, "Deleted", string(cd.PropMap["gone"].ChangeStatus))
}

func TestSerializeRoundTrip(t *testing.T) {
	doc := []byte(`{"properties": {"fullName": {"rules": {"type": "text", "maxLength": 50}, "index": "unique"}}}`)
	cd, err := Parse(doc, Options{})
	require.NoError(t, err)

	raw, err := Serialize(cd)
	require.NoError(t, err)

	roundTripped, err := Parse(raw, Options{})
	require.NoError(t, err)

	assert.Equal(t, cd.PropMap["fullName"].Type, roundTripped.PropMap["fullName"].Type)
	assert.Equal(t, cd.PropMap["fullName"].MaxLength, roundTripped.PropMap["fullName"].MaxLength)
	assert.True(t, roundTripped.PropMap["fullName"].Unique)
}

func TestSerializeRoundTripPreservesRangeIndex(t *testing.T) {
	doc := []byte(`{"properties": {"score": {"rules": {"type": "number"}, "index": "range"}}}`)
	cd, err := Parse(doc, Options{})
	require.NoError(t, err)
	require.True(t, cd.PropMap["score"].RangeIndex)

	raw, err := Serialize(cd)
	require.NoError(t, err)

	roundTripped, err := Parse(raw, Options{})
	require.NoError(t, err)
	assert.True(t, roundTripped.PropMap["score"].RangeIndex)
	assert.True(t, roundTripped.PropMap["score"].Indexed)
}

func TestParseMixinsOmittedVsEmpty(t *testing.T) {
	t.Run("mixins key absent leaves Mixins nil", func(t *testing.T) {
		cd, err := Parse([]byte(`{"properties": {"x": {"rules": {"type": "text"}}}}`), Options{})
		require.NoError(t, err)
		assert.Nil(t, cd.Mixins)
	})

	t.Run("mixins key present but empty yields a non-nil empty slice", func(t *testing.T) {
		cd, err := Parse([]byte(`{"properties": {"x": {"rules": {"type": "text"}}}, "mixins": []}`), Options{})
		require.NoError(t, err)
		assert.NotNil(t, cd.Mixins)
		assert.Empty(t, cd.Mixins)
	})

	t.Run("mixins with entries resolves refs", func(t *testing.T) {
		cd, err := Parse([]byte(`{"properties": {"x": {"rules": {"type": "text"}}}, "mixins": [{"name": "Audit"}]}`), Options{})
		require.NoError(t, err)
		require.Len(t, cd.Mixins, 1)
		assert.Equal(t, "Audit", cd.Mixins[0].Name)
	})
}

func TestParseSerializePreservesUnknownPropertyKeys(t *testing.T) {
	doc := []byte(`{"properties": {"score": {"rules": {"type": "number"}, "index": "unique", "vendorHint": {"ui": "slider"}, "weight": 3}}}`)

	cd, err := Parse(doc, Options{})
	require.NoError(t, err)

	score := cd.PropMap["score"]
	require.NotNil(t, score)
	assert.Equal(t, map[string]any{"ui": "slider"}, score.UnknownFields["vendorHint"])
	assert.Equal(t, float64(3), score.UnknownFields["weight"])

	raw, err := Serialize(cd)
	require.NoError(t, err)

	var wire struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(raw, &wire))

	var scoreDoc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(wire.Properties["score"], &scoreDoc))
	assert.JSONEq(t, `{"ui": "slider"}`, string(scoreDoc["vendorHint"]))
	assert.JSONEq(t, `3`, string(scoreDoc["weight"]))
	_, hasSynthetic := scoreDoc["_typeFallbackFrom"]
	assert.False(t, hasSynthetic, "synthetic fallback marker must never be re-emitted")

	roundTripped, err := Parse(raw, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ui": "slider"}, roundTripped.PropMap["score"].UnknownFields["vendorHint"])
	assert.Equal(t, float64(3), roundTripped.PropMap["score"].UnknownFields["weight"])
}
