package transition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"flexilite/internal/catalog"
)

func TestOracleReflexiveAndAny(t *testing.T) {
	t.Run("same type is always yes", func(t *testing.T) {
		for _, c := range []catalog.TypeCode{catalog.Text, catalog.Integer, catalog.Enum, catalog.Reference} {
			assert.Equal(t, Yes, Oracle(c, c))
		}
	})

	t.Run("any absorbs both directions", func(t *testing.T) {
		assert.Equal(t, Yes, Oracle(catalog.Any, catalog.Integer))
		assert.Equal(t, Yes, Oracle(catalog.Text, catalog.Any))
	})
}

func TestOracleKnownEdges(t *testing.T) {
	cases := []struct {
		name    string
		from    catalog.TypeCode
		to      catalog.TypeCode
		verdict Verdict
	}{
		{"integer widens to text without inspection", catalog.Integer, catalog.Text, Yes},
		{"number narrows to integer only after validation", catalog.Number, catalog.Integer, Maybe},
		{"enum promotes to text", catalog.Enum, catalog.Text, Yes},
		{"enum narrows to integer only after validation", catalog.Enum, catalog.Integer, Maybe},
		{"text cannot become integer", catalog.Text, catalog.Integer, Forbidden},
		{"reference cannot become json", catalog.Reference, catalog.JSON, Forbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.verdict, Oracle(tc.from, tc.to))
		})
	}
}

func TestOracleUnknownSource(t *testing.T) {
	assert.Equal(t, Forbidden, Oracle(catalog.TypeCode("bogus"), catalog.Text))
}
