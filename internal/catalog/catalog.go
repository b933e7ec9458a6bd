// Package catalog is the static table mapping declared property type
// tokens to an internal type code and a substrate storage kind (§2.3).
// Its table-driven lookup shape follows internal/core's raw-type
// normalization tables in the teacher repository: a literal map plus a
// small case-insensitive toSet-style helper, rather than a switch
// statement per type.
package catalog

import "strings"

// TypeCode is the internal, dialect-independent property type.
type TypeCode string

const (
	Text      TypeCode = "text"
	Integer   TypeCode = "integer"
	Boolean   TypeCode = "boolean"
	Enum      TypeCode = "enum"
	Number    TypeCode = "number"
	Datetime  TypeCode = "datetime"
	UUID      TypeCode = "uuid"
	Binary    TypeCode = "binary"
	Name      TypeCode = "name"
	Decimal   TypeCode = "decimal"
	JSON      TypeCode = "json"
	Date      TypeCode = "date"
	Time      TypeCode = "time"
	Any       TypeCode = "any"
	Reference TypeCode = "reference"
	Timespan  TypeCode = "timespan"
)

// StorageKind is the substrate (SQLite) column affinity used to physically
// hold values of a given TypeCode in the shared value table.
type StorageKind string

const (
	StorageText StorageKind = "TEXT"
	StorageInt  StorageKind = "INTEGER"
	StorageReal StorageKind = "REAL"
	StorageBlob StorageKind = "BLOB"
	StorageAny  StorageKind = "" // PROP_TYPE_ANY: no fixed affinity
)

// entry is one catalog row: a type code plus its substrate storage kind.
type entry struct {
	code    TypeCode
	storage StorageKind
}

// catalogByToken maps every recognised declared type token (case-insensitive)
// to its catalog entry, including the legacy aliases NVARCHAR, NCHAR, MONEY,
// IMAGE and VARCHAR (§2.3). Several tokens legitimately collide on the same
// TypeCode (e.g. "nvarchar", "nchar" and "varchar" all resolve to text)
// which mirrors the teacher's own raw-type tables mapping many SQL
// keywords onto one portable DataType.
var catalogByToken = map[string]entry{
	"text":      {Text, StorageText},
	"integer":   {Integer, StorageInt},
	"boolean":   {Boolean, StorageInt},
	"enum":      {Enum, StorageText},
	"number":    {Number, StorageReal},
	"datetime":  {Datetime, StorageReal},
	"uuid":      {UUID, StorageBlob},
	"binary":    {Binary, StorageBlob},
	"name":      {Name, StorageText},
	"decimal":   {Decimal, StorageReal},
	"json":      {JSON, StorageText},
	"date":      {Date, StorageReal},
	"time":      {Time, StorageReal},
	"any":       {Any, StorageAny},
	"reference": {Reference, StorageInt},

	// Legacy aliases (§2.3).
	"nvarchar": {Text, StorageText},
	"nchar":    {Text, StorageText},
	"money":    {Decimal, StorageReal},
	"image":    {Binary, StorageBlob},
	"varchar":  {Text, StorageText},
}

// Resolve looks up a declared type token and returns its internal TypeCode.
// Lookup is case-insensitive. ok is false for an unrecognised token.
func Resolve(token string) (code TypeCode, ok bool) {
	e, found := catalogByToken[strings.ToLower(strings.TrimSpace(token))]
	if !found {
		return "", false
	}
	return e.code, true
}

// Storage returns the substrate storage kind for a TypeCode.
func Storage(code TypeCode) StorageKind {
	for _, e := range catalogByToken {
		if e.code == code {
			return e.storage
		}
	}
	return StorageText
}

// Valid reports whether code is one of the catalog's internal type codes.
func Valid(code TypeCode) bool {
	switch code {
	case Text, Integer, Boolean, Enum, Number, Datetime, UUID, Binary,
		Name, Decimal, JSON, Date, Time, Any, Reference, Timespan:
		return true
	default:
		return false
	}
}

// IsNumeric reports whether code is one of the numeric-family types that
// range indexing and CheckRange validation accept (§4.4.4).
func IsNumeric(code TypeCode) bool {
	switch code {
	case Integer, Number, Decimal, Datetime, Date, Time, Timespan:
		return true
	default:
		return false
	}
}

// IsTextual reports whether code is a textual type eligible for full-text
// indexing (§4.4.5).
func IsTextual(code TypeCode) bool {
	switch code {
	case Text, Name, Enum, JSON:
		return true
	default:
		return false
	}
}
