// Package transition is the type-transition oracle (spec.md §4.3): a
// static directed graph deciding, for a pair of internal type codes,
// whether the transition is allowed without inspecting data ("yes"),
// allowed only after a per-row validation scan ("maybe"), or forbidden.
//
// The table-of-edges shape mirrors the teacher's normalizeDataTypeRules
// in internal/core/raw_types.go: a literal slice/map of rules consulted
// in order, rather than a hand-rolled switch per source type.
package transition

import "flexilite/internal/catalog"

// Verdict is the oracle's answer for a (from, to) pair.
type Verdict string

const (
	Yes       Verdict = "yes"
	Maybe     Verdict = "maybe"
	Forbidden Verdict = "forbidden"
)

type edges struct {
	yes   []catalog.TypeCode
	maybe []catalog.TypeCode
}

// table encodes the representative edge set from spec.md §4.3.
//
// spec.md §9(a) flags that the upstream source lists "enum" as a source
// type twice with different "yes" sets; the authoritative row is the
// later one in the source (enum -> {text, name, reference} yes,
// {integer} maybe). That is the row encoded here; the earlier,
// superseded row is not merged in.
var table = map[catalog.TypeCode]edges{
	catalog.Text: {
		yes: []catalog.TypeCode{catalog.Name, catalog.Reference, catalog.Binary, catalog.JSON},
	},
	catalog.Boolean: {
		yes: []catalog.TypeCode{catalog.Integer, catalog.Decimal, catalog.Number, catalog.Text, catalog.Enum},
	},
	catalog.Integer: {
		yes: []catalog.TypeCode{catalog.Decimal, catalog.Number, catalog.Text, catalog.Reference},
	},
	catalog.Number: {
		yes:   []catalog.TypeCode{catalog.Text},
		maybe: []catalog.TypeCode{catalog.Decimal, catalog.Integer},
	},
	catalog.Enum: {
		yes:   []catalog.TypeCode{catalog.Text, catalog.Name, catalog.Reference},
		maybe: []catalog.TypeCode{catalog.Integer},
	},
	catalog.Name: {
		yes:   []catalog.TypeCode{catalog.Text, catalog.Reference},
		maybe: []catalog.TypeCode{catalog.Integer, catalog.Enum, catalog.Number},
	},
	catalog.Decimal: {
		yes:   []catalog.TypeCode{catalog.Number, catalog.Text},
		maybe: []catalog.TypeCode{catalog.Integer},
	},
	catalog.Date: {
		yes: []catalog.TypeCode{catalog.Datetime, catalog.Text},
	},
	catalog.Datetime: {
		yes: []catalog.TypeCode{catalog.Text, catalog.Number, catalog.Decimal},
	},
	catalog.Binary: {
		yes:   []catalog.TypeCode{catalog.Text},
		maybe: []catalog.TypeCode{catalog.UUID},
	},
	catalog.Timespan: {
		yes:   []catalog.TypeCode{catalog.Text, catalog.Number},
		maybe: []catalog.TypeCode{catalog.Decimal},
	},
	catalog.JSON: {
		yes:   []catalog.TypeCode{catalog.Text, catalog.Reference},
		maybe: []catalog.TypeCode{catalog.Number},
	},
	catalog.UUID: {
		yes: []catalog.TypeCode{catalog.Text, catalog.Binary},
	},
	catalog.Reference: {
		yes: []catalog.TypeCode{catalog.Text, catalog.Integer, catalog.Decimal},
	},
}

// Oracle decides, for a pair (old, new), whether the transition is
// allowed, allowed-with-validation, or forbidden.
func Oracle(from, to catalog.TypeCode) Verdict {
	if to == catalog.Any || from == catalog.Any {
		return Yes
	}
	if from == to {
		return Yes
	}

	e, ok := table[from]
	if !ok {
		return Forbidden
	}
	for _, t := range e.yes {
		if t == to {
			return Yes
		}
	}
	for _, t := range e.maybe {
		if t == to {
			return Maybe
		}
	}
	return Forbidden
}
