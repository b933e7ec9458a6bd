// Package validator runs the per-row data validation pass the merger
// flags as required (spec.md §4.5) before an alter_class commits: it
// walks existing objects of a class and checks each changed property's
// stored value against the new definition, honouring one of three
// failure modes (Abort, Ignore, Mark).
//
// The per-concern-function shape (one small Check* per constraint kind)
// is grounded on internal/core's validate_column.go / validate_enum.go /
// validate_semantic.go: a validator is a handful of single-purpose
// functions threaded together, not one large switch. The cancellable
// scan loop is grounded on internal/apply/apply.go's Apply, which
// already threads a context.Context through a long-running operation
// and checks it between units of work.
package validator

import (
	"context"
	"fmt"

	"flexilite/internal/catalog"
	"flexilite/internal/flexerr"
	"flexilite/internal/merger"
	"flexilite/internal/schema"
)

// Mode selects what happens when a row fails validation (spec.md §4.5).
type Mode string

const (
	// ModeAbort fails the whole alteration on the first invalid row.
	ModeAbort Mode = "abort"
	// ModeIgnore silently skips invalid rows; they keep their old value.
	ModeIgnore Mode = "ignore"
	// ModeMark records each invalid row in [.invalid_objects], scans to
	// the end, and then fails with ConstraintViolation if any row was
	// recorded.
	ModeMark Mode = "mark"
)

// DefaultPollInterval is how many rows the scan processes between
// context.Context cancellation checks (spec.md §4.5, N=1024).
const DefaultPollInterval = 1024

// ActionKind names the kind of per-row check a changed property requires.
type ActionKind string

const (
	CheckType     ActionKind = "CheckType"
	CheckRange    ActionKind = "CheckRange"
	CheckLength   ActionKind = "CheckLength"
	CheckRegex    ActionKind = "CheckRegex"
	CheckEnum     ActionKind = "CheckEnum"
	CheckRef      ActionKind = "CheckRef"
	NormalizeRef  ActionKind = "NormalizeRef"
	NormalizeEnum ActionKind = "NormalizeEnum"
)

// Action is one property's compiled validation step.
type Action struct {
	Kind       ActionKind
	PropertyID uint64
	PropName   string
	Prop       *schema.PropertyDef
	OldType    catalog.TypeCode
}

// Plan compiles a merger.Result's scan-requiring changes into the
// ordered set of per-row actions the scan must run.
func Plan(changes []merger.PropertyChange) []Action {
	var actions []Action
	for _, c := range changes {
		if !c.RequiresScan || c.New == nil {
			continue
		}
		p := c.New
		if c.Old != nil && c.Old.Type != p.Type {
			actions = append(actions, Action{Kind: CheckType, PropertyID: p.ID, PropName: p.Name.Text, Prop: p, OldType: c.Old.Type})
			continue
		}
		switch {
		case p.Type == catalog.Enum && p.EnumDef != nil:
			actions = append(actions, Action{Kind: CheckEnum, PropertyID: p.ID, PropName: p.Name.Text, Prop: p})
		case p.Type == catalog.Reference:
			actions = append(actions, Action{Kind: CheckRef, PropertyID: p.ID, PropName: p.Name.Text, Prop: p})
		case p.MaxLength > 0:
			actions = append(actions, Action{Kind: CheckLength, PropertyID: p.ID, PropName: p.Name.Text, Prop: p})
		case p.Regex != "":
			actions = append(actions, Action{Kind: CheckRegex, PropertyID: p.ID, PropName: p.Name.Text, Prop: p})
		case p.MinValue != nil || p.MaxValue != nil:
			actions = append(actions, Action{Kind: CheckRange, PropertyID: p.ID, PropName: p.Name.Text, Prop: p})
		default:
			actions = append(actions, Action{Kind: CheckType, PropertyID: p.ID, PropName: p.Name.Text, Prop: p, OldType: p.Type})
		}
	}
	return actions
}

// RowValue is one stored (object, property) value the scan inspects.
type RowValue struct {
	ObjectID   int64
	PropertyID uint64
	Value      any
}

// RowSource streams existing values for the given properties of a class.
// fn is called once per row; returning an error from fn stops the scan.
type RowSource interface {
	ScanClassValues(ctx context.Context, classID uint64, propertyIDs []uint64, fn func(RowValue) error) error
}

// InvalidRecorder persists ModeMark failures to [.invalid_objects]
// (spec.md §6: ClassID, ObjectID, Reason).
type InvalidRecorder interface {
	RecordInvalid(ctx context.Context, classID uint64, objectID int64, propName, reason string) error
}

// Report summarises one validation pass.
type Report struct {
	ScannedRows int
	InvalidRows int
	Aborted     bool
}

// Validator runs a compiled Plan over a class's existing rows.
type Validator struct {
	pollInterval int
}

// New returns a Validator that checks ctx for cancellation every
// pollInterval rows. pollInterval <= 0 falls back to DefaultPollInterval.
func New(pollInterval int) *Validator {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Validator{pollInterval: pollInterval}
}

// Run scans every row covered by actions's properties and applies the
// matching check. Behaviour on a failed check is governed by mode:
// ModeAbort returns the first *flexerr.Error and stops; ModeIgnore
// leaves the row alone and keeps scanning; ModeMark records the row via
// recorder and keeps scanning. recorder may be nil only when mode is not
// ModeMark.
func (v *Validator) Run(ctx context.Context, classID uint64, actions []Action, mode Mode, rows RowSource, recorder InvalidRecorder) (*Report, error) {
	if len(actions) == 0 {
		return &Report{}, nil
	}

	byProp := make(map[uint64]Action, len(actions))
	propIDs := make([]uint64, 0, len(actions))
	for _, a := range actions {
		byProp[a.PropertyID] = a
		propIDs = append(propIDs, a.PropertyID)
	}

	report := &Report{}
	n := 0

	var lastMarked *flexerr.Error

	scanErr := rows.ScanClassValues(ctx, classID, propIDs, func(rv RowValue) error {
		n++
		if n%v.pollInterval == 0 {
			if err := ctx.Err(); err != nil {
				report.Aborted = true
				return flexerr.Wrap(flexerr.KindCancelled, err, "validation scan cancelled after %d rows", n)
			}
		}
		report.ScannedRows++

		a, ok := byProp[rv.PropertyID]
		if !ok {
			return nil
		}
		if err := checkValue(a, rv.Value); err != nil {
			report.InvalidRows++
			switch mode {
			case ModeAbort:
				report.Aborted = true
				return flexerr.Wrap(flexerr.KindConstraintViolation, err, "object %d property %q", rv.ObjectID, a.PropName).
					WithProp(a.PropName).WithObject(rv.ObjectID, err.Error())
			case ModeMark:
				if recorder == nil {
					return fmt.Errorf("mark mode requires a recorder")
				}
				if recErr := recorder.RecordInvalid(ctx, classID, rv.ObjectID, a.PropName, err.Error()); recErr != nil {
					return recErr
				}
				lastMarked = flexerr.Wrap(flexerr.KindConstraintViolation, err, "object %d property %q", rv.ObjectID, a.PropName).
					WithProp(a.PropName).WithObject(rv.ObjectID, err.Error())
				return nil
			case ModeIgnore:
				return nil
			}
		}
		return nil
	})
	if scanErr != nil {
		return report, scanErr
	}
	// spec.md §4.5: under ModeMark the scan always runs to completion over
	// every row, but still surfaces ConstraintViolation at the end iff any
	// row was recorded invalid.
	if mode == ModeMark && report.InvalidRows > 0 {
		return report, lastMarked
	}
	return report, nil
}

// checkValue runs the single check named by a against value.
func checkValue(a Action, value any) error {
	switch a.Kind {
	case CheckType:
		return checkType(a.OldType, a.Prop.Type, value)
	case CheckLength:
		return checkLength(a.Prop, value)
	case CheckRange:
		return checkRange(a.Prop, value)
	case CheckRegex:
		return checkRegexValue(a.Prop, value)
	case CheckEnum:
		return checkEnum(a.Prop, value)
	case CheckRef:
		return checkRef(a.Prop, value)
	default:
		return nil
	}
}
