// Package applier commits a merger.Result to the substrate (spec.md
// §4.6): it runs any required data validation scan, writes the
// surviving/added/renamed property rows, recomputes the class's ctlo
// mask, bumps the schema version counter, and rolls the whole thing
// back on any failure.
//
// The pre-actions/scan/post-actions/commit sequencing is grounded on
// internal/apply/apply.go's Applier.Apply (preflight checks, then a
// transactional or non-transactional execution path) and
// internal/migration/migration.go's Operation accumulation idiom,
// adapted here to build one ordered list of substrate writes instead of
// raw SQL statement strings.
package applier

import (
	"context"
	"fmt"

	"flexilite/internal/defparser"
	"flexilite/internal/flexerr"
	"flexilite/internal/merger"
	"flexilite/internal/schema"
	"flexilite/internal/store"
	"flexilite/internal/validator"
)

// DefaultIndexApplyThreshold is the row count below which the applier
// defers ordered/full-text/range index intent and reports it in
// Result.IndexDeferred (spec.md §4.6's index_apply_threshold heuristic
// default).
const DefaultIndexApplyThreshold = 5000

// Options tunes one Applier instance.
type Options struct {
	IndexApplyThreshold int64
	ValidationMode      validator.Mode
	PollInterval        int
}

func (o Options) withDefaults() Options {
	if o.IndexApplyThreshold <= 0 {
		o.IndexApplyThreshold = DefaultIndexApplyThreshold
	}
	if o.ValidationMode == "" {
		o.ValidationMode = validator.ModeAbort
	}
	return o
}

// Applier commits class definitions to a store.Store.
type Applier struct {
	store store.Store
	valid *validator.Validator
	opts  Options
}

// New returns an Applier backed by st.
func New(st store.Store, opts Options) *Applier {
	opts = opts.withDefaults()
	return &Applier{store: st, valid: validator.New(opts.PollInterval), opts: opts}
}

// Result reports what a commit actually did, for audit logging.
type Result struct {
	ClassDef        *schema.ClassDef
	SchemaVersion   uint64
	ValidationRun   bool
	ValidationStats *validator.Report
	// IndexDeferred lists properties whose ordered/full-text/range intent
	// didn't materialise into ctlv this commit because the class is still
	// below index_apply_threshold (spec.md §4.6.4).
	IndexDeferred []string
	// AutoUUIDBackfilled notes, per property, how many pre-existing rows
	// received a generated value when autoUuid was newly assigned.
	AutoUUIDBackfilled []string
}

// txBackfillSink adapts store.Store.BackfillValue (which threads an
// explicit store.Tx) to validator.AutoUUIDSink's narrower signature, so
// the backfill runs inside the same transaction as the property write
// that assigned the autoUuid role.
type txBackfillSink struct {
	store store.Store
	tx    store.Tx
}

func (s *txBackfillSink) BackfillValue(ctx context.Context, classID, propertyID uint64, objectID int64, value string) error {
	return s.store.BackfillValue(ctx, s.tx, classID, propertyID, objectID, value)
}

// CreateClass persists a brand-new class definition with no prior
// version: every property is Added, there is nothing to scan. mr is the
// merger.Result produced by merging against a nil prior definition; the
// caller (the engine) builds it so it can supply a mixin resolver bound
// to its own connection Context.
func (a *Applier) CreateClass(ctx context.Context, mr *merger.Result) (*Result, error) {
	return a.commit(ctx, 0, mr, a.opts.ValidationMode)
}

// AlterClass commits a merger.Result produced against classID's current
// definition. mode overrides the Applier's configured default validation
// mode for this call only; pass "" to use the default.
func (a *Applier) AlterClass(ctx context.Context, classID uint64, mr *merger.Result, mode validator.Mode) (*Result, error) {
	if mode == "" {
		mode = a.opts.ValidationMode
	}
	return a.commit(ctx, classID, mr, mode)
}

// DropClass removes a class definition. When soft is true the class row
// is kept (marked CtloSoftDeleted), its object rows are relocated under
// the system "Object" class (schema.SystemObjectClassID), and its range,
// full-text, and reference index rows are torn down — spec.md §6's
// drop_class(soft=true) contract, transactional with the rest of the
// drop.
func (a *Applier) DropClass(ctx context.Context, cd *schema.ClassDef, soft bool) error {
	tx, err := a.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if soft {
		if err := a.store.RelocateObjects(ctx, tx, cd.ClassID, schema.SystemObjectClassID); err != nil {
			return err
		}
		if err := a.store.DropAuxiliaryData(ctx, tx, cd.ClassID); err != nil {
			return err
		}
		cd.CtloMask = (cd.CtloMask &^ (schema.CtloOrderedIndex | schema.CtloFullText | schema.CtloRange | schema.CtloRef)) | schema.CtloSoftDeleted
		raw, err := marshalClass(cd)
		if err != nil {
			return err
		}
		if err := a.store.SaveClass(ctx, tx, cd, raw); err != nil {
			return err
		}
	} else {
		if err := a.store.DeleteClass(ctx, tx, cd.ClassID); err != nil {
			return err
		}
	}
	if _, err := a.store.BumpSchemaVersion(ctx, tx); err != nil {
		return err
	}
	if err := commitTx(tx); err != nil {
		return err
	}
	return nil
}

// RenameClass reassigns the class's interned name without touching any
// property.
func (a *Applier) RenameClass(ctx context.Context, cd *schema.ClassDef, newNameID uint64, newName string) error {
	tx, err := a.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cd.Name = schema.Name{ID: newNameID, Text: newName}
	raw, err := marshalClass(cd)
	if err != nil {
		return err
	}
	if err := a.store.SaveClass(ctx, tx, cd, raw); err != nil {
		return err
	}
	if _, err := a.store.BumpSchemaVersion(ctx, tx); err != nil {
		return err
	}
	return commitTx(tx)
}

func (a *Applier) commit(ctx context.Context, classID uint64, mr *merger.Result, mode validator.Mode) (*Result, error) {
	res := &Result{ClassDef: mr.Merged}

	// needs_data_scan gates the commit itself (spec.md §4.6 step 2) and
	// always runs regardless of class size — index_apply_threshold only
	// governs which indexes materialise (step 4), never whether rows get
	// validated.
	if mr.NeedsDataScan {
		actions := validator.Plan(mr.PropertyChanges)
		if len(actions) > 0 {
			report, err := a.valid.Run(ctx, classID, actions, mode, a.store, a.store)
			if err != nil {
				return nil, err
			}
			res.ValidationRun = true
			res.ValidationStats = report
		}
	}

	var objectCount int64
	if classID != 0 {
		var err error
		objectCount, err = a.store.ObjectCount(ctx, classID)
		if err != nil {
			return nil, err
		}
	}
	belowThreshold := objectCount < int64(a.opts.IndexApplyThreshold)

	tx, err := a.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cd := mr.Merged
	if classID != 0 {
		cd.ClassID = classID
	}

	var newAutoUUIDProps []*schema.PropertyDef

	for _, pc := range mr.PropertyChanges {
		switch pc.Status {
		case schema.Deleted:
			if pc.Old != nil {
				if err := a.store.DeleteProperty(ctx, tx, cd.ClassID, pc.Old.ID); err != nil {
					return nil, err
				}
			}
		case schema.Added, schema.Modified, schema.RenamedState, schema.NotModified:
			if pc.New != nil {
				if err := a.store.SaveProperty(ctx, tx, cd.ClassID, pc.New, belowThreshold); err != nil {
					return nil, err
				}
				if belowThreshold && pc.New.CtlvPlan&(schema.CtloOrderedIndex|schema.CtloFullText|schema.CtloRange) != 0 {
					res.IndexDeferred = append(res.IndexDeferred, pc.New.Name.Text)
				}
				gainedAutoUUID := pc.New.Role&schema.RoleAutoUUID != 0 &&
					(pc.Old == nil || pc.Old.Role&schema.RoleAutoUUID == 0)
				if gainedAutoUUID {
					newAutoUUIDProps = append(newAutoUUIDProps, pc.New)
				}
			}
		}
	}

	if classID != 0 {
		for _, p := range newAutoUUIDProps {
			sink := &txBackfillSink{store: a.store, tx: tx}
			n, err := validator.BackfillAutoUUIDs(ctx, cd.ClassID, p.ID, a.store, sink)
			if err != nil {
				return nil, err
			}
			if n > 0 {
				res.AutoUUIDBackfilled = append(res.AutoUUIDBackfilled, fmt.Sprintf("%s: %d rows", p.Name.Text, n))
			}
		}
	}

	cd.CtloMask = recomputeCtloMask(cd)

	raw, err := marshalClass(cd)
	if err != nil {
		return nil, err
	}
	if err := a.store.SaveClass(ctx, tx, cd, raw); err != nil {
		return nil, err
	}

	version, err := a.store.BumpSchemaVersion(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := commitTx(tx); err != nil {
		return nil, err
	}

	res.SchemaVersion = version
	return res, nil
}

// recomputeCtloMask derives the class-level ctlo bits from its current
// property set and slots (spec.md §6): unique/ordered/full-text bits
// are set whenever any surviving property exercises them, the range bit
// whenever any range slot is filled, the ref bit whenever any property
// has a refDef, and soft-delete is carried forward rather than
// recomputed.
func recomputeCtloMask(cd *schema.ClassDef) uint32 {
	mask := cd.CtloMask & schema.CtloSoftDeleted
	for _, p := range cd.PropMap {
		if p.ChangeStatus == schema.Deleted {
			continue
		}
		if p.Unique {
			mask |= schema.CtloUniqueIndex
		}
		if p.Indexed {
			mask |= schema.CtloOrderedIndex
		}
		if p.FullText {
			mask |= schema.CtloFullText
		}
		if p.RefDef != nil {
			mask |= schema.CtloRef
		}
	}
	for _, r := range cd.RangeProps {
		if !r.Empty() {
			mask |= schema.CtloRange
			break
		}
	}
	return mask
}

func marshalClass(cd *schema.ClassDef) ([]byte, error) {
	raw, err := defparser.Serialize(cd)
	if err != nil {
		return nil, flexerr.Wrap(flexerr.KindParseError, err, "serialize class %q", cd.Name.Text)
	}
	return raw, nil
}

func commitTx(tx store.Tx) error {
	if err := tx.Commit(); err != nil {
		return flexerr.Wrap(flexerr.KindSubstrateError, err, "commit schema change")
	}
	return nil
}
