// Package merger computes the difference between a class's previous
// definition and its proposed new definition (spec.md §4.4): which
// properties were added, dropped, renamed, or modified, whether any
// special/range/full-text slot moved, and whether applying the change
// requires a per-row data validation scan before it can commit.
//
// The shape is grounded on internal/diff/diff.go's Diff/compareTable:
// two full schema snapshots are compared by building name-keyed maps of
// each side and classifying by set membership, rather than applying a
// patch document. $drop and $renameTo (spec.md §6) are read as sugar
// layered on top of that same full-restatement comparison: an entry
// carrying $drop or $renameTo still participates in the by-name diff,
// it just arrives with its disposition already decided by the parser
// instead of inferred from presence/absence.
package merger

import (
	"fmt"

	"flexilite/internal/flexerr"
	"flexilite/internal/schema"
	"flexilite/internal/transition"
)

// PropertyChange is one property's classification in an alter_class diff.
type PropertyChange struct {
	OldName string
	NewName string
	Status  schema.ChangeStatus
	Old     *schema.PropertyDef
	New     *schema.PropertyDef

	// TypeVerdict is populated for Status == Modified with a type change
	// and for every Renamed entry; it is the transition.Oracle verdict for
	// old.Type -> new.Type.
	TypeVerdict transition.Verdict

	// RequiresScan is true if this single property change, on its own,
	// forces a data validation pass over existing objects of the class.
	RequiresScan bool
	ScanReason   string
}

// Result is the full outcome of merging an old definition against a
// proposed new one.
type Result struct {
	// Merged is the new ClassDef, copy-forward from Old: surviving
	// properties keep their PropertyDef.ID, renamed properties keep their
	// ID under the new name, and Added properties are left with ID == 0,
	// which the applier passes unchanged to store.SaveProperty. Surviving
	// and renamed properties are clones, so their RefCount is not carried
	// over (copied-forward properties start at 1, restated ones at 0).
	Merged *schema.ClassDef

	PropertyChanges []PropertyChange

	SpecialSlotsChanged bool
	RangeSlotsChanged   bool
	FTSSlotsChanged     bool
	MixinsChanged       bool

	// NeedsDataScan is true if any property change requires a validation
	// pass over existing rows before the alteration can commit, or if an
	// alteration reassigns a range or full-text slot (spec.md §4.5).
	// Special-slot and mixin changes do not set it.
	NeedsDataScan bool
}

// MixinResolver resolves a mixin MetadataRef to the referenced class's
// current definition, by id or by name, whichever side of the ref is
// populated. The engine supplies one backed by the connection Context's
// by-id/by-name caches; a mixin relation is a lookup, never an owning
// link (spec.md §9).
type MixinResolver func(ref schema.MetadataRef) (*schema.ClassDef, error)

// Merge classifies every property in old against new and produces the
// copy-forward merged definition. old may be nil, meaning create_class:
// every new property is then classified Added and NeedsDataScan is
// always false (there are no existing rows to scan). resolveMixin may be
// nil only when neither old nor next declares any mixin.
func Merge(old, next *schema.ClassDef, resolveMixin MixinResolver) (*Result, error) {
	if next == nil {
		return nil, flexerr.New(flexerr.KindParseError, "new class definition is nil")
	}

	res := &Result{Merged: next.Clone()}
	res.Merged.PropMap = make(map[string]*schema.PropertyDef, len(next.PropMap))

	if old == nil {
		for name, np := range next.PropMap {
			added := np.Clone()
			added.ChangeStatus = schema.Added
			res.Merged.PropMap[name] = added
			res.PropertyChanges = append(res.PropertyChanges, PropertyChange{
				NewName: name, Status: schema.Added, New: added,
			})
		}
		res.SpecialSlotsChanged = hasAnySlot(next.SpecialProps[:])
		res.RangeSlotsChanged = hasAnySlot(next.RangeProps[:])
		res.FTSSlotsChanged = hasAnySlot(next.FTSProps[:])
		res.MixinsChanged = len(next.Mixins) > 0
		if err := mergeMixins(res, nil, next, resolveMixin); err != nil {
			return nil, err
		}
		return res, nil
	}

	renameTargets := make(map[string]string, len(next.PropMap)) // oldName -> newName
	dropNames := make(map[string]bool, len(next.PropMap))
	for name, np := range next.PropMap {
		if np.RenameTo != "" {
			renameTargets[name] = np.RenameTo
		}
		if np.ChangeStatus == schema.Deleted {
			dropNames[name] = true
		}
	}

	consumedOld := make(map[string]bool, len(old.PropMap))
	consumedNew := make(map[string]bool, len(next.PropMap))

	// Pass 1: explicit renames, keyed by the old name carried in the new
	// document.
	for oldName, newName := range renameTargets {
		oldProp, ok := old.PropMap[oldName]
		if !ok {
			return nil, flexerr.New(flexerr.KindRenameMissing, "cannot rename %q: no such property on the current definition", oldName).WithProp(oldName)
		}
		if _, collide := old.PropMap[newName]; collide && newName != oldName {
			if !dropNames[newName] {
				return nil, flexerr.New(flexerr.KindInvalidName, "rename target %q collides with an existing property", newName).WithProp(newName)
			}
		}
		newProp, ok := next.PropMap[oldName]
		if !ok {
			return nil, flexerr.New(flexerr.KindParseError, "internal: rename entry for %q vanished", oldName)
		}

		merged := oldProp.Clone()
		applyMutableFields(merged, newProp)
		merged.Name = schema.Name{ID: oldProp.Name.ID, Text: newName}
		merged.RenameTo = ""
		merged.ChangeStatus = schema.RenamedState

		verdict := transition.Oracle(oldProp.Type, newProp.Type)
		pc := PropertyChange{
			OldName: oldName, NewName: newName, Status: schema.RenamedState,
			Old: oldProp, New: merged, TypeVerdict: verdict,
		}
		if oldProp.Type != newProp.Type {
			if verdict == transition.Forbidden {
				return nil, flexerr.New(flexerr.KindIncompatibleTypeChange,
					"property %q: cannot change type %s -> %s", oldName, oldProp.Type, newProp.Type).WithProp(oldName)
			}
			if verdict == transition.Maybe {
				pc.RequiresScan = true
				pc.ScanReason = fmt.Sprintf("type change %s -> %s requires validation", oldProp.Type, newProp.Type)
			}
		}

		res.Merged.PropMap[newName] = merged
		res.PropertyChanges = append(res.PropertyChanges, pc)
		consumedOld[oldName] = true
		consumedNew[oldName] = true
	}

	// Pass 2: explicit drops.
	for name := range dropNames {
		if consumedOld[name] {
			continue
		}
		oldProp, ok := old.PropMap[name]
		if !ok {
			return nil, flexerr.New(flexerr.KindDropMissing, "cannot drop %q: no such property on the current definition", name).WithProp(name)
		}
		res.PropertyChanges = append(res.PropertyChanges, PropertyChange{
			OldName: name, Status: schema.Deleted, Old: oldProp, RequiresScan: false,
		})
		consumedOld[name] = true
		consumedNew[name] = true
	}

	// Pass 3: everything else, by straight name-set comparison.
	for name, newProp := range next.PropMap {
		if consumedNew[name] {
			continue
		}
		oldProp, existed := old.PropMap[name]
		if !existed {
			added := newProp.Clone()
			added.ChangeStatus = schema.Added
			res.Merged.PropMap[name] = added
			res.PropertyChanges = append(res.PropertyChanges, PropertyChange{
				NewName: name, Status: schema.Added, New: added,
				RequiresScan: added.MinOccurs > 0,
				ScanReason:   scanReasonIf(added.MinOccurs > 0, "new required property needs a default backfilled onto existing objects"),
			})
			continue
		}

		pc, merged := compareProperty(name, oldProp, newProp)
		if pc.Status == schema.Modified && oldProp.Type != newProp.Type && pc.TypeVerdict == transition.Forbidden {
			return nil, flexerr.New(flexerr.KindIncompatibleTypeChange,
				"property %q: cannot change type %s -> %s", name, oldProp.Type, newProp.Type).WithProp(name)
		}
		res.Merged.PropMap[name] = merged
		res.PropertyChanges = append(res.PropertyChanges, pc)
		consumedOld[name] = true
		consumedNew[name] = true
	}

	// Pass 4: old properties untouched by any of the above are copied
	// forward unchanged (spec.md §4.4.1) — omitting a property from the
	// new document is not a drop; only an explicit $drop (Pass 2) is.
	for name, oldProp := range old.PropMap {
		if consumedOld[name] {
			continue
		}
		kept := oldProp.Clone()
		kept.ChangeStatus = schema.NotModified
		kept.RefCount++
		res.Merged.PropMap[name] = kept
		res.PropertyChanges = append(res.PropertyChanges, PropertyChange{
			OldName: name, NewName: name, Status: schema.NotModified, Old: oldProp, New: kept,
		})
	}

	res.SpecialSlotsChanged = old.SpecialProps != next.SpecialProps
	res.RangeSlotsChanged = old.RangeProps != next.RangeProps
	res.FTSSlotsChanged = old.FTSProps != next.FTSProps
	res.MixinsChanged = !mixinsEqual(old.Mixins, next.Mixins)

	if err := mergeMixins(res, old, next, resolveMixin); err != nil {
		return nil, err
	}

	for _, pc := range res.PropertyChanges {
		if pc.RequiresScan {
			res.NeedsDataScan = true
			break
		}
	}
	if res.RangeSlotsChanged || res.FTSSlotsChanged {
		res.NeedsDataScan = true
	}

	return res, nil
}

// compareProperty classifies a property present under the same name in
// both definitions as NotModified or Modified.
func compareProperty(name string, oldProp, newProp *schema.PropertyDef) (PropertyChange, *schema.PropertyDef) {
	merged := oldProp.Clone()
	applyMutableFields(merged, newProp)

	pc := PropertyChange{OldName: name, NewName: name, Old: oldProp, New: merged}

	typeChanged := oldProp.Type != newProp.Type
	structChanged := typeChanged ||
		oldProp.Indexed != newProp.Indexed ||
		oldProp.Unique != newProp.Unique ||
		oldProp.FullText != newProp.FullText ||
		oldProp.RangeIndex != newProp.RangeIndex ||
		oldProp.MaxLength != newProp.MaxLength ||
		oldProp.Regex != newProp.Regex ||
		!floatPtrEqual(oldProp.MinValue, newProp.MinValue) ||
		!floatPtrEqual(oldProp.MaxValue, newProp.MaxValue) ||
		oldProp.MinOccurs != newProp.MinOccurs ||
		oldProp.MaxOccurs != newProp.MaxOccurs ||
		!oldProp.EnumDef.Equal(newProp.EnumDef) ||
		!oldProp.RefDef.Equal(newProp.RefDef)

	if !structChanged {
		merged.ChangeStatus = schema.NotModified
		pc.Status = schema.NotModified
		return pc, merged
	}

	merged.ChangeStatus = schema.Modified
	pc.Status = schema.Modified

	if typeChanged {
		verdict := transition.Oracle(oldProp.Type, newProp.Type)
		pc.TypeVerdict = verdict
		switch verdict {
		case transition.Forbidden:
			pc.RequiresScan = false
		case transition.Maybe:
			pc.RequiresScan = true
			pc.ScanReason = fmt.Sprintf("type change %s -> %s requires validation", oldProp.Type, newProp.Type)
		}
	}
	if !pc.RequiresScan && tighteningConstraints(oldProp, newProp) {
		pc.RequiresScan = true
		pc.ScanReason = "narrowed constraint requires validating existing values"
	}
	return pc, merged
}

// tighteningConstraints reports whether newProp narrows a constraint
// relative to oldProp such that existing rows could now violate it.
func tighteningConstraints(oldProp, newProp *schema.PropertyDef) bool {
	if !oldProp.Unique && newProp.Unique {
		return true
	}
	if oldProp.MaxLength == 0 && newProp.MaxLength > 0 {
		return true
	}
	if oldProp.MaxLength > 0 && newProp.MaxLength > 0 && newProp.MaxLength < oldProp.MaxLength {
		return true
	}
	if newProp.Regex != "" && newProp.Regex != oldProp.Regex {
		return true
	}
	if newProp.MaxValue != nil && (oldProp.MaxValue == nil || *newProp.MaxValue < *oldProp.MaxValue) {
		return true
	}
	if newProp.MinValue != nil && (oldProp.MinValue == nil || *newProp.MinValue > *oldProp.MinValue) {
		return true
	}
	if newProp.MinOccurs > oldProp.MinOccurs {
		return true
	}
	if oldProp.EnumDef != nil && newProp.EnumDef != nil && shrinksEnum(oldProp.EnumDef, newProp.EnumDef) {
		return true
	}
	return false
}

func shrinksEnum(old, next *schema.EnumDef) bool {
	allowed := make(map[string]bool, len(next.Values))
	for _, v := range next.Values {
		allowed[v.Value] = true
	}
	for _, v := range old.Values {
		if !allowed[v.Value] {
			return true
		}
	}
	return false
}

// applyMutableFields copies the attributes an alteration is allowed to
// change onto merged, leaving identity fields (ID, RefCount) untouched.
func applyMutableFields(merged, newProp *schema.PropertyDef) {
	merged.Type = newProp.Type
	merged.Indexed = newProp.Indexed
	merged.Unique = newProp.Unique
	merged.FullText = newProp.FullText
	merged.RangeIndex = newProp.RangeIndex
	merged.MinValue = newProp.MinValue
	merged.MaxValue = newProp.MaxValue
	merged.MinOccurs = newProp.MinOccurs
	merged.MaxOccurs = newProp.MaxOccurs
	merged.MaxLength = newProp.MaxLength
	merged.Regex = newProp.Regex
	merged.RefDef = newProp.RefDef
	merged.EnumDef = newProp.EnumDef
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func hasAnySlot(slots []schema.MetadataRef) bool {
	for _, s := range slots {
		if !s.Empty() {
			return true
		}
	}
	return false
}

func mixinsEqual(a, b []schema.MetadataRef) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[schema.MetadataRef]int, len(a))
	for _, m := range a {
		seen[m]++
	}
	for _, m := range b {
		seen[m]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

func scanReasonIf(cond bool, reason string) string {
	if cond {
		return reason
	}
	return ""
}

// mergeMixins resolves the class's effective mixin list and unions each
// mixin's property map into res.Merged.PropMap (spec.md §4.4.6). A
// property already declared directly on the class, or declared by more
// than one mixin, fails MixinConflict. Mixin-contributed properties are
// shared pointers into the mixin class's own PropMap, ref-counted rather
// than cloned (design notes §9); copy-forward NotModified properties, by
// contrast, are cloned.
func mergeMixins(res *Result, old, next *schema.ClassDef, resolve MixinResolver) error {
	effective := next.Mixins
	if effective == nil && old != nil {
		effective = old.Mixins
	}
	res.Merged.Mixins = effective
	if len(effective) == 0 {
		return nil
	}
	if resolve == nil {
		return flexerr.New(flexerr.KindMixinConflict, "class %q declares mixins but no mixin resolver was supplied", next.Name.Text)
	}

	ownNames := make(map[string]bool, len(res.Merged.PropMap))
	for name := range res.Merged.PropMap {
		ownNames[name] = true
	}

	injectedFrom := make(map[string]string, len(effective))
	for _, ref := range effective {
		mixinClass, err := resolve(ref)
		if err != nil {
			return flexerr.Wrap(flexerr.KindMixinConflict, err, "cannot resolve mixin %s on class %q", refLabel(ref), next.Name.Text)
		}
		if mixinClass == nil {
			return flexerr.New(flexerr.KindMixinConflict, "mixin %s on class %q does not exist", refLabel(ref), next.Name.Text)
		}
		for _, name := range mixinClass.SortedPropertyNames() {
			if ownNames[name] {
				return flexerr.New(flexerr.KindMixinConflict,
					"mixin %q property %q conflicts with a property declared directly on class %q",
					mixinClass.Name.Text, name, next.Name.Text).WithProp(name)
			}
			if src, already := injectedFrom[name]; already {
				return flexerr.New(flexerr.KindMixinConflict,
					"mixins %q and %q both declare property %q on class %q",
					src, mixinClass.Name.Text, name, next.Name.Text).WithProp(name)
			}
			injectedFrom[name] = mixinClass.Name.Text
			shared := mixinClass.PropMap[name]
			shared.RefCount++
			res.Merged.PropMap[name] = shared
		}
	}
	return nil
}

func refLabel(ref schema.MetadataRef) string {
	if ref.Name != "" {
		return ref.Name
	}
	return fmt.Sprintf("id:%d", ref.ID)
}
