// Package schema is the in-memory representation of interned names,
// property definitions and class definitions (spec.md §3). Its shape
// mirrors the teacher's core.Table/core.Column: plain json-tagged
// structs with small Find*-style lookup helpers rather than an ORM.
package schema

import (
	"sort"

	"flexilite/internal/catalog"
)

// Name is an interned identifier: {id, text}. Names are unique by text;
// id is assigned on first insertion and never reused (spec.md §3).
type Name struct {
	ID   uint64 `json:"id"`
	Text string `json:"text"`
}

// SystemObjectClassID is the reserved class id rows are relocated under
// by drop_class(soft=true) (spec.md §6: "soft preserves rows under a
// system 'Object' class"). It is provisioned once at substrate setup,
// outside the engine's own class-id allocation range.
const SystemObjectClassID uint64 = 1

// MetadataRef is {id?, name?} with at least one side present; resolving a
// ref means populating the missing side from the name dictionary.
type MetadataRef struct {
	ID   uint64 `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Empty reports whether neither id nor name has been set.
func (r MetadataRef) Empty() bool { return r.ID == 0 && r.Name == "" }

// ChangeStatus is the per-property alteration classification (§3, §4.8).
type ChangeStatus string

const (
	Added        ChangeStatus = "Added"
	NotModified  ChangeStatus = "NotModified"
	Modified     ChangeStatus = "Modified"
	Deleted      ChangeStatus = "Deleted"
	RenamedState ChangeStatus = "Renamed"
)

// Role is a bitset over the named slots a property can fill (§3).
type Role uint16

const (
	RoleID Role = 1 << iota
	RoleName
	RoleCode
	RoleUID
	RoleNonUniqID
	RoleCreateTime
	RoleUpdateTime
	RoleAutoUUID
	RoleAutoShortID
)

// RequiresUnique reports whether any role bit set on r implies uniqueness
// (§3 invariant: role uniqueness roles id/uid/code/name imply unique=true).
func (r Role) RequiresUnique() bool {
	return r&(RoleID|RoleUID|RoleCode|RoleName) != 0
}

// EnumValue is one entry of an enum property's declared value set.
type EnumValue struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// EnumDef is present iff PropertyDef.Type == catalog.Enum.
type EnumDef struct {
	Values []EnumValue `json:"values"`
}

// Equal performs the structural comparison the merger needs (§4.4.2) to
// decide whether an enum redefinition requires data validation.
func (e *EnumDef) Equal(o *EnumDef) bool {
	if e == nil || o == nil {
		return e == o
	}
	if len(e.Values) != len(o.Values) {
		return false
	}
	for i := range e.Values {
		if e.Values[i] != o.Values[i] {
			return false
		}
	}
	return true
}

// RefDef is present iff PropertyDef.Type == catalog.Reference.
type RefDef struct {
	ClassRef     MetadataRef `json:"classRef"`
	ReverseProp  MetadataRef `json:"reverseProp,omitempty"`
	MinOccurs    int         `json:"minOccurs,omitempty"`
	MaxOccurs    int         `json:"maxOccurs,omitempty"`
}

// Equal performs the structural comparison the merger needs (§4.4.2).
func (r *RefDef) Equal(o *RefDef) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.ClassRef == o.ClassRef && r.ReverseProp == o.ReverseProp &&
		r.MinOccurs == o.MinOccurs && r.MaxOccurs == o.MaxOccurs
}

// PropertyDef is a typed, annotated attribute definition (§3).
type PropertyDef struct {
	ID   uint64 `json:"id"`
	Name Name   `json:"name"`

	Type     catalog.TypeCode `json:"type"`
	RenameTo string           `json:"renameTo,omitempty"`

	ChangeStatus ChangeStatus `json:"changeStatus"`

	Indexed    bool `json:"indexed"`
	Unique     bool `json:"unique"`
	FullText   bool `json:"fullText"`
	RangeIndex bool `json:"rangeIndex,omitempty"`
	Role       Role `json:"role,omitempty"`

	MinValue *float64 `json:"minValue,omitempty"`
	MaxValue *float64 `json:"maxValue,omitempty"`

	MinOccurs int `json:"minOccurs"`
	MaxOccurs int `json:"maxOccurs"`

	MaxLength int    `json:"maxLength,omitempty"`
	Regex     string `json:"regex,omitempty"`

	RefDef  *RefDef  `json:"refDef,omitempty"`
	EnumDef *EnumDef `json:"enumDef,omitempty"`

	NeedsValidation bool `json:"needsValidation,omitempty"`
	RefCount        int  `json:"-"`

	// CtlvPlan is the full-intent per-property flag word (spec.md §4.6.4:
	// always records declared intent, independent of index_apply_threshold).
	// The effective, threshold-gated ctlv word is derived at save time and
	// is not kept on this struct since it isn't part of the declared
	// definition.
	CtlvPlan uint32 `json:"-"`

	// UnknownFields preserves keys the parser did not recognise so a
	// parse -> serialise round trip is stable (spec.md §8 invariant).
	UnknownFields map[string]any `json:"-"`
}

// Clone performs the copy-on-write split the merger needs when mutating a
// shared property record (design notes §9): decrement the old owner's
// ref_count yourself, then mutate the returned clone.
func (p *PropertyDef) Clone() *PropertyDef {
	if p == nil {
		return nil
	}
	c := *p
	c.RefCount = 0
	if p.MinValue != nil {
		v := *p.MinValue
		c.MinValue = &v
	}
	if p.MaxValue != nil {
		v := *p.MaxValue
		c.MaxValue = &v
	}
	if p.RefDef != nil {
		rd := *p.RefDef
		c.RefDef = &rd
	}
	if p.EnumDef != nil {
		ed := &EnumDef{Values: append([]EnumValue(nil), p.EnumDef.Values...)}
		c.EnumDef = ed
	}
	if p.UnknownFields != nil {
		uf := make(map[string]any, len(p.UnknownFields))
		for k, v := range p.UnknownFields {
			uf[k] = v
		}
		c.UnknownFields = uf
	}
	return &c
}

// ClassDef is a named collection of properties plus role/range/FTS slots
// and mixins (§3).
type ClassDef struct {
	ClassID uint64 `json:"classId"`
	Name    Name   `json:"name"`

	PropMap map[string]*PropertyDef `json:"propMap"`

	// SpecialProps fills the fixed role-slot order:
	// uid, name, description, code, nonUniqueId, createTime, updateTime,
	// autoUuid, autoShortId.
	SpecialProps [9]MetadataRef `json:"specialProps"`

	// RangeProps fills five (low, high) pairs A..E, index 2*i/2*i+1.
	RangeProps [10]MetadataRef `json:"rangeProps"`

	// FTSProps fills the five full-text slots X1..X5.
	FTSProps [5]MetadataRef `json:"ftsProps"`

	Mixins []MetadataRef `json:"mixins,omitempty"`

	AsTable bool `json:"asTable"`

	CtloMask uint32 `json:"ctloMask"`

	AllowAnyProps bool `json:"allowAnyProps,omitempty"`

	RefCount int `json:"-"`
}

// Special-slot indices, in the fixed order spec.md §3 names.
const (
	SlotUID = iota
	SlotName
	SlotDescription
	SlotCode
	SlotNonUniqueID
	SlotCreateTime
	SlotUpdateTime
	SlotAutoUUID
	SlotAutoShortID
)

// Range-slot pair index, A..E, each occupying two MetadataRef cells.
const (
	RangeA = iota
	RangeB
	RangeC
	RangeD
	RangeE
)

// ctloMask bits, stable per spec.md §6.
const (
	CtloUniqueIndex uint32 = 1 << iota
	CtloOrderedIndex
	CtloFullText
	CtloRange
	CtloRef
	CtloSoftDeleted
)

// Property looks up a property definition by its current name.
func (c *ClassDef) Property(name string) *PropertyDef {
	if c == nil {
		return nil
	}
	return c.PropMap[name]
}

// SortedPropertyNames returns property names in stable sorted order, used
// wherever a deterministic iteration order is required (e.g. serialisation,
// test fixtures). PropMap iteration order is explicitly not meaningful
// (spec.md §3).
func (c *ClassDef) SortedPropertyNames() []string {
	names := make([]string, 0, len(c.PropMap))
	for n := range c.PropMap {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clone performs a shallow structural copy of the class definition,
// cloning the property map's pointers (not necessarily the properties
// themselves, which stay shared until mutated via PropertyDef.Clone).
func (c *ClassDef) Clone() *ClassDef {
	if c == nil {
		return nil
	}
	n := *c
	n.PropMap = make(map[string]*PropertyDef, len(c.PropMap))
	for k, v := range c.PropMap {
		n.PropMap[k] = v
	}
	n.Mixins = append([]MetadataRef(nil), c.Mixins...)
	return &n
}
