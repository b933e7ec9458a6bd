// Package defparser turns the JSON class-definition wire format (spec.md
// §6) into an in-memory schema.ClassDef (spec.md §4.2).
//
// The converter shape — a private wire-struct decoded from the document,
// walked field by field by a stateful converter that accumulates the
// first error and returns either a populated domain object or that error
// — mirrors internal/parser/toml/parser.go's schemaFile/converter split
// in the teacher repository, with encoding/json standing in for
// BurntSushi/toml since the wire format here is JSON (spec.md §6), not
// TOML.
package defparser

import (
	"encoding/json"
	"fmt"

	"flexilite/internal/catalog"
	"flexilite/internal/flexerr"
	"flexilite/internal/identifier"
	"flexilite/internal/schema"
)

// Options configures parsing strictness.
type Options struct {
	// Strict, when true, fails with UnknownType on an unresolved
	// rules.type string. The default (false) falls back to text with a
	// warning token stored on the property (spec.md §4.2).
	Strict bool
}

// wireClassDef is the top-level JSON document shape.
type wireClassDef struct {
	AllowAnyProps     bool                       `json:"allowAnyProps"`
	Properties        map[string]json.RawMessage `json:"properties"`
	SpecialProperties map[string]wireRef         `json:"specialProperties"`
	RangeIndexing     map[string]wireRef         `json:"rangeIndexing"`
	FullTextIndexing  map[string]wireRef         `json:"fullTextIndexing"`
	Mixins            []wireRef                  `json:"mixins"`
}

type wireRef struct {
	ID   uint64 `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

func (r wireRef) toMetadataRef() schema.MetadataRef {
	return schema.MetadataRef{ID: r.ID, Name: r.Name}
}

type wireRules struct {
	Type      string   `json:"type"`
	MaxLength int      `json:"maxLength,omitempty"`
	MinValue  *float64 `json:"minValue,omitempty"`
	MaxValue  *float64 `json:"maxValue,omitempty"`
	Regex     string   `json:"regex,omitempty"`
}

type wireEnumValue struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

type wireRefDef struct {
	ClassRef    wireRef `json:"classRef"`
	ReverseProp wireRef `json:"reverseProp,omitempty"`
	MinOccurs   int     `json:"minOccurs,omitempty"`
	MaxOccurs   int     `json:"maxOccurs,omitempty"`
}

// knownPropKeys are the top-level property-document keys the converter
// understands; anything else is stashed on PropertyDef.UnknownFields so
// a parse -> serialise round trip doesn't silently drop it (spec.md §4.2,
// §8 round-trip invariant).
var knownPropKeys = map[string]bool{
	"rules": true, "index": true, "noTrackChanges": true, "subType": true,
	"minOccurences": true, "maxOccurences": true, "enumDef": true, "refDef": true,
	"$renameTo": true, "$drop": true,
}

type wirePropDef struct {
	Rules          wireRules       `json:"rules"`
	Index          string          `json:"index"`
	NoTrackChanges bool            `json:"noTrackChanges"`
	SubType        string          `json:"subType,omitempty"`
	MinOccurences  int             `json:"minOccurences"`
	MaxOccurences  int             `json:"maxOccurences"`
	EnumDef        []wireEnumValue `json:"enumDef,omitempty"`
	RefDef         *wireRefDef     `json:"refDef,omitempty"`
	RenameTo       string          `json:"$renameTo,omitempty"`
	Drop           bool            `json:"$drop,omitempty"`
}

// Parse decodes a JSON class definition document into a schema.ClassDef.
// The returned definition has no ClassID assigned. On alter the applier
// copies the existing class's ClassID onto the merged definition; on
// create the applier saves the class row with ClassID 0.
func Parse(data []byte, opts Options) (*schema.ClassDef, error) {
	var wire wireClassDef
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, flexerr.Wrap(flexerr.KindParseError, err, "malformed class definition JSON")
	}
	return newConverter(&wire, opts).convert()
}

type converter struct {
	wire *wireClassDef
	opts Options
}

func newConverter(wire *wireClassDef, opts Options) *converter {
	return &converter{wire: wire, opts: opts}
}

func (c *converter) convert() (*schema.ClassDef, error) {
	cd := &schema.ClassDef{
		PropMap:       make(map[string]*schema.PropertyDef, len(c.wire.Properties)),
		AllowAnyProps: c.wire.AllowAnyProps,
	}

	for name, raw := range c.wire.Properties {
		if !identifier.Valid(name) {
			return nil, flexerr.New(flexerr.KindInvalidName, "property name %q is not a valid identifier", name).WithProp(name)
		}
		prop, err := c.convertProperty(name, raw)
		if err != nil {
			return nil, err
		}
		cd.PropMap[name] = prop
	}

	if err := c.convertSpecialProps(cd); err != nil {
		return nil, err
	}
	if err := c.convertRangeProps(cd); err != nil {
		return nil, err
	}
	if err := c.convertFTSProps(cd); err != nil {
		return nil, err
	}

	if c.wire.Mixins != nil {
		cd.Mixins = make([]schema.MetadataRef, 0, len(c.wire.Mixins))
		for _, m := range c.wire.Mixins {
			if m.ID == 0 && m.Name == "" {
				return nil, flexerr.New(flexerr.KindParseError, "mixin entry must have an id or a name")
			}
			cd.Mixins = append(cd.Mixins, m.toMetadataRef())
		}
	}

	return cd, nil
}

func (c *converter) convertProperty(name string, raw json.RawMessage) (*schema.PropertyDef, error) {
	var wp wirePropDef
	if err := json.Unmarshal(raw, &wp); err != nil {
		return nil, flexerr.Wrap(flexerr.KindParseError, err, "malformed property definition %q", name).WithProp(name)
	}

	p := &schema.PropertyDef{
		Name:      schema.Name{Text: name},
		MinOccurs: wp.MinOccurences,
		MaxOccurs: wp.MaxOccurences,
		MaxLength: wp.Rules.MaxLength,
		Regex:     wp.Rules.Regex,
		MinValue:  wp.Rules.MinValue,
		MaxValue:  wp.Rules.MaxValue,
	}

	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rawMap); err != nil {
		return nil, flexerr.Wrap(flexerr.KindParseError, err, "malformed property definition %q", name).WithProp(name)
	}
	for k, v := range rawMap {
		if knownPropKeys[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, flexerr.Wrap(flexerr.KindParseError, err, "malformed property definition %q", name).WithProp(name)
		}
		if p.UnknownFields == nil {
			p.UnknownFields = make(map[string]any)
		}
		p.UnknownFields[k] = val
	}

	code, ok := catalog.Resolve(wp.Rules.Type)
	if !ok {
		if c.opts.Strict {
			return nil, flexerr.New(flexerr.KindUnknownType, "unresolved type %q", wp.Rules.Type).WithProp(name)
		}
		code = catalog.Text
		if p.UnknownFields == nil {
			p.UnknownFields = make(map[string]any)
		}
		p.UnknownFields["_typeFallbackFrom"] = wp.Rules.Type
	}
	p.Type = code

	switch wp.Index {
	case "", "none":
	case "index":
		p.Indexed = true
	case "unique":
		p.Unique = true
	case "fulltext":
		p.FullText = true
	case "range":
		p.Indexed = true
		p.RangeIndex = true
	default:
		return nil, flexerr.New(flexerr.KindParseError, "unrecognised index kind %q", wp.Index).WithProp(name)
	}

	if wp.Drop {
		p.ChangeStatus = schema.Deleted
	}
	if wp.RenameTo != "" {
		if !identifier.Valid(wp.RenameTo) {
			return nil, flexerr.New(flexerr.KindInvalidName, "$renameTo target %q is not a valid identifier", wp.RenameTo).WithProp(name)
		}
		p.RenameTo = wp.RenameTo
	}

	if code == catalog.Enum && len(wp.EnumDef) > 0 {
		ed := &schema.EnumDef{}
		for _, v := range wp.EnumDef {
			ed.Values = append(ed.Values, schema.EnumValue{Value: v.Value, Label: v.Label})
		}
		p.EnumDef = ed
	}

	if code == catalog.Reference && wp.RefDef != nil {
		p.RefDef = &schema.RefDef{
			ClassRef:    wp.RefDef.ClassRef.toMetadataRef(),
			ReverseProp: wp.RefDef.ReverseProp.toMetadataRef(),
			MinOccurs:   wp.RefDef.MinOccurs,
			MaxOccurs:   wp.RefDef.MaxOccurs,
		}
	}

	if err := validateNewProperty(name, p); err != nil {
		return nil, err
	}

	return p, nil
}

// validateNewProperty enforces the §3 invariants that do not require
// access to the prior class definition.
func validateNewProperty(name string, p *schema.PropertyDef) error {
	if p.Type == catalog.Reference && p.RefDef == nil && p.ChangeStatus != schema.Deleted {
		return flexerr.New(flexerr.KindInvalidProp, "property %q is type reference but has no refDef", name).WithProp(name)
	}
	if p.Type == catalog.Enum && p.EnumDef == nil && p.ChangeStatus != schema.Deleted {
		return flexerr.New(flexerr.KindInvalidProp, "property %q is type enum but has no enumDef", name).WithProp(name)
	}
	if p.MinValue != nil && p.MaxValue != nil && *p.MinValue > *p.MaxValue {
		return flexerr.New(flexerr.KindInvalidProp, "property %q has minValue > maxValue", name).WithProp(name)
	}
	if p.MinOccurs < 0 || p.MinOccurs > p.MaxOccurs && p.MaxOccurs != 0 {
		return flexerr.New(flexerr.KindInvalidProp, "property %q has invalid occurrence bounds", name).WithProp(name)
	}
	if p.MaxLength < 0 {
		return flexerr.New(flexerr.KindInvalidProp, "property %q has negative maxLength", name).WithProp(name)
	}
	return nil
}

func (c *converter) convertSpecialProps(cd *schema.ClassDef) error {
	slots := map[string]int{
		"uid": schema.SlotUID, "name": schema.SlotName, "description": schema.SlotDescription,
		"code": schema.SlotCode, "nonUniqueId": schema.SlotNonUniqueID,
		"createTime": schema.SlotCreateTime, "updateTime": schema.SlotUpdateTime,
		"autoUuid": schema.SlotAutoUUID, "autoShortId": schema.SlotAutoShortID,
	}
	for key, ref := range c.wire.SpecialProperties {
		idx, ok := slots[key]
		if !ok {
			return flexerr.New(flexerr.KindParseError, "unrecognised special property slot %q", key)
		}
		cd.SpecialProps[idx] = ref.toMetadataRef()
	}
	return nil
}

func (c *converter) convertRangeProps(cd *schema.ClassDef) error {
	pairIdx := map[byte]int{'A': schema.RangeA, 'B': schema.RangeB, 'C': schema.RangeC, 'D': schema.RangeD, 'E': schema.RangeE}
	for key, ref := range c.wire.RangeIndexing {
		if len(key) != 2 {
			return flexerr.New(flexerr.KindParseError, "unrecognised range slot %q", key)
		}
		pair, ok := pairIdx[key[0]]
		if !ok {
			return flexerr.New(flexerr.KindParseError, "unrecognised range slot %q", key)
		}
		var bound int
		switch key[1] {
		case '0':
			bound = 0
		case '1':
			bound = 1
		default:
			return flexerr.New(flexerr.KindParseError, "unrecognised range slot %q", key)
		}
		cd.RangeProps[2*pair+bound] = ref.toMetadataRef()
	}
	return nil
}

func (c *converter) convertFTSProps(cd *schema.ClassDef) error {
	for key, ref := range c.wire.FullTextIndexing {
		if len(key) != 2 || key[0] != 'X' {
			return flexerr.New(flexerr.KindParseError, "unrecognised full-text slot %q", key)
		}
		idx := int(key[1]-'0') - 1
		if idx < 0 || idx > 4 {
			return flexerr.New(flexerr.KindParseError, "unrecognised full-text slot %q", key)
		}
		cd.FTSProps[idx] = ref.toMetadataRef()
	}
	return nil
}

// Serialize canonicalises a class definition back to its JSON wire
// format for durable storage (ClassDef.data_json, spec.md §3). Property
// iteration happens in sorted-name order so round-tripping is
// byte-for-byte stable across runs, independent of Go map ordering.
func Serialize(cd *schema.ClassDef) ([]byte, error) {
	wire := wireClassDef{
		AllowAnyProps: cd.AllowAnyProps,
		Properties:    make(map[string]json.RawMessage, len(cd.PropMap)),
	}

	for _, name := range cd.SortedPropertyNames() {
		p := cd.PropMap[name]
		wp := wirePropDef{
			Rules: wireRules{
				Type:      string(p.Type),
				MaxLength: p.MaxLength,
				MinValue:  p.MinValue,
				MaxValue:  p.MaxValue,
				Regex:     p.Regex,
			},
			MinOccurences: p.MinOccurs,
			MaxOccurences: p.MaxOccurs,
		}
		switch {
		case p.Unique:
			wp.Index = "unique"
		case p.FullText:
			wp.Index = "fulltext"
		case p.RangeIndex:
			wp.Index = "range"
		case p.Indexed:
			wp.Index = "index"
		default:
			wp.Index = "none"
		}
		if p.EnumDef != nil {
			for _, v := range p.EnumDef.Values {
				wp.EnumDef = append(wp.EnumDef, wireEnumValue{Value: v.Value, Label: v.Label})
			}
		}
		if p.RefDef != nil {
			wp.RefDef = &wireRefDef{
				ClassRef:    wireRef(p.RefDef.ClassRef),
				ReverseProp: wireRef(p.RefDef.ReverseProp),
				MinOccurs:   p.RefDef.MinOccurs,
				MaxOccurs:   p.RefDef.MaxOccurs,
			}
		}

		raw, err := json.Marshal(wp)
		if err != nil {
			return nil, fmt.Errorf("serialize property %q: %w", name, err)
		}

		if len(p.UnknownFields) > 0 {
			var merged map[string]json.RawMessage
			if err := json.Unmarshal(raw, &merged); err != nil {
				return nil, fmt.Errorf("serialize property %q: %w", name, err)
			}
			for k, v := range p.UnknownFields {
				// "_typeFallbackFrom" is a synthetic marker the parser
				// records for itself (§4.2 lenient-type fallback), not a
				// key that appeared on the wire — it must not be
				// re-emitted as if it were original input.
				if k == "_typeFallbackFrom" {
					continue
				}
				enc, err := json.Marshal(v)
				if err != nil {
					return nil, fmt.Errorf("serialize property %q: %w", name, err)
				}
				merged[k] = enc
			}
			raw, err = json.Marshal(merged)
			if err != nil {
				return nil, fmt.Errorf("serialize property %q: %w", name, err)
			}
		}

		wire.Properties[name] = raw
	}

	return json.Marshal(wire)
}
